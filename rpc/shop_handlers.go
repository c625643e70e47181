package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/crypto"
)

type indexParams struct {
	Index uint64 `json:"index"`
}

type addressParams struct {
	Address string `json:"address"`
}

type albumJSON struct {
	Index  uint64 `json:"index"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	State  string `json:"state"`
	Escrow string `json:"escrow"`
}

type escrowJSON struct {
	Address   string `json:"address"`
	Catalog   string `json:"catalog"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Index     uint64 `json:"index"`
	Purchased bool   `json:"purchased"`
	State     string `json:"state"`
	Balance   string `json:"balance"`
}

type accountJSON struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

type catalogJSON struct {
	Address    string `json:"address"`
	Owner      string `json:"owner"`
	AlbumCount uint64 `json:"albumCount"`
}

func decodeParams(req *RPCRequest, v interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], v)
}

func decodeAddressParam(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out, nil
}

func bech(addr [20]byte) string {
	return crypto.NewAddress(crypto.ShopPrefix, addr[:]).String()
}

func (s *Server) handleGetAlbum(w http.ResponseWriter, req *RPCRequest) {
	params := new(indexParams)
	if err := decodeParams(req, params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.GetAlbum(params.Index)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, &albumJSON{
		Index:  params.Index,
		Title:  record.Title,
		Price:  record.Price.String(),
		State:  record.State.String(),
		Escrow: bech(record.Escrow),
	})
}

func (s *Server) handleGetAlbumCount(w http.ResponseWriter, req *RPCRequest) {
	count, err := s.node.AlbumCount()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"count": count})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, req *RPCRequest) {
	params := new(addressParams)
	if err := decodeParams(req, params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := decodeAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	album, err := s.node.GetEscrow(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	balance, err := s.node.GetBalance(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, &escrowJSON{
		Address:   bech(album.Address),
		Catalog:   bech(album.Catalog),
		Title:     album.Title,
		Price:     album.Price.String(),
		Index:     album.Index,
		Purchased: album.Purchased,
		State:     album.State.String(),
		Balance:   balance.String(),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) {
	params := new(addressParams)
	if err := decodeParams(req, params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := decodeAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := s.node.GetAccount(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, &accountJSON{
		Address: params.Address,
		Nonce:   account.Nonce,
		Balance: account.Balance.String(),
	})
}

func (s *Server) handleGetCatalog(w http.ResponseWriter, req *RPCRequest) {
	address, err := s.node.CatalogAddress()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	owner, err := s.node.CatalogOwner()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	count, err := s.node.AlbumCount()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, &catalogJSON{
		Address:    bech(address),
		Owner:      bech(owner),
		AlbumCount: count,
	})
}

func (s *Server) handlePredictEscrowAddress(w http.ResponseWriter, req *RPCRequest) {
	params := new(indexParams)
	if err := decodeParams(req, params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := s.node.PredictEscrowAddress(params.Index)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"address": bech(addr)})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Events())
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, req *RPCRequest) {
	tx := new(types.Transaction)
	if err := decodeParams(req, tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.SubmitTransaction(tx); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"applied": true})
}
