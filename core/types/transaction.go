package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer          TxType = 0x01 // A bare value transfer; addressed to an escrow it becomes a purchase
	TxTypeRegisterAlbum     TxType = 0x02 // Append an album to the catalog and deploy its escrow
	TxTypeTriggerDelivery   TxType = 0x03 // Administrator confirms delivery of a purchased album
	TxTypeTransferOwnership TxType = 0x04 // Hand the catalog administrator role to another address
)

// RegisterAlbumPayload is carried in the Data field of a TxTypeRegisterAlbum
// transaction.
type RegisterAlbumPayload struct {
	Title string   `json:"title"`
	Price *big.Int `json:"price"`
}

// TriggerDeliveryPayload is carried in the Data field of a
// TxTypeTriggerDelivery transaction.
type TriggerDeliveryPayload struct {
	Index uint64 `json:"index"`
}

// TransferOwnershipPayload is carried in the Data field of a
// TxTypeTransferOwnership transaction.
type TransferOwnershipPayload struct {
	NewOwner []byte `json:"newOwner"`
}

// Transaction is the only way state is mutated. Every submitted transaction
// either applies in full or leaves no trace.
type Transaction struct {
	Type  TxType   `json:"type"`
	Nonce uint64   `json:"nonce"`
	To    []byte   `json:"to,omitempty"`
	Value *big.Int `json:"value,omitempty"`
	Data  []byte   `json:"data,omitempty"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash covers every field that influences execution.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type  TxType
		Nonce uint64
		To    []byte
		Value *big.Int
		Data  []byte
	}{tx.Type, tx.Nonce, tx.To, tx.Value, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// From recovers the 20-byte sender address from the signature. The result is
// cached on first use.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
