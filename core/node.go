package core

import (
	"encoding/hex"
	"log/slog"
	"math/big"
	"sync"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/native/albumescrow"
	"github.com/sabaka-pes/Album-Shop/native/catalog"
	"github.com/sabaka-pes/Album-Shop/observability/metrics"
	"github.com/sabaka-pes/Album-Shop/storage"
)

// Node is the ledger front door. A single mutex serializes every mutating
// operation into the ledger's total order; there is no intra-operation
// parallelism, so the escrow's exactly-once purchase guarantee reduces to the
// precondition check plus the processor's atomic rollback.
type Node struct {
	db     storage.Database
	state  *StateProcessor
	logger *slog.Logger

	mu sync.Mutex
}

// NewNode opens the state over db, installing genesis (catalog contract and
// balance allocation) if the database is empty.
func NewNode(db storage.Database, admin [20]byte, alloc []GenesisAccount, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sp := NewStateProcessor(db)
	if err := sp.InitGenesis(admin, alloc); err != nil {
		return nil, err
	}
	catalogAddr, err := sp.Catalog.Address()
	if err != nil {
		return nil, err
	}
	logger.Info("ledger ready",
		slog.String("catalog", addrHex(catalogAddr)),
		slog.String("administrator", addrHex(admin)))
	return &Node{db: db, state: sp, logger: logger}, nil
}

// SubmitTransaction applies the transaction atomically and reports the
// outcome. Failed transactions leave no state change and consume no nonce;
// resubmission is the caller's decision.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.state.ApplyTransaction(tx)
	metrics.Shop().ObserveTransaction(tx, err)
	if err != nil {
		n.logger.Info("transaction rejected",
			slog.Int("type", int(tx.Type)),
			slog.String("error", err.Error()))
		return err
	}
	n.logger.Info("transaction applied", slog.Int("type", int(tx.Type)))
	return nil
}

// --- read surface (side-effect free) ---

func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetAccount(addr[:])
}

func (n *Node) GetBalance(addr [20]byte) (*big.Int, error) {
	account, err := n.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

func (n *Node) GetAlbum(index uint64) (*catalog.AlbumRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Catalog.GetAlbum(index)
}

func (n *Node) AlbumCount() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Catalog.AlbumCount()
}

func (n *Node) GetEscrow(addr [20]byte) (*albumescrow.Album, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	album, ok := n.state.EscrowGet(addr)
	if !ok {
		return nil, shoperrors.ErrOutOfRange
	}
	return album.Clone(), nil
}

func (n *Node) CatalogAddress() ([20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Catalog.Address()
}

func (n *Node) CatalogOwner() ([20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Catalog.Owner()
}

// PredictEscrowAddress computes the address the escrow for the given index
// has, or will have once registered. Buyers can pay an album whose
// registration has not yet been applied.
func (n *Node) PredictEscrowAddress(index uint64) ([20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	catalogAddr, err := n.state.Catalog.Address()
	if err != nil {
		return [20]byte{}, err
	}
	return catalog.EscrowAddress(catalogAddr, index), nil
}

// Events returns the committed event history, oldest first. This is the
// canonical audit trail: every state transition appears here exactly once.
func (n *Node) Events() []*types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Events()
}

func addrHex(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}
