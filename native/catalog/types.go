package catalog

import (
	"fmt"
	"math/big"

	"github.com/sabaka-pes/Album-Shop/crypto"
	"github.com/sabaka-pes/Album-Shop/native/albumescrow"
)

// AlbumRecord is one entry in the catalog's append-only album list. The
// record is mutated in place by state-change reports from its escrow and is
// never deleted or reordered.
type AlbumRecord struct {
	Title  string
	Price  *big.Int
	State  albumescrow.State
	Escrow [20]byte
}

// Clone returns a deep copy of the record.
func (r *AlbumRecord) Clone() *AlbumRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Meta is the catalog's own persistent state: the administrator capability
// and the deployment cursor. NextIndex always equals the number of registered
// albums and doubles as the seed for deterministic escrow addressing.
type Meta struct {
	Address   [20]byte
	Owner     [20]byte
	NextIndex uint64
}

// Clone returns a copy of the metadata.
func (m *Meta) Clone() *Meta {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// EscrowAddress computes the address of the escrow deployed for the album at
// the given index, before or after the registration happens. The first
// contract a catalog creates carries deployment nonce 1, so index i maps to
// nonce i+1.
func EscrowAddress(catalog [20]byte, index uint64) [20]byte {
	return crypto.DeriveContractAddress(catalog, index+1)
}

// SanitizeRecord validates a record and returns a clone with a non-nil price.
func SanitizeRecord(r *AlbumRecord) (*AlbumRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("catalog: nil album record")
	}
	clone := r.Clone()
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("catalog: album price must be non-negative")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("catalog: invalid album state: %d", clone.State)
	}
	return clone, nil
}
