package albumescrow

import (
	"fmt"
	"math/big"
)

// State enumerates the lifecycle of a single album sale. Transitions only
// move forward, one step at a time.
type State uint8

const (
	StateCreated State = iota
	StatePurchased
	StateDelivered
)

// Valid reports whether the state value is within the supported range.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StatePurchased, StateDelivered:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePurchased:
		return "purchased"
	case StateDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseState converts the canonical lowercase name back into a State.
func ParseState(name string) (State, error) {
	switch name {
	case "created":
		return StateCreated, nil
	case "purchased":
		return StatePurchased, nil
	case "delivered":
		return StateDelivered, nil
	default:
		return 0, fmt.Errorf("albumescrow: unknown state %q", name)
	}
}

// Album captures one escrow contract instance: the immutable sale terms fixed
// at creation plus the runtime state. The ledger account at Address holds the
// received payment.
type Album struct {
	Address   [20]byte
	Catalog   [20]byte
	Title     string
	Price     *big.Int
	Index     uint64
	Purchased bool
	State     State
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (a *Album) Clone() *Album {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Price != nil {
		clone.Price = new(big.Int).Set(a.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeAlbum validates and normalises an album definition, returning a
// cloned instance with a non-nil price. The original value is not mutated.
func SanitizeAlbum(a *Album) (*Album, error) {
	if a == nil {
		return nil, fmt.Errorf("albumescrow: nil album")
	}
	clone := a.Clone()
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("albumescrow: price must be non-negative")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("albumescrow: invalid state: %d", clone.State)
	}
	if clone.Purchased != (clone.State >= StatePurchased) {
		return nil, fmt.Errorf("albumescrow: purchased flag inconsistent with state %s", clone.State)
	}
	return clone, nil
}
