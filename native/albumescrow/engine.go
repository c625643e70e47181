package albumescrow

import (
	"errors"
	"fmt"
	"math/big"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/events"
	"github.com/sabaka-pes/Album-Shop/core/types"
)

var (
	errNilState       = errors.New("albumescrow engine: state not configured")
	errNilCatalog     = errors.New("albumescrow engine: catalog hook not configured")
	errEscrowNotFound = errors.New("albumescrow engine: escrow not found")

	// ErrAlreadyPurchased rejects every payment attempt after the first
	// accepted one. The whole transfer is rolled back by the ledger.
	ErrAlreadyPurchased = fmt.Errorf("%w: This album is already purchased!", shoperrors.ErrInvalidState)
)

type engineState interface {
	EscrowPut(*Album) error
	EscrowGet(addr [20]byte) (*Album, bool)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// CatalogHook receives state-change reports from an escrow. The catalog
// re-publishes the change on its own event stream and verifies that the
// reporting caller is the recorded escrow for the index.
type CatalogHook interface {
	ReportStateChange(caller [20]byte, index uint64, newState State) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the per-album escrow logic with external state, the owning
// catalog and an event emitter. One engine instance serves every escrow
// contract; the contract identity is the address each operation is keyed by.
type Engine struct {
	state   engineState
	emitter events.Emitter
	catalog CatalogHook
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCatalogHook configures the catalog that receives state-change reports.
func (e *Engine) SetCatalogHook(hook CatalogHook) { e.catalog = hook }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) loadAlbum(addr [20]byte) (*Album, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	album, ok := e.state.EscrowGet(addr)
	if !ok {
		return nil, errEscrowNotFound
	}
	return album, nil
}

func (e *Engine) storeAlbum(album *Album) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(album)
}

func (e *Engine) report(album *Album) error {
	if e.catalog == nil {
		return errNilCatalog
	}
	return e.catalog.ReportStateChange(album.Address, album.Index, album.State)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	acc.EnsureDefaults()
	return acc
}

// Create initialises and persists a new escrow instance at the given address.
// The sale terms are immutable from this point on.
func (e *Engine) Create(catalog, addr [20]byte, title string, price *big.Int, index uint64) (*Album, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.EscrowGet(addr); ok {
		return nil, fmt.Errorf("albumescrow: escrow already deployed at %x", addr)
	}
	amt := cloneBigInt(price)
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("%w: album price must be non-negative", shoperrors.ErrValidation)
	}
	album := &Album{
		Address: addr,
		Catalog: catalog,
		Title:   title,
		Price:   amt,
		Index:   index,
		State:   StateCreated,
	}
	if err := e.storeAlbum(album); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(album))
	return album.Clone(), nil
}

// ReceivePayment is the implicit entry point invoked when a bare value
// transfer arrives at an escrow address. Exactly one payment matching the
// price is ever accepted; every later attempt fails and the ledger unwinds
// the transfer in full.
func (e *Engine) ReceivePayment(addr, from [20]byte, amount *big.Int) error {
	album, err := e.loadAlbum(addr)
	if err != nil {
		return err
	}
	if album.Purchased || album.State != StateCreated {
		return ErrAlreadyPurchased
	}
	amt := cloneBigInt(amount)
	if amt.Cmp(album.Price) != 0 {
		return fmt.Errorf("%w: payment of %s does not match album price %s", shoperrors.ErrValidation, amt, album.Price)
	}
	if err := e.creditEscrow(from, addr, amt); err != nil {
		return err
	}
	album.Purchased = true
	album.State = StatePurchased
	if err := e.storeAlbum(album); err != nil {
		return err
	}
	if err := e.report(album); err != nil {
		return err
	}
	e.emit(NewPurchasedEvent(album, from))
	return nil
}

// ConfirmDelivery marks a purchased album as delivered. Only the owning
// catalog may invoke it; the catalog in turn gates the call behind its
// administrator. Escrowed funds stay custodied at the escrow address.
func (e *Engine) ConfirmDelivery(addr, caller [20]byte) error {
	album, err := e.loadAlbum(addr)
	if err != nil {
		return err
	}
	if caller != album.Catalog {
		return fmt.Errorf("%w: caller %x is not the owning catalog", shoperrors.ErrUnauthorized, caller)
	}
	if album.State != StatePurchased {
		return fmt.Errorf("%w: cannot deliver album in state %s", shoperrors.ErrInvalidState, album.State)
	}
	album.State = StateDelivered
	if err := e.storeAlbum(album); err != nil {
		return err
	}
	if err := e.report(album); err != nil {
		return err
	}
	e.emit(NewDeliveredEvent(album))
	return nil
}

// GetAlbum returns a copy of the escrow instance stored at addr.
func (e *Engine) GetAlbum(addr [20]byte) (*Album, error) {
	album, err := e.loadAlbum(addr)
	if err != nil {
		return nil, err
	}
	return album.Clone(), nil
}

func (e *Engine) creditEscrow(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance for payment of %s", shoperrors.ErrValidation, amount)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}
