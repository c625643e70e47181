package catalog

import (
	"errors"
	"fmt"
	"math/big"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/events"
	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/native/albumescrow"
)

var (
	errNilState   = errors.New("catalog engine: state not configured")
	errNilEscrows = errors.New("catalog engine: escrow backend not configured")
)

type engineState interface {
	CatalogMetaGet() (*Meta, bool)
	CatalogMetaPut(*Meta) error
	AlbumRecordPut(index uint64, record *AlbumRecord) error
	AlbumRecordGet(index uint64) (*AlbumRecord, bool)
}

// EscrowBackend is the catalog's handle on the escrow engine: it deploys a
// new instance per registered album and forwards administrator-approved
// delivery confirmations.
type EscrowBackend interface {
	Create(catalog, addr [20]byte, title string, price *big.Int, index uint64) (*albumescrow.Album, error)
	ConfirmDelivery(addr, caller [20]byte) error
}

type catalogEvent struct {
	evt *types.Event
}

func (e catalogEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e catalogEvent) Event() *types.Event { return e.evt }

// Engine implements the album catalog: an append-only ordered list of sale
// records, a factory deploying one escrow per album at a deterministic
// address, and the single-administrator delivery gate.
type Engine struct {
	state   engineState
	emitter events.Emitter
	escrows EscrowBackend
}

// NewEngine creates a catalog engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEscrowBackend configures the escrow engine used to deploy and deliver
// album escrows.
func (e *Engine) SetEscrowBackend(backend EscrowBackend) { e.escrows = backend }

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
	e.emitter.Emit(catalogEvent{evt: event})
}

func (e *Engine) meta() (*Meta, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	meta, ok := e.state.CatalogMetaGet()
	if !ok {
		return nil, errors.New("catalog engine: not initialised")
	}
	return meta, nil
}

// Init persists the catalog identity and administrator. It is invoked once at
// genesis and refuses to overwrite an existing catalog.
func (e *Engine) Init(address, owner [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok := e.state.CatalogMetaGet(); ok {
		return errors.New("catalog engine: already initialised")
	}
	return e.state.CatalogMetaPut(&Meta{Address: address, Owner: owner})
}

// Address returns the catalog's own contract address.
func (e *Engine) Address() ([20]byte, error) {
	meta, err := e.meta()
	if err != nil {
		return [20]byte{}, err
	}
	return meta.Address, nil
}

// Owner returns the current administrator.
func (e *Engine) Owner() ([20]byte, error) {
	meta, err := e.meta()
	if err != nil {
		return [20]byte{}, err
	}
	return meta.Owner, nil
}

// AlbumCount returns the number of registered albums.
func (e *Engine) AlbumCount() (uint64, error) {
	meta, err := e.meta()
	if err != nil {
		return 0, err
	}
	return meta.NextIndex, nil
}

// RegisterAlbum appends a new album record, deploys its escrow at the
// deterministically derived address and emits the Created notification.
// Any identity may register; the only input constraint is a non-negative
// price. Returns the assigned index and the escrow address.
func (e *Engine) RegisterAlbum(title string, price *big.Int) (uint64, [20]byte, error) {
	meta, err := e.meta()
	if err != nil {
		return 0, [20]byte{}, err
	}
	if e.escrows == nil {
		return 0, [20]byte{}, errNilEscrows
	}
	amt := big.NewInt(0)
	if price != nil {
		amt = new(big.Int).Set(price)
	}
	if amt.Sign() < 0 {
		return 0, [20]byte{}, fmt.Errorf("%w: album price must be non-negative", shoperrors.ErrValidation)
	}

	index := meta.NextIndex
	escrowAddr := EscrowAddress(meta.Address, index)
	if _, err := e.escrows.Create(meta.Address, escrowAddr, title, amt, index); err != nil {
		return 0, [20]byte{}, err
	}

	record := &AlbumRecord{Title: title, Price: amt, State: albumescrow.StateCreated, Escrow: escrowAddr}
	if err := e.state.AlbumRecordPut(index, record); err != nil {
		return 0, [20]byte{}, err
	}
	meta.NextIndex = index + 1
	if err := e.state.CatalogMetaPut(meta); err != nil {
		return 0, [20]byte{}, err
	}
	e.emit(NewAlbumStateChangedEvent(escrowAddr, index, albumescrow.StateCreated, title))
	return index, escrowAddr, nil
}

// GetAlbum returns a copy of the record at index.
func (e *Engine) GetAlbum(index uint64) (*AlbumRecord, error) {
	meta, err := e.meta()
	if err != nil {
		return nil, err
	}
	if index >= meta.NextIndex {
		return nil, fmt.Errorf("%w: album index %d", shoperrors.ErrOutOfRange, index)
	}
	record, ok := e.state.AlbumRecordGet(index)
	if !ok {
		return nil, fmt.Errorf("catalog engine: record %d missing", index)
	}
	return record.Clone(), nil
}

// ReportStateChange is the escrow-facing entry point. Only the escrow
// recorded for the index may report, and states may only advance one step at
// a time. The catalog re-emits the change on the canonical stream.
func (e *Engine) ReportStateChange(caller [20]byte, index uint64, newState albumescrow.State) error {
	meta, err := e.meta()
	if err != nil {
		return err
	}
	if index >= meta.NextIndex {
		return fmt.Errorf("%w: album index %d", shoperrors.ErrOutOfRange, index)
	}
	record, ok := e.state.AlbumRecordGet(index)
	if !ok {
		return fmt.Errorf("catalog engine: record %d missing", index)
	}
	if caller != record.Escrow {
		return fmt.Errorf("%w: caller %x is not the escrow for album %d", shoperrors.ErrUnauthorized, caller, index)
	}
	if !newState.Valid() || newState != record.State+1 {
		return fmt.Errorf("%w: album %d cannot move from %s to %s", shoperrors.ErrInvalidState, index, record.State, newState)
	}
	record.State = newState
	if err := e.state.AlbumRecordPut(index, record); err != nil {
		return err
	}
	e.emit(NewAlbumStateChangedEvent(record.Escrow, index, newState, record.Title))
	return nil
}

// TriggerDelivery forwards a delivery confirmation to the album's escrow.
// Only the administrator may call it; escrow failures (unpurchased album,
// double delivery) propagate unchanged.
func (e *Engine) TriggerDelivery(caller [20]byte, index uint64) error {
	meta, err := e.meta()
	if err != nil {
		return err
	}
	if caller != meta.Owner {
		return fmt.Errorf("%w: caller %x is not the catalog administrator", shoperrors.ErrUnauthorized, caller)
	}
	if index >= meta.NextIndex {
		return fmt.Errorf("%w: album index %d", shoperrors.ErrOutOfRange, index)
	}
	record, ok := e.state.AlbumRecordGet(index)
	if !ok {
		return fmt.Errorf("catalog engine: record %d missing", index)
	}
	if e.escrows == nil {
		return errNilEscrows
	}
	return e.escrows.ConfirmDelivery(record.Escrow, meta.Address)
}

// TransferOwnership hands the administrator capability to another address.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	meta, err := e.meta()
	if err != nil {
		return err
	}
	if caller != meta.Owner {
		return fmt.Errorf("%w: caller %x is not the catalog administrator", shoperrors.ErrUnauthorized, caller)
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: new administrator must not be the zero address", shoperrors.ErrValidation)
	}
	previous := meta.Owner
	meta.Owner = newOwner
	if err := e.state.CatalogMetaPut(meta); err != nil {
		return err
	}
	e.emit(NewOwnershipTransferredEvent(previous, newOwner))
	return nil
}
