package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/events"
	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/crypto"
	"github.com/sabaka-pes/Album-Shop/native/albumescrow"
	"github.com/sabaka-pes/Album-Shop/native/catalog"
	"github.com/sabaka-pes/Album-Shop/storage"
)

// GenesisAccount seeds a balance at genesis.
type GenesisAccount struct {
	Address [20]byte
	Balance *big.Int
}

// StateProcessor executes transactions against the key-value state. Every
// transaction runs inside a write overlay: the overlay is flushed to the
// database only when the handler succeeds, so a failing operation -- including
// a rejected payment -- leaves no observable mutation and no events.
//
// The processor implements the state interfaces of both native engines and
// acts as their event emitter, buffering events alongside the overlay.
type StateProcessor struct {
	db            storage.Database
	overlay       map[string][]byte
	pendingEvents []*types.Event
	events        []*types.Event

	Catalog *catalog.Engine
	Escrows *albumescrow.Engine
}

// NewStateProcessor wires the two native engines to the given database. The
// catalog acts as the escrow's state-change sink and the escrow engine as the
// catalog's deployment backend, each side authorising the other by recorded
// address.
func NewStateProcessor(db storage.Database) *StateProcessor {
	sp := &StateProcessor{db: db}

	escrows := albumescrow.NewEngine()
	escrows.SetState(sp)
	escrows.SetEmitter(sp)

	cat := catalog.NewEngine()
	cat.SetState(sp)
	cat.SetEmitter(sp)
	cat.SetEscrowBackend(escrows)
	escrows.SetCatalogHook(cat)

	sp.Catalog = cat
	sp.Escrows = escrows
	return sp
}

// --- overlay plumbing ---

func (sp *StateProcessor) begin() {
	sp.overlay = make(map[string][]byte)
	sp.pendingEvents = nil
}

func (sp *StateProcessor) rollback() {
	sp.overlay = nil
	sp.pendingEvents = nil
}

func (sp *StateProcessor) commit() error {
	for key, value := range sp.overlay {
		if err := sp.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state commit: %w", err)
		}
	}
	sp.events = append(sp.events, sp.pendingEvents...)
	sp.overlay = nil
	sp.pendingEvents = nil
	return nil
}

func (sp *StateProcessor) getRaw(key []byte) ([]byte, bool) {
	if sp.overlay != nil {
		if value, ok := sp.overlay[string(key)]; ok {
			return value, true
		}
	}
	value, err := sp.db.Get(key)
	if err != nil {
		return nil, false
	}
	return value, true
}

func (sp *StateProcessor) putRaw(key []byte, value []byte) error {
	if sp.overlay == nil {
		return sp.db.Put(key, value)
	}
	sp.overlay[string(key)] = value
	return nil
}

func (sp *StateProcessor) getJSON(key []byte, v interface{}) bool {
	raw, ok := sp.getRaw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false
	}
	return true
}

func (sp *StateProcessor) putJSON(key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sp.putRaw(key, raw)
}

// --- events.Emitter ---

// Emit buffers an engine event until the surrounding transaction commits.
func (sp *StateProcessor) Emit(evt events.Event) {
	type payloadEvent interface {
		Event() *types.Event
	}
	pe, ok := evt.(payloadEvent)
	if !ok || pe.Event() == nil {
		return
	}
	sp.pendingEvents = append(sp.pendingEvents, pe.Event())
}

// AppendEvent records an event outside the engine emit path.
func (sp *StateProcessor) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	if sp.overlay != nil {
		sp.pendingEvents = append(sp.pendingEvents, evt)
		return
	}
	sp.events = append(sp.events, evt)
}

// Events returns a copy of every event emitted by committed transactions, in
// emission order.
func (sp *StateProcessor) Events() []*types.Event {
	out := make([]*types.Event, len(sp.events))
	copy(out, sp.events)
	return out
}

// --- albumescrow engine state ---

func (sp *StateProcessor) EscrowPut(album *albumescrow.Album) error {
	sanitized, err := albumescrow.SanitizeAlbum(album)
	if err != nil {
		return err
	}
	return sp.putJSON(escrowKey(sanitized.Address), sanitized)
}

func (sp *StateProcessor) EscrowGet(addr [20]byte) (*albumescrow.Album, bool) {
	album := new(albumescrow.Album)
	if !sp.getJSON(escrowKey(addr), album) {
		return nil, false
	}
	return album, true
}

func (sp *StateProcessor) GetAccount(addr []byte) (*types.Account, error) {
	account := &types.Account{Balance: big.NewInt(0)}
	sp.getJSON(accountKey(addr), account)
	account.EnsureDefaults()
	return account, nil
}

func (sp *StateProcessor) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	account.EnsureDefaults()
	return sp.putJSON(accountKey(addr), account)
}

// --- catalog engine state ---

func (sp *StateProcessor) CatalogMetaGet() (*catalog.Meta, bool) {
	meta := new(catalog.Meta)
	if !sp.getJSON(keyCatalog, meta) {
		return nil, false
	}
	return meta, true
}

func (sp *StateProcessor) CatalogMetaPut(meta *catalog.Meta) error {
	if meta == nil {
		return errors.New("state: nil catalog meta")
	}
	return sp.putJSON(keyCatalog, meta)
}

func (sp *StateProcessor) AlbumRecordPut(index uint64, record *catalog.AlbumRecord) error {
	sanitized, err := catalog.SanitizeRecord(record)
	if err != nil {
		return err
	}
	return sp.putJSON(albumRecordKey(index), sanitized)
}

func (sp *StateProcessor) AlbumRecordGet(index uint64) (*catalog.AlbumRecord, bool) {
	record := new(catalog.AlbumRecord)
	if !sp.getJSON(albumRecordKey(index), record) {
		return nil, false
	}
	return record, true
}

// --- genesis ---

// InitGenesis installs the catalog contract and seeds the allocation
// balances. The catalog address is derived from the administrator with
// deployment nonce 0, so it is reproducible from the genesis parameters
// alone. Re-running against an initialised state is a no-op.
func (sp *StateProcessor) InitGenesis(admin [20]byte, alloc []GenesisAccount) error {
	if _, ok := sp.CatalogMetaGet(); ok {
		return nil
	}
	sp.begin()
	catalogAddr := crypto.DeriveContractAddress(admin, 0)
	if err := sp.Catalog.Init(catalogAddr, admin); err != nil {
		sp.rollback()
		return err
	}
	for _, entry := range alloc {
		account, err := sp.GetAccount(entry.Address[:])
		if err != nil {
			sp.rollback()
			return err
		}
		if entry.Balance != nil {
			account.Balance = new(big.Int).Add(account.Balance, entry.Balance)
		}
		if err := sp.PutAccount(entry.Address[:], account); err != nil {
			sp.rollback()
			return err
		}
	}
	return sp.commit()
}

// --- transaction application ---

// ApplyTransaction executes one transaction atomically. On any failure the
// overlay is dropped: balances, records and events are exactly as they were
// before the call.
func (sp *StateProcessor) ApplyTransaction(tx *types.Transaction) error {
	if tx == nil {
		return errors.New("state: nil transaction")
	}
	fromBytes, err := tx.From()
	if err != nil {
		return fmt.Errorf("%w: invalid signature: %v", shoperrors.ErrValidation, err)
	}
	var from [20]byte
	copy(from[:], fromBytes)

	sp.begin()
	if err := sp.apply(tx, from); err != nil {
		sp.rollback()
		return err
	}
	return sp.commit()
}

func (sp *StateProcessor) apply(tx *types.Transaction, from [20]byte) error {
	sender, err := sp.GetAccount(from[:])
	if err != nil {
		return err
	}
	if tx.Nonce != sender.Nonce {
		return fmt.Errorf("%w: nonce %d does not match expected %d", shoperrors.ErrValidation, tx.Nonce, sender.Nonce)
	}
	sender.Nonce++
	if err := sp.PutAccount(from[:], sender); err != nil {
		return err
	}

	switch tx.Type {
	case types.TxTypeTransfer:
		return sp.applyTransfer(tx, from)
	case types.TxTypeRegisterAlbum:
		payload := new(types.RegisterAlbumPayload)
		if err := json.Unmarshal(tx.Data, payload); err != nil {
			return fmt.Errorf("%w: malformed register payload: %v", shoperrors.ErrValidation, err)
		}
		_, _, err := sp.Catalog.RegisterAlbum(payload.Title, payload.Price)
		return err
	case types.TxTypeTriggerDelivery:
		payload := new(types.TriggerDeliveryPayload)
		if err := json.Unmarshal(tx.Data, payload); err != nil {
			return fmt.Errorf("%w: malformed delivery payload: %v", shoperrors.ErrValidation, err)
		}
		return sp.Catalog.TriggerDelivery(from, payload.Index)
	case types.TxTypeTransferOwnership:
		payload := new(types.TransferOwnershipPayload)
		if err := json.Unmarshal(tx.Data, payload); err != nil {
			return fmt.Errorf("%w: malformed ownership payload: %v", shoperrors.ErrValidation, err)
		}
		if len(payload.NewOwner) != 20 {
			return fmt.Errorf("%w: new owner must be a 20-byte address", shoperrors.ErrValidation)
		}
		var newOwner [20]byte
		copy(newOwner[:], payload.NewOwner)
		return sp.Catalog.TransferOwnership(from, newOwner)
	default:
		return fmt.Errorf("%w: unknown transaction type %d", shoperrors.ErrValidation, tx.Type)
	}
}

// applyTransfer moves native units between accounts. A transfer addressed to
// a registered escrow is the implicit payment entry point: the escrow engine
// validates and custodies it, and any rejection unwinds the whole transfer.
func (sp *StateProcessor) applyTransfer(tx *types.Transaction, from [20]byte) error {
	if len(tx.To) != 20 {
		return fmt.Errorf("%w: transfer requires a 20-byte recipient", shoperrors.ErrValidation)
	}
	var to [20]byte
	copy(to[:], tx.To)

	amount := big.NewInt(0)
	if tx.Value != nil {
		amount = new(big.Int).Set(tx.Value)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer amount must be non-negative", shoperrors.ErrValidation)
	}

	if _, ok := sp.EscrowGet(to); ok {
		return sp.Escrows.ReceivePayment(to, from, amount)
	}

	sender, err := sp.GetAccount(from[:])
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance for transfer of %s", shoperrors.ErrValidation, amount)
	}
	if to == from {
		return nil
	}
	recipient, err := sp.GetAccount(to[:])
	if err != nil {
		return err
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	if err := sp.PutAccount(from[:], sender); err != nil {
		return err
	}
	return sp.PutAccount(to[:], recipient)
}
