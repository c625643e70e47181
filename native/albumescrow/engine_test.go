package albumescrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/events"
	"github.com/sabaka-pes/Album-Shop/core/types"
)

type mockState struct {
	albums   map[[20]byte]*Album
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		albums:   make(map[[20]byte]*Album),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) EscrowPut(a *Album) error {
	if a == nil {
		return fmt.Errorf("nil album")
	}
	sanitized, err := SanitizeAlbum(a)
	if err != nil {
		return err
	}
	m.albums[sanitized.Address] = sanitized
	return nil
}

func (m *mockState) EscrowGet(addr [20]byte) (*Album, bool) {
	album, ok := m.albums[addr]
	if !ok {
		return nil, false
	}
	return album.Clone(), true
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Nonce: acc.Nonce, Balance: new(big.Int).Set(acc.Balance)}, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = &types.Account{Nonce: account.Nonce, Balance: new(big.Int).Set(account.Balance)}
	return nil
}

func (m *mockState) setBalance(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

type reportCall struct {
	caller [20]byte
	index  uint64
	state  State
}

type mockCatalog struct {
	calls []reportCall
	err   error
}

func (m *mockCatalog) ReportStateChange(caller [20]byte, index uint64, newState State) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, reportCall{caller: caller, index: index, state: newState})
	return nil
}

type recordingEmitter struct {
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	type payloadEvent interface {
		Event() *types.Event
	}
	if pe, ok := evt.(payloadEvent); ok {
		r.events = append(r.events, pe.Event())
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine() (*Engine, *mockState, *mockCatalog, *recordingEmitter) {
	state := newMockState()
	hook := &mockCatalog{}
	emitter := &recordingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetCatalogHook(hook)
	engine.SetEmitter(emitter)
	return engine, state, hook, emitter
}

func TestCreatePersistsImmutableTerms(t *testing.T) {
	engine, state, _, emitter := newTestEngine()
	catalogAddr := newTestAddress(0x01)
	escrowAddr := newTestAddress(0x02)

	album, err := engine.Create(catalogAddr, escrowAddr, "Enchantment of the Ring", big.NewInt(50000), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if album.Title != "Enchantment of the Ring" || album.Price.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("unexpected album terms: %+v", album)
	}
	if album.Purchased || album.State != StateCreated {
		t.Fatalf("new escrow should start unpurchased, got %+v", album)
	}

	stored, ok := state.EscrowGet(escrowAddr)
	if !ok || stored.Index != 0 || stored.Catalog != catalogAddr {
		t.Fatalf("stored album mismatch: %+v", stored)
	}
	if len(emitter.events) != 1 || emitter.events[0].Type != EventTypeEscrowCreated {
		t.Fatalf("expected a created event, got %+v", emitter.events)
	}

	if _, err := engine.Create(catalogAddr, escrowAddr, "again", big.NewInt(1), 1); err == nil {
		t.Fatal("expected duplicate deployment to fail")
	}
}

func TestReceivePaymentMovesExactPrice(t *testing.T) {
	engine, state, hook, emitter := newTestEngine()
	catalogAddr := newTestAddress(0x01)
	escrowAddr := newTestAddress(0x02)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, 100000)

	if _, err := engine.Create(catalogAddr, escrowAddr, "Enchantment of the Ring", big.NewInt(50000), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.ReceivePayment(escrowAddr, buyer, big.NewInt(50000)); err != nil {
		t.Fatalf("receive payment: %v", err)
	}

	if got := state.balance(buyer); got.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("buyer balance = %s, want 50000", got)
	}
	if got := state.balance(escrowAddr); got.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("escrow balance = %s, want 50000", got)
	}

	stored, _ := state.EscrowGet(escrowAddr)
	if !stored.Purchased || stored.State != StatePurchased {
		t.Fatalf("album should be purchased: %+v", stored)
	}
	if len(hook.calls) != 1 || hook.calls[0].caller != escrowAddr || hook.calls[0].state != StatePurchased {
		t.Fatalf("unexpected catalog report: %+v", hook.calls)
	}

	var sawPurchased bool
	for _, evt := range emitter.events {
		if evt.Type == EventTypeEscrowPurchased {
			sawPurchased = true
			if evt.Attributes["buyer"] == "" {
				t.Fatal("purchased event missing buyer")
			}
		}
	}
	if !sawPurchased {
		t.Fatal("expected a purchased event")
	}
}

func TestReceivePaymentRejectsSecondAttempt(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	catalogAddr := newTestAddress(0x01)
	escrowAddr := newTestAddress(0x02)
	buyer := newTestAddress(0x03)
	rival := newTestAddress(0x04)
	state.setBalance(buyer, 50000)
	state.setBalance(rival, 50000)

	if _, err := engine.Create(catalogAddr, escrowAddr, "Enchantment of the Ring", big.NewInt(50000), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.ReceivePayment(escrowAddr, buyer, big.NewInt(50000)); err != nil {
		t.Fatalf("first payment: %v", err)
	}

	err := engine.ReceivePayment(escrowAddr, rival, big.NewInt(50000))
	if !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased, got %v", err)
	}
	if !strings.Contains(err.Error(), "This album is already purchased!") {
		t.Fatalf("error should carry the purchase message, got %q", err)
	}
	if !errors.Is(err, shoperrors.ErrInvalidState) {
		t.Fatalf("rejection should classify as invalid state, got %v", err)
	}
	if got := state.balance(rival); got.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("rival balance changed on rejected payment: %s", got)
	}
}

func TestReceivePaymentRejectsWrongAmount(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	catalogAddr := newTestAddress(0x01)
	escrowAddr := newTestAddress(0x02)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, 100000)

	if _, err := engine.Create(catalogAddr, escrowAddr, "Enchantment of the Ring", big.NewInt(50000), 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, amount := range []int64{49999, 50001, 0} {
		err := engine.ReceivePayment(escrowAddr, buyer, big.NewInt(amount))
		if !errors.Is(err, shoperrors.ErrValidation) {
			t.Fatalf("amount %d: expected validation error, got %v", amount, err)
		}
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(100000)) != 0 {
		t.Fatalf("buyer balance changed on rejected payments: %s", got)
	}
	stored, _ := state.EscrowGet(escrowAddr)
	if stored.Purchased {
		t.Fatal("album must stay unpurchased after rejected payments")
	}
}

func TestReceivePaymentRejectsInsufficientBalance(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	catalogAddr := newTestAddress(0x01)
	escrowAddr := newTestAddress(0x02)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, 10)

	if _, err := engine.Create(catalogAddr, escrowAddr, "Enchantment of the Ring", big.NewInt(50000), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.ReceivePayment(escrowAddr, buyer, big.NewInt(50000)); !errors.Is(err, shoperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfirmDelivery(t *testing.T) {
	engine, state, hook, emitter := newTestEngine()
	catalogAddr := newTestAddress(0x01)
	escrowAddr := newTestAddress(0x02)
	buyer := newTestAddress(0x03)
	stranger := newTestAddress(0x04)
	state.setBalance(buyer, 50000)

	if _, err := engine.Create(catalogAddr, escrowAddr, "Enchantment of the Ring", big.NewInt(50000), 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Delivering before purchase is an invalid transition.
	if err := engine.ConfirmDelivery(escrowAddr, catalogAddr); !errors.Is(err, shoperrors.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	if err := engine.ReceivePayment(escrowAddr, buyer, big.NewInt(50000)); err != nil {
		t.Fatalf("payment: %v", err)
	}

	// Only the owning catalog may confirm.
	if err := engine.ConfirmDelivery(escrowAddr, stranger); !errors.Is(err, shoperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if err := engine.ConfirmDelivery(escrowAddr, catalogAddr); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	stored, _ := state.EscrowGet(escrowAddr)
	if stored.State != StateDelivered {
		t.Fatalf("album state = %s, want delivered", stored.State)
	}
	if len(hook.calls) != 2 || hook.calls[1].state != StateDelivered {
		t.Fatalf("expected a delivered report, got %+v", hook.calls)
	}
	if emitter.events[len(emitter.events)-1].Type != EventTypeEscrowDelivered {
		t.Fatal("expected a delivered event")
	}

	// Double delivery is rejected.
	if err := engine.ConfirmDelivery(escrowAddr, catalogAddr); !errors.Is(err, shoperrors.ErrInvalidState) {
		t.Fatalf("expected invalid state on double delivery, got %v", err)
	}

	// Funds remain custodied at the escrow address.
	if got := state.balance(escrowAddr); got.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("escrow balance = %s, want 50000", got)
	}
}

func TestReceivePaymentUnknownEscrow(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	if err := engine.ReceivePayment(newTestAddress(0x09), newTestAddress(0x03), big.NewInt(1)); err == nil {
		t.Fatal("expected error for unknown escrow")
	}
}
