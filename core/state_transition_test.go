package core

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/crypto"
	"github.com/sabaka-pes/Album-Shop/native/albumescrow"
	"github.com/sabaka-pes/Album-Shop/native/catalog"
	"github.com/sabaka-pes/Album-Shop/storage"
)

// albumPrice mirrors 0.00005 native units expressed in the smallest
// denomination.
var albumPrice = big.NewInt(50_000_000_000_000)

type testActor struct {
	key   *crypto.PrivateKey
	addr  [20]byte
	nonce uint64
}

func newTestActor(t *testing.T) *testActor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return &testActor{key: key, addr: addr}
}

func (a *testActor) signedTx(t *testing.T, txType types.TxType, to []byte, value *big.Int, payload interface{}) *types.Transaction {
	t.Helper()
	var data []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = raw
	}
	tx := &types.Transaction{
		Type:  txType,
		Nonce: a.nonce,
		To:    to,
		Value: value,
		Data:  data,
	}
	if err := tx.Sign(a.key.PrivateKey); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	a.nonce++
	return tx
}

func newTestProcessor(t *testing.T, admin *testActor, funded ...*testActor) *StateProcessor {
	t.Helper()
	sp := NewStateProcessor(storage.NewMemDB())
	alloc := make([]GenesisAccount, 0, len(funded))
	for _, actor := range funded {
		alloc = append(alloc, GenesisAccount{Address: actor.addr, Balance: new(big.Int).Mul(albumPrice, big.NewInt(10))})
	}
	if err := sp.InitGenesis(admin.addr, alloc); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	return sp
}

func balanceOf(t *testing.T, sp *StateProcessor, addr [20]byte) *big.Int {
	t.Helper()
	account, err := sp.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance
}

func TestGenesisDerivesCatalogAddress(t *testing.T) {
	admin := newTestActor(t)
	sp := newTestProcessor(t, admin)

	catalogAddr, err := sp.Catalog.Address()
	if err != nil {
		t.Fatalf("catalog address: %v", err)
	}
	if catalogAddr != crypto.DeriveContractAddress(admin.addr, 0) {
		t.Fatalf("catalog address not derived from admin: %x", catalogAddr)
	}
	owner, err := sp.Catalog.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != admin.addr {
		t.Fatalf("owner = %x, want admin", owner)
	}

	// Re-running genesis must not reset the catalog.
	if err := sp.InitGenesis(admin.addr, nil); err != nil {
		t.Fatalf("repeat genesis: %v", err)
	}
}

func TestAlbumSaleLifecycle(t *testing.T) {
	admin := newTestActor(t)
	buyer := newTestActor(t)
	sp := newTestProcessor(t, admin, buyer)

	catalogAddr, _ := sp.Catalog.Address()
	predicted := catalog.EscrowAddress(catalogAddr, 0)

	// Anyone may register an album; here the buyer does it.
	registerTx := buyer.signedTx(t, types.TxTypeRegisterAlbum, nil, nil,
		&types.RegisterAlbumPayload{Title: "Enchantment of the Ring", Price: albumPrice})
	if err := sp.ApplyTransaction(registerTx); err != nil {
		t.Fatalf("register album: %v", err)
	}

	record, err := sp.Catalog.GetAlbum(0)
	if err != nil {
		t.Fatalf("get album: %v", err)
	}
	if record.Title != "Enchantment of the Ring" || record.Price.Cmp(albumPrice) != 0 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.State != albumescrow.StateCreated {
		t.Fatalf("record state = %s, want created", record.State)
	}
	if record.Escrow != predicted {
		t.Fatalf("deployed escrow %x does not match predicted address %x", record.Escrow, predicted)
	}
	if count, _ := sp.Catalog.AlbumCount(); count != 1 {
		t.Fatalf("album count = %d, want 1", count)
	}

	// Pay the exact price to the predicted address.
	buyerBefore := balanceOf(t, sp, buyer.addr)
	payTx := buyer.signedTx(t, types.TxTypeTransfer, predicted[:], albumPrice, nil)
	if err := sp.ApplyTransaction(payTx); err != nil {
		t.Fatalf("payment: %v", err)
	}

	album, ok := sp.EscrowGet(predicted)
	if !ok {
		t.Fatal("escrow missing after payment")
	}
	if !album.Purchased || album.State != albumescrow.StatePurchased {
		t.Fatalf("album not purchased: %+v", album)
	}
	buyerAfter := balanceOf(t, sp, buyer.addr)
	if diff := new(big.Int).Sub(buyerBefore, buyerAfter); diff.Cmp(albumPrice) != 0 {
		t.Fatalf("buyer balance changed by %s, want exactly the price", diff)
	}
	if got := balanceOf(t, sp, predicted); got.Cmp(albumPrice) != 0 {
		t.Fatalf("escrow custody = %s, want the price", got)
	}
	record, _ = sp.Catalog.GetAlbum(0)
	if record.State != albumescrow.StatePurchased {
		t.Fatalf("catalog record state = %s, want purchased", record.State)
	}

	// A second payment is rejected in full.
	rival := newTestActor(t)
	seedAccount(t, sp, rival.addr, new(big.Int).Mul(albumPrice, big.NewInt(2)))
	rivalBefore := balanceOf(t, sp, rival.addr)
	rePayTx := rival.signedTx(t, types.TxTypeTransfer, predicted[:], albumPrice, nil)
	err = sp.ApplyTransaction(rePayTx)
	if err == nil {
		t.Fatal("second payment must fail")
	}
	if !strings.Contains(err.Error(), "This album is already purchased!") {
		t.Fatalf("unexpected rejection message: %q", err)
	}
	if got := balanceOf(t, sp, rival.addr); got.Cmp(rivalBefore) != 0 {
		t.Fatalf("rival balance changed on rejected payment: %s", got)
	}
	if got := balanceOf(t, sp, predicted); got.Cmp(albumPrice) != 0 {
		t.Fatalf("escrow custody changed on rejected payment: %s", got)
	}
	// The rejected payment consumed no nonce on chain.
	rival.nonce--

	// A non-administrator cannot trigger delivery, and the failure names the
	// caller.
	deliverTx := rival.signedTx(t, types.TxTypeTriggerDelivery, nil, nil, &types.TriggerDeliveryPayload{Index: 0})
	err = sp.ApplyTransaction(deliverTx)
	if !errors.Is(err, shoperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if !strings.Contains(err.Error(), addrHex(rival.addr)) {
		t.Fatalf("unauthorized error should name the caller: %q", err)
	}

	// The administrator delivers.
	adminDeliver := admin.signedTx(t, types.TxTypeTriggerDelivery, nil, nil, &types.TriggerDeliveryPayload{Index: 0})
	if err := sp.ApplyTransaction(adminDeliver); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	record, _ = sp.Catalog.GetAlbum(0)
	if record.State != albumescrow.StateDelivered {
		t.Fatalf("record state = %s, want delivered", record.State)
	}

	// Delivering twice is an invalid transition.
	repeat := admin.signedTx(t, types.TxTypeTriggerDelivery, nil, nil, &types.TriggerDeliveryPayload{Index: 0})
	if err := sp.ApplyTransaction(repeat); !errors.Is(err, shoperrors.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	// Funds stay custodied at the escrow.
	if got := balanceOf(t, sp, predicted); got.Cmp(albumPrice) != 0 {
		t.Fatalf("escrow custody = %s after delivery, want the price", got)
	}
}

func TestEventStreamCoversEveryTransition(t *testing.T) {
	admin := newTestActor(t)
	buyer := newTestActor(t)
	sp := newTestProcessor(t, admin, buyer)

	registerTx := buyer.signedTx(t, types.TxTypeRegisterAlbum, nil, nil,
		&types.RegisterAlbumPayload{Title: "Enchantment of the Ring", Price: albumPrice})
	if err := sp.ApplyTransaction(registerTx); err != nil {
		t.Fatalf("register: %v", err)
	}
	record, _ := sp.Catalog.GetAlbum(0)
	payTx := buyer.signedTx(t, types.TxTypeTransfer, record.Escrow[:], albumPrice, nil)
	if err := sp.ApplyTransaction(payTx); err != nil {
		t.Fatalf("pay: %v", err)
	}
	deliverTx := admin.signedTx(t, types.TxTypeTriggerDelivery, nil, nil, &types.TriggerDeliveryPayload{Index: 0})
	if err := sp.ApplyTransaction(deliverTx); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var catalogStates []string
	for _, evt := range sp.Events() {
		if evt.Type != catalog.EventTypeAlbumStateChanged {
			continue
		}
		if evt.Attributes["escrow"] != addrHex(record.Escrow) {
			t.Fatalf("event names escrow %s, want %s", evt.Attributes["escrow"], addrHex(record.Escrow))
		}
		if evt.Attributes["index"] != "0" || evt.Attributes["title"] != "Enchantment of the Ring" {
			t.Fatalf("unexpected event attributes: %+v", evt.Attributes)
		}
		catalogStates = append(catalogStates, evt.Attributes["state"])
	}
	want := []string{"created", "purchased", "delivered"}
	if len(catalogStates) != len(want) {
		t.Fatalf("catalog emitted %d state events, want %d", len(catalogStates), len(want))
	}
	for i := range want {
		if catalogStates[i] != want[i] {
			t.Fatalf("event %d state = %s, want %s", i, catalogStates[i], want[i])
		}
	}
}

func TestRejectedTransactionEmitsNoEvents(t *testing.T) {
	admin := newTestActor(t)
	buyer := newTestActor(t)
	sp := newTestProcessor(t, admin, buyer)

	registerTx := buyer.signedTx(t, types.TxTypeRegisterAlbum, nil, nil,
		&types.RegisterAlbumPayload{Title: "x", Price: albumPrice})
	if err := sp.ApplyTransaction(registerTx); err != nil {
		t.Fatalf("register: %v", err)
	}
	eventsBefore := len(sp.Events())

	record, _ := sp.Catalog.GetAlbum(0)
	wrongAmount := buyer.signedTx(t, types.TxTypeTransfer, record.Escrow[:], big.NewInt(1), nil)
	if err := sp.ApplyTransaction(wrongAmount); !errors.Is(err, shoperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(sp.Events()) != eventsBefore {
		t.Fatal("rejected transaction leaked events")
	}
}

func TestNonceReplayProtection(t *testing.T) {
	admin := newTestActor(t)
	buyer := newTestActor(t)
	other := newTestActor(t)
	sp := newTestProcessor(t, admin, buyer)

	transfer := buyer.signedTx(t, types.TxTypeTransfer, other.addr[:], big.NewInt(5), nil)
	if err := sp.ApplyTransaction(transfer); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	// Replaying the same signed transaction must fail on the nonce check.
	if err := sp.ApplyTransaction(transfer); !errors.Is(err, shoperrors.ErrValidation) {
		t.Fatalf("expected nonce rejection, got %v", err)
	}
	if got := balanceOf(t, sp, other.addr); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("recipient balance = %s, want 5", got)
	}
}

func TestPlainTransferBetweenAccounts(t *testing.T) {
	admin := newTestActor(t)
	alice := newTestActor(t)
	bob := newTestActor(t)
	sp := newTestProcessor(t, admin, alice)

	aliceBefore := balanceOf(t, sp, alice.addr)
	tx := alice.signedTx(t, types.TxTypeTransfer, bob.addr[:], big.NewInt(123), nil)
	if err := sp.ApplyTransaction(tx); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balanceOf(t, sp, bob.addr); got.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("bob balance = %s, want 123", got)
	}
	wantAlice := new(big.Int).Sub(aliceBefore, big.NewInt(123))
	if got := balanceOf(t, sp, alice.addr); got.Cmp(wantAlice) != 0 {
		t.Fatalf("alice balance = %s, want %s", got, wantAlice)
	}

	// Overspending is rejected without partial effect.
	huge := new(big.Int).Mul(albumPrice, big.NewInt(1000))
	overdraft := alice.signedTx(t, types.TxTypeTransfer, bob.addr[:], huge, nil)
	if err := sp.ApplyTransaction(overdraft); !errors.Is(err, shoperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := balanceOf(t, sp, bob.addr); got.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("bob balance changed on rejected transfer: %s", got)
	}
}

func TestOwnershipTransferTransaction(t *testing.T) {
	admin := newTestActor(t)
	successor := newTestActor(t)
	buyer := newTestActor(t)
	sp := newTestProcessor(t, admin, buyer)

	registerTx := buyer.signedTx(t, types.TxTypeRegisterAlbum, nil, nil,
		&types.RegisterAlbumPayload{Title: "x", Price: albumPrice})
	if err := sp.ApplyTransaction(registerTx); err != nil {
		t.Fatalf("register: %v", err)
	}
	record, _ := sp.Catalog.GetAlbum(0)
	payTx := buyer.signedTx(t, types.TxTypeTransfer, record.Escrow[:], albumPrice, nil)
	if err := sp.ApplyTransaction(payTx); err != nil {
		t.Fatalf("pay: %v", err)
	}

	handover := admin.signedTx(t, types.TxTypeTransferOwnership, nil, nil,
		&types.TransferOwnershipPayload{NewOwner: successor.addr[:]})
	if err := sp.ApplyTransaction(handover); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}

	// Former administrator loses the delivery capability; successor gains it.
	oldAdminDeliver := admin.signedTx(t, types.TxTypeTriggerDelivery, nil, nil, &types.TriggerDeliveryPayload{Index: 0})
	if err := sp.ApplyTransaction(oldAdminDeliver); !errors.Is(err, shoperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	successorDeliver := successor.signedTx(t, types.TxTypeTriggerDelivery, nil, nil, &types.TriggerDeliveryPayload{Index: 0})
	if err := sp.ApplyTransaction(successorDeliver); err != nil {
		t.Fatalf("successor deliver: %v", err)
	}
}

func seedAccount(t *testing.T, sp *StateProcessor, addr [20]byte, balance *big.Int) {
	t.Helper()
	account, err := sp.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	account.Balance = new(big.Int).Set(balance)
	if err := sp.PutAccount(addr[:], account); err != nil {
		t.Fatalf("put account: %v", err)
	}
}
