package types

import "math/big"

// Account holds the per-address ledger state: a replay-protection nonce and
// the native-unit balance. Escrow contracts are accounts too; their balance
// is the custody of the funds paid for an album.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureDefaults replaces nil fields with their zero values so callers can
// mutate the account without nil checks.
func (a *Account) EnsureDefaults() {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
}
