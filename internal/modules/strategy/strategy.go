// Package strategy defines the capability contract between the vault and
// its yield-bearing backends, plus the simulated implementations used for
// local operation and tests.
package strategy

// Strategy is the uniform adapter contract the vault allocates through.
//
// Contract notes:
//   - Withdraw returns the actual transferred amount even when less than
//     requested; a short withdrawal is not an error.
//   - BalanceOf is monotonically non-decreasing between harvests absent a
//     withdrawal.
//   - Harvest realizes accrued yield and returns the amount transferred
//     out; after a harvest, BalanceOf reflects principal only.
type Strategy interface {
	ID() string
	Asset() string
	Deposit(amount int64) error
	Withdraw(amount int64) (int64, error)
	Harvest() (int64, error)
	BalanceOf() (int64, error)
}
