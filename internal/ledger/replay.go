// Package ledger turns a resident's transaction history into running
// balances.
//
// Two strategies produce the same numbers: Replay walks the full history
// from zero, and Calculator in ModeCheckpoint resumes from the balance at
// the end of the previous month. Both consult core.Sign, so the choice of
// which kinds count is made in exactly one place.
package ledger

import (
	"slices"

	"azukari/internal/core"
)

// Replay sorts txs canonically and annotates each one with the balance after
// it, starting from zero. The input slice is left untouched.
func Replay(txs []core.Transaction) ([]core.TransactionWithBalance, error) {
	return accumulate(0, SortCanonical(txs))
}

// FinalBalance returns the balance of the last row, or 0 when rows is empty.
func FinalBalance(rows []core.TransactionWithBalance) int64 {
	if len(rows) == 0 {
		return 0
	}
	return rows[len(rows)-1].Balance
}

// SortCanonical returns a copy of txs ordered by (Date, ID) ascending.
func SortCanonical(txs []core.Transaction) []core.Transaction {
	sorted := slices.Clone(txs)
	slices.SortFunc(sorted, compareCanonical)
	return sorted
}

func compareCanonical(a, b core.Transaction) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// accumulate expects sorted input.
func accumulate(start int64, sorted []core.Transaction) ([]core.TransactionWithBalance, error) {
	rows := make([]core.TransactionWithBalance, 0, len(sorted))
	balance := start
	for _, tx := range sorted {
		delta, err := core.Contribution(tx)
		if err != nil {
			return nil, err
		}
		balance += delta
		rows = append(rows, core.TransactionWithBalance{Transaction: tx, Balance: balance})
	}
	return rows, nil
}

func filter(txs []core.Transaction, keep func(core.Transaction) bool) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}
