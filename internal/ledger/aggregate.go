package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BalanceFunc computes one resident's balance.
type BalanceFunc func(ctx context.Context, residentID int64) (int64, error)

// Totals is the result of an aggregation over several residents.
type Totals struct {
	ByResident map[int64]int64
	Total      int64
}

// SumBalances evaluates fn for every resident, at most limit at a time
// (limit <= 0 means unbounded), and adds the results. Residents are
// independent of each other, so the order of evaluation does not matter.
// The first error cancels the remaining work.
func SumBalances(ctx context.Context, residentIDs []int64, limit int, fn BalanceFunc) (Totals, error) {
	balances := make([]int64, len(residentIDs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range residentIDs {
		g.Go(func() error {
			b, err := fn(gctx, id)
			if err != nil {
				return fmt.Errorf("resident %d: %w", id, err)
			}
			balances[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Totals{}, err
	}

	totals := Totals{ByResident: make(map[int64]int64, len(residentIDs))}
	for i, id := range residentIDs {
		totals.ByResident[id] = balances[i]
		totals.Total += balances[i]
	}
	return totals, nil
}
