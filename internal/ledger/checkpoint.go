package ledger

import (
	"fmt"
	"strings"
	"time"

	"azukari/internal/core"
)

// Mode selects how Calculator derives month balances.
type Mode int

const (
	// ModeReplay replays every transaction up to the end of the month.
	ModeReplay Mode = iota
	// ModeCheckpoint computes the prior month-end balance first and then
	// applies only the month's own transactions on top of it.
	ModeCheckpoint
)

func (m Mode) String() string {
	switch m {
	case ModeReplay:
		return "replay"
	case ModeCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "replay" or "checkpoint".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replay":
		return ModeReplay, nil
	case "checkpoint":
		return ModeCheckpoint, nil
	default:
		return ModeReplay, fmt.Errorf("unknown balance mode %q", s)
	}
}

// Calculator computes month-scoped balances. It holds no state besides its
// settings and is safe for concurrent use.
type Calculator struct {
	Location *time.Location
	Mode     Mode
}

// NewCalculator returns a calculator for loc using mode.
func NewCalculator(loc *time.Location, mode Mode) *Calculator {
	return &Calculator{Location: loc, Mode: mode}
}

func (c *Calculator) window(year, month int) (core.Window, error) {
	return core.NewWindow(year, month, c.Location)
}

// BalanceUpToMonth returns the balance at the end of (year, month).
func (c *Calculator) BalanceUpToMonth(txs []core.Transaction, year, month int) (int64, error) {
	w, err := c.window(year, month)
	if err != nil {
		return 0, err
	}
	switch c.Mode {
	case ModeCheckpoint:
		rows, err := c.checkpointRows(txs, w)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return c.priorBalance(txs, w)
		}
		return FinalBalance(rows), nil
	default:
		return replayUntil(txs, w.Until)
	}
}

// BalanceForMonth returns the transactions dated inside (year, month) in
// canonical order, each carrying the running balance including all history
// before the month.
func (c *Calculator) BalanceForMonth(txs []core.Transaction, year, month int) ([]core.TransactionWithBalance, error) {
	w, err := c.window(year, month)
	if err != nil {
		return nil, err
	}
	if c.Mode == ModeCheckpoint {
		return c.checkpointRows(txs, w)
	}
	rows, err := Replay(filter(txs, func(tx core.Transaction) bool { return tx.Date.Before(w.Until) }))
	if err != nil {
		return nil, err
	}
	out := make([]core.TransactionWithBalance, 0, len(rows))
	for _, row := range rows {
		if w.Contains(row.Date) {
			out = append(out, row)
		}
	}
	return out, nil
}

// PriorBalance returns the checkpoint value for (year, month): the replayed
// balance of everything dated before the month starts.
func (c *Calculator) PriorBalance(txs []core.Transaction, year, month int) (int64, error) {
	w, err := c.window(year, month)
	if err != nil {
		return 0, err
	}
	return c.priorBalance(txs, w)
}

// Resume applies the transactions of (year, month) on top of a checkpoint
// taken at the end of the previous month. Transactions outside the month are
// ignored, so callers may pass a wider slice.
func (c *Calculator) Resume(prior int64, txs []core.Transaction, year, month int) ([]core.TransactionWithBalance, error) {
	w, err := c.window(year, month)
	if err != nil {
		return nil, err
	}
	return accumulate(prior, SortCanonical(filter(txs, func(tx core.Transaction) bool { return w.Contains(tx.Date) })))
}

// Verify computes the month-end balance both ways and fails with
// core.ErrInvariantViolation when they disagree.
func (c *Calculator) Verify(txs []core.Transaction, year, month int) (int64, error) {
	replayed, err := (&Calculator{Location: c.Location, Mode: ModeReplay}).BalanceUpToMonth(txs, year, month)
	if err != nil {
		return 0, err
	}
	resumed, err := (&Calculator{Location: c.Location, Mode: ModeCheckpoint}).BalanceUpToMonth(txs, year, month)
	if err != nil {
		return 0, err
	}
	if replayed != resumed {
		return 0, fmt.Errorf("%w: %04d-%02d replay balance %d != checkpoint balance %d",
			core.ErrInvariantViolation, year, month, replayed, resumed)
	}
	return replayed, nil
}

func (c *Calculator) priorBalance(txs []core.Transaction, w core.Window) (int64, error) {
	return replayUntil(txs, w.Start)
}

func (c *Calculator) checkpointRows(txs []core.Transaction, w core.Window) ([]core.TransactionWithBalance, error) {
	prior, err := c.priorBalance(txs, w)
	if err != nil {
		return nil, err
	}
	current := filter(txs, func(tx core.Transaction) bool { return w.Contains(tx.Date) })
	return accumulate(prior, SortCanonical(current))
}

// replayUntil replays the transactions dated strictly before limit.
func replayUntil(txs []core.Transaction, limit time.Time) (int64, error) {
	rows, err := Replay(filter(txs, func(tx core.Transaction) bool { return tx.Date.Before(limit) }))
	if err != nil {
		return 0, err
	}
	return FinalBalance(rows), nil
}
