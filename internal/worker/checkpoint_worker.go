package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"azukari/internal/amqp"
	"azukari/internal/core"
	"azukari/internal/ledger"
	"azukari/internal/log"
	"azukari/internal/ports"
)

// CheckpointWorker maintains month-end balance checkpoints. Checkpoints are
// always computed by full replay, so a checkpoint never depends on another.
type CheckpointWorker struct {
	store       ports.Store
	policy      *ledger.Policy
	calc        *ledger.Calculator
	concurrency int
	logger      *log.Logger
}

func NewCheckpointWorker(store ports.Store, loc *time.Location, concurrency int, logger *log.Logger) *CheckpointWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &CheckpointWorker{
		store:       store,
		policy:      ledger.NewPolicy(loc),
		calc:        ledger.NewCalculator(loc, ledger.ModeReplay),
		concurrency: concurrency,
		logger:      logger,
	}
}

// HandleEvent reacts to ledger events. Entries dated in a closed month make
// the checkpoints from that month on stale; they are dropped and rebuilt.
// Events for the open month need no work.
func (w *CheckpointWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	open := w.policy.OpenPeriod()
	if !ev.TransactionDate.Before(open.Start) {
		w.logger.DebugContext(ctx, "Event in open month, no checkpoint to refresh",
			log.FieldEventID, ev.ID,
			log.FieldResidentID, ev.ResidentID)
		return nil
	}

	y, m := core.MonthOf(ev.TransactionDate, w.calc.Location)
	from, err := core.NewWindow(y, m, w.calc.Location)
	if err != nil {
		return err
	}
	deleted, err := w.store.DeleteCheckpointsFrom(ctx, ev.ResidentID, y, m)
	if err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	rebuilt, err := w.RebuildCheckpoints(ctx, ev.ResidentID, from)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Checkpoints refreshed after past correction",
		log.FieldEventID, ev.ID,
		log.FieldResidentID, ev.ResidentID,
		log.FieldPeriod, from.String(),
		"deleted", deleted,
		"rebuilt", rebuilt)
	return nil
}

// RebuildCheckpoints recomputes the resident's checkpoints from the month of
// `from` up to the last closed month and returns how many were written.
func (w *CheckpointWorker) RebuildCheckpoints(ctx context.Context, residentID int64, from core.Window) (int, error) {
	open := w.policy.OpenPeriod()
	if !from.Before(open) {
		return 0, nil
	}
	lastClosed := open.Prior()

	txs, err := w.store.ListTransactions(ctx, residentID, time.Time{}, lastClosed.Until)
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}
	balance, err := w.calc.PriorBalance(txs, from.Year, from.Month)
	if err != nil {
		return 0, err
	}

	n := 0
	for m := from; m.Before(open); m = m.Next() {
		rows, err := w.calc.Resume(balance, txs, m.Year, m.Month)
		if err != nil {
			return n, err
		}
		if len(rows) > 0 {
			balance = ledger.FinalBalance(rows)
		}
		cp := core.Checkpoint{ResidentID: residentID, Year: m.Year, Month: m.Month, Balance: balance, ComputedAt: time.Now()}
		if err := w.store.SaveCheckpoint(ctx, cp); err != nil {
			return n, fmt.Errorf("save checkpoint %s: %w", m, err)
		}
		n++
	}
	return n, nil
}

// CloseMonth stores the checkpoint of the month before now for every
// resident still present during that month. Existing checkpoints are
// recomputed and overwritten when they disagree with replay, which repairs
// a checkpoint saved concurrently with a past correction that invalidated
// it. The count covers written checkpoints only.
func (w *CheckpointWorker) CloseMonth(ctx context.Context, now time.Time) (int, error) {
	y, m := core.MonthOf(now, w.calc.Location)
	open, err := core.NewWindow(y, m, w.calc.Location)
	if err != nil {
		return 0, err
	}
	closed := open.Prior()

	residents, err := w.store.ListResidents(ctx, core.ResidentFilter{IncludeEnded: true})
	if err != nil {
		return 0, fmt.Errorf("list residents: %w", err)
	}

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, r := range residents {
		if r.EndDate != nil && r.EndDate.Before(closed.Start) {
			continue
		}
		g.Go(func() error {
			ok, err := w.closeResident(gctx, r.ID, closed)
			if err != nil {
				return fmt.Errorf("resident %d: %w", r.ID, err)
			}
			if ok {
				created.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	w.logger.InfoContext(ctx, "Month close finished",
		log.FieldOperation, log.OpClose,
		log.FieldPeriod, closed.String(),
		log.FieldCount, created.Load(),
		log.FieldError, err)
	return int(created.Load()), err
}

func (w *CheckpointWorker) closeResident(ctx context.Context, residentID int64, closed core.Window) (bool, error) {
	existing, ok, err := w.store.GetCheckpoint(ctx, residentID, closed.Year, closed.Month)
	if err != nil {
		return false, err
	}
	txs, err := w.store.ListTransactions(ctx, residentID, time.Time{}, closed.Until)
	if err != nil {
		return false, fmt.Errorf("list transactions: %w", err)
	}
	balance, err := w.calc.BalanceUpToMonth(txs, closed.Year, closed.Month)
	if err != nil {
		return false, err
	}
	if ok {
		if existing.Balance == balance {
			return false, nil
		}
		w.logger.WarnContext(ctx, "Stale checkpoint repaired",
			log.FieldOperation, log.OpCheckpoint,
			log.FieldResidentID, residentID,
			log.FieldPeriod, closed.String(),
			"stored_yen", existing.Balance,
			log.FieldBalance, balance)
	}
	cp := core.Checkpoint{ResidentID: residentID, Year: closed.Year, Month: closed.Month, Balance: balance, ComputedAt: time.Now()}
	if err := w.store.SaveCheckpoint(ctx, cp); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	return true, nil
}

// Run closes the previous month at startup and then on every tick until
// ctx is cancelled.
func (w *CheckpointWorker) Run(ctx context.Context, interval time.Duration) {
	if _, err := w.CloseMonth(ctx, w.policy.Now()); err != nil {
		w.logger.ErrorContext(ctx, "Initial month close failed", log.FieldError, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := w.CloseMonth(ctx, now); err != nil {
				w.logger.ErrorContext(ctx, "Periodic month close failed", log.FieldError, err)
			}
		}
	}
}
