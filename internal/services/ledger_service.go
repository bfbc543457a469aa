package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"azukari/internal/amqp"
	"azukari/internal/cache"
	"azukari/internal/core"
	"azukari/internal/ledger"
	"azukari/internal/log"
	"azukari/internal/ports"
)

// EventPublisher is satisfied by *amqp.Client.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

type Options struct {
	// Publisher may be nil; events are then skipped with a warning.
	Publisher         EventPublisher
	Location          *time.Location
	Mode              ledger.Mode
	VerifyCheckpoints bool
	Cache             cache.Cache[int64]
	Concurrency       int
	Now               func() time.Time
	Logger            *log.Logger
}

// LedgerService orchestrates ledger mutations and read models over a store,
// a balance cache and an optional event publisher.
type LedgerService struct {
	store       ports.Store
	publisher   EventPublisher
	policy      *ledger.Policy
	calc        *ledger.Calculator
	cache       cache.Cache[int64]
	verify      bool
	concurrency int
	logger      *log.Logger
}

func NewLedgerService(store ports.Store, opts Options) *LedgerService {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	policy := ledger.NewPolicy(loc)
	if opts.Now != nil {
		policy.Now = opts.Now
	}
	bc := opts.Cache
	if bc == nil {
		bc = cache.NewLRUCache[int64](1000, 5*time.Minute)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default(log.ComponentLedger)
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 8
	}
	return &LedgerService{
		store:       store,
		publisher:   opts.Publisher,
		policy:      policy,
		calc:        ledger.NewCalculator(loc, opts.Mode),
		cache:       bc,
		verify:      opts.VerifyCheckpoints,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (s *LedgerService) Location() *time.Location { return s.calc.Location }

// OpenPeriod is the month currently accepting ordinary entries.
func (s *LedgerService) OpenPeriod() core.Window { return s.policy.OpenPeriod() }

// CreateTransaction validates nt against the month-end close, persists it
// and announces it.
func (s *LedgerService) CreateTransaction(ctx context.Context, nt core.NewTransaction) (core.Transaction, error) {
	nt.Description = strings.TrimSpace(nt.Description)
	nt.Payee = strings.TrimSpace(nt.Payee)
	nt.Reason = strings.TrimSpace(nt.Reason)

	if err := s.policy.ValidateNew(nt); err != nil {
		s.logRejected(ctx, log.OpCreate, nt.ResidentID, err)
		return core.Transaction{}, err
	}

	resident, err := s.store.GetResident(ctx, nt.ResidentID)
	if errors.Is(err, core.ErrNotFound) {
		verr := &core.ValidationError{Field: "residentId", Reason: fmt.Sprintf("resident %d does not exist", nt.ResidentID), Err: core.ErrNotFound}
		s.logRejected(ctx, log.OpCreate, nt.ResidentID, verr)
		return core.Transaction{}, verr
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load resident: %w", err)
	}
	if resident.EndDate != nil && !nt.Date.Before(nextDay(*resident.EndDate, s.calc.Location)) {
		verr := core.Invalid("transactionDate", fmt.Sprintf("resident %d moved out on %s", resident.ID, resident.EndDate.In(s.calc.Location).Format(time.DateOnly)))
		s.logRejected(ctx, log.OpCreate, nt.ResidentID, verr)
		return core.Transaction{}, verr
	}

	tx, err := s.store.CreateTransaction(ctx, nt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	s.invalidate(ctx, tx)
	s.logger.LogFields(ctx, slog.LevelInfo, "Transaction created", log.NewFields().
		WithOperation(log.OpCreate).
		WithResident(tx.ResidentID).
		WithTransaction(tx.ID, tx.Type.String(), tx.Amount))
	s.publish(ctx, amqp.EventTransactionCreated, tx)
	return tx, nil
}

// MarkAsCorrected re-tags an open-month in/out entry as correct_in or
// correct_out, removing it from balances. Re-tagging is a single
// compare-and-set, so two concurrent corrections cannot both succeed.
func (s *LedgerService) MarkAsCorrected(ctx context.Context, id int64, reason string) (core.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if err := checkReason(reason); err != nil {
		return core.Transaction{}, err
	}

	tx, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Transaction{}, &core.ValidationError{Field: "id", Reason: fmt.Sprintf("transaction %d does not exist", id), Err: core.ErrNotFound}
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	if err := s.policy.ValidateCorrection(tx); err != nil {
		s.logRejected(ctx, log.OpCorrect, tx.ResidentID, err)
		return core.Transaction{}, err
	}

	to, _ := tx.Type.Corrected()
	updated, err := s.store.RetypeTransaction(ctx, id, tx.Type, to, reason)
	switch {
	case errors.Is(err, core.ErrAlreadyCorrected):
		return core.Transaction{}, &core.ValidationError{Field: "transactionType", Reason: fmt.Sprintf("transaction %d is already corrected", id), Err: core.ErrAlreadyCorrected}
	case err != nil:
		return core.Transaction{}, fmt.Errorf("mark transaction %d as corrected: %w", id, err)
	}

	s.invalidate(ctx, updated)
	s.logger.LogFields(ctx, slog.LevelInfo, "Transaction marked as corrected", log.NewFields().
		WithOperation(log.OpCorrect).
		WithResident(updated.ResidentID).
		WithTransaction(updated.ID, updated.Type.String(), updated.Amount))
	s.publish(ctx, amqp.EventTransactionCorrected, updated)
	return updated, nil
}

func checkReason(reason string) error {
	if n := len([]rune(reason)); n > core.MaxReasonLength {
		return core.Invalid("reason", fmt.Sprintf("must be at most %d characters", core.MaxReasonLength))
	}
	return nil
}

// invalidate drops cached balances of the resident and, for entries dated
// in a closed month, the checkpoints that no longer hold.
func (s *LedgerService) invalidate(ctx context.Context, tx core.Transaction) {
	s.cache.DeletePrefix(cache.ResidentPrefix(tx.ResidentID))

	if !tx.Date.Before(s.policy.OpenPeriod().Start) {
		return
	}
	y, m := core.MonthOf(tx.Date, s.calc.Location)
	if _, err := s.store.DeleteCheckpointsFrom(ctx, tx.ResidentID, y, m); err != nil {
		// stale checkpoints are caught by verification and rebuilt by the worker
		s.logger.ErrorContext(ctx, "Failed to invalidate checkpoints",
			log.FieldResidentID, tx.ResidentID,
			log.FieldPeriod, fmt.Sprintf("%04d-%02d", y, m),
			log.FieldError, err)
	}
}

func (s *LedgerService) publish(ctx context.Context, kind amqp.EventKind, tx core.Transaction) {
	if s.publisher == nil {
		s.logger.WarnContext(ctx, "AMQP publisher not available, skipping ledger event", "kind", kind)
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(kind, tx)); err != nil {
		// the transaction is stored; the worker's periodic close catches up
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind,
			log.FieldTransactionID, tx.ID,
			log.FieldError, err)
	}
}

func (s *LedgerService) logRejected(ctx context.Context, op string, residentID int64, err error) {
	s.logger.LogFields(ctx, slog.LevelWarn, "Ledger entry rejected", log.NewFields().
		WithOperation(op).
		WithResident(residentID).
		WithError(err, errorType(err)))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrInvalidPeriod):
		return log.ErrorTypeInvalidPeriod
	case errors.Is(err, core.ErrInvariantViolation):
		return log.ErrorTypeInvariant
	case errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrConcurrentUpdate):
		return log.ErrorTypeConflict
	default:
		return log.ErrorTypeInternal
	}
}

// nextDay returns midnight after t's calendar day in loc.
func nextDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}
