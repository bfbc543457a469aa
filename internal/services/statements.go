package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"azukari/internal/cache"
	"azukari/internal/core"
	"azukari/internal/ledger"
	"azukari/internal/log"
)

// ResidentStatement is one resident's ledger for one month.
type ResidentStatement struct {
	Resident     core.Resident
	Facility     core.Facility
	Period       core.Window
	PriorBalance int64
	Balance      int64
	Rows         []core.TransactionWithBalance
}

type ResidentBalance struct {
	Resident core.Resident
	Balance  int64
}

type UnitSummary struct {
	Unit      core.Unit
	Residents []ResidentBalance
	Total     int64
}

type FacilitySummary struct {
	Facility core.Facility
	Period   core.Window
	Units    []UnitSummary
	Total    int64
}

type FacilityTotal struct {
	Facility  core.Facility
	Residents int
	Total     int64
}

type Dashboard struct {
	Period     core.Window
	Facilities []FacilityTotal
	Total      int64
}

// BalanceUpToMonth returns the resident's balance at the end of (year, month).
func (s *LedgerService) BalanceUpToMonth(ctx context.Context, residentID int64, year, month int) (int64, error) {
	w, err := core.NewWindow(year, month, s.calc.Location)
	if err != nil {
		return 0, err
	}
	key := cache.BalanceKey(residentID, year, month)
	if b, ok := s.cache.Get(key); ok {
		return b, nil
	}
	prior, rows, err := s.monthLedger(ctx, residentID, w)
	if err != nil {
		return 0, err
	}
	balance := closing(prior, rows)
	s.cache.Set(key, balance)
	return balance, nil
}

// ResidentMonth returns the resident's statement for (year, month).
func (s *LedgerService) ResidentMonth(ctx context.Context, residentID int64, year, month int) (ResidentStatement, error) {
	w, err := core.NewWindow(year, month, s.calc.Location)
	if err != nil {
		return ResidentStatement{}, err
	}
	resident, err := s.store.GetResident(ctx, residentID)
	if err != nil {
		return ResidentStatement{}, err
	}
	facility, err := s.store.GetFacility(ctx, resident.FacilityID)
	if err != nil {
		return ResidentStatement{}, err
	}
	prior, rows, err := s.monthLedger(ctx, residentID, w)
	if err != nil {
		return ResidentStatement{}, err
	}
	for i := range rows {
		rows[i].ResidentName = resident.Name
	}
	st := ResidentStatement{
		Resident:     resident,
		Facility:     facility,
		Period:       w,
		PriorBalance: prior,
		Balance:      closing(prior, rows),
		Rows:         rows,
	}
	s.cache.Set(cache.BalanceKey(residentID, year, month), st.Balance)
	return st, nil
}

// monthLedger resumes from the stored checkpoint of the previous month when
// one exists and replays the full history otherwise.
func (s *LedgerService) monthLedger(ctx context.Context, residentID int64, w core.Window) (int64, []core.TransactionWithBalance, error) {
	prev := w.Prior()
	cp, ok, err := s.store.GetCheckpoint(ctx, residentID, prev.Year, prev.Month)
	if err != nil {
		return 0, nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var (
		prior int64
		rows  []core.TransactionWithBalance
	)
	if ok {
		current, err := s.store.ListTransactions(ctx, residentID, w.Start, w.Until)
		if err != nil {
			return 0, nil, fmt.Errorf("list transactions: %w", err)
		}
		prior = cp.Balance
		if rows, err = s.calc.Resume(prior, current, w.Year, w.Month); err != nil {
			return 0, nil, err
		}
	} else {
		txs, err := s.store.ListTransactions(ctx, residentID, time.Time{}, w.Until)
		if err != nil {
			return 0, nil, fmt.Errorf("list transactions: %w", err)
		}
		if prior, err = s.calc.PriorBalance(txs, w.Year, w.Month); err != nil {
			return 0, nil, err
		}
		if rows, err = s.calc.BalanceForMonth(txs, w.Year, w.Month); err != nil {
			return 0, nil, err
		}
	}

	if s.verify {
		if err := s.verifyMonth(ctx, residentID, w, closing(prior, rows)); err != nil {
			return 0, nil, err
		}
	}
	return prior, rows, nil
}

func (s *LedgerService) verifyMonth(ctx context.Context, residentID int64, w core.Window, got int64) error {
	txs, err := s.store.ListTransactions(ctx, residentID, time.Time{}, w.Until)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	want, err := s.calc.Verify(txs, w.Year, w.Month)
	if err == nil && want != got {
		err = fmt.Errorf("%w: resident %d %s: stored checkpoint gives %d, replay gives %d",
			core.ErrInvariantViolation, residentID, w, got, want)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Balance verification failed",
			log.FieldOperation, log.OpVerify,
			log.FieldResidentID, residentID,
			log.FieldPeriod, w.String(),
			log.FieldErrorType, errorType(err),
			log.FieldError, err)
	}
	return err
}

func closing(prior int64, rows []core.TransactionWithBalance) int64 {
	if len(rows) == 0 {
		return prior
	}
	return ledger.FinalBalance(rows)
}

// FacilityMonth merges the month rows of every active resident of the
// facility. Each row carries its own resident's running balance.
func (s *LedgerService) FacilityMonth(ctx context.Context, facilityID int64, year, month int) ([]core.TransactionWithBalance, error) {
	w, err := core.NewWindow(year, month, s.calc.Location)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	residents, err := s.store.ListResidents(ctx, core.ResidentFilter{FacilityID: facilityID})
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}

	perResident := make([][]core.TransactionWithBalance, len(residents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, r := range residents {
		g.Go(func() error {
			_, rows, err := s.monthLedger(gctx, r.ID, w)
			if err != nil {
				return fmt.Errorf("resident %d: %w", r.ID, err)
			}
			for j := range rows {
				rows[j].ResidentName = r.Name
			}
			perResident[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := slices.Concat(perResident...)
	slices.SortStableFunc(out, func(a, b core.TransactionWithBalance) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// FacilitySummary totals balances per unit and per active resident.
func (s *LedgerService) FacilitySummary(ctx context.Context, facilityID int64, year, month int) (FacilitySummary, error) {
	w, err := core.NewWindow(year, month, s.calc.Location)
	if err != nil {
		return FacilitySummary{}, err
	}
	facility, err := s.store.GetFacility(ctx, facilityID)
	if err != nil {
		return FacilitySummary{}, err
	}
	units, err := s.store.ListUnits(ctx, facilityID)
	if err != nil {
		return FacilitySummary{}, fmt.Errorf("list units: %w", err)
	}
	residents, err := s.store.ListResidents(ctx, core.ResidentFilter{FacilityID: facilityID})
	if err != nil {
		return FacilitySummary{}, fmt.Errorf("list residents: %w", err)
	}

	totals, err := s.sumBalances(ctx, residents, year, month)
	if err != nil {
		return FacilitySummary{}, err
	}

	summary := FacilitySummary{Facility: facility, Period: w, Total: totals.Total}
	index := make(map[int64]int, len(units))
	for _, u := range units {
		index[u.ID] = len(summary.Units)
		summary.Units = append(summary.Units, UnitSummary{Unit: u})
	}
	for _, r := range residents {
		i, ok := index[r.UnitID]
		if !ok {
			// resident points at a unit that is no longer listed
			i = len(summary.Units)
			index[r.UnitID] = i
			summary.Units = append(summary.Units, UnitSummary{Unit: core.Unit{ID: r.UnitID, FacilityID: facilityID, Name: "未所属"}})
		}
		b := totals.ByResident[r.ID]
		summary.Units[i].Residents = append(summary.Units[i].Residents, ResidentBalance{Resident: r, Balance: b})
		summary.Units[i].Total += b
	}
	return summary, nil
}

// Dashboard totals every facility's active residents.
func (s *LedgerService) Dashboard(ctx context.Context, year, month int) (Dashboard, error) {
	w, err := core.NewWindow(year, month, s.calc.Location)
	if err != nil {
		return Dashboard{}, err
	}
	facilities, err := s.store.ListFacilities(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list facilities: %w", err)
	}
	residents, err := s.store.ListResidents(ctx, core.ResidentFilter{})
	if err != nil {
		return Dashboard{}, fmt.Errorf("list residents: %w", err)
	}
	totals, err := s.sumBalances(ctx, residents, year, month)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{Period: w, Total: totals.Total}
	index := make(map[int64]int, len(facilities))
	for _, f := range facilities {
		index[f.ID] = len(d.Facilities)
		d.Facilities = append(d.Facilities, FacilityTotal{Facility: f})
	}
	for _, r := range residents {
		i, ok := index[r.FacilityID]
		if !ok {
			continue
		}
		d.Facilities[i].Residents++
		d.Facilities[i].Total += totals.ByResident[r.ID]
	}
	return d, nil
}

func (s *LedgerService) sumBalances(ctx context.Context, residents []core.Resident, year, month int) (ledger.Totals, error) {
	ids := make([]int64, len(residents))
	for i, r := range residents {
		ids[i] = r.ID
	}
	start := time.Now()
	totals, err := ledger.SumBalances(ctx, ids, s.concurrency, func(ctx context.Context, id int64) (int64, error) {
		return s.BalanceUpToMonth(ctx, id, year, month)
	})
	if err != nil {
		if errors.Is(err, core.ErrInvariantViolation) {
			s.logger.ErrorContext(ctx, "Aggregation aborted", log.FieldError, err)
		}
		return ledger.Totals{}, err
	}
	s.logger.DebugContext(ctx, "Balances aggregated",
		log.FieldOperation, log.OpAggregate,
		log.FieldCount, len(ids),
		log.FieldPeriod, fmt.Sprintf("%04d-%02d", year, month),
		log.FieldDuration, time.Since(start).Milliseconds())
	return totals, nil
}
