// Package memory is a process-local ports.Store used for tests and the
// "memory" data backend.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"azukari/internal/core"
	"azukari/internal/ports"
)

var _ ports.Store = (*Store)(nil)

type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	facilities  []core.Facility
	units       []core.Unit
	residents   []core.Resident
	txs         []core.Transaction
	checkpoints map[checkpointKey]core.Checkpoint
	lastID      int64
}

type checkpointKey struct {
	residentID int64
	year       int
	month      int
}

func New() *Store {
	return &Store{now: time.Now, checkpoints: map[checkpointKey]core.Checkpoint{}}
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

func (s *Store) Close() error { return nil }

func (s *Store) ListTransactions(_ context.Context, residentID int64, from, to time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.ResidentID != residentID {
			continue
		}
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.Date.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.txIndex(id)
	if i < 0 {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return s.txs[i], nil
}

func (s *Store) txIndex(id int64) int {
	return slices.IndexFunc(s.txs, func(tx core.Transaction) bool { return tx.ID == id })
}

func (s *Store) CreateTransaction(_ context.Context, nt core.NewTransaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.ContainsFunc(s.residents, func(r core.Resident) bool { return r.ID == nt.ResidentID }) {
		return core.Transaction{}, fmt.Errorf("resident %d: %w", nt.ResidentID, core.ErrNotFound)
	}
	tx := core.Transaction{
		ID:          s.nextID(),
		ResidentID:  nt.ResidentID,
		Date:        nt.Date,
		Type:        nt.Type,
		Amount:      nt.Amount,
		Description: nt.Description,
		Payee:       nt.Payee,
		Reason:      nt.Reason,
		CreatedAt:   s.now(),
	}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (s *Store) RetypeTransaction(_ context.Context, id int64, from, to core.TransactionType, reason string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.txIndex(id)
	if i < 0 {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	switch s.txs[i].Type {
	case from:
	case to:
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrAlreadyCorrected)
	default:
		return core.Transaction{}, fmt.Errorf("transaction %d is %s, expected %s: %w", id, s.txs[i].Type, from, core.ErrConcurrentUpdate)
	}
	s.txs[i].Type = to
	if reason != "" {
		s.txs[i].Reason = reason
	}
	return s.txs[i], nil
}

func (s *Store) HasTransactionWithDescription(_ context.Context, residentID int64, description string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.txs, func(tx core.Transaction) bool {
		return tx.ResidentID == residentID && tx.Description == description
	}), nil
}

func (s *Store) GetResident(_ context.Context, id int64) (core.Resident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.residents {
		if r.ID == id {
			return r, nil
		}
	}
	return core.Resident{}, fmt.Errorf("resident %d: %w", id, core.ErrNotFound)
}

// ListResidents returns matching residents ordered by name.
func (s *Store) ListResidents(_ context.Context, f core.ResidentFilter) ([]core.Resident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Resident
	for _, r := range s.residents {
		if f.FacilityID != 0 && r.FacilityID != f.FacilityID {
			continue
		}
		if f.UnitID != 0 && r.UnitID != f.UnitID {
			continue
		}
		if !f.IncludeEnded && !r.Active() {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b core.Resident) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) GetFacility(_ context.Context, id int64) (core.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.facilities {
		if f.ID == id {
			return f, nil
		}
	}
	return core.Facility{}, fmt.Errorf("facility %d: %w", id, core.ErrNotFound)
}

// ListFacilities returns facilities ordered by sort order, then id.
func (s *Store) ListFacilities(_ context.Context) ([]core.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.facilities)
	slices.SortFunc(out, func(a, b core.Facility) int {
		return cmp.Or(cmp.Compare(a.SortOrder, b.SortOrder), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) ListUnits(_ context.Context, facilityID int64) ([]core.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Unit
	for _, u := range s.units {
		if u.FacilityID == facilityID {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b core.Unit) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) EnsureFacility(_ context.Context, name string) (core.Facility, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.facilities {
		if f.Name == name {
			return f, false, nil
		}
	}
	f := core.Facility{ID: s.nextID(), Name: name, SortOrder: len(s.facilities)}
	s.facilities = append(s.facilities, f)
	return f, true, nil
}

func (s *Store) EnsureUnit(_ context.Context, facilityID int64, name string) (core.Unit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.units {
		if u.FacilityID == facilityID && u.Name == name {
			return u, false, nil
		}
	}
	u := core.Unit{ID: s.nextID(), FacilityID: facilityID, Name: name}
	s.units = append(s.units, u)
	return u, true, nil
}

func (s *Store) EnsureResident(_ context.Context, facilityID, unitID int64, name string) (core.Resident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.residents {
		if r.FacilityID == facilityID && r.UnitID == unitID && r.Name == name && r.Active() {
			return r, false, nil
		}
	}
	start := s.now()
	r := core.Resident{ID: s.nextID(), FacilityID: facilityID, UnitID: unitID, Name: name, StartDate: &start}
	s.residents = append(s.residents, r)
	return r, true, nil
}

// EndResident records a move-out date. Ended residents are excluded from
// default listings but keep their ledger.
func (s *Store) EndResident(_ context.Context, id int64, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.residents {
		if s.residents[i].ID == id {
			s.residents[i].EndDate = &end
			return nil
		}
	}
	return fmt.Errorf("resident %d: %w", id, core.ErrNotFound)
}

func (s *Store) GetCheckpoint(_ context.Context, residentID int64, year, month int) (core.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[checkpointKey{residentID, year, month}]
	return cp, ok, nil
}

func (s *Store) SaveCheckpoint(_ context.Context, cp core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[checkpointKey{cp.ResidentID, cp.Year, cp.Month}] = cp
	return nil
}

func (s *Store) DeleteCheckpointsFrom(_ context.Context, residentID int64, year, month int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.checkpoints {
		if k.residentID == residentID && (k.year > year || (k.year == year && k.month >= month)) {
			delete(s.checkpoints, k)
			n++
		}
	}
	return n, nil
}
