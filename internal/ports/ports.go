// Package ports declares what the ledger needs from its persistence
// collaborator. The core never holds a database handle; it receives
// already-fetched transaction slices through these interfaces.
package ports

import (
	"context"
	"time"

	"azukari/internal/core"
)

type (
	// TransactionStore reads and writes a resident's transactions.
	TransactionStore interface {
		// ListTransactions returns the resident's transactions dated within
		// [from, to). A zero bound is open-ended. Order is unspecified.
		ListTransactions(ctx context.Context, residentID int64, from, to time.Time) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
		CreateTransaction(ctx context.Context, nt core.NewTransaction) (core.Transaction, error)
		// RetypeTransaction atomically changes the type of a transaction from
		// `from` to `to`. When the stored type is no longer `from` nothing is
		// written and core.ErrAlreadyCorrected or core.ErrConcurrentUpdate is
		// returned. A non-empty reason replaces the stored one.
		RetypeTransaction(ctx context.Context, id int64, from, to core.TransactionType, reason string) (core.Transaction, error)
		HasTransactionWithDescription(ctx context.Context, residentID int64, description string) (bool, error)
	}

	// DirectoryStore exposes facility, unit and resident master data.
	DirectoryStore interface {
		GetResident(ctx context.Context, id int64) (core.Resident, error)
		ListResidents(ctx context.Context, filter core.ResidentFilter) ([]core.Resident, error)
		GetFacility(ctx context.Context, id int64) (core.Facility, error)
		ListFacilities(ctx context.Context) ([]core.Facility, error)
		ListUnits(ctx context.Context, facilityID int64) ([]core.Unit, error)

		// Ensure* find an active record by name or create it. The boolean
		// reports whether a record was created.
		EnsureFacility(ctx context.Context, name string) (core.Facility, bool, error)
		EnsureUnit(ctx context.Context, facilityID int64, name string) (core.Unit, bool, error)
		EnsureResident(ctx context.Context, facilityID, unitID int64, name string) (core.Resident, bool, error)
	}

	// CheckpointStore persists month-end balances.
	CheckpointStore interface {
		GetCheckpoint(ctx context.Context, residentID int64, year, month int) (core.Checkpoint, bool, error)
		SaveCheckpoint(ctx context.Context, cp core.Checkpoint) error
		// DeleteCheckpointsFrom removes the resident's checkpoints for
		// (year, month) and every later month.
		DeleteCheckpointsFrom(ctx context.Context, residentID int64, year, month int) (int64, error)
	}

	Store interface {
		TransactionStore
		DirectoryStore
		CheckpointStore
		Close() error
	}
)
