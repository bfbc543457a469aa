package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	TypeIn             TransactionType = "in"
	TypeOut            TransactionType = "out"
	TypeCorrectIn      TransactionType = "correct_in"
	TypeCorrectOut     TransactionType = "correct_out"
	TypePastCorrectIn  TransactionType = "past_correct_in"
	TypePastCorrectOut TransactionType = "past_correct_out"
)

// Input length limits for free-text transaction metadata, in characters.
const (
	MaxDescriptionLength = 100
	MaxPayeeLength       = 30
	MaxReasonLength      = 100
	MaxNameLength        = 30
)

type (
	TransactionType string

	// Transaction is an immutable financial event owned by one resident.
	// Only Type may change after creation, and only from in/out to the
	// matching correct_* kind.
	Transaction struct {
		ID          int64
		ResidentID  int64
		Date        time.Time
		Type        TransactionType
		Amount      int64 // whole yen, >= 1
		Description string
		Payee       string
		Reason      string
		CreatedAt   time.Time
	}

	// TransactionWithBalance is a transaction annotated with the running
	// balance after it has been applied.
	TransactionWithBalance struct {
		Transaction
		Balance      int64
		ResidentName string // set when rows of several residents are merged
	}

	// NewTransaction is the input of a create operation.
	NewTransaction struct {
		ResidentID  int64
		Date        time.Time
		Type        TransactionType
		Amount      int64
		Description string
		Payee       string
		Reason      string
	}

	Facility struct {
		ID        int64
		Name      string
		SortOrder int
	}

	Unit struct {
		ID         int64
		FacilityID int64
		Name       string
	}

	Resident struct {
		ID         int64
		FacilityID int64
		UnitID     int64
		Name       string
		StartDate  *time.Time
		EndDate    *time.Time
	}

	// Checkpoint is a persisted month-end balance. It is a cache of a
	// derived value and can always be recomputed from the transactions.
	Checkpoint struct {
		ResidentID int64
		Year       int
		Month      int
		Balance    int64
		ComputedAt time.Time
	}

	// ResidentFilter narrows resident listings. Zero values mean "any".
	ResidentFilter struct {
		FacilityID   int64
		UnitID       int64
		IncludeEnded bool
	}
)

// AllTransactionTypes returns the closed set of transaction kinds.
func AllTransactionTypes() []TransactionType {
	return []TransactionType{TypeIn, TypeOut, TypeCorrectIn, TypeCorrectOut, TypePastCorrectIn, TypePastCorrectOut}
}

// ParseTransactionType parses the wire name of a transaction kind.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.TrimSpace(s))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether t is one of the six known kinds.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeIn, TypeOut, TypeCorrectIn, TypeCorrectOut, TypePastCorrectIn, TypePastCorrectOut:
		return true
	default:
		return false
	}
}

// IsCorrection reports whether t is an annulment marker.
func (t TransactionType) IsCorrection() bool {
	return t == TypeCorrectIn || t == TypeCorrectOut
}

// IsPastCorrection reports whether t is a backdated adjustment.
func (t TransactionType) IsPastCorrection() bool {
	return t == TypePastCorrectIn || t == TypePastCorrectOut
}

// RequiresReason reports whether entries of this kind must carry a reason.
func (t TransactionType) RequiresReason() bool {
	return t.IsCorrection() || t.IsPastCorrection()
}

// Corrected returns the annulment kind an ordinary entry is re-tagged to.
func (t TransactionType) Corrected() (TransactionType, bool) {
	switch t {
	case TypeIn:
		return TypeCorrectIn, true
	case TypeOut:
		return TypeCorrectOut, true
	default:
		return "", false
	}
}

// Label returns the label used on statements.
func (t TransactionType) Label() string {
	switch t {
	case TypeIn:
		return "入金"
	case TypeOut:
		return "出金"
	case TypeCorrectIn:
		return "訂正入金"
	case TypeCorrectOut:
		return "訂正出金"
	case TypePastCorrectIn:
		return "過去訂正入金"
	case TypePastCorrectOut:
		return "過去訂正出金"
	default:
		return string(t)
	}
}

// Active reports whether the resident has not been discharged.
func (r Resident) Active() bool {
	return r.EndDate == nil
}
