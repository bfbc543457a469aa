package ledger

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"azukari/internal/core"
)

// Policy decides which entries the month-end close allows. The current
// calendar month is open for ordinary entries; earlier months are closed and
// only reachable through past_correct_* adjustments.
//
// Policy is only consulted by mutations. Balance computation never depends
// on the clock.
type Policy struct {
	Now      func() time.Time
	Location *time.Location
}

// NewPolicy returns a policy using the wall clock in loc.
func NewPolicy(loc *time.Location) *Policy {
	return &Policy{Now: time.Now, Location: loc}
}

// OpenPeriod returns the window of the month currently open for entry.
func (p *Policy) OpenPeriod() core.Window {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	y, m := core.MonthOf(now(), p.Location)
	w, _ := core.NewWindow(y, m, p.Location)
	return w
}

// ValidateNew checks a create request. The returned error, when not nil,
// is a *core.ValidationError.
func (p *Policy) ValidateNew(nt core.NewTransaction) error {
	if nt.ResidentID <= 0 {
		return core.Invalid("residentId", "resident is required")
	}
	if !nt.Type.IsValid() {
		return core.Invalid("transactionType", fmt.Sprintf("unknown transaction type %q", nt.Type))
	}
	if nt.Amount < 1 {
		return core.Invalid("amount", "amount must be a whole number of yen, at least 1")
	}
	if nt.Date.IsZero() {
		return core.Invalid("transactionDate", "date is required")
	}
	if nt.Type.RequiresReason() && strings.TrimSpace(nt.Reason) == "" {
		return core.Invalid("reason", fmt.Sprintf("reason is required for %s entries", nt.Type))
	}
	if err := checkLength("description", nt.Description, core.MaxDescriptionLength); err != nil {
		return err
	}
	if err := checkLength("payee", nt.Payee, core.MaxPayeeLength); err != nil {
		return err
	}
	if err := checkLength("reason", nt.Reason, core.MaxReasonLength); err != nil {
		return err
	}

	open := p.OpenPeriod()
	if nt.Type.IsPastCorrection() {
		if !nt.Date.Before(open.Start) {
			return core.Invalid("transactionDate", fmt.Sprintf("%s entries must be dated before %s", nt.Type, open))
		}
		return nil
	}
	if !open.Contains(nt.Date) {
		return core.Invalid("transactionDate", fmt.Sprintf("%s entries must be dated within %s", nt.Type, open))
	}
	return nil
}

// ValidateCorrection checks that tx may be re-tagged as corrected: it must
// be an ordinary in/out entry dated in the open month.
func (p *Policy) ValidateCorrection(tx core.Transaction) error {
	if tx.Type.IsCorrection() {
		return &core.ValidationError{
			Field:  "transactionType",
			Reason: fmt.Sprintf("transaction %d is already corrected", tx.ID),
			Err:    core.ErrAlreadyCorrected,
		}
	}
	if _, ok := tx.Type.Corrected(); !ok {
		return core.Invalid("transactionType", fmt.Sprintf("%s entries cannot be marked as corrected", tx.Type))
	}
	open := p.OpenPeriod()
	if !open.Contains(tx.Date) {
		return core.Invalid("transactionDate", fmt.Sprintf("only entries dated within %s can be corrected; use a past correction instead", open))
	}
	return nil
}

func checkLength(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return core.Invalid(field, fmt.Sprintf("must be at most %d characters", limit))
	}
	return nil
}
