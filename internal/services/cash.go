package services

import (
	"context"
	"fmt"
	"slices"

	"azukari/internal/core"
)

// Denominations lists the yen notes and coins that can be counted.
var Denominations = []int64{10000, 5000, 2000, 1000, 500, 100, 50, 10, 5, 1}

// DenominationCount is how many pieces of one note or coin were counted.
type DenominationCount struct {
	Value int64
	Count int64
}

func (d DenominationCount) Amount() int64 { return d.Value * d.Count }

// CashReport compares a facility's ledger total with the cash in the safe.
// Difference is LedgerTotal minus Counted; a positive value means cash is
// missing.
type CashReport struct {
	Facility    core.Facility
	Period      core.Window
	LedgerTotal int64
	Counted     int64
	Difference  int64
	Counts      []DenominationCount
}

// CashVerification computes a CashReport for the facility at the end of
// (year, month).
func (s *LedgerService) CashVerification(ctx context.Context, facilityID int64, year, month int, counts []DenominationCount) (CashReport, error) {
	var counted int64
	for _, c := range counts {
		if !slices.Contains(Denominations, c.Value) {
			return CashReport{}, core.Invalid("denomination", fmt.Sprintf("%d is not a yen note or coin", c.Value))
		}
		if c.Count < 0 {
			return CashReport{}, core.Invalid("count", fmt.Sprintf("count for %d yen must not be negative", c.Value))
		}
		counted += c.Amount()
	}

	summary, err := s.FacilitySummary(ctx, facilityID, year, month)
	if err != nil {
		return CashReport{}, err
	}
	return CashReport{
		Facility:    summary.Facility,
		Period:      summary.Period,
		LedgerTotal: summary.Total,
		Counted:     counted,
		Difference:  summary.Total - counted,
		Counts:      slices.Clone(counts),
	}, nil
}
