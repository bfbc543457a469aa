package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"azukari/internal/core"
	"azukari/internal/log"
	"azukari/internal/ports"
)

// OpeningBalanceDescription marks the transaction carrying a resident's
// balance at import time.
const OpeningBalanceDescription = "初期残高"

// ImportRow is one line of a resident master import.
type ImportRow struct {
	Line           int
	Facility       string
	Unit           string
	Resident       string
	InitialBalance int64
}

type ImportResult struct {
	FacilitiesCreated int
	UnitsCreated      int
	ResidentsCreated  int
	OpeningBalances   int
	Errors            []string
}

// Importer loads facilities, units and residents with their opening
// balances. Rows are processed in order so that later rows see records
// created by earlier ones.
type Importer struct {
	store  ports.DirectoryStore
	txs    ports.TransactionStore
	ledger *LedgerService
	logger *log.Logger
}

func NewImporter(store ports.Store, ledger *LedgerService) *Importer {
	return &Importer{
		store:  store,
		txs:    store,
		ledger: ledger,
		logger: ledger.logger.WithComponent(log.ComponentImport),
	}
}

// Import never stops at a bad row; failures are reported in the result.
func (im *Importer) Import(ctx context.Context, rows []ImportRow) ImportResult {
	var res ImportResult
	for i, row := range rows {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("import cancelled before row %d: %v", lineOf(row, i), ctx.Err()))
			break
		}
		if err := im.importRow(ctx, row, &res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", lineOf(row, i), err))
		}
	}

	im.logger.InfoContext(ctx, "Import finished",
		log.FieldOperation, log.OpImport,
		log.FieldCount, len(rows),
		"facilities_created", res.FacilitiesCreated,
		"units_created", res.UnitsCreated,
		"residents_created", res.ResidentsCreated,
		"opening_balances", res.OpeningBalances,
		"errors", len(res.Errors))
	return res
}

func lineOf(row ImportRow, i int) int {
	if row.Line > 0 {
		return row.Line
	}
	return i + 1
}

func (im *Importer) importRow(ctx context.Context, row ImportRow, res *ImportResult) error {
	if err := validateRow(row); err != nil {
		return err
	}

	facility, created, err := im.store.EnsureFacility(ctx, row.Facility)
	if err != nil {
		return fmt.Errorf("facility %q: %w", row.Facility, err)
	}
	if created {
		res.FacilitiesCreated++
	}
	unit, created, err := im.store.EnsureUnit(ctx, facility.ID, row.Unit)
	if err != nil {
		return fmt.Errorf("unit %q: %w", row.Unit, err)
	}
	if created {
		res.UnitsCreated++
	}
	resident, created, err := im.store.EnsureResident(ctx, facility.ID, unit.ID, row.Resident)
	if err != nil {
		return fmt.Errorf("resident %q: %w", row.Resident, err)
	}
	if created {
		res.ResidentsCreated++
	}

	if row.InitialBalance <= 0 {
		return nil
	}
	exists, err := im.txs.HasTransactionWithDescription(ctx, resident.ID, OpeningBalanceDescription)
	if err != nil {
		return fmt.Errorf("check opening balance: %w", err)
	}
	if exists {
		return nil
	}
	_, err = im.ledger.CreateTransaction(ctx, core.NewTransaction{
		ResidentID:  resident.ID,
		Date:        im.ledger.policy.Now(),
		Type:        core.TypeIn,
		Amount:      row.InitialBalance,
		Description: OpeningBalanceDescription,
	})
	if err != nil {
		return fmt.Errorf("opening balance: %w", err)
	}
	res.OpeningBalances++
	return nil
}

func validateRow(row ImportRow) error {
	for _, f := range []struct{ field, value string }{
		{"facility", row.Facility},
		{"unit", row.Unit},
		{"resident", row.Resident},
	} {
		if f.value == "" {
			return core.Invalid(f.field, "name is required")
		}
		if utf8.RuneCountInString(f.value) > core.MaxNameLength {
			return core.Invalid(f.field, fmt.Sprintf("name must be at most %d characters", core.MaxNameLength))
		}
	}
	if row.InitialBalance < 0 {
		return core.Invalid("initial_balance", "must not be negative")
	}
	return nil
}

// ReadImportCSV parses facility,unit,resident,initial_balance records. A
// header line is skipped when its balance column is not a number; an empty
// balance means zero. Amounts with thousands separators must be quoted.
func ReadImportCSV(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []ImportRow
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < 3 || len(rec) > 4 {
			return nil, fmt.Errorf("line %d: expected 3 or 4 columns, got %d", line, len(rec))
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if first {
			rec[0] = strings.TrimPrefix(rec[0], "\ufeff")
		}

		row := ImportRow{Line: line, Facility: rec[0], Unit: rec[1], Resident: rec[2]}
		if len(rec) == 4 && rec[3] != "" {
			amount, err := core.ParseYen(rec[3])
			if err != nil {
				if first {
					continue // header
				}
				return nil, fmt.Errorf("line %d: initial balance: %w", line, err)
			}
			row.InitialBalance = amount
		}
		rows = append(rows, row)
	}
	return rows, nil
}
