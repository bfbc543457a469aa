package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"azukari/internal/core"
	"azukari/internal/ports"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so TEXT columns sort chronologically. All
// values are written in UTC.
const timeLayout = "2006-01-02 15:04:05.000"

var _ ports.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialising on one connection avoids
	// SQLITE_BUSY between concurrent aggregations and writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time %q: %w", s, err)
	}
	return t, nil
}

func decodeNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return fmt.Errorf("get %s %d: %w", kind, id, err)
}

const transactionColumns = `id, resident_id, transaction_date, transaction_type, amount, description, payee, reason, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx            core.Transaction
		date, created string
		typ           string
	)
	if err := row.Scan(&tx.ID, &tx.ResidentID, &date, &typ, &tx.Amount, &tx.Description, &tx.Payee, &tx.Reason, &created); err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	var err error
	if tx.Date, err = decodeTime(date); err != nil {
		return core.Transaction{}, err
	}
	if tx.CreatedAt, err = decodeTime(created); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// ListTransactions implements ports.TransactionStore
func (r *SQLiteRepository) ListTransactions(ctx context.Context, residentID int64, from, to time.Time) ([]core.Transaction, error) {
	var (
		where = []string{"resident_id = ?"}
		args  = []any{residentID}
	)
	if !from.IsZero() {
		where = append(where, "transaction_date >= ?")
		args = append(args, encodeTime(from))
	}
	if !to.IsZero() {
		where = append(where, "transaction_date < ?")
		args = append(args, encodeTime(to))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY transaction_date, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if err != nil {
		return core.Transaction{}, notFound("transaction", id, err)
	}
	return tx, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, nt core.NewTransaction) (core.Transaction, error) {
	if _, err := r.GetResident(ctx, nt.ResidentID); err != nil {
		return core.Transaction{}, err
	}
	created := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (resident_id, transaction_date, transaction_type, amount, description, payee, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nt.ResidentID, encodeTime(nt.Date), string(nt.Type), nt.Amount, nt.Description, nt.Payee, nt.Reason, encodeTime(created))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("read transaction id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", id,
		"resident_id", nt.ResidentID,
		"type", nt.Type,
		"amount", nt.Amount)

	return r.GetTransaction(ctx, id)
}

// RetypeTransaction is a compare-and-set on transaction_type.
func (r *SQLiteRepository) RetypeTransaction(ctx context.Context, id int64, from, to core.TransactionType, reason string) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions
		 SET transaction_type = ?, reason = CASE WHEN ? <> '' THEN ? ELSE reason END
		 WHERE id = ? AND transaction_type = ?`,
		string(to), reason, reason, id, string(from))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("retype transaction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("retype transaction %d: %w", id, err)
	}

	current, err := r.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if n == 1 {
		return current, nil
	}
	if current.Type == to {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrAlreadyCorrected)
	}
	return core.Transaction{}, fmt.Errorf("transaction %d is %s, expected %s: %w", id, current.Type, from, core.ErrConcurrentUpdate)
}

func (r *SQLiteRepository) HasTransactionWithDescription(ctx context.Context, residentID int64, description string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE resident_id = ? AND description = ?)`,
		residentID, description).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transaction description: %w", err)
	}
	return exists == 1, nil
}

const residentColumns = `id, facility_id, unit_id, name, start_date, end_date`

func scanResident(row rowScanner) (core.Resident, error) {
	var (
		res        core.Resident
		start, end sql.NullString
	)
	if err := row.Scan(&res.ID, &res.FacilityID, &res.UnitID, &res.Name, &start, &end); err != nil {
		return core.Resident{}, err
	}
	var err error
	if res.StartDate, err = decodeNullTime(start); err != nil {
		return core.Resident{}, err
	}
	if res.EndDate, err = decodeNullTime(end); err != nil {
		return core.Resident{}, err
	}
	return res, nil
}

func (r *SQLiteRepository) GetResident(ctx context.Context, id int64) (core.Resident, error) {
	res, err := scanResident(r.db.QueryRowContext(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE id = ? AND is_active = 1`, id))
	if err != nil {
		return core.Resident{}, notFound("resident", id, err)
	}
	return res, nil
}

func (r *SQLiteRepository) ListResidents(ctx context.Context, f core.ResidentFilter) ([]core.Resident, error) {
	var (
		where = []string{"is_active = 1"}
		args  []any
	)
	if f.FacilityID != 0 {
		where = append(where, "facility_id = ?")
		args = append(args, f.FacilityID)
	}
	if f.UnitID != 0 {
		where = append(where, "unit_id = ?")
		args = append(args, f.UnitID)
	}
	if !f.IncludeEnded {
		where = append(where, "end_date IS NULL")
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE `+strings.Join(where, " AND ")+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	defer rows.Close()

	var out []core.Resident
	for rows.Next() {
		res, err := scanResident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resident: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// EndResident records a move-out date.
func (r *SQLiteRepository) EndResident(ctx context.Context, id int64, end time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE residents SET end_date = ? WHERE id = ?`, encodeTime(end), id)
	if err != nil {
		return fmt.Errorf("end resident %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("resident %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetFacility(ctx context.Context, id int64) (core.Facility, error) {
	var f core.Facility
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, sort_order FROM facilities WHERE id = ? AND is_active = 1`, id).
		Scan(&f.ID, &f.Name, &f.SortOrder)
	if err != nil {
		return core.Facility{}, notFound("facility", id, err)
	}
	return f, nil
}

func (r *SQLiteRepository) ListFacilities(ctx context.Context) ([]core.Facility, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, sort_order FROM facilities WHERE is_active = 1 ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	var out []core.Facility
	for rows.Next() {
		var f core.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.SortOrder); err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListUnits(ctx context.Context, facilityID int64) ([]core.Unit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, facility_id, name FROM units WHERE facility_id = ? AND is_active = 1 ORDER BY name, id`, facilityID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []core.Unit
	for rows.Next() {
		var u core.Unit
		if err := rows.Scan(&u.ID, &u.FacilityID, &u.Name); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) EnsureFacility(ctx context.Context, name string) (core.Facility, bool, error) {
	f := core.Facility{Name: name}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, sort_order FROM facilities WHERE name = ? AND is_active = 1 ORDER BY id LIMIT 1`, name).
		Scan(&f.ID, &f.SortOrder)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Facility{}, false, fmt.Errorf("find facility %q: %w", name, err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO facilities (name, sort_order) VALUES (?, (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM facilities))`, name)
	if err != nil {
		return core.Facility{}, false, fmt.Errorf("create facility %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Facility{}, false, fmt.Errorf("read facility id: %w", err)
	}
	f, err = r.GetFacility(ctx, id)
	return f, err == nil, err
}

func (r *SQLiteRepository) EnsureUnit(ctx context.Context, facilityID int64, name string) (core.Unit, bool, error) {
	u := core.Unit{FacilityID: facilityID, Name: name}
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM units WHERE facility_id = ? AND name = ? AND is_active = 1 ORDER BY id LIMIT 1`, facilityID, name).
		Scan(&u.ID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Unit{}, false, fmt.Errorf("find unit %q: %w", name, err)
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO units (facility_id, name) VALUES (?, ?)`, facilityID, name)
	if err != nil {
		return core.Unit{}, false, fmt.Errorf("create unit %q: %w", name, err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return core.Unit{}, false, fmt.Errorf("read unit id: %w", err)
	}
	return u, true, nil
}

func (r *SQLiteRepository) EnsureResident(ctx context.Context, facilityID, unitID int64, name string) (core.Resident, bool, error) {
	res, err := scanResident(r.db.QueryRowContext(ctx,
		`SELECT `+residentColumns+` FROM residents
		 WHERE facility_id = ? AND unit_id = ? AND name = ? AND is_active = 1 AND end_date IS NULL
		 ORDER BY id LIMIT 1`, facilityID, unitID, name))
	if err == nil {
		return res, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Resident{}, false, fmt.Errorf("find resident %q: %w", name, err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO residents (facility_id, unit_id, name, start_date) VALUES (?, ?, ?, ?)`,
		facilityID, unitID, name, encodeTime(r.now()))
	if err != nil {
		return core.Resident{}, false, fmt.Errorf("create resident %q: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return core.Resident{}, false, fmt.Errorf("read resident id: %w", err)
	}
	res, err = r.GetResident(ctx, id)
	return res, err == nil, err
}

func (r *SQLiteRepository) GetCheckpoint(ctx context.Context, residentID int64, year, month int) (core.Checkpoint, bool, error) {
	cp := core.Checkpoint{ResidentID: residentID, Year: year, Month: month}
	var computed string
	err := r.db.QueryRowContext(ctx,
		`SELECT balance, computed_at FROM balance_checkpoints WHERE resident_id = ? AND year = ? AND month = ?`,
		residentID, year, month).Scan(&cp.Balance, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Checkpoint{}, false, nil
	}
	if err != nil {
		return core.Checkpoint{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	if cp.ComputedAt, err = decodeTime(computed); err != nil {
		return core.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (r *SQLiteRepository) SaveCheckpoint(ctx context.Context, cp core.Checkpoint) error {
	computed := cp.ComputedAt
	if computed.IsZero() {
		computed = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO balance_checkpoints (resident_id, year, month, balance, computed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (resident_id, year, month) DO UPDATE SET balance = excluded.balance, computed_at = excluded.computed_at`,
		cp.ResidentID, cp.Year, cp.Month, cp.Balance, encodeTime(computed))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCheckpointsFrom(ctx context.Context, residentID int64, year, month int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM balance_checkpoints
		 WHERE resident_id = ? AND (year > ? OR (year = ? AND month >= ?))`,
		residentID, year, year, month)
	if err != nil {
		return 0, fmt.Errorf("delete checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete checkpoints: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Checkpoints invalidated",
			"resident_id", residentID,
			"from", fmt.Sprintf("%04d-%02d", year, month),
			"count", n)
	}
	return n, nil
}
