package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"azukari/internal/amqp"
	"azukari/internal/cache"
	"azukari/internal/core"
	"azukari/internal/ledger"
	"azukari/internal/memory"
)

var jst = time.FixedZone("JST", 9*3600)

// now is inside January 2024, so December 2023 is closed.
var testNow = time.Date(2024, 1, 18, 10, 0, 0, 0, jst)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 12, 0, 0, 0, jst)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *fakePublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) kinds() []amqp.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []amqp.EventKind
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	svc   *LedgerService
	store *memory.Store
	pub   *fakePublisher
	ctx   context.Context
}

func newFixture(t *testing.T, verify bool) *fixture {
	t.Helper()
	store := memory.New()
	pub := &fakePublisher{}
	svc := NewLedgerService(store, Options{
		Publisher:         pub,
		Location:          jst,
		Mode:              ledger.ModeCheckpoint,
		VerifyCheckpoints: verify,
		Cache:             cache.NewLRUCache[int64](100, time.Hour),
		Concurrency:       2,
		Now:               func() time.Time { return testNow },
	})
	return &fixture{svc: svc, store: store, pub: pub, ctx: context.Background()}
}

func (f *fixture) resident(t *testing.T, facility, unit, name string) core.Resident {
	t.Helper()
	fac, _, err := f.store.EnsureFacility(f.ctx, facility)
	if err != nil {
		t.Fatal(err)
	}
	u, _, err := f.store.EnsureUnit(f.ctx, fac.ID, unit)
	if err != nil {
		t.Fatal(err)
	}
	r, _, err := f.store.EnsureResident(f.ctx, fac.ID, u.ID, name)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// seed writes history directly to the store, bypassing the entry policy.
func (f *fixture) seed(t *testing.T, residentID int64, date time.Time, typ core.TransactionType, amount int64) core.Transaction {
	t.Helper()
	tx, err := f.store.CreateTransaction(f.ctx, core.NewTransaction{ResidentID: residentID, Date: date, Type: typ, Amount: amount})
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func (f *fixture) balance(t *testing.T, residentID int64, y, m int) int64 {
	t.Helper()
	b, err := f.svc.BalanceUpToMonth(f.ctx, residentID, y, m)
	if err != nil {
		t.Fatalf("BalanceUpToMonth(%d, %d-%02d): %v", residentID, y, m, err)
	}
	return b
}

func TestCreateTransaction(t *testing.T) {
	f := newFixture(t, true)
	r := f.resident(t, "ひまわり荘", "1F", "山田太郎")
	f.seed(t, r.ID, day(2023, 12, 5), core.TypeIn, 10000)

	if got := f.balance(t, r.ID, 2024, 1); got != 10000 {
		t.Fatalf("opening balance = %d", got)
	}

	tx, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{
		ResidentID:  r.ID,
		Date:        day(2024, 1, 10),
		Type:        core.TypeOut,
		Amount:      2500,
		Description: "  散髪代 ",
		Payee:       "理容室",
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if tx.Description != "散髪代" {
		t.Errorf("description not trimmed: %q", tx.Description)
	}
	// cached January balance must have been invalidated
	if got := f.balance(t, r.ID, 2024, 1); got != 7500 {
		t.Fatalf("balance after withdrawal = %d, want 7500", got)
	}
	if got := f.pub.kinds(); len(got) != 1 || got[0] != amqp.EventTransactionCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestCreateTransactionRejections(t *testing.T) {
	f := newFixture(t, false)
	r := f.resident(t, "ひまわり荘", "1F", "山田太郎")
	moved := f.resident(t, "ひまわり荘", "1F", "佐藤次郎")
	if err := f.store.EndResident(f.ctx, moved.ID, day(2024, 1, 5)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		nt       core.NewTransaction
		notFound bool
	}{
		{"closed month", core.NewTransaction{ResidentID: r.ID, Date: day(2023, 12, 31), Type: core.TypeIn, Amount: 100}, false},
		{"zero amount", core.NewTransaction{ResidentID: r.ID, Date: day(2024, 1, 2), Type: core.TypeIn, Amount: 0}, false},
		{"unknown resident", core.NewTransaction{ResidentID: 999, Date: day(2024, 1, 2), Type: core.TypeIn, Amount: 100}, true},
		{"after move-out", core.NewTransaction{ResidentID: moved.ID, Date: day(2024, 1, 6), Type: core.TypeOut, Amount: 100}, false},
		{"midnight after move-out", core.NewTransaction{ResidentID: moved.ID, Date: time.Date(2024, 1, 6, 0, 0, 0, 0, jst), Type: core.TypeOut, Amount: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTransaction(f.ctx, tt.nt)
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if errors.Is(err, core.ErrNotFound) != tt.notFound {
				t.Fatalf("ErrNotFound mismatch: %v", err)
			}
		})
	}

	// the move-out day itself is still open
	if _, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{ResidentID: moved.ID, Date: day(2024, 1, 5), Type: core.TypeOut, Amount: 1}); err != nil {
		t.Fatalf("withdrawal on move-out day: %v", err)
	}
	if _, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{ResidentID: moved.ID, Date: time.Date(2024, 1, 6, 0, 0, 0, 0, jst).Add(-time.Microsecond), Type: core.TypeIn, Amount: 1}); err != nil {
		t.Fatalf("deposit in the last instant of move-out day: %v", err)
	}
	if got := f.balance(t, moved.ID, 2024, 1); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	if len(f.pub.kinds()) != 2 {
		t.Fatalf("only accepted entries should be published, got %v", f.pub.kinds())
	}
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t, false)
	f.pub.err = errors.New("broker down")
	r := f.resident(t, "A", "1", "B")

	if _, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{ResidentID: r.ID, Date: day(2024, 1, 3), Type: core.TypeIn, Amount: 100}); err != nil {
		t.Fatalf("create should succeed when publishing fails: %v", err)
	}
	if got := f.balance(t, r.ID, 2024, 1); got != 100 {
		t.Fatalf("balance = %d", got)
	}
}

func TestMarkAsCorrected(t *testing.T) {
	f := newFixture(t, true)
	r := f.resident(t, "ひまわり荘", "2F", "佐藤花子")
	f.seed(t, r.ID, day(2023, 12, 1), core.TypeIn, 5000)
	dup, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{ResidentID: r.ID, Date: day(2024, 1, 8), Type: core.TypeOut, Amount: 1200})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.balance(t, r.ID, 2024, 1); got != 3800 {
		t.Fatalf("balance before correction = %d", got)
	}

	corrected, err := f.svc.MarkAsCorrected(f.ctx, dup.ID, "二重入力")
	if err != nil {
		t.Fatalf("MarkAsCorrected: %v", err)
	}
	if corrected.Type != core.TypeCorrectOut || corrected.Reason != "二重入力" {
		t.Fatalf("unexpected corrected tx: %+v", corrected)
	}
	if got := f.balance(t, r.ID, 2024, 1); got != 5000 {
		t.Fatalf("balance after correction = %d, want 5000", got)
	}

	_, err = f.svc.MarkAsCorrected(f.ctx, dup.ID, "")
	if !errors.Is(err, core.ErrAlreadyCorrected) || !errors.Is(err, core.ErrValidation) {
		t.Fatalf("second correction: expected already-corrected validation error, got %v", err)
	}

	want := []amqp.EventKind{amqp.EventTransactionCreated, amqp.EventTransactionCorrected}
	got := f.pub.kinds()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestMarkAsCorrectedRejections(t *testing.T) {
	f := newFixture(t, false)
	r := f.resident(t, "A", "1", "B")
	closed := f.seed(t, r.ID, day(2023, 12, 1), core.TypeIn, 5000)

	if _, err := f.svc.MarkAsCorrected(f.ctx, closed.ID, ""); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("closed month correction should be rejected, got %v", err)
	}
	if _, err := f.svc.MarkAsCorrected(f.ctx, 12345, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing transaction: got %v", err)
	}
	long := make([]rune, core.MaxReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := f.svc.MarkAsCorrected(f.ctx, closed.ID, string(long)); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("long reason: got %v", err)
	}
	if tx, _ := f.store.GetTransaction(f.ctx, closed.ID); tx.Type != core.TypeIn {
		t.Fatalf("rejected correction changed the stored type to %s", tx.Type)
	}
}

func TestPastCorrectionInvalidatesCheckpoints(t *testing.T) {
	f := newFixture(t, true)
	r := f.resident(t, "A", "1", "B")
	f.seed(t, r.ID, day(2023, 11, 10), core.TypeIn, 8000)
	f.seed(t, r.ID, day(2023, 12, 10), core.TypeOut, 1000)
	for _, cp := range []core.Checkpoint{
		{ResidentID: r.ID, Year: 2023, Month: 11, Balance: 8000},
		{ResidentID: r.ID, Year: 2023, Month: 12, Balance: 7000},
	} {
		if err := f.store.SaveCheckpoint(f.ctx, cp); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.balance(t, r.ID, 2024, 1); got != 7000 {
		t.Fatalf("balance = %d", got)
	}

	_, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{
		ResidentID: r.ID,
		Date:       day(2023, 12, 20),
		Type:       core.TypePastCorrectOut,
		Amount:     500,
		Reason:     "領収書の計上漏れ",
	})
	if err != nil {
		t.Fatalf("past correction: %v", err)
	}
	if _, ok, _ := f.store.GetCheckpoint(f.ctx, r.ID, 2023, 12); ok {
		t.Fatalf("December checkpoint should have been invalidated")
	}
	if _, ok, _ := f.store.GetCheckpoint(f.ctx, r.ID, 2023, 11); !ok {
		t.Fatalf("November checkpoint is unaffected and should survive")
	}
	if got := f.balance(t, r.ID, 2024, 1); got != 6500 {
		t.Fatalf("balance after past correction = %d, want 6500", got)
	}
	if got := f.balance(t, r.ID, 2023, 12); got != 6500 {
		t.Fatalf("December balance after past correction = %d, want 6500", got)
	}
}

func TestPastCorrectionJustBeforeOpenMonth(t *testing.T) {
	f := newFixture(t, true)
	r := f.resident(t, "ひまわり荘", "1F", "山田太郎")

	edge := f.svc.OpenPeriod().Start.Add(-500 * time.Microsecond)
	if _, err := f.svc.CreateTransaction(f.ctx, core.NewTransaction{
		ResidentID: r.ID,
		Date:       edge,
		Type:       core.TypePastCorrectIn,
		Amount:     1000,
		Reason:     "未記帳の入金",
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if got := f.balance(t, r.ID, 2023, 12); got != 1000 {
		t.Errorf("2023-12 balance = %d, want 1000", got)
	}
	if got := f.balance(t, r.ID, 2024, 1); got != 1000 {
		t.Errorf("2024-01 balance = %d, want 1000", got)
	}
	st, err := f.svc.ResidentMonth(f.ctx, r.ID, 2023, 12)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Rows) != 1 {
		t.Fatalf("December rows = %d, want 1", len(st.Rows))
	}
}

func TestResidentMonthUsesCheckpoint(t *testing.T) {
	f := newFixture(t, false)
	r := f.resident(t, "A", "1", "B")
	f.seed(t, r.ID, day(2023, 12, 1), core.TypeIn, 3000)
	f.seed(t, r.ID, day(2024, 1, 4), core.TypeOut, 1000)

	st, err := f.svc.ResidentMonth(f.ctx, r.ID, 2024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.PriorBalance != 3000 || st.Balance != 2000 || len(st.Rows) != 1 || st.Rows[0].ResidentName != "B" {
		t.Fatalf("replayed statement = %+v", st)
	}

	// A stored checkpoint is trusted without verification.
	if err := f.store.SaveCheckpoint(f.ctx, core.Checkpoint{ResidentID: r.ID, Year: 2023, Month: 12, Balance: 9999}); err != nil {
		t.Fatal(err)
	}
	st, err = f.svc.ResidentMonth(f.ctx, r.ID, 2024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.PriorBalance != 9999 || st.Balance != 8999 {
		t.Fatalf("resumed statement = prior %d, balance %d", st.PriorBalance, st.Balance)
	}
}

func TestVerificationDetectsStaleCheckpoint(t *testing.T) {
	f := newFixture(t, true)
	r := f.resident(t, "A", "1", "B")
	f.seed(t, r.ID, day(2023, 12, 1), core.TypeIn, 3000)
	if err := f.store.SaveCheckpoint(f.ctx, core.Checkpoint{ResidentID: r.ID, Year: 2023, Month: 12, Balance: 1}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.ResidentMonth(f.ctx, r.ID, 2024, 1)
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestInvalidPeriod(t *testing.T) {
	f := newFixture(t, false)
	r := f.resident(t, "A", "1", "B")
	for _, month := range []int{0, 13} {
		if _, err := f.svc.BalanceUpToMonth(f.ctx, r.ID, 2024, month); !errors.Is(err, core.ErrInvalidPeriod) {
			t.Errorf("month %d: expected ErrInvalidPeriod, got %v", month, err)
		}
		if _, err := f.svc.Dashboard(f.ctx, 2024, month); !errors.Is(err, core.ErrInvalidPeriod) {
			t.Errorf("dashboard month %d: expected ErrInvalidPeriod, got %v", month, err)
		}
	}
}

func TestFacilityViews(t *testing.T) {
	f := newFixture(t, true)
	a := f.resident(t, "ひまわり荘", "1F", "青木")
	b := f.resident(t, "ひまわり荘", "2F", "井上")
	c := f.resident(t, "あおば園", "A", "上田")
	ended := f.resident(t, "ひまわり荘", "1F", "遠藤")

	f.seed(t, a.ID, day(2023, 12, 1), core.TypeIn, 1000)
	f.seed(t, a.ID, day(2024, 1, 9), core.TypeOut, 300)
	f.seed(t, b.ID, day(2024, 1, 9), core.TypeIn, 2000)
	f.seed(t, b.ID, day(2024, 1, 2), core.TypeIn, 50)
	f.seed(t, c.ID, day(2024, 1, 3), core.TypeIn, 400)
	f.seed(t, ended.ID, day(2023, 12, 3), core.TypeIn, 7000)
	if err := f.store.EndResident(f.ctx, ended.ID, day(2023, 12, 31)); err != nil {
		t.Fatal(err)
	}

	rows, err := f.svc.FacilityMonth(f.ctx, a.FacilityID, 2024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ResidentName != "井上" || rows[0].Balance != 50 {
		t.Errorf("first row = %+v", rows[0])
	}
	// same timestamp: ordered by id, each row keeps its own resident's balance
	if rows[1].ResidentName != "青木" || rows[1].Balance != 700 || rows[2].ResidentName != "井上" || rows[2].Balance != 2050 {
		t.Errorf("rows = %+v", rows)
	}

	summary, err := f.svc.FacilitySummary(f.ctx, a.FacilityID, 2024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 2750 || len(summary.Units) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Units[0].Unit.Name != "1F" || summary.Units[0].Total != 700 || len(summary.Units[0].Residents) != 1 {
		t.Errorf("1F summary = %+v", summary.Units[0])
	}

	dash, err := f.svc.Dashboard(f.ctx, 2024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if dash.Total != 3150 || len(dash.Facilities) != 2 {
		t.Fatalf("dashboard = %+v", dash)
	}
	if dash.Facilities[0].Facility.Name != "ひまわり荘" || dash.Facilities[0].Total != 2750 || dash.Facilities[0].Residents != 2 {
		t.Errorf("first facility = %+v", dash.Facilities[0])
	}
}

func TestCashVerification(t *testing.T) {
	f := newFixture(t, false)
	r := f.resident(t, "ひまわり荘", "1F", "青木")
	f.seed(t, r.ID, day(2024, 1, 2), core.TypeIn, 12345)

	report, err := f.svc.CashVerification(f.ctx, r.FacilityID, 2024, 1, []DenominationCount{
		{Value: 10000, Count: 1},
		{Value: 1000, Count: 2},
		{Value: 100, Count: 3},
		{Value: 10, Count: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.LedgerTotal != 12345 || report.Counted != 12340 || report.Difference != 5 {
		t.Fatalf("report = %+v", report)
	}

	if _, err := f.svc.CashVerification(f.ctx, r.FacilityID, 2024, 1, []DenominationCount{{Value: 3000, Count: 1}}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("3000 yen note should be rejected, got %v", err)
	}
	if _, err := f.svc.CashVerification(f.ctx, r.FacilityID, 2024, 1, []DenominationCount{{Value: 100, Count: -1}}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("negative count should be rejected, got %v", err)
	}
}
