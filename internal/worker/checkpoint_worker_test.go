package worker

import (
	"context"
	"testing"
	"time"

	"azukari/internal/amqp"
	"azukari/internal/core"
	"azukari/internal/memory"
)

var jst = time.FixedZone("JST", 9*3600)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 9, 0, 0, 0, jst)
}

func setup(t *testing.T, now time.Time) (*CheckpointWorker, *memory.Store, core.Resident) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f, _, _ := store.EnsureFacility(ctx, "ひまわり荘")
	u, _, _ := store.EnsureUnit(ctx, f.ID, "1F")
	r, _, err := store.EnsureResident(ctx, f.ID, u.ID, "山田太郎")
	if err != nil {
		t.Fatal(err)
	}
	w := NewCheckpointWorker(store, jst, 2, nil)
	w.policy.Now = func() time.Time { return now }
	return w, store, r
}

func add(t *testing.T, store *memory.Store, residentID int64, date time.Time, typ core.TransactionType, amount int64) core.Transaction {
	t.Helper()
	tx, err := store.CreateTransaction(context.Background(), core.NewTransaction{ResidentID: residentID, Date: date, Type: typ, Amount: amount, Reason: "r"})
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func checkpoint(t *testing.T, store *memory.Store, residentID int64, y, m int) (int64, bool) {
	t.Helper()
	cp, ok, err := store.GetCheckpoint(context.Background(), residentID, y, m)
	if err != nil {
		t.Fatal(err)
	}
	return cp.Balance, ok
}

func TestCloseMonth(t *testing.T) {
	now := day(2024, 2, 3)
	w, store, r := setup(t, now)
	add(t, store, r.ID, day(2023, 12, 1), core.TypeIn, 10000)
	add(t, store, r.ID, day(2024, 1, 15), core.TypeOut, 2500)
	add(t, store, r.ID, day(2024, 1, 16), core.TypeCorrectOut, 999)
	add(t, store, r.ID, day(2024, 2, 1), core.TypeOut, 100)

	n, err := w.CloseMonth(context.Background(), now)
	if err != nil || n != 1 {
		t.Fatalf("CloseMonth = %d, %v", n, err)
	}
	if b, ok := checkpoint(t, store, r.ID, 2024, 1); !ok || b != 7500 {
		t.Fatalf("January checkpoint = %d, %v", b, ok)
	}

	// Second run keeps the existing checkpoint.
	n, err = w.CloseMonth(context.Background(), now)
	if err != nil || n != 0 {
		t.Fatalf("second CloseMonth = %d, %v", n, err)
	}
}

func TestCloseMonthRepairsStaleCheckpoint(t *testing.T) {
	now := day(2024, 2, 3)
	w, store, r := setup(t, now)
	ctx := context.Background()
	add(t, store, r.ID, day(2024, 1, 10), core.TypeIn, 5000)
	// saved before a past correction landed in January
	if err := store.SaveCheckpoint(ctx, core.Checkpoint{ResidentID: r.ID, Year: 2024, Month: 1, Balance: 5000}); err != nil {
		t.Fatal(err)
	}
	add(t, store, r.ID, day(2024, 1, 20), core.TypePastCorrectOut, 700)

	n, err := w.CloseMonth(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("CloseMonth = %d, %v", n, err)
	}
	if b, ok := checkpoint(t, store, r.ID, 2024, 1); !ok || b != 4300 {
		t.Fatalf("January checkpoint = %d, %v, want 4300", b, ok)
	}
}

func TestCloseMonthSkipsLongGoneResidents(t *testing.T) {
	now := day(2024, 2, 3)
	w, store, r := setup(t, now)
	if err := store.EndResident(context.Background(), r.ID, day(2023, 11, 30)); err != nil {
		t.Fatal(err)
	}
	n, err := w.CloseMonth(context.Background(), now)
	if err != nil || n != 0 {
		t.Fatalf("CloseMonth = %d, %v", n, err)
	}
}

func TestHandleEventRebuildsFromCorrectedMonth(t *testing.T) {
	now := day(2024, 3, 10)
	w, store, r := setup(t, now)
	ctx := context.Background()
	add(t, store, r.ID, day(2023, 12, 1), core.TypeIn, 9000)
	add(t, store, r.ID, day(2024, 2, 1), core.TypeOut, 1000)
	for _, cp := range []core.Checkpoint{
		{ResidentID: r.ID, Year: 2023, Month: 12, Balance: 9000},
		{ResidentID: r.ID, Year: 2024, Month: 1, Balance: 9000},
		{ResidentID: r.ID, Year: 2024, Month: 2, Balance: 8000},
	} {
		_ = store.SaveCheckpoint(ctx, cp)
	}

	pc := add(t, store, r.ID, day(2024, 1, 20), core.TypePastCorrectIn, 300)
	if err := w.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventTransactionCreated, pc)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	want := map[[2]int]int64{{2023, 12}: 9000, {2024, 1}: 9300, {2024, 2}: 8300}
	for ym, balance := range want {
		got, ok := checkpoint(t, store, r.ID, ym[0], ym[1])
		if !ok || got != balance {
			t.Errorf("checkpoint %d-%02d = %d (%v), want %d", ym[0], ym[1], got, ok, balance)
		}
	}
	if _, ok := checkpoint(t, store, r.ID, 2024, 3); ok {
		t.Errorf("the open month must never get a checkpoint")
	}
}

func TestHandleEventIgnoresOpenMonth(t *testing.T) {
	now := day(2024, 3, 10)
	w, store, r := setup(t, now)
	ctx := context.Background()
	_ = store.SaveCheckpoint(ctx, core.Checkpoint{ResidentID: r.ID, Year: 2024, Month: 2, Balance: 42})

	tx := add(t, store, r.ID, day(2024, 3, 5), core.TypeIn, 100)
	if err := w.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventTransactionCreated, tx)); err != nil {
		t.Fatal(err)
	}
	if b, ok := checkpoint(t, store, r.ID, 2024, 2); !ok || b != 42 {
		t.Fatalf("February checkpoint touched: %d, %v", b, ok)
	}
}
