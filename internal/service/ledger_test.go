package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
	"github.com/punchamoorthee/webledger/internal/export"
	"github.com/punchamoorthee/webledger/internal/logger"
	"github.com/punchamoorthee/webledger/internal/service"
	"github.com/punchamoorthee/webledger/internal/store"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []domain.Record
}

func (n *recordingNotifier) RecordCreated(r domain.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, r)
}

// tickingClock advances one millisecond per call so createdAt is strictly increasing.
func tickingClock() func() time.Time {
	var n int64
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Millisecond)
	}
}

func newTestLedger(t *testing.T, opts ...service.Option) (*service.Ledger, store.Repository) {
	t.Helper()
	repo, err := store.NewFileStore(filepath.Join(t.TempDir(), "records.json"), logger.Nop())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	opts = append([]service.Option{service.WithClock(tickingClock())}, opts...)
	return service.NewLedger(repo, export.New(true), logger.Nop(), opts...), repo
}

func movement(date, concept string, amount int64, kind domain.Kind) domain.NewRecord {
	return domain.NewRecord{Date: date, Concept: concept, Category: "comida", Amount: amount, Kind: kind}
}

func TestAddIdempotency(t *testing.T) {
	notifier := &recordingNotifier{}
	l, _ := newTestLedger(t, service.WithNotifier(notifier))
	ctx := context.Background()

	first, created, err := l.Add(ctx, movement("2025-01-10", "Café ", 1500, domain.KindExpense), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first call")
	}
	if first.Source != domain.SourceAPI {
		t.Fatalf("expected default source %q, got %q", domain.SourceAPI, first.Source)
	}

	second, created, err := l.Add(ctx, movement("2025-01-10", "café", 1500, "EXPENSE"), true)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if created {
		t.Fatal("expected created=false on duplicate call")
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected the original record back, got %+v", second)
	}

	items, _ := l.List(ctx, "2025-01")
	if len(items) != 1 {
		t.Fatalf("expected one stored record, got %d", len(items))
	}
	if len(notifier.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.created))
	}
}

func TestAddWithoutEnforcementInsertsDuplicates(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	in := movement("2025-01-10", "pan", 900, domain.KindExpense)

	a, _, _ := l.Add(ctx, in, false)
	b, created, err := l.Add(ctx, in, false)
	if err != nil || !created {
		t.Fatalf("expected second insert, got created=%v err=%v", created, err)
	}
	if a.ID == b.ID || a.IdempotencyKey != b.IdempotencyKey {
		t.Fatal("expected distinct ids sharing one key")
	}
}

func TestAddIgnoresSoftDeletedHolder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	in := movement("2025-01-10", "pan", 900, domain.KindExpense)

	a, _, _ := l.Add(ctx, in, true)
	if err := l.Delete(ctx, a.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	b, created, err := l.Add(ctx, in, true)
	if err != nil || !created || b.ID == a.ID {
		t.Fatalf("expected a fresh record, got created=%v err=%v", created, err)
	}
}

func TestAddValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, err := l.Add(context.Background(), movement("2025-13-01", "x", 1, domain.KindExpense), true)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentAddCreatesOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	in := movement("2025-01-10", "almuerzo", 8000, domain.KindExpense)

	var wg sync.WaitGroup
	var createdCount int64
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, created, err := l.Add(ctx, in, true)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if created {
				atomic.AddInt64(&createdCount, 1)
			}
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(ids)

	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("expected every caller to see %s, got %s", first, id)
		}
	}
}

func TestListOrdering(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	l.Add(ctx, movement("2025-01-20", "c", 3, domain.KindExpense), true)
	l.Add(ctx, movement("2025-01-05", "a", 1, domain.KindExpense), true)
	l.Add(ctx, movement("2025-01-20", "d", 4, domain.KindExpense), true)
	l.Add(ctx, movement("2025-02-01", "e", 5, domain.KindExpense), true)

	items, err := l.List(ctx, "2025-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "c", "d"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, w := range want {
		if items[i].Concept != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, items[i].Concept)
		}
	}

	all, _ := l.List(ctx, "")
	if len(all) != 4 {
		t.Fatalf("expected 4 items without month filter, got %d", len(all))
	}

	if _, err := l.List(ctx, "2025-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for bad month, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	l.Add(ctx, movement("2025-03-01", "sueldo", 1000000, domain.KindIncome), true)
	l.Add(ctx, movement("2025-03-02", "arriendo", 450000, domain.KindExpense), true)
	l.Add(ctx, movement("2025-03-03", "super", 80000, domain.KindExpense), true)
	gone, _, _ := l.Add(ctx, movement("2025-03-04", "error", 999, domain.KindExpense), true)
	l.Add(ctx, movement("2025-04-01", "otro mes", 5, domain.KindExpense), true)
	l.Delete(ctx, gone.ID, false)

	s, err := l.Summary(ctx, "2025-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Summary{Month: "2025-03", Income: 1000000, Expense: 530000, Balance: 470000, Count: 3}
	if s != want {
		t.Fatalf("expected %+v, got %+v", want, s)
	}
}

func TestSoftDeleteRestoreRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	rec, _, _ := l.Add(ctx, movement("2025-01-10", "pan", 900, domain.KindExpense), true)

	if err := l.Delete(ctx, rec.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deleted, _ := l.Get(ctx, rec.ID)
	if !deleted.IsDeleted || deleted.DeletedAt == nil {
		t.Fatalf("expected soft-deleted record, got %+v", deleted)
	}

	// A second soft delete keeps the first timestamp.
	if err := l.Delete(ctx, rec.ID, false); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	again, _ := l.Get(ctx, rec.ID)
	if !again.DeletedAt.Equal(*deleted.DeletedAt) {
		t.Fatal("deletedAt changed on repeated soft delete")
	}

	if err := l.Restore(ctx, rec.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, _ := l.Get(ctx, rec.ID)
	if restored.IsDeleted || restored.DeletedAt != nil {
		t.Fatalf("expected live record, got %+v", restored)
	}
	if restored.IdempotencyKey != rec.IdempotencyKey || restored.Amount != rec.Amount {
		t.Fatal("restore must not alter value fields")
	}
}

func TestDeleteAndRestoreMissing(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	if err := l.Delete(ctx, "nope", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := l.Delete(ctx, "nope", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on hard delete, got %v", err)
	}
	if err := l.Restore(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on restore, got %v", err)
	}
}

func TestHardDelete(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	rec, _, _ := l.Add(ctx, movement("2025-01-10", "pan", 900, domain.KindExpense), true)
	if err := l.Delete(ctx, rec.ID, true); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if _, err := l.Get(ctx, rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
}

func TestRestoreConflict(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	in := movement("2025-01-10", "pan", 900, domain.KindExpense)

	old, _, _ := l.Add(ctx, in, true)
	l.Delete(ctx, old.ID, false)
	l.Add(ctx, in, true)

	if err := l.Restore(ctx, old.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	rec, _, _ := l.Add(ctx, movement("2025-01-10", "pan", 900, domain.KindExpense), true)
	other, _, _ := l.Add(ctx, movement("2025-01-11", "leche", 1100, domain.KindExpense), true)

	updated, err := l.Update(ctx, rec.ID, movement("2025-01-10", "pan integral", 1200, domain.KindExpense))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != rec.ID || !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatal("id and createdAt must not change")
	}
	if updated.IdempotencyKey == rec.IdempotencyKey {
		t.Fatal("expected key to be recomputed")
	}

	_, err = l.Update(ctx, rec.ID, movement(other.Date, other.Concept, other.Amount, other.Kind))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict when taking another record's key, got %v", err)
	}
	if _, err := l.Update(ctx, "nope", movement("2025-01-10", "x", 1, domain.KindExpense)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDedupeMonth(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	in := movement("2025-01-10", "pan", 900, domain.KindExpense)

	first, _, _ := l.Add(ctx, in, false)
	l.Add(ctx, in, false)
	l.Add(ctx, in, false)
	l.Add(ctx, movement("2025-01-11", "leche", 1100, domain.KindExpense), false)
	l.Add(ctx, movement("2025-02-10", "pan", 900, domain.KindExpense), false)
	l.Add(ctx, movement("2025-02-10", "pan", 900, domain.KindExpense), false)

	removed, err := l.DedupeMonth(ctx, "2025-01")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	items, _ := l.List(ctx, "2025-01")
	if len(items) != 2 || items[0].ID != first.ID {
		t.Fatalf("expected the earliest record kept, got %+v", items)
	}

	removed, _ = l.DedupeMonth(ctx, "2025-01")
	if removed != 0 {
		t.Fatalf("expected second dedupe to remove nothing, got %d", removed)
	}

	feb, _ := l.List(ctx, "2025-02")
	if len(feb) != 2 {
		t.Fatalf("other months must be untouched, got %d", len(feb))
	}
}

func TestDedupeMonthKeepsLiveRecord(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	in := movement("2025-01-10", "pan", 900, domain.KindExpense)

	old, _, _ := l.Add(ctx, in, true)
	if err := l.Delete(ctx, old.ID, false); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	live, created, err := l.Add(ctx, in, true)
	if err != nil || !created {
		t.Fatalf("expected re-add to create, got created=%v err=%v", created, err)
	}

	removed, err := l.DedupeMonth(ctx, "2025-01")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the soft-deleted copy removed, got %d", removed)
	}
	if got, err := l.Get(ctx, live.ID); err != nil || got.IsDeleted {
		t.Fatalf("live record must survive dedupe, got %+v err=%v", got, err)
	}
	if _, err := l.Get(ctx, old.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected soft-deleted copy gone, got %v", err)
	}
	summary, _ := l.Summary(ctx, "2025-01")
	if summary.Expense != 900 || summary.Count != 1 {
		t.Fatalf("summary changed by dedupe: %+v", summary)
	}
}

func TestClearMonth(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a, _, _ := l.Add(ctx, movement("2025-01-10", "pan", 900, domain.KindExpense), true)
	l.Add(ctx, movement("2025-01-11", "leche", 1100, domain.KindExpense), true)
	l.Add(ctx, movement("2025-02-01", "arriendo", 1, domain.KindExpense), true)
	l.Delete(ctx, a.ID, false)

	removed, err := l.ClearMonth(ctx, "2025-01")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed including the soft-deleted one, got %d", removed)
	}
	all, _ := l.ListAll(ctx, "", true)
	if len(all) != 1 || all[0].Date != "2025-02-01" {
		t.Fatalf("expected only february left, got %+v", all)
	}
}

func TestExport(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	l.Add(ctx, movement("2025-01-10", "pan", 900, domain.KindExpense), true)

	out, err := l.Export(ctx, "2025-01", "csv")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.FileName != "finance-2025-01.csv" {
		t.Fatalf("unexpected file name %s", out.FileName)
	}
	if _, err := l.Export(ctx, "2025-01", "pdf"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown format, got %v", err)
	}
	if _, err := l.Export(ctx, "", "csv"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing month, got %v", err)
	}
}
