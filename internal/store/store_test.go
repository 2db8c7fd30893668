package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
	"github.com/punchamoorthee/webledger/internal/logger"
	"github.com/punchamoorthee/webledger/internal/store"
)

type backend struct {
	name string
	open func(t *testing.T) store.Repository
}

func backends() []backend {
	return []backend{
		{"file", func(t *testing.T) store.Repository {
			t.Helper()
			s, err := store.NewFileStore(filepath.Join(t.TempDir(), "finance", "records.json"), logger.Nop())
			if err != nil {
				t.Fatalf("failed to open file store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"sqlite", func(t *testing.T) store.Repository {
			t.Helper()
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "finance.db"), false)
			if err != nil {
				t.Fatalf("failed to open sqlite store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"postgres", func(t *testing.T) store.Repository {
			t.Helper()
			dsn := os.Getenv("DB_SOURCE")
			if dsn == "" {
				t.Skip("DB_SOURCE not set")
			}
			ctx := context.Background()
			s, err := store.NewPostgresStore(ctx, dsn)
			if err != nil {
				t.Fatalf("failed to open postgres store: %v", err)
			}
			if _, err := s.Db.Exec(ctx, "TRUNCATE finance_records"); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func record(id, date, concept string, amount int64) domain.Record {
	return domain.Record{
		ID:             id,
		Date:           date,
		Concept:        concept,
		Category:       "otros",
		Amount:         amount,
		Kind:           domain.KindExpense,
		CreatedAt:      time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		IdempotencyKey: domain.IdempotencyKey(date, concept, "otros", amount, "expense"),
		Source:         domain.SourceAPI,
	}
}

func TestRepositoryContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			items, err := s.Find(ctx, store.Filter{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != 0 {
				t.Fatalf("expected empty store, got %d items", len(items))
			}

			jan := record("a1", "2025-01-05", "pan", 1200)
			feb := record("b1", "2025-02-01", "arriendo", 450000)
			for _, r := range []domain.Record{jan, feb} {
				if err := s.Insert(ctx, r); err != nil {
					t.Fatalf("insert %s: %v", r.ID, err)
				}
			}

			got, err := s.Find(ctx, store.Filter{Month: "2025-01"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 1 || got[0].ID != "a1" {
				t.Fatalf("expected only a1 in 2025-01, got %+v", got)
			}
			if !got[0].CreatedAt.Equal(jan.CreatedAt) {
				t.Fatalf("createdAt changed on round trip: %v", got[0].CreatedAt)
			}

			got, err = s.Find(ctx, store.Filter{IdempotencyKey: feb.IdempotencyKey})
			if err != nil || len(got) != 1 || got[0].ID != "b1" {
				t.Fatalf("lookup by key failed: %v %+v", err, got)
			}

			deletedAt := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
			feb.IsDeleted = true
			feb.DeletedAt = &deletedAt
			if err := s.Update(ctx, feb); err != nil {
				t.Fatalf("update: %v", err)
			}
			got, _ = s.Find(ctx, store.Filter{})
			if len(got) != 1 {
				t.Fatalf("expected deleted row hidden, got %d rows", len(got))
			}
			got, _ = s.Find(ctx, store.Filter{ID: "b1", IncludeDeleted: true})
			if len(got) != 1 || !got[0].IsDeleted || got[0].DeletedAt == nil || !got[0].DeletedAt.Equal(deletedAt) {
				t.Fatalf("expected soft-deleted b1, got %+v", got)
			}

			if err := s.Update(ctx, record("missing", "2025-01-01", "x", 1)); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected not found on update of missing id, got %v", err)
			}

			n, err := s.Remove(ctx, []string{"a1", "b1", "nope"})
			if err != nil {
				t.Fatalf("remove: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected 2 removed, got %d", n)
			}
			got, _ = s.Find(ctx, store.Filter{IncludeDeleted: true})
			if len(got) != 0 {
				t.Fatalf("expected empty store after remove, got %d", len(got))
			}
		})
	}
}

func TestFileStoreDocumentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	s, err := store.NewFileStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Insert(context.Background(), record("a1", "2025-01-05", "pan", 1200)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if len(doc.Items) != 1 || doc.Items[0]["id"] != "a1" {
		t.Fatalf("unexpected document: %s", raw)
	}
	if left, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp")); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestFileStoreFillsLegacyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	legacy := `{"items":[{"date":"2024-12-24","concept":"Regalos","category":"otros","amount":30000,"kind":"expense"}]}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := store.NewFileStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	items, err := s.Find(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	r := items[0]
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("expected id and createdAt filled, got %+v", r)
	}
	want := domain.IdempotencyKey("2024-12-24", "Regalos", "otros", 30000, "expense")
	if r.IdempotencyKey != want {
		t.Fatalf("expected computed key %s, got %s", want, r.IdempotencyKey)
	}

	again, _ := s.Find(context.Background(), store.Filter{})
	if again[0].ID != r.ID {
		t.Fatal("migration should be persisted, id changed between loads")
	}
}

func TestFileStoreRejectsDuplicateID(t *testing.T) {
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "records.json"), logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	ctx := context.Background()
	if err := s.Insert(ctx, record("dup", "2025-01-01", "x", 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, record("dup", "2025-01-02", "y", 2)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFileStoreMapsSpanishLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	legacy := `{"items":[
		{"id":"a1","fecha":"2025-09-01","concepto":"Almuerzo","categoria":"comida","monto_clp":8500,"tipo":"gasto","ts":"2025-09-01 12:00:00","idem_key":"old","nota":"efectivo"},
		{"id":"a2","fecha":"2025-09-02","concepto":"Sueldo","categoria":"trabajo","monto_clp":900000,"tipo":"ingreso","created_at":"2025-09-02T08:30:00.123456Z"}
	]}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := store.NewFileStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	items, err := s.Find(context.Background(), store.Filter{Month: "2025-09"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items in 2025-09, got %d", len(items))
	}
	byID := map[string]domain.Record{}
	for _, r := range items {
		byID[r.ID] = r
	}

	lunch := byID["a1"]
	if lunch.Date != "2025-09-01" || lunch.Concept != "Almuerzo" || lunch.Category != "comida" ||
		lunch.Amount != 8500 || lunch.Kind != domain.KindExpense {
		t.Fatalf("unexpected mapping %+v", lunch)
	}
	if !lunch.CreatedAt.Equal(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected ts as created_at, got %s", lunch.CreatedAt)
	}
	if want := domain.IdempotencyKey("2025-09-01", "Almuerzo", "comida", 8500, "expense"); lunch.IdempotencyKey != want {
		t.Fatalf("expected key recomputed from mapped fields, got %s", lunch.IdempotencyKey)
	}
	if byID["a2"].Kind != domain.KindIncome || byID["a2"].Amount != 900000 {
		t.Fatalf("unexpected mapping %+v", byID["a2"])
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	first := doc.Items[0]
	if first["concept"] != "Almuerzo" || first["amount"] != float64(8500) {
		t.Fatalf("migrated document lost movement data: %s", raw)
	}
	if first["nota"] != "efectivo" {
		t.Fatalf("unknown key dropped on rewrite: %s", raw)
	}
}

func TestFileStoreRefusesInvalidItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	legacy := `{"items":[{"id":"z1","amount":10,"kind":"expense"}]}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := store.NewFileStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.Find(context.Background(), store.Filter{}); !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != legacy {
		t.Fatalf("invalid ledger file was rewritten: %s", raw)
	}
}
