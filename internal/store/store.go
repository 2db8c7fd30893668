package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/config"
	"github.com/punchamoorthee/webledger/internal/domain"
)

// Filter narrows a Find. Zero values match everything except deleted rows.
type Filter struct {
	ID             string
	Month          string
	IdempotencyKey string
	IncludeDeleted bool
}

func (f Filter) match(r *domain.Record) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.Month != "" && !r.InMonth(f.Month) {
		return false
	}
	if f.IdempotencyKey != "" && r.IdempotencyKey != f.IdempotencyKey {
		return false
	}
	if !f.IncludeDeleted && r.IsDeleted {
		return false
	}
	return true
}

// Repository is the persistence contract behind the ledger. Implementations
// do no locking of their own beyond what keeps a single call consistent;
// callers serialize read-modify-write cycles.
type Repository interface {
	Find(ctx context.Context, f Filter) ([]domain.Record, error)
	Insert(ctx context.Context, rec domain.Record) error
	Update(ctx context.Context, rec domain.Record) error
	Remove(ctx context.Context, ids []string) (int, error)
	Close() error
}

// Open returns the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Repository, error) {
	switch cfg.Driver {
	case config.DriverFile:
		return NewFileStore(cfg.Path, logger)
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.Path, cfg.LogMode)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// fillLegacy completes records written before ids, timestamps and keys existed.
// It reports whether anything changed.
func fillLegacy(r *domain.Record, now time.Time) bool {
	changed := false
	if r.ID == "" {
		r.ID = uuid.NewString()
		changed = true
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
		changed = true
	}
	if r.IdempotencyKey == "" {
		r.IdempotencyKey = domain.IdempotencyKey(r.Date, r.Concept, r.Category, r.Amount, string(r.Kind))
		changed = true
	}
	return changed
}
