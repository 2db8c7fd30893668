package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/domain"
	"github.com/punchamoorthee/webledger/internal/export"
	"github.com/punchamoorthee/webledger/internal/store"
)

// Notifier receives best-effort events. Implementations must not block.
type Notifier interface {
	RecordCreated(rec domain.Record)
}

type nopNotifier struct{}

func (nopNotifier) RecordCreated(domain.Record) {}

// Ledger is the record store. It owns the repository exclusively and runs
// every read-modify-write cycle under one mutex, so Add's check-then-insert
// cannot interleave with another writer in this process.
type Ledger struct {
	mu       sync.Mutex
	repo     store.Repository
	exporter *export.Exporter
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) {
		if n != nil {
			l.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(repo store.Repository, exporter *export.Exporter, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:     repo,
		exporter: exporter,
		notifier: nopNotifier{},
		logger:   logger.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func sortRecords(rs []domain.Record) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Before(&rs[j]) })
}

// Add creates a record. With enforce set, an existing live record holding the
// same idempotency key is returned unchanged and created is false.
func (l *Ledger) Add(ctx context.Context, in domain.NewRecord, enforce bool) (domain.Record, bool, error) {
	if err := in.Validate(); err != nil {
		return domain.Record{}, false, err
	}
	key := in.Key()

	l.mu.Lock()
	if enforce {
		existing, err := l.repo.Find(ctx, store.Filter{IdempotencyKey: key})
		if err != nil {
			l.mu.Unlock()
			return domain.Record{}, false, err
		}
		if len(existing) > 0 {
			sortRecords(existing)
			l.mu.Unlock()
			return existing[0], false, nil
		}
	}

	source := in.Source
	if source == "" {
		source = domain.SourceAPI
	}
	rec := domain.Record{
		ID:             uuid.NewString(),
		Date:           in.Date,
		Concept:        in.Concept,
		Category:       in.Category,
		Amount:         in.Amount,
		Kind:           in.Kind,
		CreatedAt:      l.now().UTC(),
		IdempotencyKey: key,
		Source:         source,
		Reference:      in.Reference,
	}
	err := l.repo.Insert(ctx, rec)
	l.mu.Unlock()
	if err != nil {
		return domain.Record{}, false, err
	}

	l.logger.Info().
		Str("id", rec.ID).
		Str("date", rec.Date).
		Str("kind", string(rec.Kind)).
		Int64("amount", rec.Amount).
		Str("source", rec.Source).
		Msg("Record created")
	l.notifier.RecordCreated(rec)
	return rec, true, nil
}

// List returns live records, optionally restricted to a YYYY-MM month,
// ordered by (date, created_at).
func (l *Ledger) List(ctx context.Context, month string) ([]domain.Record, error) {
	return l.ListAll(ctx, month, false)
}

func (l *Ledger) ListAll(ctx context.Context, month string, includeDeleted bool) ([]domain.Record, error) {
	if month != "" {
		if err := domain.ValidateMonth(month); err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.repo.Find(ctx, store.Filter{Month: month, IncludeDeleted: includeDeleted})
	if err != nil {
		return nil, err
	}
	sortRecords(items)
	return items, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(ctx, id)
}

func (l *Ledger) get(ctx context.Context, id string) (domain.Record, error) {
	if id == "" {
		return domain.Record{}, domain.Errorf(domain.ErrNotFound, "empty id")
	}
	found, err := l.repo.Find(ctx, store.Filter{ID: id, IncludeDeleted: true})
	if err != nil {
		return domain.Record{}, err
	}
	if len(found) == 0 {
		return domain.Record{}, domain.Errorf(domain.ErrNotFound, "id %s", id)
	}
	return found[0], nil
}

func (l *Ledger) Summary(ctx context.Context, month string) (domain.Summary, error) {
	items, err := l.List(ctx, month)
	if err != nil {
		return domain.Summary{}, err
	}
	s := domain.Summary{Month: month, Count: len(items)}
	for _, r := range items {
		switch r.Kind {
		case domain.KindIncome:
			s.Income += r.Amount
		case domain.KindExpense:
			s.Expense += r.Amount
		}
	}
	s.Balance = s.Income - s.Expense
	return s, nil
}

// Delete soft-deletes by default; hard removes the row. A missing id is
// ErrNotFound whatever the deleted state of other records.
func (l *Ledger) Delete(ctx context.Context, id string, hard bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if hard {
		n, err := l.repo.Remove(ctx, []string{id})
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.Errorf(domain.ErrNotFound, "id %s", id)
		}
		return nil
	}
	if rec.IsDeleted {
		return nil
	}
	now := l.now().UTC()
	rec.IsDeleted = true
	rec.DeletedAt = &now
	return l.repo.Update(ctx, rec)
}

// Restore clears the soft-delete flag. Restoring onto a key already held by
// another live record is a conflict.
func (l *Ledger) Restore(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if !rec.IsDeleted {
		return nil
	}
	if err := l.checkKeyFree(ctx, rec.IdempotencyKey, rec.ID); err != nil {
		return err
	}
	rec.IsDeleted = false
	rec.DeletedAt = nil
	return l.repo.Update(ctx, rec)
}

// Update replaces the value fields of a record and recomputes its key.
func (l *Ledger) Update(ctx context.Context, id string, in domain.NewRecord) (domain.Record, error) {
	if err := in.Validate(); err != nil {
		return domain.Record{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	key := in.Key()
	if !rec.IsDeleted {
		if err := l.checkKeyFree(ctx, key, rec.ID); err != nil {
			return domain.Record{}, err
		}
	}
	rec.Date = in.Date
	rec.Concept = in.Concept
	rec.Category = in.Category
	rec.Amount = in.Amount
	rec.Kind = in.Kind
	rec.IdempotencyKey = key
	if err := l.repo.Update(ctx, rec); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func (l *Ledger) checkKeyFree(ctx context.Context, key, selfID string) error {
	holders, err := l.repo.Find(ctx, store.Filter{IdempotencyKey: key})
	if err != nil {
		return err
	}
	for _, h := range holders {
		if h.ID != selfID {
			return domain.Errorf(domain.ErrConflict, "record %s already holds this movement", h.ID)
		}
	}
	return nil
}

// DedupeMonth keeps one record per idempotency key in the month and removes
// the rest. Live records win over soft-deleted ones, then the chronologically
// first is kept. Running it twice removes nothing the second time.
func (l *Ledger) DedupeMonth(ctx context.Context, month string) (int, error) {
	if err := domain.ValidateMonth(month); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.repo.Find(ctx, store.Filter{Month: month, IncludeDeleted: true})
	if err != nil {
		return 0, err
	}
	sortRecords(items)
	sort.SliceStable(items, func(i, j int) bool { return !items[i].IsDeleted && items[j].IsDeleted })

	seen := make(map[string]struct{}, len(items))
	var drop []string
	for _, r := range items {
		if _, ok := seen[r.IdempotencyKey]; ok {
			drop = append(drop, r.ID)
			continue
		}
		seen[r.IdempotencyKey] = struct{}{}
	}
	removed, err := l.repo.Remove(ctx, drop)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		l.logger.Info().Str("month", month).Int("removed", removed).Msg("Deduplicated month")
	}
	return removed, nil
}

// ClearMonth removes every record dated in the month, deleted or not.
func (l *Ledger) ClearMonth(ctx context.Context, month string) (int, error) {
	if err := domain.ValidateMonth(month); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.repo.Find(ctx, store.Filter{Month: month, IncludeDeleted: true})
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(items))
	for _, r := range items {
		ids = append(ids, r.ID)
	}
	removed, err := l.repo.Remove(ctx, ids)
	if err != nil {
		return 0, err
	}
	l.logger.Warn().Str("month", month).Int("removed", removed).Msg("Cleared month")
	return removed, nil
}

func (l *Ledger) Export(ctx context.Context, month, format string) (*domain.Export, error) {
	if err := domain.ValidateMonth(month); err != nil {
		return nil, err
	}
	items, err := l.List(ctx, month)
	if err != nil {
		return nil, err
	}
	return l.exporter.Export(items, month, format)
}

// IsClientError reports whether err should be shown to the caller as-is.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrCapabilityUnavailable)
}
