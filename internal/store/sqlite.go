package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// recordRow is the finance_records table layout shared with the postgres schema.
type recordRow struct {
	ID             string     `gorm:"primaryKey;size:36"`
	Date           string     `gorm:"size:10;index;not null"`
	Concept        string     `gorm:"not null"`
	Category       string     `gorm:"size:64;not null"`
	Amount         int64      `gorm:"not null"`
	Kind           string     `gorm:"size:16;not null"`
	CreatedAt      time.Time  `gorm:"not null"`
	IdempotencyKey string     `gorm:"size:64;index;not null"`
	IsDeleted      bool       `gorm:"not null;default:false"`
	DeletedAt      *time.Time `gorm:"index"`
	Source         string     `gorm:"size:32"`
	Reference      string     `gorm:"size:64"`
}

func (recordRow) TableName() string {
	return "finance_records"
}

func toRow(r domain.Record) recordRow {
	return recordRow{
		ID:             r.ID,
		Date:           r.Date,
		Concept:        r.Concept,
		Category:       r.Category,
		Amount:         r.Amount,
		Kind:           string(r.Kind),
		CreatedAt:      r.CreatedAt.UTC(),
		IdempotencyKey: r.IdempotencyKey,
		IsDeleted:      r.IsDeleted,
		DeletedAt:      r.DeletedAt,
		Source:         r.Source,
		Reference:      r.Reference,
	}
}

func (row recordRow) record() domain.Record {
	r := domain.Record{
		ID:             row.ID,
		Date:           row.Date,
		Concept:        row.Concept,
		Category:       row.Category,
		Amount:         row.Amount,
		Kind:           domain.Kind(row.Kind),
		CreatedAt:      row.CreatedAt.UTC(),
		IdempotencyKey: row.IdempotencyKey,
		IsDeleted:      row.IsDeleted,
		Source:         row.Source,
		Reference:      row.Reference,
	}
	if row.DeletedAt != nil {
		t := row.DeletedAt.UTC()
		r.DeletedAt = &t
	}
	return r
}

// SQLiteStore keeps one row per record in a local SQLite file through GORM.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string, logMode bool) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gormLogger := logger.Default
	if !logMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent requests.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
	_, _ = sqlDB.Exec("PRAGMA synchronous = NORMAL;")

	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Find(ctx context.Context, f Filter) ([]domain.Record, error) {
	q := s.db.WithContext(ctx).Model(&recordRow{})
	if f.ID != "" {
		q = q.Where("id = ?", f.ID)
	}
	if f.Month != "" {
		q = q.Where("date LIKE ?", f.Month+"-%")
	}
	if f.IdempotencyKey != "" {
		q = q.Where("idempotency_key = ?", f.IdempotencyKey)
	}
	if !f.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}

	var rows []recordRow
	if err := q.Order("date ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec domain.Record) error {
	row := toRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec domain.Record) error {
	row := toRow(rec)
	res := s.db.WithContext(ctx).Model(&recordRow{}).Where("id = ?", rec.ID).Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("update record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.ErrNotFound, "id %s", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&recordRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete records: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		if errors.Is(err, gorm.ErrInvalidDB) {
			return nil
		}
		return err
	}
	return sqlDB.Close()
}
