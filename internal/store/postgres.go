package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/webledger/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS finance_records (
	id              TEXT PRIMARY KEY,
	date            TEXT        NOT NULL,
	concept         TEXT        NOT NULL,
	category        TEXT        NOT NULL,
	amount          BIGINT      NOT NULL CHECK (amount >= 0),
	kind            TEXT        NOT NULL CHECK (kind IN ('expense', 'income')),
	created_at      TIMESTAMPTZ NOT NULL,
	idempotency_key TEXT        NOT NULL,
	is_deleted      BOOLEAN     NOT NULL DEFAULT FALSE,
	deleted_at      TIMESTAMPTZ,
	source          TEXT        NOT NULL DEFAULT '',
	reference       TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS finance_records_date_idx ON finance_records (date);
CREATE INDEX IF NOT EXISTS finance_records_idem_idx ON finance_records (idempotency_key);
`

const selectColumns = `SELECT id, date, concept, category, amount, kind, created_at,
	idempotency_key, is_deleted, deleted_at, source, reference FROM finance_records`

type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to apply schema: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.Db.Close()
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, f Filter) ([]domain.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.ID != "" {
		add("id = ?", f.ID)
	}
	if f.Month != "" {
		add("date LIKE ?", f.Month+"-%")
	}
	if f.IdempotencyKey != "" {
		add("idempotency_key = ?", f.IdempotencyKey)
	}
	if !f.IncludeDeleted {
		where = append(where, "NOT is_deleted")
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, created_at ASC"

	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []domain.Record{}
	for rows.Next() {
		var (
			r    domain.Record
			kind string
		)
		if err := rows.Scan(&r.ID, &r.Date, &r.Concept, &r.Category, &r.Amount, &kind, &r.CreatedAt,
			&r.IdempotencyKey, &r.IsDeleted, &r.DeletedAt, &r.Source, &r.Reference); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = domain.Kind(kind)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, rec domain.Record) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO finance_records (id, date, concept, category, amount, kind, created_at,
			idempotency_key, is_deleted, deleted_at, source, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Date, rec.Concept, rec.Category, rec.Amount, string(rec.Kind), rec.CreatedAt,
		rec.IdempotencyKey, rec.IsDeleted, rec.DeletedAt, rec.Source, rec.Reference,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Errorf(domain.ErrConflict, "id %s already exists", rec.ID)
		}
		return fmt.Errorf("record insert failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec domain.Record) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE finance_records SET date = $2, concept = $3, category = $4, amount = $5, kind = $6,
			idempotency_key = $7, is_deleted = $8, deleted_at = $9, source = $10, reference = $11
		 WHERE id = $1`,
		rec.ID, rec.Date, rec.Concept, rec.Category, rec.Amount, string(rec.Kind),
		rec.IdempotencyKey, rec.IsDeleted, rec.DeletedAt, rec.Source, rec.Reference,
	)
	if err != nil {
		return fmt.Errorf("record update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.ErrNotFound, "id %s", rec.ID)
	}
	return nil
}

// Remove deletes ids in a single transaction so a batch repair is all or nothing.
func (s *PostgresStore) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM finance_records WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("record delete failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
