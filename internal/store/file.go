package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/domain"
)

type document struct {
	Items []fileRecord `json:"items"`
}

// FileStore keeps the whole ledger in one JSON document. Every write goes to
// a synced sibling temp file that is renamed over the original.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logger.With().Str("component", "file_store").Logger(),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.save(&document{Items: []fileRecord{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) load() (*document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	var doc document
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	now := time.Now()
	migrated := 0
	for i := range doc.Items {
		it := &doc.Items[i]
		if err := it.check(); err != nil {
			return nil, fmt.Errorf("%w: item %d (id %q): %v", ErrCorrupt, i, it.ID, err)
		}
		if fillLegacy(&it.Record, now) || it.migrated {
			it.migrated = false
			migrated++
		}
	}
	if migrated > 0 {
		s.logger.Info().Int("records", migrated).Msg("Migrated legacy records")
		if err := s.save(&doc); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	if doc.Items == nil {
		doc.Items = []fileRecord{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode ledger file: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(raw); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp ledger file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

func (s *FileStore) Find(ctx context.Context, f Filter) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(doc.Items))
	for i := range doc.Items {
		if f.match(&doc.Items[i].Record) {
			out = append(out, doc.Items[i].Record)
		}
	}
	return out, nil
}

func (s *FileStore) Insert(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i := range doc.Items {
		if doc.Items[i].ID == rec.ID {
			return domain.Errorf(domain.ErrConflict, "id %s already exists", rec.ID)
		}
	}
	doc.Items = append(doc.Items, fileRecord{Record: rec})
	return s.save(doc)
}

func (s *FileStore) Update(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i := range doc.Items {
		if doc.Items[i].ID == rec.ID {
			doc.Items[i].Record = rec
			return s.save(doc)
		}
	}
	return domain.Errorf(domain.ErrNotFound, "id %s", rec.ID)
}

func (s *FileStore) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	keep := doc.Items[:0]
	for _, r := range doc.Items {
		if _, ok := drop[r.ID]; !ok {
			keep = append(keep, r)
		}
	}
	removed := len(doc.Items) - len(keep)
	if removed == 0 {
		return 0, nil
	}
	doc.Items = keep
	return removed, s.save(doc)
}

func (s *FileStore) Close() error {
	return nil
}
