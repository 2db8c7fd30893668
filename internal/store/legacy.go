package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// ErrCorrupt is returned when the ledger file holds an item that is not a
// usable movement. The file is left untouched.
var ErrCorrupt = errors.New("ledger file holds an invalid record")

var recordKeys = map[string]struct{}{
	"id": {}, "date": {}, "concept": {}, "category": {}, "amount": {}, "kind": {},
	"created_at": {}, "idempotency_key": {}, "is_deleted": {}, "deleted_at": {},
	"source": {}, "reference": {},
}

// Keys of the first, Spanish-named file layout.
var legacyKeys = map[string]struct{}{
	"fecha": {}, "concepto": {}, "categoria": {}, "monto_clp": {}, "tipo": {}, "ts": {}, "idem_key": {},
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// fileRecord is one item of the JSON document. Keys the ledger does not
// know are written back unchanged.
type fileRecord struct {
	domain.Record
	extra    map[string]json.RawMessage
	migrated bool
}

type rawItem struct {
	ID             string  `json:"id"`
	Date           string  `json:"date"`
	Concept        string  `json:"concept"`
	Category       string  `json:"category"`
	Amount         *int64  `json:"amount"`
	Kind           string  `json:"kind"`
	CreatedAt      string  `json:"created_at"`
	IdempotencyKey string  `json:"idempotency_key"`
	IsDeleted      bool    `json:"is_deleted"`
	DeletedAt      *string `json:"deleted_at"`
	Source         string  `json:"source"`
	Reference      string  `json:"reference"`

	Fecha     string `json:"fecha"`
	Concepto  string `json:"concepto"`
	Categoria string `json:"categoria"`
	MontoCLP  *int64 `json:"monto_clp"`
	Tipo      string `json:"tipo"`
	TS        string `json:"ts"`
}

func (f *fileRecord) UnmarshalJSON(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	var v rawItem
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	r := domain.Record{
		ID:             v.ID,
		Date:           v.Date,
		Concept:        v.Concept,
		Category:       v.Category,
		Kind:           domain.Kind(v.Kind),
		IdempotencyKey: v.IdempotencyKey,
		IsDeleted:      v.IsDeleted,
		Source:         v.Source,
		Reference:      v.Reference,
	}
	if v.Amount != nil {
		r.Amount = *v.Amount
	}

	legacy := false
	for k := range fields {
		if _, ok := legacyKeys[k]; ok {
			legacy = true
			break
		}
	}
	if legacy {
		r.Date = firstNonEmpty(r.Date, v.Fecha)
		r.Concept = firstNonEmpty(r.Concept, v.Concepto)
		r.Category = firstNonEmpty(r.Category, v.Categoria)
		if v.Amount == nil && v.MontoCLP != nil {
			r.Amount = *v.MontoCLP
		}
		if r.Kind == "" {
			r.Kind = legacyKind(v.Tipo)
		}
		// The stored idem_key hashed the Spanish kind; recompute from the mapped fields.
		r.IdempotencyKey = ""
	}

	created := firstNonEmpty(v.CreatedAt, v.TS)
	if created != "" {
		t, err := parseTimestamp(created)
		if err != nil {
			return fmt.Errorf("record %q created_at: %w", r.ID, err)
		}
		r.CreatedAt = t
	}
	if v.DeletedAt != nil && *v.DeletedAt != "" {
		t, err := parseTimestamp(*v.DeletedAt)
		if err != nil {
			return fmt.Errorf("record %q deleted_at: %w", r.ID, err)
		}
		r.DeletedAt = &t
	}
	// Anything other than canonical RFC 3339 is rewritten on the next save.
	if _, err := time.Parse(time.RFC3339Nano, v.CreatedAt); v.CreatedAt != "" && err != nil {
		legacy = true
	}

	extra := make(map[string]json.RawMessage)
	for k, val := range fields {
		_, known := recordKeys[k]
		_, old := legacyKeys[k]
		if !known && !old {
			extra[k] = val
		}
	}

	*f = fileRecord{Record: r, extra: extra, migrated: legacy}
	return nil
}

func (f fileRecord) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(f.Record)
	if err != nil || len(f.extra) == 0 {
		return raw, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range f.extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// check rejects items that would be invisible or meaningless once loaded.
func (f *fileRecord) check() error {
	in := domain.NewRecord{
		Date:     f.Date,
		Concept:  f.Concept,
		Category: f.Category,
		Amount:   f.Amount,
		Kind:     f.Kind,
	}
	return in.Validate()
}

func legacyKind(tipo string) domain.Kind {
	switch strings.ToLower(strings.TrimSpace(tipo)) {
	case "gasto":
		return domain.KindExpense
	case "ingreso":
		return domain.KindIncome
	default:
		return domain.Kind(strings.ToLower(strings.TrimSpace(tipo)))
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
