package domain

import "time"

// Kind classifies a movement as money going out or coming in.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

// Valid reports whether k is one of the two ledger kinds.
func (k Kind) Valid() bool {
	return k == KindExpense || k == KindIncome
}

const (
	DateLayout        = "2006-01-02"
	MonthLayout       = "2006-01"
	DefaultCategory   = "otros"
	SourceAPI         = "api"
	SourceImport      = "import"
	SourceMercadoPago = "mercado_pago"
)

// Record is one persisted ledger movement.
// IdempotencyKey is derived from (Date, Concept, Category, Amount, Kind) only.
type Record struct {
	ID             string     `json:"id"`
	Date           string     `json:"date"`
	Concept        string     `json:"concept"`
	Category       string     `json:"category"`
	Amount         int64      `json:"amount"`
	Kind           Kind       `json:"kind"`
	CreatedAt      time.Time  `json:"created_at"`
	IdempotencyKey string     `json:"idempotency_key"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Source         string     `json:"source,omitempty"`
	Reference      string     `json:"reference,omitempty"`
}

// Month returns the YYYY-MM prefix of the business date.
func (r *Record) Month() string {
	if len(r.Date) < 7 {
		return ""
	}
	return r.Date[:7]
}

// InMonth reports whether the record's business date falls in month (YYYY-MM).
func (r *Record) InMonth(month string) bool {
	return len(r.Date) > len(month) && r.Date[:len(month)] == month && r.Date[len(month)] == '-'
}

// Before orders records by (date, created_at) ascending.
func (r *Record) Before(o *Record) bool {
	if r.Date != o.Date {
		return r.Date < o.Date
	}
	return r.CreatedAt.Before(o.CreatedAt)
}

// NewRecord is the DTO accepted by the ledger for creation and update.
type NewRecord struct {
	Date      string `json:"date"`
	Concept   string `json:"concept"`
	Category  string `json:"category"`
	Amount    int64  `json:"amount"`
	Kind      Kind   `json:"kind"`
	Source    string `json:"source,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Key computes the idempotency key of the request tuple.
func (n NewRecord) Key() string {
	return IdempotencyKey(n.Date, n.Concept, n.Category, n.Amount, string(n.Kind))
}

// RecordInput is the client-editable part of a movement. Source and
// reference are never taken from a request body.
type RecordInput struct {
	Date     string `json:"date"`
	Concept  string `json:"concept"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
	Kind     Kind   `json:"kind"`
}

// NewRecord tags the input with a server-side source.
func (in RecordInput) NewRecord(source string) NewRecord {
	return NewRecord{
		Date:     in.Date,
		Concept:  in.Concept,
		Category: in.Category,
		Amount:   in.Amount,
		Kind:     in.Kind,
		Source:   source,
	}
}

// Input drops the provenance fields.
func (n NewRecord) Input() RecordInput {
	return RecordInput{Date: n.Date, Concept: n.Concept, Category: n.Category, Amount: n.Amount, Kind: n.Kind}
}

// CreateRecordRequest is the payload of POST /finance/record.
type CreateRecordRequest struct {
	RecordInput
	EnforceIdempotency *bool `json:"enforce_idempotency,omitempty"`
}

// CreateRecordResponse is the canonical response for 201/200 on record creation.
type CreateRecordResponse struct {
	Created bool   `json:"created"`
	Record  Record `json:"record"`
}

// Summary aggregates the live records of one month.
type Summary struct {
	Month   string `json:"month"`
	Income  int64  `json:"income"`
	Expense int64  `json:"expense"`
	Balance int64  `json:"balance"`
	Count   int    `json:"count"`
}

// Export is a serialized month ready to be sent as a download.
type Export struct {
	Body        []byte
	ContentType string
	FileName    string
}
