package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IdempotencyKey hashes the normalized movement tuple. Equal tuples modulo
// casing and whitespace always yield the same key.
func IdempotencyKey(date, concept, category string, amount int64, kind string) string {
	raw := strings.Join([]string{
		Normalize(date),
		Normalize(concept),
		Normalize(category),
		strconv.FormatInt(amount, 10),
		Normalize(kind),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Validate checks a create/update request and fills defaults in place.
func (n *NewRecord) Validate() error {
	n.Date = strings.TrimSpace(n.Date)
	if err := ValidateDate(n.Date); err != nil {
		return err
	}
	n.Concept = strings.TrimSpace(n.Concept)
	if n.Concept == "" {
		return Errorf(ErrValidation, "concept is required")
	}
	n.Category = strings.TrimSpace(n.Category)
	if n.Category == "" {
		n.Category = DefaultCategory
	}
	if n.Amount < 0 {
		return Errorf(ErrValidation, "amount must be >= 0, got %d", n.Amount)
	}
	n.Kind = Kind(strings.ToLower(strings.TrimSpace(string(n.Kind))))
	if !n.Kind.Valid() {
		return Errorf(ErrValidation, "kind must be %q or %q, got %q", KindExpense, KindIncome, n.Kind)
	}
	return nil
}

// ValidateDate requires a YYYY-MM-DD calendar date.
func ValidateDate(date string) error {
	if date == "" {
		return Errorf(ErrValidation, "date is required")
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Errorf(ErrValidation, "invalid date %q, expected YYYY-MM-DD", date)
	}
	return nil
}

// ValidateMonth requires a YYYY-MM month.
func ValidateMonth(month string) error {
	if _, err := time.Parse(MonthLayout, month); err != nil || len(month) != len(MonthLayout) {
		return Errorf(ErrValidation, "invalid month %q, expected YYYY-MM", month)
	}
	return nil
}
