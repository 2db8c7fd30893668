package mercadopago

import (
	"strings"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// KindAdjustment tags refunds, chargebacks and cancellations. It is not a
// ledger kind; the adapter decides what to do with it.
const KindAdjustment = "adjustment"

var adjustmentStatuses = map[string]bool{
	"refunded":     true,
	"charged_back": true,
	"cancelled":    true,
	"canceled":     true,
}

// Policy controls how a payment becomes a movement.
// The default income rule (collector differs from payer and status approved)
// is kept configurable because its direction is disputed.
type Policy struct {
	DefaultCategory string
	InvertKind      bool
}

// Movement is a payment mapped to ledger terms.
type Movement struct {
	Date        string `json:"date"`
	Concept     string `json:"concept"`
	Category    string `json:"category"`
	Amount      int64  `json:"amount"`
	GrossAmount int64  `json:"gross_amount"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	PaymentID   string `json:"payment_id"`
}

// MapPayment derives a movement from a payment resource.
func MapPayment(p *Payment, policy Policy, now time.Time) Movement {
	status := strings.ToLower(strings.TrimSpace(p.Status))

	gross := p.TransactionAmount.Round(0).Abs().IntPart()
	amount := gross
	if p.TransactionDetails.NetReceivedAmount.Valid {
		amount = p.TransactionDetails.NetReceivedAmount.Decimal.Round(0).Abs().IntPart()
	}

	category := policy.DefaultCategory
	if category == "" {
		category = domain.DefaultCategory
	}

	currency := p.CurrencyID
	if currency == "" {
		currency = "CLP"
	}

	return Movement{
		Date:        paymentDate(p, now),
		Concept:     paymentConcept(p),
		Category:    category,
		Amount:      amount,
		GrossAmount: gross,
		Kind:        paymentKind(p, status, policy.InvertKind),
		Status:      status,
		Currency:    currency,
		PaymentID:   p.ID.String(),
	}
}

func paymentDate(p *Payment, now time.Time) string {
	for _, raw := range []string{p.DateApproved, p.DateCreated} {
		if len(raw) < len(domain.DateLayout) {
			continue
		}
		d := raw[:len(domain.DateLayout)]
		if _, err := time.Parse(domain.DateLayout, d); err == nil {
			return d
		}
	}
	return now.UTC().Format(domain.DateLayout)
}

func paymentConcept(p *Payment) string {
	if s := strings.TrimSpace(p.Description); s != "" {
		return s
	}
	if s := strings.TrimSpace(p.StatementDescriptor); s != "" {
		return s
	}
	if items := p.AdditionalInfo.Items; len(items) > 0 {
		if s := strings.TrimSpace(items[0].Title); s != "" {
			return s
		}
	}
	method := p.PaymentMethodID
	if method == "" {
		method = "pago"
	}
	return "MercadoPago " + method
}

func paymentKind(p *Payment, status string, invert bool) string {
	if adjustmentStatuses[status] {
		return KindAdjustment
	}
	collector, payer := p.CollectorID.String(), p.Payer.ID.String()
	income := collector != "" && collector != payer && status == "approved"
	if invert {
		income = !income
	}
	if income {
		return string(domain.KindIncome)
	}
	return string(domain.KindExpense)
}

// Record converts the movement into a ledger request. ok is false when an
// adjustment should be skipped under adjustmentAs.
func (m Movement) Record(adjustmentAs string) (domain.NewRecord, bool) {
	kind := m.Kind
	if kind == KindAdjustment {
		switch adjustmentAs {
		case string(domain.KindIncome), string(domain.KindExpense):
			kind = adjustmentAs
		default:
			return domain.NewRecord{}, false
		}
	}
	return domain.NewRecord{
		Date:      m.Date,
		Concept:   m.Concept,
		Category:  m.Category,
		Amount:    m.Amount,
		Kind:      domain.Kind(kind),
		Source:    domain.SourceMercadoPago,
		Reference: m.PaymentID,
	}, true
}
