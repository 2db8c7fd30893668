package mercadopago

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webledger_webhook_notifications_total",
	Help: "Payment webhook notifications by outcome",
}, []string{"outcome"})

// Notification is one inbound webhook delivery, body kept byte-exact for signing.
type Notification struct {
	Body      []byte
	Signature string
	RequestID string
	Query     url.Values
}

// Result is the acknowledgement returned to the provider.
type Result struct {
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	Stored    bool   `json:"stored"`
	PaymentID string `json:"payment_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type AdapterConfig struct {
	WebhookSecret string
	AdjustmentAs  string
	Policy        Policy
}

// Adapter turns provider notifications into ledger records. Only an
// authentication failure is returned as an error; every later failure is
// logged and acknowledged so the provider does not retry forever.
type Adapter struct {
	cfg       AdapterConfig
	payments  PaymentFetcher
	forwarder Forwarder
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAdapter(cfg AdapterConfig, payments PaymentFetcher, forwarder Forwarder, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		payments:  payments,
		forwarder: forwarder,
		logger:    logger.With().Str("component", "mercadopago_webhook").Logger(),
		now:       time.Now,
	}
}

func (a *Adapter) Handle(ctx context.Context, n Notification) (Result, error) {
	if a.cfg.WebhookSecret != "" {
		if err := VerifySignature(a.cfg.WebhookSecret, n.Signature, n.RequestID, n.Body); err != nil {
			webhookOutcomes.WithLabelValues("unauthorized").Inc()
			a.logger.Warn().Err(err).Str("request_id", n.RequestID).Msg("Rejected webhook")
			return Result{}, err
		}
	}

	var ev Event
	if len(strings.TrimSpace(string(n.Body))) > 0 {
		if err := json.Unmarshal(n.Body, &ev); err != nil {
			return a.skip("invalid body"), nil
		}
	}
	if ev.LiveMode != nil && !*ev.LiveMode {
		return a.skip("test notification"), nil
	}

	topic := strings.ToLower(ev.Type)
	if topic == "" {
		topic = strings.ToLower(ev.Topic)
	}
	if topic == "" {
		topic = strings.ToLower(n.Query.Get("topic"))
		if topic == "" {
			topic = strings.ToLower(n.Query.Get("type"))
		}
	}
	if topic != "" && topic != "payment" {
		return a.skip("unsupported topic " + topic), nil
	}

	paymentID := ev.Data.ID.String()
	if paymentID == "" && topic == "payment" {
		paymentID = strings.TrimSpace(n.Query.Get("id"))
		if paymentID == "" {
			paymentID = strings.TrimSpace(n.Query.Get("data.id"))
		}
	}
	if paymentID == "" {
		return a.skip("missing payment id"), nil
	}

	log := a.logger.With().Str("payment_id", paymentID).Logger()

	payment, err := a.payments.GetPayment(ctx, paymentID)
	if err != nil {
		webhookOutcomes.WithLabelValues("lookup_failed").Inc()
		log.Error().Err(err).Msg("Payment lookup failed")
		return Result{OK: true, PaymentID: paymentID, Reason: "lookup failed"}, nil
	}

	mv := MapPayment(payment, a.cfg.Policy, a.now())
	rec, ok := mv.Record(a.cfg.AdjustmentAs)
	if !ok {
		webhookOutcomes.WithLabelValues("skipped").Inc()
		log.Info().Str("status", mv.Status).Msg("Adjustment skipped")
		return Result{OK: true, Skipped: true, PaymentID: paymentID, Reason: "adjustment"}, nil
	}

	stored, err := a.forwarder.Forward(ctx, rec)
	if err != nil {
		webhookOutcomes.WithLabelValues("forward_failed").Inc()
		log.Error().Err(err).Msg("Forwarding payment failed")
		return Result{OK: true, PaymentID: paymentID, Reason: "forward failed"}, nil
	}

	outcome := "duplicate"
	if stored {
		outcome = "stored"
	}
	webhookOutcomes.WithLabelValues(outcome).Inc()
	log.Info().
		Str("date", rec.Date).
		Str("kind", string(rec.Kind)).
		Int64("amount", rec.Amount).
		Bool("stored", stored).
		Msg("Payment processed")
	return Result{OK: true, Stored: stored, PaymentID: paymentID}, nil
}

func (a *Adapter) skip(reason string) Result {
	webhookOutcomes.WithLabelValues("skipped").Inc()
	a.logger.Debug().Str("reason", reason).Msg("Webhook skipped")
	return Result{OK: true, Skipped: true, Reason: reason}
}
