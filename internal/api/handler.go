package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/domain"
	"github.com/punchamoorthee/webledger/internal/mercadopago"
	"github.com/punchamoorthee/webledger/internal/notify"
	"github.com/punchamoorthee/webledger/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 1 << 20

type Handler struct {
	ledger   *service.Ledger
	webhook  *mercadopago.Adapter
	sender   notify.Sender
	build    string
	location *time.Location
	logger   zerolog.Logger
}

type HandlerOption func(*Handler)

// WithSender enables POST /messaging/telegram/send.
func WithSender(s notify.Sender) HandlerOption {
	return func(h *Handler) { h.sender = s }
}

func WithBuild(build string) HandlerOption {
	return func(h *Handler) { h.build = build }
}

// WithLocation sets the zone used to pick the default month.
func WithLocation(loc *time.Location) HandlerOption {
	return func(h *Handler) {
		if loc != nil {
			h.location = loc
		}
	}
}

func NewHandler(ledger *service.Ledger, webhook *mercadopago.Adapter, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		ledger:   ledger,
		webhook:  webhook,
		build:    "dev",
		location: time.UTC,
		logger:   logger.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"build": h.build})
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	enforce := true
	if req.EnforceIdempotency != nil {
		enforce = *req.EnforceIdempotency
	}

	rec, created, err := h.ledger.Add(r.Context(), req.NewRecord(domain.SourceAPI), enforce)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
		w.Header().Set("Location", fmt.Sprintf("/finance/%s", rec.ID))
	}
	respondJSON(w, r, code, domain.CreateRecordResponse{Created: created, Record: rec})
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := queryBool(r, "include_deleted")
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	items, err := h.ledger.ListAll(r.Context(), r.URL.Query().Get("month"), includeDeleted)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Record{}
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().In(h.location).Format(domain.MonthLayout)
	}
	s, err := h.ledger.Summary(r.Context(), month)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, s)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, rec)
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}
	rec, err := h.ledger.Update(r.Context(), mux.Vars(r)["id"], req.NewRecord(domain.SourceAPI))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	hard, err := queryBool(r, "hard")
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if err := h.ledger.Delete(r.Context(), mux.Vars(r)["id"], hard); err != nil {
		h.respondErr(w, r, err)
		return
	}
	mode := "soft"
	if hard {
		mode = "hard"
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"deleted": mode})
}

func (h *Handler) RestoreRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Restore(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{"restored": true})
}

func (h *Handler) DedupeMonth(w http.ResponseWriter, r *http.Request) {
	removed, err := h.ledger.DedupeMonth(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) ClearMonth(w http.ResponseWriter, r *http.Request) {
	removed, err := h.ledger.ClearMonth(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) ExportMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.ledger.Export(r.Context(), q.Get("month"), q.Get("format"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpReqTotal.WithLabelValues(r.Method, endpointOf(r), "200").Inc()
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, out.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Body)
}

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Unreadable body")
		return
	}

	res, err := h.webhook.Handle(r.Context(), mercadopago.Notification{
		Body:      body,
		Signature: r.Header.Get(mercadopago.HeaderSignature),
		RequestID: r.Header.Get(mercadopago.HeaderRequestID),
		Query:     r.URL.Query(),
	})
	if err != nil {
		respondJSON(w, r, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

func (h *Handler) SendTelegram(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		h.respondErr(w, r, domain.Errorf(domain.ErrCapabilityUnavailable, "telegram is not enabled"))
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		h.respondErr(w, r, domain.Errorf(domain.ErrValidation, "text is required"))
		return
	}
	if err := h.sender.Send(r.Context(), text); err != nil {
		if errors.Is(err, domain.ErrCapabilityUnavailable) {
			h.respondErr(w, r, err)
			return
		}
		h.logger.Warn().Err(err).Msg("Telegram send failed")
		respondError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// Helpers

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.Errorf(domain.ErrValidation, "%s must be a boolean", name)
	}
	return v, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrCapabilityUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr maps a domain error to its status. Internal errors are logged
// and reported without detail.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, r, code, "Internal error")
		return
	}
	respondError(w, r, code, err.Error())
}

func respondJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	httpReqTotal.WithLabelValues(r.Method, endpointOf(r), strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	respondJSON(w, r, code, map[string]string{"error": msg})
}

// endpointOf returns the route template so ids do not explode label cardinality.
func endpointOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
