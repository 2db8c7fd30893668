package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter wires every route. /finance and /messaging require an API key;
// health, metrics, version and the payment webhooks are public.
func NewRouter(h *Handler, apiKeys []string, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(AccessLog(logger.With().Str("component", "access").Logger()))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/version", h.Version).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/payment-provider", h.PaymentWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/mercadopago", h.PaymentWebhook).Methods(http.MethodPost)

	finance := r.PathPrefix("/finance").Subrouter()
	finance.Use(APIKeyAuth(apiKeys))
	finance.HandleFunc("/record", h.CreateRecord).Methods(http.MethodPost)
	finance.HandleFunc("/list", h.ListRecords).Methods(http.MethodGet)
	finance.HandleFunc("/summary", h.Summary).Methods(http.MethodGet)
	finance.HandleFunc("/export", h.ExportMonth).Methods(http.MethodGet)
	finance.HandleFunc("/dedupe", h.DedupeMonth).Methods(http.MethodPost)
	finance.HandleFunc("/clear", h.ClearMonth).Methods(http.MethodPost)
	finance.HandleFunc("/{id}", h.GetRecord).Methods(http.MethodGet)
	finance.HandleFunc("/{id}", h.UpdateRecord).Methods(http.MethodPut)
	finance.HandleFunc("/{id}", h.DeleteRecord).Methods(http.MethodDelete)
	finance.HandleFunc("/{id}/restore", h.RestoreRecord).Methods(http.MethodPatch)

	messaging := r.PathPrefix("/messaging").Subrouter()
	messaging.Use(APIKeyAuth(apiKeys))
	messaging.HandleFunc("/telegram/send", h.SendTelegram).Methods(http.MethodPost)

	return r
}
