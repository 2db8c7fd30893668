package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// Forwarder hands a mapped payment to the ledger. stored is false when the
// ledger already held an identical movement.
type Forwarder interface {
	Forward(ctx context.Context, rec domain.NewRecord) (stored bool, err error)
}

// Recorder is the slice of the ledger the in-process forwarder needs.
type Recorder interface {
	Add(ctx context.Context, in domain.NewRecord, enforce bool) (domain.Record, bool, error)
}

// LedgerForwarder stores movements in the same process.
type LedgerForwarder struct {
	ledger Recorder
}

func NewLedgerForwarder(ledger Recorder) *LedgerForwarder {
	return &LedgerForwarder{ledger: ledger}
}

func (f *LedgerForwarder) Forward(ctx context.Context, rec domain.NewRecord) (bool, error) {
	_, created, err := f.ledger.Add(ctx, rec, true)
	if err != nil {
		return false, err
	}
	return created, nil
}

// HTTPForwarder posts movements to a remote /finance/record endpoint.
type HTTPForwarder struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPForwarder(url, apiKey string, timeout time.Duration) *HTTPForwarder {
	return &HTTPForwarder{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPForwarder) Forward(ctx context.Context, rec domain.NewRecord) (bool, error) {
	// The receiving ledger tags the movement as api; reference stays local.
	enforce := true
	payload, err := json.Marshal(domain.CreateRecordRequest{RecordInput: rec.Input(), EnforceIdempotency: &enforce})
	if err != nil {
		return false, fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return false, domain.Errorf(domain.ErrUpstream, "forward failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusCreated:
		return true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	default:
		return false, domain.Errorf(domain.ErrUpstream, "forward status %d", resp.StatusCode)
	}
}
