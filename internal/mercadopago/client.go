package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// PaymentFetcher looks up the full payment resource behind a notification.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      zerolog.Logger
}

func NewClient(baseURL, accessToken string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		logger: logger.With().Str("component", "mercadopago_client").Logger(),
	}
}

// GetPayment calls GET /v1/payments/{id}. Transport failures and non-2xx
// responses wrap domain.ErrUpstream.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Errorf(domain.ErrUpstream, "payment lookup failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.Errorf(domain.ErrUpstream, "failed to read payment response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("payment_id", id).
			Str("body", truncate(string(body), 512)).
			Msg("Payment lookup returned non-success status")
		return nil, domain.Errorf(domain.ErrUpstream, "payment lookup status %d", resp.StatusCode)
	}

	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.Errorf(domain.ErrUpstream, "failed to decode payment: %v", err)
	}
	return &p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
