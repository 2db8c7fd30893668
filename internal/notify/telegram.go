package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

func NewTelegram(baseURL, token, chatID string, timeout time.Duration) *Telegram {
	return &Telegram{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.token == "" || t.chatID == "" {
		return domain.Errorf(domain.ErrCapabilityUnavailable, "telegram bot token or chat id not configured")
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the error.
		return domain.Errorf(domain.ErrUpstream, "telegram request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var out apiResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		return domain.Errorf(domain.ErrUpstream, "telegram status %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}
