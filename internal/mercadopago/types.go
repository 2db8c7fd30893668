package mercadopago

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexID accepts an identifier sent either as a JSON string or a JSON number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string {
	return string(f)
}

// Event is the webhook notification body. Only the fields the adapter reads are declared.
type Event struct {
	ID       FlexID `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	LiveMode *bool  `json:"live_mode"`
	Data     struct {
		ID FlexID `json:"id"`
	} `json:"data"`
}

// Payment is the subset of GET /v1/payments/{id} used for mapping.
type Payment struct {
	ID                  FlexID          `json:"id"`
	Status              string          `json:"status"`
	StatusDetail        string          `json:"status_detail"`
	Description         string          `json:"description"`
	StatementDescriptor string          `json:"statement_descriptor"`
	DateApproved        string          `json:"date_approved"`
	DateCreated         string          `json:"date_created"`
	TransactionAmount   decimal.Decimal `json:"transaction_amount"`
	CurrencyID          string          `json:"currency_id"`
	CollectorID         FlexID          `json:"collector_id"`
	PaymentMethodID     string          `json:"payment_method_id"`
	LiveMode            bool            `json:"live_mode"`
	Payer               struct {
		ID    FlexID `json:"id"`
		Email string `json:"email"`
	} `json:"payer"`
	TransactionDetails struct {
		NetReceivedAmount decimal.NullDecimal `json:"net_received_amount"`
	} `json:"transaction_details"`
	AdditionalInfo struct {
		Items []struct {
			Title string `json:"title"`
		} `json:"items"`
	} `json:"additional_info"`
}
