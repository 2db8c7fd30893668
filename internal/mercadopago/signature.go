package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/punchamoorthee/webledger/internal/domain"
)

const (
	HeaderSignature = "X-Signature"
	HeaderRequestID = "X-Request-Id"
)

// ParseSignature splits "ts=<unix>, v1=<hex>" into lowercased keys.
func ParseSignature(header string) map[string]string {
	parts := make(map[string]string)
	for _, piece := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(piece, "=")
		if !ok {
			continue
		}
		parts[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return parts
}

// Manifest is the canonical string the provider signs.
func Manifest(paymentID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s", paymentID, requestID, ts)
}

// Sign returns the hex HMAC-SHA256 of the manifest under secret.
func Sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the x-signature header against the exact request body.
// Every failure wraps domain.ErrUnauthenticated.
func VerifySignature(secret, header, requestID string, body []byte) error {
	if header == "" {
		return domain.Errorf(domain.ErrUnauthenticated, "missing signature header")
	}
	if requestID == "" {
		return domain.Errorf(domain.ErrUnauthenticated, "missing request id header")
	}
	sig := ParseSignature(header)
	ts, v1 := sig["ts"], sig["v1"]
	if ts == "" || v1 == "" {
		return domain.Errorf(domain.ErrUnauthenticated, "malformed signature header")
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.Errorf(domain.ErrUnauthenticated, "signed body is not valid JSON")
	}

	expected := Sign(secret, Manifest(ev.Data.ID.String(), requestID, ts))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return domain.Errorf(domain.ErrUnauthenticated, "signature mismatch")
	}
	return nil
}
