// Package webhooks delivers signed event notifications to a subscriber
// endpoint. Payloads are signed with HMAC-SHA256 so the receiver can
// authenticate them without a shared session.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	SignatureHeader = "X-Signature"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"
)

// Sign computes the hex HMAC-SHA256 of the raw body under secret.
func Sign(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received webhook body against its signature
// header. Constant-time; malformed hex is simply invalid.
func VerifySignature(secret, signatureHex string, rawBody []byte) bool {
	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Notifier posts events to one subscriber URL. Delivery is best-effort:
// failures are logged and dropped, never retried into the caller's path.
type Notifier struct {
	URL        string
	Secret     string
	HTTPClient *http.Client

	log *slog.Logger
}

func NewNotifier(url, secret string, log *slog.Logger) *Notifier {
	return &Notifier{
		URL:        url,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

// Emit sends one event. The context bounds the delivery attempt.
func (n *Notifier) Emit(ctx context.Context, eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("encoding webhook payload", "event", eventType, "err", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.log.Error("building webhook request", "event", eventType, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventIDHeader, uuid.NewString())
	req.Header.Set(EventTypeHeader, eventType)
	req.Header.Set(SignatureHeader, Sign(n.Secret, body))

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		n.log.Warn("webhook delivery failed", "event", eventType, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("webhook rejected", "event", eventType, "status", resp.StatusCode)
	}
}
