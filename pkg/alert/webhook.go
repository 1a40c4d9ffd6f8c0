package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Webhook headers. The signature covers "<timestamp>.<body>".
const (
	HeaderEvent     = "X-Styleradar-Event"
	HeaderDelivery  = "X-Styleradar-Delivery"
	HeaderTimestamp = "X-Styleradar-Timestamp"
	HeaderSignature = "X-Signature-256"
)

// Delivery is the JSON body posted to a generic webhook.
type Delivery struct {
	ID     string        `json:"id"`
	Event  Kind          `json:"event"`
	SentAt time.Time     `json:"sent_at"`
	Data   *Notification `json:"data"`
}

// Webhook posts signed deliveries to an HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

// NewWebhook creates a webhook notifier. An empty secret sends unsigned
// deliveries.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	sentAt := w.now().UTC()
	d := Delivery{
		ID:     uuid.NewString(),
		Event:  n.Kind,
		SentAt: sentAt,
		Data:   n,
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal webhook delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	ts := strconv.FormatInt(sentAt.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "styleradar/1.0")
	req.Header.Set(HeaderEvent, string(n.Kind))
	req.Header.Set(HeaderDelivery, d.ID)
	req.Header.Set(HeaderTimestamp, ts)
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if len(bytes.TrimSpace(snippet)) == 0 {
			return fmt.Errorf("webhook status %d", resp.StatusCode)
		}
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// Sign returns the signature header value for a delivery: "sha256=" and
// the hex HMAC-SHA256 of "<timestamp>.<body>" keyed with secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrStale        = errors.New("webhook timestamp outside tolerance")
)

// VerifyRequest is the receiving side: it reads r's body, checks the
// signature and rejects deliveries older or newer than maxAge. It returns
// the decoded delivery.
func VerifyRequest(r *http.Request, secret string, maxAge time.Duration, now time.Time) (*Delivery, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}

	ts := r.Header.Get(HeaderTimestamp)
	if !Verify(secret, ts, body, r.Header.Get(HeaderSignature)) {
		return nil, ErrBadSignature
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse webhook timestamp: %w", err)
	}
	if age := now.Sub(time.Unix(sec, 0)); age > maxAge || age < -maxAge {
		return nil, ErrStale
	}

	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode webhook delivery: %w", err)
	}
	return &d, nil
}
