package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body
const SignatureHeader = "X-Gateway-Signature"

// Gateway event names
const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventChargeCancelled = "charge.cancelled"
	EventRefundProcessed = "refund.processed"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the signature the gateway sends for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time. An empty
// secret rejects every request.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// GatewayEvent is the webhook payload. The reference may sit at the top level
// or inside data.
type GatewayEvent struct {
	Event     string      `json:"event"`
	Reference string      `json:"reference,omitempty"`
	Data      GatewayData `json:"data"`
}

type GatewayData struct {
	Reference string              `json:"reference"`
	Amount    decimal.NullDecimal `json:"amount"`
	// RefundedAmount is the cumulative refunded total; a refund without it is a full refund
	RefundedAmount decimal.NullDecimal `json:"refunded_amount"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
}

// Ref returns the payment reference the event is about
func (e GatewayEvent) Ref() string {
	if e.Reference != "" {
		return e.Reference
	}
	return e.Data.Reference
}

// queued is what the webhook handler publishes for the consumer
type queued struct {
	EventID string       `json:"event_id"`
	Event   GatewayEvent `json:"event"`
}
