package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/patient-messaging/internal/apperr"
)

const (
	HeaderToken     = "X-Webhook-Token"
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Authenticator validates the shared-secret token and, when an HMAC secret is set,
// the signature over "<timestamp>.<body>" plus the timestamp's clock skew.
type Authenticator struct {
	Token      string
	HMACSecret string
	MaxSkew    time.Duration
}

func (a Authenticator) Authenticate(h http.Header, body []byte, now time.Time) error {
	if a.Token == "" {
		return apperr.New(apperr.Unauthorized, "provider not configured")
	}
	got := h.Get(HeaderToken)
	if got == "" {
		got = strings.TrimPrefix(h.Get("Authorization"), "Bearer ")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.Token)) != 1 {
		return apperr.New(apperr.Unauthorized, "invalid webhook token")
	}

	if a.HMACSecret == "" {
		return nil
	}

	ts := h.Get(HeaderTimestamp)
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperr.New(apperr.Unauthorized, "missing or invalid signature timestamp")
	}
	skew := now.Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if a.MaxSkew > 0 && skew > a.MaxSkew {
		return apperr.New(apperr.Unauthorized, "signature timestamp outside allowed skew")
	}

	sig := strings.TrimPrefix(h.Get(HeaderSignature), "sha256=")
	want := Sign(a.HMACSecret, ts, body)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return apperr.New(apperr.Unauthorized, "invalid webhook signature")
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature a provider is expected to send.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
