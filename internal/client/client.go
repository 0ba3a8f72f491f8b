// Package client holds the outbound HTTP clients: one send client per WhatsApp provider
// and the external inquiry capability.
package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/queue"
)

type Config struct {
	Provider    string
	BaseURL     string
	Token       string
	Session     string
	CountryCode string
	Timeout     time.Duration
	// RetryCount bounds in-request retries on gateway errors. The queue owns real retries.
	RetryCount int
}

// NewSendClient returns the send client for cfg.Provider.
func NewSendClient(cfg Config, log *zap.Logger) (queue.SendClient, error) {
	switch cfg.Provider {
	case "gateway":
		return NewGatewayClient(cfg, log), nil
	case "bridge-b":
		return NewBridgeBClient(cfg, log), nil
	case "bridge-c":
		return NewBridgeCClient(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown outbound provider %q", cfg.Provider)
	}
}

func newResty(cfg Config) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		}).
		SetHeader("Accept", "application/json")
}

// checkStatus maps an HTTP failure onto the queue's retry semantics: client errors other
// than throttling and timeouts cannot succeed on retry.
func checkStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("unexpected status code: %d body=%q", code, truncate(resp.String(), 512))
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
