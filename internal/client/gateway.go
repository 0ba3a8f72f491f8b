package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// GatewayClient sends through the commercial gateway's form API.
type GatewayClient struct {
	http        *resty.Client
	countryCode string
	log         *zap.Logger
}

func NewGatewayClient(cfg Config, log *zap.Logger) *GatewayClient {
	c := newResty(cfg)
	if cfg.Token != "" {
		c.SetHeader("Authorization", cfg.Token)
	}
	return &GatewayClient{http: c, countryCode: cfg.CountryCode, log: log}
}

type gatewayResponse struct {
	Status bool            `json:"status"`
	ID     json.RawMessage `json:"id"`
	Detail string          `json:"detail"`
	Reason string          `json:"reason"`
}

func (c *GatewayClient) Send(ctx context.Context, phoneNumber, message string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"target":      phoneNumber,
			"message":     message,
			"countryCode": c.countryCode,
		}).
		Post("/send")
	if err != nil {
		return "", fmt.Errorf("gateway send: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var gr gatewayResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, truncate(resp.String(), 512))
	}
	if !gr.Status {
		reason := gr.Reason
		if reason == "" {
			reason = gr.Detail
		}
		return "", fmt.Errorf("gateway rejected message: %s", reason)
	}

	id := firstID(gr.ID)
	if id == "" {
		return "", fmt.Errorf("missing message id in response body=%q", truncate(resp.String(), 512))
	}

	c.log.Debug("gateway message sent", zap.String("remote_message_id", id))
	return id, nil
}

// firstID accepts "id": "x", "id": 12 or "id": ["x", ...].
func firstID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		return firstID(list[0])
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
