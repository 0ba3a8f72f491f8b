package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// BridgeBClient sends through the session-based bridge's REST API.
type BridgeBClient struct {
	http    *resty.Client
	session string
	log     *zap.Logger
}

func NewBridgeBClient(cfg Config, log *zap.Logger) *BridgeBClient {
	c := newResty(cfg).SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		c.SetHeader("X-Api-Key", cfg.Token)
	}
	session := cfg.Session
	if session == "" {
		session = "default"
	}
	return &BridgeBClient{http: c, session: session, log: log}
}

type bridgeBRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

type bridgeBResponse struct {
	ID json.RawMessage `json:"id"`
}

func (c *BridgeBClient) Send(ctx context.Context, phoneNumber, message string) (string, error) {
	var br bridgeBResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(bridgeBRequest{
			ChatID:  chatID(phoneNumber, "@c.us"),
			Text:    message,
			Session: c.session,
		}).
		SetResult(&br).
		Post("/api/sendText")
	if err != nil {
		return "", fmt.Errorf("bridge-b send: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	id := serializedID(br.ID)
	if id == "" {
		return "", fmt.Errorf("missing message id in response body=%q", truncate(resp.String(), 512))
	}
	c.log.Debug("bridge-b message sent", zap.String("remote_message_id", id))
	return id, nil
}

// serializedID accepts "id": "x" or "id": {"_serialized": "x"}.
func serializedID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Serialized string `json:"_serialized"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Serialized
	}
	return ""
}

// BridgeCClient sends through the multi-device bridge's REST API.
type BridgeCClient struct {
	http *resty.Client
	log  *zap.Logger
}

func NewBridgeCClient(cfg Config, log *zap.Logger) *BridgeCClient {
	c := newResty(cfg).SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &BridgeCClient{http: c, log: log}
}

type bridgeCRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type bridgeCResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

func (c *BridgeCClient) Send(ctx context.Context, phoneNumber, message string) (string, error) {
	var cr bridgeCResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(bridgeCRequest{
			Phone:   chatID(phoneNumber, "@s.whatsapp.net"),
			Message: message,
		}).
		SetResult(&cr).
		Post("/send/message")
	if err != nil {
		return "", fmt.Errorf("bridge-c send: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	if cr.Code != "" && !strings.EqualFold(cr.Code, "SUCCESS") {
		return "", fmt.Errorf("bridge-c rejected message: %s: %s", cr.Code, cr.Message)
	}
	if cr.Results.MessageID == "" {
		return "", fmt.Errorf("missing message id in response body=%q", truncate(resp.String(), 512))
	}

	c.log.Debug("bridge-c message sent", zap.String("remote_message_id", cr.Results.MessageID))
	return cr.Results.MessageID, nil
}

func chatID(phoneNumber, suffix string) string {
	if strings.Contains(phoneNumber, "@") {
		return phoneNumber
	}
	return strings.TrimPrefix(phoneNumber, "+") + suffix
}
