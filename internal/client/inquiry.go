package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type InquiryRequest struct {
	PatientID string `json:"patientId"`
	Phone     string `json:"phone"`
	Name      string `json:"name,omitempty"`
	Message   string `json:"message"`
	Context   string `json:"context"`
}

type InquiryAnswer struct {
	Reply string `json:"reply"`
	// Confidence is 0-100.
	Confidence *int `json:"confidence,omitempty"`
	// Escalate asks for a human volunteer instead of an automated reply.
	Escalate bool `json:"escalate"`
}

// InquiryClient delegates free-text questions to the external inquiry capability.
type InquiryClient struct {
	http *resty.Client
	url  string
	log  *zap.Logger
}

func NewInquiryClient(url string, timeout time.Duration, log *zap.Logger) *InquiryClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &InquiryClient{http: c, url: url, log: log}
}

func (c *InquiryClient) Answer(ctx context.Context, req InquiryRequest) (InquiryAnswer, error) {
	var ans InquiryAnswer
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&ans).
		Post(c.url)
	if err != nil {
		return InquiryAnswer{}, fmt.Errorf("inquiry request: %w", err)
	}
	if resp.IsError() {
		return InquiryAnswer{}, fmt.Errorf("inquiry request: unexpected status code: %d", resp.StatusCode())
	}
	if ans.Confidence != nil {
		v := min(max(*ans.Confidence, 0), 100)
		ans.Confidence = &v
	}

	c.log.Debug("inquiry answered",
		zap.Bool("escalate", ans.Escalate),
		zap.Duration("latency", resp.Time()),
	)
	return ans, nil
}
