package queue

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

// ErrPermanent marks send failures that no retry can fix.
var ErrPermanent = errors.New("permanent send failure")

type SendClient interface {
	Send(ctx context.Context, phoneNumber, message string) (remoteMessageID string, err error)
}

type Sender struct {
	client     SendClient
	contentMax int

	onSent   func(ctx context.Context, m model.Message, remoteMessageID string) error
	onFailed func(ctx context.Context, m model.Message, cause error) error
}

func NewSender(client SendClient, contentMax int) *Sender {
	return &Sender{
		client:     client,
		contentMax: contentMax,
	}
}

func (s *Sender) WithHooks(
	onSent func(ctx context.Context, m model.Message, remoteMessageID string) error,
	onFailed func(ctx context.Context, m model.Message, cause error) error,
) *Sender {
	s.onSent = onSent
	s.onFailed = onFailed
	return s
}

func (s *Sender) ProcessBatch(ctx context.Context, msgs []model.Message) (sent int, failed int) {
	for _, m := range msgs {
		if ctx.Err() != nil {
			return sent, failed
		}

		if utf8.RuneCountInString(m.Content) > s.contentMax {
			failed++
			s.fail(ctx, m, fmt.Errorf("%w: content exceeds %d chars", ErrPermanent, s.contentMax))
			continue
		}

		remoteID, err := s.client.Send(ctx, m.RecipientPhone, m.Content)
		if err != nil {
			failed++
			s.fail(ctx, m, err)
			continue
		}

		sent++
		if s.onSent != nil {
			_ = s.onSent(ctx, m, remoteID)
		}
	}
	return sent, failed
}

func (s *Sender) fail(ctx context.Context, m model.Message, cause error) {
	if s.onFailed != nil {
		_ = s.onFailed(ctx, m, cause)
	}
}
