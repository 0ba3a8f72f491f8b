// Package queue is the outbound message queue: prioritized enqueue and a retrying worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

const DefaultMaxRetries = 3

type Request struct {
	PatientID *string
	Phone     string
	Content   string
	Type      model.MessageType
	Priority  model.Priority
	// MaxRetries defaults to the queue's configured value when zero.
	MaxRetries int
	// NotBefore delays the first attempt.
	NotBefore *time.Time
}

type Queue struct {
	entries    repo.QueueRepository
	maxRetries int
	log        *zap.Logger
	now        func() time.Time
}

func New(entries repo.QueueRepository, maxRetries int, log *zap.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{entries: entries, maxRetries: maxRetries, log: log, now: time.Now}
}

// Enqueue stores a pending entry. Sends never happen inside the caller's request.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*model.Message, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return nil, errors.New("recipient phone is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", req.Priority)
	}
	if req.Type == "" {
		req.Type = model.MessageGeneral
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = q.maxRetries
	}

	m := &model.Message{
		PatientID:      req.PatientID,
		RecipientPhone: req.Phone,
		Content:        req.Content,
		MessageType:    req.Type,
		Priority:       req.Priority,
		PriorityScore:  req.Priority.Score(),
		Status:         model.Pending,
		MaxRetries:     req.MaxRetries,
		NextRetryAt:    req.NotBefore,
		CreatedAt:      q.now().UTC(),
	}
	if err := q.entries.Enqueue(ctx, m); err != nil {
		return nil, fmt.Errorf("enqueue %s message: %w", req.Type, err)
	}

	ctxutil.Logger(ctx, q.log).Debug("message enqueued",
		zap.String("entry_id", m.ID),
		zap.String("type", string(m.MessageType)),
		zap.String("priority", string(m.Priority)),
	)
	return m, nil
}
