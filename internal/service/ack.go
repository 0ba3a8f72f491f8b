package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/cache"
	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/provider"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

// HandleAck records a delivery receipt on the queue entries it refers to. SENT receipts
// carry nothing new, since an entry is marked SENT when the provider accepts it, and
// applying them late could hide a DELIVERED receipt.
func (d *Dispatcher) HandleAck(ctx context.Context, ack *provider.Ack) (Outcome, error) {
	log := ctxutil.Logger(ctx, d.log)

	if ack.Status == model.DeliverySent {
		return Outcome{Processed: true, Action: ActionDeliveryUpdated, Reason: "sent_already_recorded"}, nil
	}

	updated := 0
	for _, remoteID := range ack.MessageIDs {
		entryID, err := d.sent.LookupSent(ctx, remoteID)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			return Outcome{}, internal("lookup sent message", err)
		}

		err = d.queueRepo.UpdateDeliveryStatus(ctx, entryID, ack.Status)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return Outcome{}, internal("update delivery status", err)
		}
		updated++
	}

	if updated == 0 {
		log.Debug("receipt for unknown message ignored", zap.Strings("message_ids", ack.MessageIDs))
		return Outcome{Action: ActionIgnored, Reason: ReasonUnknownMessage}, nil
	}

	log.Info("delivery status updated",
		zap.Int("entries", updated),
		zap.String("status", string(ack.Status)),
	)
	return Outcome{Processed: true, Action: ActionDeliveryUpdated}, nil
}
