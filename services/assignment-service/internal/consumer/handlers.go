package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/assignment"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// Assigner is the part of the coordinator driven by order events.
type Assigner interface {
	AutoAssign(ctx context.Context, order model.Order) (assignment.Result, error)
	Reassign(ctx context.Context, order model.Order, providerID *string) (assignment.Result, error)
}

type reassignRequested struct {
	Order      model.Order `json:"order"`
	ProviderID *string     `json:"provider_id,omitempty"`
}

// OrderPlaced runs auto assignment for a placed order. Undecodable payloads are logged
// and dropped; only infrastructure errors are returned for retry.
func OrderPlaced(coord Assigner, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var order model.Order
		if err := json.Unmarshal(msg.Value, &order); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		res, err := coord.AutoAssign(ctx, order)
		if err != nil {
			return err
		}
		logResult(logger, msg.Topic, order.ID, res)
		return nil
	}
}

func ReassignRequested(coord Assigner, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload reassignRequested
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		res, err := coord.Reassign(ctx, payload.Order, payload.ProviderID)
		if err != nil {
			return err
		}
		logResult(logger, msg.Topic, payload.Order.ID, res)
		return nil
	}
}

func logResult(logger *slog.Logger, topic, orderID string, res assignment.Result) {
	logger.Info("order event handled",
		"topic", topic,
		"order_id", orderID,
		"provider_id", res.ProviderID,
		"booking_id", res.BookingID,
		"reason", res.Reason,
	)
}
