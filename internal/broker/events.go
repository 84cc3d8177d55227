package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// saleKey keeps every event of one sale on the same partition.
func saleKey(saleID string) string {
	return fmt.Sprintf("sale-%s", saleID)
}

// PublishSaleCommitted publishes SaleCommitted event
func (ep *EventPublisher) PublishSaleCommitted(ctx context.Context, event *models.SaleCommittedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishSaleCancelled publishes SaleCancelled event
func (ep *EventPublisher) PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishPaymentRecordingFailed publishes PaymentRecordingFailed event
func (ep *EventPublisher) PublishPaymentRecordingFailed(ctx context.Context, event *models.PaymentRecordingFailedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentRecordingFailed func(context.Context, *models.PaymentRecordingFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentRecordingFailed registers a handler for PaymentRecordingFailed events
func (eh *EventHandler) OnPaymentRecordingFailed(handler func(context.Context, *models.PaymentRecordingFailedEvent) error) {
	eh.onPaymentRecordingFailed = handler
}

// HandleMessage routes messages to appropriate handlers. Sale lifecycle
// events are for downstream consumers and are skipped here.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentRecordingFailed:
		if eh.onPaymentRecordingFailed != nil {
			var event models.PaymentRecordingFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: PaymentRecordingFailed: %v", ErrMalformedEvent, err)
			}
			return eh.onPaymentRecordingFailed(ctx, &event)
		}

	case models.EventTypeSaleCommitted, models.EventTypeSaleCancelled:

	default:
		logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
