package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ticket-resale/internal/models"
	"ticket-resale/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink delivers a keyed event. *Producer is the production sink.
type Sink interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) PublishEvent(context.Context, string, interface{}) error { return nil }

// EventPublisher handles publishing domain events
type EventPublisher struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(sink Sink) *EventPublisher {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventPublisher{sink: sink, logger: util.Component("events"), now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now(),
	}
}

// publish never fails the caller: the state change is already committed.
func (ep *EventPublisher) publish(ctx context.Context, key string, event interface{}) {
	if err := ep.sink.PublishEvent(ctx, key, event); err != nil {
		ep.logger.Error("Failed to publish event", zap.String("key", key), zap.Error(err))
	}
}

func listingKey(id int64) string { return fmt.Sprintf("listing-%d", id) }

func orderKey(id int64) string { return fmt.Sprintf("order-%d", id) }

// PublishListingCreated publishes LISTING_CREATED
func (ep *EventPublisher) PublishListingCreated(ctx context.Context, listing *models.Listing, ticketIDs []int64, flags []models.RiskFlag) {
	kinds := make([]models.RiskFlagKind, 0, len(flags))
	for _, f := range flags {
		kinds = append(kinds, f.Kind)
	}
	ep.publish(ctx, listingKey(listing.ID), &models.ListingCreatedEvent{
		BaseEvent:      ep.base(models.EventTypeListingCreated),
		ListingID:      listing.ID,
		SellerID:       listing.SellerID,
		ApprovalStatus: listing.ApprovalStatus(),
		TicketIDs:      ticketIDs,
		RiskFlags:      kinds,
	})
}

// PublishListingStateChanged publishes the event matching the listing's new state
func (ep *EventPublisher) PublishListingStateChanged(ctx context.Context, listing *models.Listing, actorID int64) {
	eventType := models.EventTypeListingCancelled
	switch listing.State {
	case models.ListingActive:
		eventType = models.EventTypeListingApproved
	case models.ListingRejected:
		eventType = models.EventTypeListingRejected
	}
	ep.publish(ctx, listingKey(listing.ID), &models.ListingStateChangedEvent{
		BaseEvent: ep.base(eventType),
		ListingID: listing.ID,
		State:     listing.State,
		ActorID:   actorID,
		Reason:    listing.StateReason,
	})
}

// PublishOrderCreated publishes ORDER_CREATED
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ListingID: item.ListingID,
			TicketID:  item.TicketID,
			UnitPrice: item.UnitPrice,
		})
	}
	ep.publish(ctx, orderKey(order.ID), &models.OrderCreatedEvent{
		BaseEvent:   ep.base(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		TotalAmount: order.TotalAmount,
		ExpiresAt:   order.ExpiresAt,
		Items:       data,
	})
}

// PublishOrderCompleted publishes ORDER_COMPLETED
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, order *models.Order, payment *models.PaymentRecord) {
	ep.publish(ctx, orderKey(order.ID), &models.OrderCompletedEvent{
		BaseEvent: ep.base(models.EventTypeOrderCompleted),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Method:    string(payment.Method),
	})
}

// PublishOrderCancelled publishes ORDER_CANCELLED
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, orderID int64, reason string) {
	ep.publish(ctx, orderKey(orderID), &models.OrderCancelledEvent{
		BaseEvent: ep.base(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    reason,
	})
}

// PublishRefundIssued publishes REFUND_ISSUED
func (ep *EventPublisher) PublishRefundIssued(ctx context.Context, caseID int64, refund *models.PaymentRecord, reason string) {
	ep.publish(ctx, orderKey(refund.OrderID), &models.RefundIssuedEvent{
		BaseEvent: ep.base(models.EventTypeRefundIssued),
		CaseID:    caseID,
		OrderID:   refund.OrderID,
		PaymentID: refund.ID,
		Amount:    refund.Amount,
		Reason:    reason,
	})
}

// PublishUserBlacklisted publishes USER_BLACKLISTED
func (ep *EventPublisher) PublishUserBlacklisted(ctx context.Context, entry *models.BlacklistEntry) {
	ep.publish(ctx, fmt.Sprintf("user-%d", entry.UserID), &models.UserBlacklistedEvent{
		BaseEvent: ep.base(models.EventTypeUserBlacklisted),
		UserID:    entry.UserID,
		Reason:    entry.Reason,
	})
}

// EventHandler routes incoming identity events
type EventHandler struct {
	onKYCLevelUpdated func(context.Context, *models.KYCLevelUpdatedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Component("events")}
}

// OnKYCLevelUpdated registers a handler for KYC_LEVEL_UPDATED events
func (eh *EventHandler) OnKYCLevelUpdated(handler func(context.Context, *models.KYCLevelUpdatedEvent) error) {
	eh.onKYCLevelUpdated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeKYCLevelUpdated:
		if eh.onKYCLevelUpdated != nil {
			var event models.KYCLevelUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal KYCLevelUpdated event: %w", err)
			}
			return eh.onKYCLevelUpdated(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
