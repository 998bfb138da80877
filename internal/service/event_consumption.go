package service

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/events/transform"
	"github.com/flexprice/usagemeter/internal/kafka"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
)

const eventConsumptionHandler = "usage_cache_invalidation_handler"

// EventConsumptionService drops the partial aggregates of a subscription
// that new events on the events topic make stale
type EventConsumptionService interface {
	RegisterHandler(router *kafka.Router, subscriber message.Subscriber)
}

type eventConsumptionService struct {
	ServiceParams
	usage UsageService
}

func NewEventConsumptionService(params ServiceParams, usage UsageService) EventConsumptionService {
	return &eventConsumptionService{
		ServiceParams: params,
		usage:         usage,
	}
}

func (s *eventConsumptionService) RegisterHandler(router *kafka.Router, subscriber message.Subscriber) {
	var middlewares []message.HandlerMiddleware
	if s.Config.Kafka.RateLimit > 0 {
		middlewares = append(middlewares, middleware.NewThrottle(s.Config.Kafka.RateLimit, time.Second).Middleware)
	}

	router.AddNoPublisherHandler(
		eventConsumptionHandler,
		s.Config.Kafka.Topic,
		subscriber,
		s.processMessage,
		middlewares...,
	)
}

type subscriptionRef struct {
	organizationID string
	subscriptionID string
}

// processMessage accepts a single event payload or a batch. Malformed
// messages are logged and acknowledged; retrying them cannot succeed. A
// failed invalidation is returned so the message is redelivered.
func (s *eventConsumptionService) processMessage(msg *message.Message) error {
	ctx := msg.Context()
	if requestID := msg.Metadata.Get("request_id"); requestID != "" {
		ctx = types.SetRequestID(ctx, requestID)
	}
	log := s.Logger.WithContext(ctx)

	evts, err := s.parse(msg)
	if err != nil {
		log.Errorw("dropping malformed event message",
			"message_uuid", msg.UUID,
			"error", err,
		)
		return nil
	}

	earliest := earliestBySubscription(evts)
	for _, ref := range lo.Keys(earliest) {
		if err := s.usage.InvalidateSubscription(ctx, ref.organizationID, ref.subscriptionID, earliest[ref]); err != nil {
			log.Errorw("failed to invalidate partial aggregates",
				"message_uuid", msg.UUID,
				"subscription_id", ref.subscriptionID,
				"error", err,
			)
			return err
		}
	}

	log.Debugw("processed event message",
		"message_uuid", msg.UUID,
		"event_count", len(evts),
		"subscription_count", len(earliest),
	)
	return nil
}

// earliestBySubscription keeps the smallest event timestamp per subscription
func earliestBySubscription(evts []*events.Event) map[subscriptionRef]time.Time {
	earliest := make(map[subscriptionRef]time.Time)
	for _, e := range evts {
		ref := subscriptionRef{organizationID: e.OrganizationID, subscriptionID: e.SubscriptionID}
		if t, ok := earliest[ref]; !ok || e.Timestamp.Before(t) {
			earliest[ref] = e.Timestamp
		}
	}
	return earliest
}

func (s *eventConsumptionService) parse(msg *message.Message) ([]*events.Event, error) {
	if msg.Metadata.Get("batch") == "true" {
		evts, itemErrs, err := transform.TransformBatch(msg.Payload)
		if err != nil {
			return nil, err
		}
		for _, itemErr := range itemErrs {
			s.Logger.Warnw("skipping malformed event in batch",
				"message_uuid", msg.UUID,
				"error", itemErr,
			)
		}
		return evts, nil
	}

	e, err := transform.TransformPayloadToEvent(msg.Payload, msg.Metadata.Get("organization_id"))
	if err != nil || e == nil {
		return nil, err
	}
	return []*events.Event{e}, nil
}
