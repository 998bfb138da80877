package kafka

import (
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
)

// NewSubscriber creates a consumer-group subscriber for the events topic
func NewSubscriber(cfg *config.Configuration, log *logger.Logger) (message.Subscriber, error) {
	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Kafka.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: GetSaramaConfig(cfg),
			ConsumerGroup:         cfg.Kafka.ConsumerGroup,
		},
		NewLoggerAdapter(log),
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create kafka subscriber").
			Mark(ierr.ErrSystem)
	}
	return subscriber, nil
}
