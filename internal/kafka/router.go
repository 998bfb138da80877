package kafka

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
)

// Router runs the message handlers of the service
type Router struct {
	router *message.Router
	logger *logger.Logger
}

func NewRouter(log *logger.Logger) (*Router, error) {
	adapter := NewLoggerAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, adapter)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create message router").
			Mark(ierr.ErrSystem)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			Logger:          adapter,
		}.Middleware,
	)

	return &Router{router: router, logger: log}, nil
}

// AddNoPublisherHandler registers a consuming handler with optional handler
// specific middlewares
func (r *Router) AddNoPublisherHandler(
	name string,
	topic string,
	subscriber message.Subscriber,
	handler message.NoPublishHandlerFunc,
	middlewares ...message.HandlerMiddleware,
) {
	h := r.router.AddNoPublisherHandler(name, topic, subscriber, handler)
	for _, m := range middlewares {
		h.AddMiddleware(m)
	}
	r.logger.Infow("registered message handler", "handler", name, "topic", topic)
}

// Run blocks until ctx is cancelled or the router is closed
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}
