// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("command bus closed")

// Bus publishes commands and routes them to a handler.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	embedded   *EmbeddedServer
	logger     watermill.LoggerAdapter

	mu      sync.RWMutex
	closed  bool
	started bool
}

// RouterOptions bound handler retries.
type RouterOptions struct {
	CloseTimeout    time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRouterOptions returns production retry bounds.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		CloseTimeout:    30 * time.Second,
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// New builds the bus for the configured backend and registers h as the
// consumer of Topic. The router is not started until Run.
func New(cfg config.MessagingConfig, h *Handler, opts RouterOptions) (*Bus, error) {
	logger := logging.NewWatermillAdapter(logging.WithComponent("commands"))

	b := &Bus{logger: logger}
	switch cfg.Backend {
	case "", BackendMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		b.publisher, b.subscriber = ch, ch
	case BackendNATS:
		if err := b.openNATS(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: opts.CloseTimeout}, logger)
	if err != nil {
		_ = b.closeTransport()
		return nil, fmt.Errorf("create watermill router: %w", err)
	}
	router.AddMiddleware(dropExhausted(logger), middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      opts.MaxRetries,
		InitialInterval: opts.InitialInterval,
		MaxInterval:     opts.MaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)
	router.AddConsumerHandler("command-handler", Topic, b.subscriber, h.Handle)
	b.router = router
	return b, nil
}

// dropExhausted acks a message whose handler still fails after retries, so
// neither backend redelivers it forever.
func dropExhausted(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			out, err := h(msg)
			if err != nil {
				metrics.CommandsHandled.WithLabelValues(msg.Metadata.Get(metaType), "dropped").Inc()
				logger.Error("Command dropped after retries", err, watermill.LogFields{"command_id": msg.UUID})
				return nil, nil
			}
			return out, nil
		}
	}
}

func (b *Bus) openNATS(cfg config.MessagingConfig) error {
	url := cfg.NATSURL
	if cfg.EmbeddedNATS {
		srv, err := NewEmbeddedServer(cfg)
		if err != nil {
			return err
		}
		b.embedded = srv
		url = srv.ClientURL()
	}
	if url == "" {
		return fmt.Errorf("nats backend requires nats_url or embedded_nats")
	}

	logger := b.logger
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
	js := wmNats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		DurablePrefix: "cinecohort",
		PublishOptions: []natsgo.PubOpt{
			natsgo.RetryAttempts(3),
			natsgo.RetryWait(100 * time.Millisecond),
		},
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   js,
	}, logger)
	if err != nil {
		b.shutdownEmbedded()
		return fmt.Errorf("create watermill publisher: %w", err)
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "cinecohort",
		SubscribersCount: 1,
		AckWaitTimeout:   time.Minute,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        js,
	}, logger)
	if err != nil {
		_ = pub.Close()
		b.shutdownEmbedded()
		return fmt.Errorf("create watermill subscriber: %w", err)
	}
	b.publisher, b.subscriber = pub, sub
	return nil
}

// Publish sends cmd to the command topic and returns its message ID. The
// correlation ID of ctx travels with the message.
func (b *Bus) Publish(ctx context.Context, cmd Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", ErrBusClosed
	}

	msg, err := encode(cmd, logging.CorrelationIDFromContext(ctx))
	if err != nil {
		return "", err
	}
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	if err := b.publisher.Publish(Topic, msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", cmd.Type, err)
	}
	metrics.CommandsPublished.WithLabelValues(string(cmd.Type)).Inc()
	logging.Ctx(ctx).Debug().
		Str("command_id", msg.UUID).
		Str("command_type", string(cmd.Type)).
		Int64("cohort_id", cmd.CohortID).
		Msg("Command published")
	return msg.UUID, nil
}

// Run starts the router and blocks until ctx is done or the router stops.
// A closed bus cannot be run again.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.started = true
	b.mu.Unlock()
	return b.router.Run(ctx)
}

// Running is closed once the router is consuming.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Ready reports whether the bus is consuming commands.
func (b *Bus) Ready(context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	select {
	case <-b.router.Running():
		if b.router.IsClosed() {
			return ErrBusClosed
		}
		return nil
	default:
		return errors.New("command router is not running")
	}
}

// Close stops the router and releases the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	// Closing a router that never ran waits out the whole close timeout.
	var errs []error
	if b.router != nil && started {
		errs = append(errs, b.router.Close())
	}
	errs = append(errs, b.closeTransport())
	return errors.Join(errs...)
}

func (b *Bus) closeTransport() error {
	var errs []error
	if b.publisher != nil {
		errs = append(errs, b.publisher.Close())
	}
	// gochannel is both ends; closing it twice is harmless.
	if b.subscriber != nil {
		errs = append(errs, b.subscriber.Close())
	}
	b.shutdownEmbedded()
	return errors.Join(errs...)
}

func (b *Bus) shutdownEmbedded() {
	if b.embedded == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.embedded.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown failed")
	}
	b.embedded = nil
}
