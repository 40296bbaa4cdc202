package invalidation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"permguard/internal/permission/metrics"
	"permguard/internal/permission/ports"
)

// Handler applies invalidation messages to the local cache.
type Handler struct {
	cache   ports.Cache
	origin  string
	forget  func(keys ...string)
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type HandlerOption func(h *Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithForget runs forget on a message's keys before they are deleted, so
// local loads in flight for them do not refill the cache.
func WithForget(forget func(keys ...string)) HandlerOption {
	return func(h *Handler) {
		h.forget = forget
	}
}

// NewHandler builds a handler that ignores messages published by origin.
func NewHandler(cache ports.Cache, origin string, opts ...HandlerOption) *Handler {
	h := &Handler{cache: cache, origin: origin}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle deletes the keys a record names. Undecodable records are skipped so
// they are not redelivered forever; cache failures are returned.
func (h *Handler) Handle(ctx context.Context, rec *kgo.Record) error {
	msg, err := decode(rec.Value)
	if err != nil {
		h.warn(ctx, "skipping malformed invalidation message",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
		return nil
	}
	if msg.Origin == h.origin || len(msg.Keys) == 0 {
		return nil
	}
	if h.forget != nil {
		h.forget(msg.Keys...)
	}
	if err := h.cache.Delete(ctx, msg.Keys...); err != nil {
		h.metrics.IncrementInvalidation("remote_error")
		return err
	}
	h.metrics.IncrementInvalidation("remote")
	return nil
}

func (h *Handler) warn(ctx context.Context, msg string, attrs ...any) {
	if h.logger != nil {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
}

// Fetcher is the slice of *kgo.Client the consumer needs.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
}

// Consumer polls the invalidation topic and feeds records to a Handler.
type Consumer struct {
	client  Fetcher
	handler *Handler
	logger  *slog.Logger
}

func NewConsumer(client Fetcher, handler *Handler, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, handler: handler, logger: logger}
}

// Run polls until ctx is done or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			if c.logger != nil {
				c.logger.Warn("invalidation fetch failed", "topic", topic, "partition", partition, "error", err)
			}
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			if err := c.handler.Handle(ctx, rec); err != nil && c.logger != nil {
				c.logger.Warn("invalidation apply failed", "key", string(rec.Key), "error", err)
			}
		})
	}
}
