// Package notify delivers notification intents recorded by committed transitions.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dispatcher delivers a single notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification) error
}

// publisher is the subset of the redis client the publisher needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// StatusEvent is the payload published on a document's real-time channel.
type StatusEvent struct {
	Event      string         `json:"event"`
	DocumentID string         `json:"document_id"`
	Recipient  string         `json:"recipient,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RedisPublisher publishes notifications to redis pub/sub so real-time gateways can fan them
// out to connected clients.
type RedisPublisher struct {
	rdb    publisher
	prefix string
	logger *zap.Logger
}

// NewRedisPublisher creates a publisher. prefix is prepended to every channel name.
func NewRedisPublisher(rdb publisher, prefix string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, logger: logger}
}

// Channel returns the channel a document's events are published on.
func (p *RedisPublisher) Channel(n domain.Notification) string {
	return p.prefix + domain.StatusChannel(n.DocumentID)
}

// Dispatch publishes n on the document channel.
func (p *RedisPublisher) Dispatch(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(StatusEvent{
		Event:      string(n.Kind),
		DocumentID: n.DocumentID.String(),
		Recipient:  n.Recipient,
		Data:       n.Context,
		Timestamp:  n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := p.Channel(n)
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("published notification", zap.String("channel", channel), zap.String("kind", string(n.Kind)))
	return nil
}

// LogDispatcher records notifications in the log. It stands in for email delivery, which is
// owned by a separate mail service.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a log dispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	d.logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.Recipient),
		zap.String("document_id", n.DocumentID.String()),
		zap.Any("context", n.Context),
	)
	return nil
}

// Multi fans a notification out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
