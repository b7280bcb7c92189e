package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/repository"

	"go.uber.org/zap"
)

const defaultDeliveryTimeout = 10 * time.Second

// Async delivers notifications in the background after the transition that produced them has
// committed. Failures are logged and the intent stays pending in the outbox.
type Async struct {
	dispatcher Dispatcher
	outbox     repository.OutboxRepository
	timeout    time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewAsync creates a background deliverer. outbox may be nil when intents are not persisted.
func NewAsync(dispatcher Dispatcher, outbox repository.OutboxRepository, timeout time.Duration, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Async{dispatcher: dispatcher, outbox: outbox, timeout: timeout, logger: logger}
}

// Deliver starts delivery and returns immediately.
func (a *Async) Deliver(ctx context.Context, notifications []domain.Notification) {
	if len(notifications) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, n := range notifications {
		a.wg.Add(1)
		go func(n domain.Notification) {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(base, a.timeout)
			defer cancel()
			a.deliver(ctx, n)
		}(n)
	}
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Relay synchronously redelivers intents left pending by earlier processes.
func (a *Async) Relay(ctx context.Context, limit int) (int, error) {
	if a.outbox == nil {
		return 0, nil
	}
	pending, err := a.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, n := range pending {
		deliveryCtx, cancel := context.WithTimeout(ctx, a.timeout)
		if a.deliver(deliveryCtx, n) {
			delivered++
		}
		cancel()
	}
	if len(pending) > 0 {
		a.logger.Info("relayed pending notifications", zap.Int("pending", len(pending)), zap.Int("delivered", delivered))
	}
	return delivered, nil
}

func (a *Async) deliver(ctx context.Context, n domain.Notification) bool {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("notification dispatcher panicked", zap.Any("panic", p), zap.String("notification_id", n.ID.String()))
		}
	}()

	if err := a.dispatcher.Dispatch(ctx, n); err != nil {
		a.logger.Warn("notification delivery failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("kind", string(n.Kind)),
			zap.String("document_id", n.DocumentID.String()),
			zap.Error(err),
		)
		return false
	}
	if a.outbox == nil {
		return true
	}
	if err := a.outbox.MarkDispatched(ctx, n.ID); err != nil {
		a.logger.Warn("failed to mark notification dispatched", zap.String("notification_id", n.ID.String()), zap.Error(err))
		return false
	}
	return true
}
