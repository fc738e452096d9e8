package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/schooldesk/assistant/pkg/logging"
)

const reloadChannel = "routing:reload"

// ReloadNotifier broadcasts cache reloads across instances over redis pub/sub
// so a version promotion on one node refreshes every node's cache.
type ReloadNotifier struct {
	client *redis.Client
	logger *logging.Logger
}

// NewReloadNotifier wraps a redis client. A nil client yields a notifier
// whose Publish is a no-op, keeping single-instance deployments simple.
func NewReloadNotifier(client *redis.Client, logger *logging.Logger) *ReloadNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReloadNotifier{client: client, logger: logger}
}

// Publish announces that the routing configuration changed.
func (n *ReloadNotifier) Publish(ctx context.Context) error {
	if n == nil || n.client == nil {
		return nil
	}
	if err := n.client.Publish(ctx, reloadChannel, "reload").Err(); err != nil {
		return fmt.Errorf("routing: publish reload: %w", err)
	}
	return nil
}

// Listen subscribes to reload announcements and invokes fn for each one until
// the context is cancelled. Reload is idempotent, so duplicate deliveries are
// harmless.
func (n *ReloadNotifier) Listen(ctx context.Context, fn func(context.Context) error) {
	if n == nil || n.client == nil || fn == nil {
		return
	}

	sub := n.client.Subscribe(ctx, reloadChannel)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.logger.Debug("reload notification received", "payload", msg.Payload)
				if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
					n.logger.Error("notified reload failed", "error", err)
				}
			}
		}
	}()
}
