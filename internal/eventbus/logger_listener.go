package eventbus

import (
	"context"

	"github.com/annel0/inventory-grid/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Возвращает подписку, чтобы её можно было снять при остановке.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		logging.Debug("[EventBus] %s %s inv=%s src=%s prio=%d size=%dB",
			ev.ID, ev.EventType, ev.Tenant, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
