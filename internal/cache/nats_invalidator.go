package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/inventory-grid/internal/logging"
)

// NATSInvalidator рассылает инвалидации через NATS Pub/Sub.
// Собственные сообщения узла и повторы (не новее уже обработанного
// для того же ключа) игнорируются.
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	window  time.Duration
	log     *logging.Logger

	mu           sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler
	recentKeys   map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	publishedCount atomic.Int64
	receivedCount  atomic.Int64
	errorsCount    atomic.Int64
}

// InvalidatorConfig — параметры подключения к NATS
type InvalidatorConfig struct {
	NATSURL       string
	Subject       string        // по умолчанию "inventory.cache.invalidation"
	MaxReconnects int           // по умолчанию 10
	ReconnectWait time.Duration // по умолчанию 2s
	DedupeWindow  time.Duration // сколько помнить обработанные ключи, по умолчанию 1s
}

// InvalidationMessage — сообщение об устаревшем ключе
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS
func NewNATSInvalidator(cfg InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if cfg.Subject == "" {
		cfg.Subject = "inventory.cache.invalidation"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.DedupeWindow == 0 {
		cfg.DedupeWindow = time.Second
	}
	log := logging.GetStorageLogger()

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("inventory-grid-cache"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATSInvalidator{
		conn:       conn,
		subject:    cfg.Subject,
		nodeID:     nodeID,
		window:     cfg.DedupeWindow,
		log:        log,
		recentKeys: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
	n.startDedupeCleanup()

	log.Info("NATS invalidator initialized: %s (subject: %s)", cfg.NATSURL, cfg.Subject)
	return n, nil
}

// PublishInvalidation уведомляет остальные узлы об изменении ключа
func (n *NATSInvalidator) PublishInvalidation(_ context.Context, key string) error {
	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now().UTC(), NodeID: n.nodeID})
	if err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	n.publishedCount.Add(1)
	n.log.Debug("Published invalidation for key: %s", key)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	sub, err := n.conn.Subscribe(n.subject, n.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription, n.handler = sub, handler

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()
	return nil
}

func (n *NATSInvalidator) handleMessage(msg *nats.Msg) {
	n.receivedCount.Add(1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		n.errorsCount.Add(1)
		n.log.Warn("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if m.NodeID == n.nodeID {
		return
	}

	n.mu.Lock()
	if seen, ok := n.recentKeys[m.Key]; ok && !m.Timestamp.After(seen) {
		n.mu.Unlock()
		return
	}
	n.recentKeys[m.Key] = m.Timestamp
	handler := n.handler
	n.mu.Unlock()

	if handler == nil {
		return
	}
	if err := handler(m.Key); err != nil {
		n.errorsCount.Add(1)
		n.log.Warn("Invalidation handler failed for key %s: %v", m.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		n.log.Warn("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

func (n *NATSInvalidator) cleanupDedupe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	cutoff := time.Now().Add(-n.window)
	for key, ts := range n.recentKeys {
		if ts.Before(cutoff) {
			delete(n.recentKeys, key)
		}
	}
}

// Stats возвращает счётчики publish/receive/errors
func (n *NATSInvalidator) Stats() (published, received, errors int64) {
	return n.publishedCount.Load(), n.receivedCount.Load(), n.errorsCount.Load()
}

// Close снимает подписку и закрывает соединение
func (n *NATSInvalidator) Close() error {
	n.once.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.conn.Close()
		n.log.Info("NATS invalidator closed")
	})
	return nil
}
