package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/inventory-grid/internal/logging"
)

// JetStreamBus реализует EventBus поверх NATS JetStream.
// Subject события: <prefix>.<EventType>.
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	prefix    string
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewJetStreamBus подключается к NATS и создаёт стрим, если его нет.
// url: nats://127.0.0.1:4222, stream: "INVENTORY".
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = "INVENTORY"
	}
	prefix := "inventory"

	nc, err := nats.Connect(url, nats.Name("inventory-grid"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Drain()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err = js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{prefix + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Drain()
			return nil, fmt.Errorf("add stream: %w", err)
		}
		logging.Info("📡 JetStream: создан стрим %s (%s.*)", stream, prefix)
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream, prefix: prefix}, nil
}

func (jb *JetStreamBus) subject(eventType string) string {
	return fmt.Sprintf("%s.%s", jb.prefix, eventType)
}

// Publish сериализует Envelope в JSON и публикует с дедупликацией по ID
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err = jb.js.Publish(jb.subject(ev.EventType), data, nats.MsgId(ev.ID), nats.Context(ctx)); err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("jetstream publish %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт durable consumer и вызывает handler для каждого события
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := jb.prefix + ".*"
	if len(f.Types) == 1 {
		subj = jb.subject(f.Types[0])
	}

	durable := nats.Durable(fmt.Sprintf("sub_%d", time.Now().UnixNano()))

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logging.Warn("JetStream: повреждённый конверт в %s: %v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if matchFilter(&ev, f) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), durable, nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("jetstream subscribe %s: %w", subj, err)
	}

	return &jetSub{natSub}, nil
}

// jetSub обёртка вокруг *nats.Subscription
type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics возвращает счётчики; очередь хранит сам JetStream
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close дожидается отправки буферов и закрывает соединение
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
