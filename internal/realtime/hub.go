package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/metrics"
)

const defaultBuffer = 64

// Hub is an in-process Source and Publisher. Each subscription gets its own
// buffered queue and goroutine so a slow subscriber never blocks publishers;
// events for a full queue are dropped and logged.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*hubSubscription
	nextID uint64
	buffer int
	logger *zap.Logger
}

type hubSubscription struct {
	hub   *Hub
	topic string
	id    uint64
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// NewHub creates a hub. buffer <= 0 selects the default queue size.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[uint64]*hubSubscription),
		buffer: buffer,
		logger: logger.Named("realtime"),
	}
}

func (h *Hub) Subscribe(topic string, fn func(Event)) (Subscription, error) {
	h.mu.Lock()
	h.nextID++
	sub := &hubSubscription{
		hub:   h,
		topic: topic,
		id:    h.nextID,
		ch:    make(chan Event, h.buffer),
		done:  make(chan struct{}),
	}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]*hubSubscription)
	}
	h.subs[topic][sub.id] = sub
	h.mu.Unlock()

	go sub.run(fn)

	h.logger.Debug("subscribed", zap.String("topic", topic), zap.Uint64("subscription", sub.id))
	return sub, nil
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
			metrics.PushEvents.WithLabelValues(string(ev.Op), "queued").Inc()
		default:
			metrics.PushEvents.WithLabelValues(string(ev.Op), "dropped").Inc()
			h.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", ev.Topic),
				zap.String("op", string(ev.Op)),
				zap.String("id", ev.ID),
			)
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*hubSubscription
	for _, subs := range h.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
}

func (s *hubSubscription) run(fn func(Event)) {
	for {
		select {
		case ev := <-s.ch:
			fn(ev)
		case <-s.done:
			return
		}
	}
}

func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.subs[s.topic]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.hub.subs, s.topic)
			}
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
}

var (
	_ Source    = (*Hub)(nil)
	_ Publisher = (*Hub)(nil)
)
