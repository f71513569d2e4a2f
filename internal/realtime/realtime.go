// Package realtime carries change events from the durable store to
// subscribers, in process (Hub) or over server-sent events.
package realtime

import (
	"encoding/json"
	"fmt"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event describes one confirmed change to a record on a topic.
type Event struct {
	Topic string          `json:"topic"`
	Op    Op              `json:"op"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event carrying record as its payload. A nil record
// produces an event without data (deletes).
func NewEvent(topic string, op Op, id string, record any) (Event, error) {
	ev := Event{Topic: topic, Op: op, ID: id}
	if record == nil {
		return ev, nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return ev, fmt.Errorf("encode %s event for %s: %w", op, topic, err)
	}
	ev.Data = data
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s %s has no data", e.Op, e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// Subscription is a live registration on a Source.
type Subscription interface {
	Unsubscribe()
}

// Source delivers events for a topic. Delivery order relative to the
// subscriber's own writes is not guaranteed.
type Source interface {
	Subscribe(topic string, fn func(Event)) (Subscription, error)
}

// Publisher accepts events produced by the durable store.
type Publisher interface {
	Publish(ev Event)
}

func CommentsTopic(bountyID string) string {
	return "bounty-comments:" + bountyID
}

func NotificationsTopic(userID string) string {
	return "notifications:" + userID
}
