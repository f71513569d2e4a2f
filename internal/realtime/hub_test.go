package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubDeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub(4, nil)
	defer hub.Close()

	got := make(chan Event, 4)
	sub, err := hub.Subscribe(CommentsTopic("b1"), func(ev Event) { got <- ev })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	other := make(chan Event, 4)
	if _, err := hub.Subscribe(CommentsTopic("b2"), func(ev Event) { other <- ev }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ev, err := NewEvent(CommentsTopic("b1"), OpInsert, "c1", map[string]string{"id": "c1"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	hub.Publish(ev)

	received := waitEvent(t, got)
	if received.ID != "c1" || received.Op != OpInsert {
		t.Errorf("received = %+v, want INSERT c1", received)
	}

	var payload map[string]string
	if err := received.Decode(&payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if payload["id"] != "c1" {
		t.Errorf("payload id = %q, want c1", payload["id"])
	}

	select {
	case ev := <-other:
		t.Errorf("other topic received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if n := hub.Subscribers(CommentsTopic("b1")); n != 0 {
		t.Errorf("Subscribers after unsubscribe = %d, want 0", n)
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(1, nil)
	defer hub.Close()

	release := make(chan struct{})
	delivered := make(chan Event, 10)
	_, err := hub.Subscribe("t", func(ev Event) {
		<-release
		delivered <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		hub.Publish(Event{Topic: "t", Op: OpUpdate, ID: "x"})
	}
	close(release)

	waitEvent(t, delivered)
	time.Sleep(50 * time.Millisecond)
	if n := len(delivered); n > 1 {
		t.Errorf("delivered %d more events, want at most 1 (one in flight, one queued)", n)
	}
}

func TestDecodeWithoutData(t *testing.T) {
	ev, err := NewEvent("t", OpDelete, "c1", nil)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	var v map[string]any
	if err := ev.Decode(&v); err == nil {
		t.Error("Decode of delete event should fail")
	}
}

func TestSSERoundTrip(t *testing.T) {
	hub := NewHub(8, nil)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeSSE(w, r, hub, strings.TrimPrefix(r.URL.Path, "/stream/"), nil)
	}))
	defer srv.Close()

	src := &SSESource{
		URL: func(topic string) (string, error) {
			return srv.URL + "/stream/" + topic, nil
		},
	}

	got := make(chan Event, 4)
	topic := NotificationsTopic("u1")
	sub, err := src.Subscribe(topic, func(ev Event) { got <- ev })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev, _ := NewEvent(topic, OpInsert, "n1", map[string]string{"title": "Submission accepted"})
	hub.Publish(ev)

	received := waitEvent(t, got)
	if received.ID != "n1" || received.Topic != topic {
		t.Errorf("received = %+v", received)
	}
}

func TestSSESourceRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := &SSESource{URL: func(string) (string, error) { return srv.URL, nil }}
	if _, err := src.Subscribe("t", func(Event) {}); err == nil {
		t.Error("Subscribe should fail on 401")
	}
}

func TestReadEvents(t *testing.T) {
	body := strings.NewReader(": connected\n\nevent: insert\ndata: {\"topic\":\"t\",\"op\":\"INSERT\",\"id\":\"a\"}\n\n: ping\n\ndata: not json\n\n")

	core, logs := observer.New(zapcore.WarnLevel)

	var got []Event
	err := readEvents(body, func(ev Event) { got = append(got, ev) }, zap.New(core))
	if err == nil {
		t.Error("readEvents should report the closed stream")
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got = %+v, want one event a", got)
	}

	warnings := logs.FilterMessage("malformed push event").All()
	if len(warnings) != 1 {
		t.Fatalf("malformed event warnings = %d, want 1", len(warnings))
	}
	if data := warnings[0].ContextMap()["data"]; data != "not json" {
		t.Errorf("logged data = %v, want %q", data, "not json")
	}
}
