package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const keepAliveInterval = 25 * time.Second

// ServeSSE streams events for topic to w until the request context ends.
func ServeSSE(w http.ResponseWriter, r *http.Request, src Source, topic string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan Event, defaultBuffer)
	sub, err := src.Subscribe(topic, func(ev Event) {
		select {
		case events <- ev:
		default:
			logger.Warn("stream client too slow, dropping event", zap.String("topic", topic), zap.String("id", ev.ID))
		}
	})
	if err != nil {
		logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(err))
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", strings.ToLower(string(ev.Op)), data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// SSESource subscribes to a remote server-sent events endpoint. A dropped
// connection is logged and not re-established.
type SSESource struct {
	// URL maps a topic to the stream endpoint serving it.
	URL    func(topic string) (string, error)
	Header http.Header
	Client *http.Client
	Logger *zap.Logger
}

type sseSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *SSESource) Subscribe(topic string, fn func(Event)) (Subscription, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	url, err := s.URL(topic)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream %s: %w", topic, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream %s: status %d", topic, resp.StatusCode)
	}

	sub := &sseSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer resp.Body.Close()
		err := readEvents(resp.Body, fn, logger.With(zap.String("topic", topic)))
		if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			logger.Warn("push source disconnected", zap.String("topic", topic), zap.Error(err))
		}
	}()

	return sub, nil
}

func (s *sseSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// readEvents delivers every event in body to fn. Malformed payloads are
// logged and skipped.
func readEvents(body io.Reader, fn func(Event), logger *zap.Logger) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var ev Event
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					logger.Warn("malformed push event", zap.String("data", data.String()), zap.Error(err))
				} else {
					fn(ev)
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

var _ Source = (*SSESource)(nil)
