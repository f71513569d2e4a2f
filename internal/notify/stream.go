package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contribium/contribium/internal/alert"
	"github.com/contribium/contribium/internal/metrics"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/realtime"
	"github.com/contribium/contribium/internal/reconcile"
)

const feature = "notifications"

type StreamConfig struct {
	Store  Store
	Source realtime.Source
	Alerts alert.Sink
	Logger *zap.Logger
	Viewer model.Viewer
	// Limit caps the loaded list. Zero selects DefaultLimit.
	Limit int
}

// Stream holds one viewer's notifications newest first and the unread
// counter. The counter comes from the store on load, so it stays accurate
// when the list is capped.
type Stream struct {
	store  Store
	source realtime.Source
	alerts alert.Sink
	logger *zap.Logger
	viewer model.Viewer
	limit  int

	mu     sync.Mutex
	items  []model.Notification
	unread int
	gen    uint64
	closed bool
	sub    realtime.Subscription

	// loads counts fetches in flight; pushed collects pushes that arrived
	// meanwhile so the fetched list can include them.
	loads  int
	pushed []model.Notification
}

func NewStream(cfg StreamConfig) *Stream {
	if cfg.Alerts == nil {
		cfg.Alerts = alert.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Stream{
		store:  cfg.Store,
		source: cfg.Source,
		alerts: cfg.Alerts,
		logger: cfg.Logger.Named("notify").With(zap.String("user_id", cfg.Viewer.ID)),
		viewer: cfg.Viewer,
		limit:  cfg.Limit,
	}
}

// Open loads the list and subscribes to inserts for the viewer.
func (s *Stream) Open(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	if s.source == nil {
		return nil
	}

	sub, err := s.source.Subscribe(realtime.NotificationsTopic(s.viewer.ID), s.OnPush)
	if err != nil {
		s.logger.Warn("subscribe to notifications failed", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Unsubscribe()
		return ErrClosed
	}
	s.sub = sub
	return nil
}

// Close unsubscribes and ignores every later result.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Load fetches the list and the unread count with two concurrent queries.
// If either fails the current state is left untouched. Pushes delivered
// while the queries run are merged into the result. A newer Load supersedes
// an older one.
func (s *Stream) Load(ctx context.Context) error {
	if !s.viewer.SignedIn() {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.loads++
	mark := len(s.pushed)
	s.mu.Unlock()

	var (
		items  []model.Notification
		unread int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.store.ListNotifications(gctx, s.viewer.ID, s.limit)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		unread, err = s.store.CountUnread(gctx, s.viewer.ID)
		if err != nil {
			return fmt.Errorf("count unread notifications: %w", err)
		}
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	pushed := s.pushed[mark:]
	s.loads--
	if s.loads == 0 {
		s.pushed = nil
	}

	if err != nil {
		s.logger.Error("load notifications failed", zap.Error(err))
		s.alerts.Error("Failed to load notifications")
		return err
	}
	if s.closed {
		return ErrClosed
	}
	if gen != s.gen {
		return nil
	}
	for _, n := range pushed {
		var added bool
		items, added = reconcile.MergeExternal(items, n, newestFirst)
		if added && !n.Read {
			unread++
		}
	}
	s.items = items
	s.unread = unread
	return nil
}

func newestFirst(a, b model.Notification) bool { return a.CreatedAt.After(b.CreatedAt) }

// OnPush handles a pushed change event. Only inserts are applied.
func (s *Stream) OnPush(ev realtime.Event) {
	if ev.Op != realtime.OpInsert {
		return
	}
	var n model.Notification
	if err := ev.Decode(&n); err != nil {
		s.logger.Warn("undecodable notification event", zap.String("id", ev.ID), zap.Error(err))
		return
	}
	s.Push(n)
}

// Push prepends a notification delivered by the push source. A notification
// already in the list is ignored.
func (s *Stream) Push(n model.Notification) bool {
	if n.UserID != "" && n.UserID != s.viewer.ID {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	items, changed := reconcile.MergeExternal(s.items, n, nil)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.items = items
	if !n.Read {
		s.unread++
	}
	if s.loads > 0 {
		s.pushed = append(s.pushed, n)
	}
	s.mu.Unlock()

	s.alerts.Info(n.Title, Icon(n.Type))
	return true
}

// MarkRead marks one notification read. Marking a read notification again
// does nothing.
func (s *Stream) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	i := reconcile.Index(s.items, id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	prev := s.items[i]
	if prev.Read {
		s.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	s.items, _ = reconcile.Update(s.items, id, func(n model.Notification) model.Notification {
		n.Read = true
		n.ReadAt = &now
		return n
	})
	dec := 0
	if s.unread > 0 {
		dec = 1
		s.unread--
	}
	s.mu.Unlock()

	err := s.store.MarkNotificationRead(ctx, id, s.viewer.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		if items, ok := reconcile.Update(s.items, id, func(model.Notification) model.Notification { return prev }); ok {
			s.items = items
			s.unread += dec
		}
		s.fail("mark_read", "Failed to mark notification as read", err)
		return fmt.Errorf("mark notification read: %w", err)
	}
	metrics.Mutation(feature, "mark_read", metrics.OutcomeConfirmed)
	return nil
}

// MarkAllRead marks every notification read and zeroes the counter. On
// failure the list and counter from before the call are restored.
func (s *Stream) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	snapshot, unread := s.items, s.unread
	now := time.Now().UTC()
	items := reconcile.Clone(s.items)
	for i := range items {
		if !items[i].Read {
			items[i].Read = true
			items[i].ReadAt = &now
		}
	}
	s.items = items
	s.unread = 0
	s.mu.Unlock()

	err := s.store.MarkAllNotificationsRead(ctx, s.viewer.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.items, s.unread = snapshot, unread
		s.fail("mark_all_read", "Failed to mark notifications as read", err)
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	metrics.Mutation(feature, "mark_all_read", metrics.OutcomeConfirmed)
	s.alerts.Success("All notifications marked as read")
	return nil
}

// Remove deletes a notification, decrementing the counter if it was unread.
// On failure only the removed notification is put back, so changes made
// during the call survive.
func (s *Stream) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	items, removed, ok := reconcile.Remove(s.items, id)
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.items = items
	dec := 0
	if !removed.Read && s.unread > 0 {
		dec = 1
		s.unread--
	}
	s.mu.Unlock()

	err := s.store.DeleteNotification(ctx, id, s.viewer.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		if items, added := reconcile.MergeExternal(s.items, removed, newestFirst); added {
			s.items = items
			s.unread += dec
		}
		s.fail("delete", "Failed to delete notification", err)
		return fmt.Errorf("delete notification: %w", err)
	}
	metrics.Mutation(feature, "delete", metrics.OutcomeConfirmed)
	return nil
}

// Items returns the current list. The result must not be modified.
func (s *Stream) Items() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items
}

func (s *Stream) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Badge renders the unread counter for display.
func (s *Stream) Badge() string {
	return BadgeLabel(s.UnreadCount())
}

// fail must be called with mu held.
func (s *Stream) fail(op, message string, err error) {
	metrics.Mutation(feature, op, metrics.OutcomeRolledBack)
	s.logger.Error(message, zap.String("op", op), zap.Error(err))
	s.alerts.Error(message)
}
