package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/alert"
	"github.com/contribium/contribium/internal/metrics"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/realtime"
	"github.com/contribium/contribium/internal/reconcile"
)

const feature = "comments"

type ThreadConfig struct {
	Store     Store
	Source    realtime.Source
	Alerts    alert.Sink
	Logger    *zap.Logger
	SubjectID string
	SponsorID string
	Viewer    model.Viewer
}

// ReplyComposer is the state of the inline reply form.
type ReplyComposer struct {
	ParentID string
	Open     bool
	Text     string
}

// Thread holds one bounty's comment tree for one viewer. Mutations are
// applied to the in-memory tree before the store is called and reverted if
// the store call fails.
type Thread struct {
	store     Store
	source    realtime.Source
	alerts    alert.Sink
	logger    *zap.Logger
	subjectID string
	sponsorID string
	viewer    model.Viewer

	mu         sync.Mutex
	tree       []model.Comment
	pending    map[string]model.Comment
	draft      string
	reply      ReplyComposer
	submitting bool
	gen        uint64
	closed     bool
	sub        realtime.Subscription
	cancel     context.CancelFunc
}

func NewThread(cfg ThreadConfig) *Thread {
	if cfg.Alerts == nil {
		cfg.Alerts = alert.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Thread{
		store:     cfg.Store,
		source:    cfg.Source,
		alerts:    cfg.Alerts,
		logger:    cfg.Logger.Named("comments").With(zap.String("bounty_id", cfg.SubjectID)),
		subjectID: cfg.SubjectID,
		sponsorID: cfg.SponsorID,
		viewer:    cfg.Viewer,
		pending:   make(map[string]model.Comment),
	}
}

// Open loads the tree and subscribes to pushed changes for the bounty. A
// subscription failure is logged and the thread keeps working without pushes.
func (t *Thread) Open(ctx context.Context) error {
	if err := t.Load(ctx); err != nil {
		return err
	}
	if t.source == nil {
		return nil
	}

	pushCtx, cancel := context.WithCancel(context.Background())
	sub, err := t.source.Subscribe(realtime.CommentsTopic(t.subjectID), func(ev realtime.Event) {
		t.MergeExternalEvent(pushCtx, ev)
	})
	if err != nil {
		cancel()
		t.logger.Warn("subscribe to comment changes failed", zap.Error(err))
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		cancel()
		sub.Unsubscribe()
		return ErrClosed
	}
	t.sub = sub
	t.cancel = cancel
	return nil
}

// Close unsubscribes and discards every result that arrives afterwards.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sub, cancel := t.sub, t.cancel
	t.sub, t.cancel = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Load fetches the flat list and the viewer's likes and rebuilds the tree.
// On failure the previous tree is kept.
func (t *Thread) Load(ctx context.Context) error {
	err := t.load(ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		t.alerts.Error("Failed to load comments")
	}
	return err
}

func (t *Thread) load(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	flat, err := t.store.ListComments(ctx, t.subjectID)
	if err != nil {
		t.logger.Error("fetch comments failed", zap.Error(err))
		return fmt.Errorf("fetch comments: %w", err)
	}

	liked := make(map[string]bool)
	if t.viewer.SignedIn() && len(flat) > 0 {
		ids := make([]string, len(flat))
		for i, c := range flat {
			ids[i] = c.ID
		}
		likedIDs, err := t.store.ListLikedCommentIDs(ctx, t.viewer.ID, ids)
		if err != nil {
			t.logger.Error("fetch comment likes failed", zap.Error(err))
			return fmt.Errorf("fetch comment likes: %w", err)
		}
		for _, id := range likedIDs {
			liked[id] = true
		}
	}

	tree := Build(flat, liked)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if gen != t.gen {
		t.logger.Debug("discarding stale comment fetch")
		return nil
	}
	t.tree = t.withPending(tree)
	return nil
}

// withPending re-applies optimistic entries that have not been confirmed yet.
func (t *Thread) withPending(tree []model.Comment) []model.Comment {
	for _, c := range t.pending {
		if !c.IsReply() {
			tree = reconcile.ApplyOptimistic(tree, c, nil)
			continue
		}
		if i := reconcile.Index(tree, c.ParentID); i >= 0 {
			tree = reconcile.Clone(tree)
			tree[i].Replies = reconcile.ApplyOptimistic(tree[i].Replies, c, oldestFirst)
		}
	}
	return tree
}

// MergeExternalEvent re-fetches the whole tree when a change for this bounty
// is pushed. Failures are logged only.
func (t *Thread) MergeExternalEvent(ctx context.Context, ev realtime.Event) {
	if ev.Topic != "" && ev.Topic != realtime.CommentsTopic(t.subjectID) {
		return
	}
	if err := t.load(ctx); err != nil && !errors.Is(err, ErrClosed) {
		t.logger.Warn("refresh after pushed change failed", zap.String("op", string(ev.Op)), zap.Error(err))
	}
}

// PostTopLevel adds a top-level comment. On failure the comment is removed
// and body is restored as the draft.
func (t *Thread) PostTopLevel(ctx context.Context, body string) (model.Comment, error) {
	text, err := t.validate(body, "Please sign in to comment")
	if err != nil {
		return model.Comment{}, err
	}

	t.mu.Lock()
	if err := t.beginSubmit(); err != nil {
		t.mu.Unlock()
		return model.Comment{}, err
	}
	temp := t.optimisticComment("", text)
	t.tree = reconcile.ApplyOptimistic(t.tree, temp, nil)
	t.pending[temp.ID] = temp
	t.draft = ""
	t.mu.Unlock()

	created, err := t.store.CreateComment(ctx, model.Comment{
		SubjectID: t.subjectID,
		Body:      text,
		Author:    t.viewer.Author(),
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitting = false
	delete(t.pending, temp.ID)
	if t.closed {
		return created, ErrClosed
	}

	if err != nil {
		t.tree, _ = reconcile.Rollback(t.tree, temp.ID)
		t.draft = body
		t.fail("post", "Failed to post comment", err)
		return model.Comment{}, fmt.Errorf("post comment: %w", err)
	}

	created.Replies = nil
	if tree, ok := reconcile.Confirm(t.tree, temp.ID, created); ok {
		t.tree = tree
	} else {
		t.tree, _ = reconcile.MergeExternal(t.tree, created, newestFirst)
	}
	metrics.Mutation(feature, "post", metrics.OutcomeConfirmed)
	t.alerts.Success("Comment posted")
	return created, nil
}

// PostReply adds a reply under the top-level ancestor of parentID. The reply
// composer closes immediately and reopens with body if the store call fails.
func (t *Thread) PostReply(ctx context.Context, parentID, body string) (model.Comment, error) {
	text, err := t.validate(body, "Please sign in to reply")
	if err != nil {
		return model.Comment{}, err
	}

	t.mu.Lock()
	root, _ := t.locate(parentID)
	if root < 0 {
		t.mu.Unlock()
		return model.Comment{}, ErrNotFound
	}
	if err := t.beginSubmit(); err != nil {
		t.mu.Unlock()
		return model.Comment{}, err
	}
	rootID := t.tree[root].ID
	temp := t.optimisticComment(rootID, text)
	t.tree = reconcile.Clone(t.tree)
	t.tree[root].Replies = reconcile.ApplyOptimistic(t.tree[root].Replies, temp, oldestFirst)
	t.pending[temp.ID] = temp
	t.reply = ReplyComposer{}
	t.mu.Unlock()

	created, err := t.store.CreateComment(ctx, model.Comment{
		SubjectID: t.subjectID,
		ParentID:  parentID,
		Body:      text,
		Author:    t.viewer.Author(),
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitting = false
	delete(t.pending, temp.ID)
	if t.closed {
		return created, ErrClosed
	}

	root = reconcile.Index(t.tree, rootID)
	if err != nil {
		if root >= 0 {
			t.tree = reconcile.Clone(t.tree)
			t.tree[root].Replies, _ = reconcile.Rollback(t.tree[root].Replies, temp.ID)
		}
		t.reply = ReplyComposer{ParentID: parentID, Open: true, Text: body}
		t.fail("reply", "Failed to post reply", err)
		return model.Comment{}, fmt.Errorf("post reply: %w", err)
	}

	if root >= 0 {
		t.tree = reconcile.Clone(t.tree)
		replies, ok := reconcile.Confirm(t.tree[root].Replies, temp.ID, created)
		if !ok {
			replies, _ = reconcile.MergeExternal(t.tree[root].Replies, created, oldestFirst)
		}
		t.tree[root].Replies = replies
	}
	metrics.Mutation(feature, "reply", metrics.OutcomeConfirmed)
	t.alerts.Success("Reply posted")
	return created, nil
}

// Edit replaces the body of one comment or reply. On failure only that node
// gets its previous body back.
func (t *Thread) Edit(ctx context.Context, id, body string) (model.Comment, error) {
	text, err := t.validate(body, "Please sign in to edit comments")
	if err != nil {
		return model.Comment{}, err
	}

	t.mu.Lock()
	if _, ok := t.find(id); !ok {
		t.mu.Unlock()
		return model.Comment{}, ErrNotFound
	}
	if err := t.beginSubmit(); err != nil {
		t.mu.Unlock()
		return model.Comment{}, err
	}
	var previous string
	t.modify(id, func(c model.Comment) model.Comment {
		previous = c.Body
		c.Body = text
		return c
	})
	t.mu.Unlock()

	updated, err := t.store.UpdateComment(ctx, id, t.viewer.ID, text)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitting = false
	if t.closed {
		return updated, ErrClosed
	}

	if err != nil {
		t.modify(id, func(c model.Comment) model.Comment {
			c.Body = previous
			return c
		})
		t.fail("edit", "Failed to update comment", err)
		return model.Comment{}, fmt.Errorf("edit comment: %w", err)
	}

	t.modify(id, func(c model.Comment) model.Comment {
		c.Body = updated.Body
		return c
	})
	metrics.Mutation(feature, "edit", metrics.OutcomeConfirmed)
	t.alerts.Success("Comment updated")
	return updated, nil
}

// Delete removes a comment or reply. Deleting a reply also drops the
// flattened replies beneath it. On failure the whole tree as it was before
// the call is restored.
func (t *Thread) Delete(ctx context.Context, id string) error {
	if !t.viewer.SignedIn() {
		t.alerts.Error("Please sign in to delete comments")
		return ErrSignInRequired
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	root, reply := t.locate(id)
	if root < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	snapshot := t.tree
	if reply < 0 {
		t.tree, _, _ = reconcile.Remove(t.tree, id)
	} else {
		t.tree = reconcile.Clone(t.tree)
		t.tree[root].Replies = withoutSubtree(t.tree[root].Replies, id)
	}
	t.mu.Unlock()

	err := t.store.DeleteComment(ctx, id, t.viewer.ID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err != nil {
		t.tree = snapshot
		t.fail("delete", "Failed to delete comment", err)
		return fmt.Errorf("delete comment: %w", err)
	}
	metrics.Mutation(feature, "delete", metrics.OutcomeConfirmed)
	t.alerts.Success("Comment deleted")
	return nil
}

// withoutSubtree drops id and every reply whose parent chain reaches it.
func withoutSubtree(replies []model.Comment, id string) []model.Comment {
	gone := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, r := range replies {
			if !gone[r.ID] && gone[r.ParentID] {
				gone[r.ID] = true
				changed = true
			}
		}
	}
	out := make([]model.Comment, 0, len(replies))
	for _, r := range replies {
		if !gone[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// ToggleLike flips the viewer's like on a comment or reply. The count never
// drops below zero. On failure the node's previous state is restored unless
// a refetch has replaced the optimistic value in the meantime.
func (t *Thread) ToggleLike(ctx context.Context, id string, currentlyLiked bool) error {
	if !t.viewer.SignedIn() {
		t.alerts.Error("Please sign in to like comments")
		return ErrSignInRequired
	}

	delta := 1
	if currentlyLiked {
		delta = -1
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.find(id); !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	var prevCount, optimistic int
	var prevLiked bool
	t.modify(id, func(c model.Comment) model.Comment {
		prevCount, prevLiked = c.LikeCount, c.LikedByViewer
		optimistic = max(c.LikeCount+delta, 0)
		c.LikeCount = optimistic
		c.LikedByViewer = !currentlyLiked
		return c
	})
	t.mu.Unlock()

	var err error
	if currentlyLiked {
		err = t.store.UnlikeComment(ctx, id, t.viewer.ID)
	} else {
		err = t.store.LikeComment(ctx, id, t.viewer.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err != nil {
		if c, ok := t.find(id); ok && c.LikeCount == optimistic && c.LikedByViewer == !currentlyLiked {
			t.modify(id, func(c model.Comment) model.Comment {
				c.LikeCount = prevCount
				c.LikedByViewer = prevLiked
				return c
			})
		}
		t.fail("like", "Failed to update like", err)
		return fmt.Errorf("toggle like: %w", err)
	}
	metrics.Mutation(feature, "like", metrics.OutcomeConfirmed)
	return nil
}

// IsFromSponsor reports whether c was written by the bounty's sponsor. It is
// a display annotation only.
func (t *Thread) IsFromSponsor(c model.Comment) bool {
	return t.sponsorID != "" && c.Author.ID == t.sponsorID
}

// Comments returns the current tree. The result must not be modified.
func (t *Thread) Comments() []model.Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree
}

// Count returns the number of comments including replies.
func (t *Thread) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return CountTree(t.tree)
}

func (t *Thread) Draft() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draft
}

func (t *Thread) SetDraft(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draft = text
}

func (t *Thread) ReplyComposer() ReplyComposer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reply
}

// OpenReply opens the reply form under parentID.
func (t *Thread) OpenReply(parentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reply = ReplyComposer{ParentID: parentID, Open: true}
}

func (t *Thread) CancelReply() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reply = ReplyComposer{}
}

// Submitting reports whether a post or edit is in flight.
func (t *Thread) Submitting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitting
}

func (t *Thread) validate(body, signInMessage string) (string, error) {
	if !t.viewer.SignedIn() {
		t.alerts.Error(signInMessage)
		return "", ErrSignInRequired
	}
	text := strings.TrimSpace(body)
	if text == "" {
		return "", ErrEmptyBody
	}
	return text, nil
}

// beginSubmit must be called with mu held.
func (t *Thread) beginSubmit() error {
	if t.closed {
		return ErrClosed
	}
	if t.submitting {
		metrics.Mutation(feature, "submit", metrics.OutcomeRejected)
		return ErrSubmitting
	}
	t.submitting = true
	return nil
}

func (t *Thread) optimisticComment(parentID, body string) model.Comment {
	return model.Comment{
		ID:        reconcile.NewTempID(),
		SubjectID: t.subjectID,
		ParentID:  parentID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		Author:    t.viewer.Author(),
	}
}

// fail must be called with mu held.
func (t *Thread) fail(op, message string, err error) {
	metrics.Mutation(feature, op, metrics.OutcomeRolledBack)
	t.logger.Error(message, zap.String("op", op), zap.Error(err))
	t.alerts.Error(message)
}

// locate returns the top-level index holding id and, for replies, the index
// within its replies (-1 for a top-level comment).
func (t *Thread) locate(id string) (int, int) {
	for i, c := range t.tree {
		if c.ID == id {
			return i, -1
		}
		if j := reconcile.Index(c.Replies, id); j >= 0 {
			return i, j
		}
	}
	return -1, -1
}

func (t *Thread) find(id string) (model.Comment, bool) {
	root, reply := t.locate(id)
	switch {
	case root < 0:
		return model.Comment{}, false
	case reply < 0:
		return t.tree[root], true
	default:
		return t.tree[root].Replies[reply], true
	}
}

// modify replaces the node with id, at either level, with fn's result.
func (t *Thread) modify(id string, fn func(model.Comment) model.Comment) bool {
	root, reply := t.locate(id)
	if root < 0 {
		return false
	}
	if reply < 0 {
		t.tree, _ = reconcile.Update(t.tree, id, func(c model.Comment) model.Comment {
			replies := c.Replies
			c = fn(c)
			c.Replies = replies
			return c
		})
		return true
	}
	t.tree = reconcile.Clone(t.tree)
	t.tree[root].Replies, _ = reconcile.Update(t.tree[root].Replies, id, fn)
	return true
}
