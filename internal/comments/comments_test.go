package comments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/contribium/contribium/internal/alert"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/realtime"
	"github.com/contribium/contribium/internal/reconcile"
)

var errOffline = errors.New("network unreachable")

type fakeStore struct {
	mu       sync.Mutex
	comments []model.Comment
	liked    map[string]bool
	fail     map[string]error
	block    chan struct{}
	started  chan struct{}
	calls    int
	nextID   int
}

func newFakeStore(comments ...model.Comment) *fakeStore {
	return &fakeStore{
		comments: comments,
		liked:    make(map[string]bool),
		fail:     make(map[string]error),
	}
}

func (s *fakeStore) enter(op string) error {
	s.mu.Lock()
	s.calls++
	block, started := s.block, s.started
	err := s.fail[op]
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (s *fakeStore) ListComments(ctx context.Context, subjectID string) ([]model.Comment, error) {
	if err := s.enter("list"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return reconcile.Clone(s.comments), nil
}

func (s *fakeStore) ListLikedCommentIDs(ctx context.Context, viewerID string, ids []string) ([]string, error) {
	if err := s.enter("likes"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range ids {
		if s.liked[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	if err := s.enter("create"); err != nil {
		return model.Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = fmt.Sprintf("srv-%d", s.nextID)
	c.CreatedAt = time.Now().UTC()
	s.comments = append([]model.Comment{c}, s.comments...)
	return c, nil
}

func (s *fakeStore) UpdateComment(ctx context.Context, id, authorID, body string) (model.Comment, error) {
	if err := s.enter("update"); err != nil {
		return model.Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.comments {
		if s.comments[i].ID == id {
			s.comments[i].Body = body
			return s.comments[i], nil
		}
	}
	return model.Comment{}, errors.New("missing")
}

func (s *fakeStore) DeleteComment(ctx context.Context, id, authorID string) error {
	if err := s.enter("delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments, _, _ = reconcile.Remove(s.comments, id)
	return nil
}

func (s *fakeStore) LikeComment(ctx context.Context, id, userID string) error {
	return s.enter("like")
}

func (s *fakeStore) UnlikeComment(ctx context.Context, id, userID string) error {
	return s.enter("unlike")
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var (
	base    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	alice   = model.Viewer{ID: "alice", DisplayName: "Alice"}
	sponsor = model.Author{ID: "sponsor", DisplayName: "Sponsor"}
)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func sampleComments() []model.Comment {
	return []model.Comment{
		{ID: "c2", SubjectID: "b1", Body: "second", CreatedAt: at(10), Author: sponsor},
		{ID: "r3", SubjectID: "b1", ParentID: "r1", Body: "reply to reply", CreatedAt: at(8)},
		{ID: "r2", SubjectID: "b1", ParentID: "c1", Body: "later reply", CreatedAt: at(7), LikeCount: 1},
		{ID: "r1", SubjectID: "b1", ParentID: "c1", Body: "early reply", CreatedAt: at(5)},
		{ID: "c1", SubjectID: "b1", Body: "first", CreatedAt: at(0), LikeCount: 2},
	}
}

func ids(cs []model.Comment) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func newThread(t *testing.T, store Store, viewer model.Viewer) (*Thread, *alert.Recorder) {
	t.Helper()
	rec := &alert.Recorder{}
	th := NewThread(ThreadConfig{
		Store:     store,
		Alerts:    rec,
		SubjectID: "b1",
		SponsorID: sponsor.ID,
		Viewer:    viewer,
	})
	t.Cleanup(th.Close)
	return th, rec
}

func TestBuild(t *testing.T) {
	flat := sampleComments()
	tree := Build(flat, map[string]bool{"r2": true})

	if diff := cmp.Diff([]string{"c2", "c1"}, ids(tree)); diff != "" {
		t.Errorf("top-level order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"r1", "r2", "r3"}, ids(tree[1].Replies)); diff != "" {
		t.Errorf("reply order mismatch (-want +got):\n%s", diff)
	}
	if got := CountTree(tree); got != len(flat) {
		t.Errorf("CountTree = %d, want %d", got, len(flat))
	}
	if !tree[1].Replies[1].LikedByViewer {
		t.Error("r2 should be liked by viewer")
	}
	if tree[1].LikedByViewer {
		t.Error("c1 should not be liked by viewer")
	}
}

func TestBuildOrdering(t *testing.T) {
	flat := []model.Comment{
		{ID: "a", CreatedAt: at(1)},
		{ID: "b", CreatedAt: at(9)},
		{ID: "x", ParentID: "a", CreatedAt: at(20)},
		{ID: "y", ParentID: "a", CreatedAt: at(3)},
		{ID: "c", CreatedAt: at(4)},
	}
	tree := Build(flat, nil)

	for i := 1; i < len(tree); i++ {
		if tree[i].CreatedAt.After(tree[i-1].CreatedAt) {
			t.Errorf("top-level %s is newer than %s", tree[i].ID, tree[i-1].ID)
		}
	}
	for _, top := range tree {
		for i := 1; i < len(top.Replies); i++ {
			if top.Replies[i].CreatedAt.Before(top.Replies[i-1].CreatedAt) {
				t.Errorf("reply %s is older than %s", top.Replies[i].ID, top.Replies[i-1].ID)
			}
		}
	}
}

func TestBuildDropsOrphans(t *testing.T) {
	flat := []model.Comment{
		{ID: "c1", CreatedAt: at(0)},
		{ID: "r1", ParentID: "gone", CreatedAt: at(1)},
		{ID: "r2", ParentID: "r1", CreatedAt: at(2)},
		{ID: "r3", ParentID: "c1", CreatedAt: at(3)},
	}
	tree := Build(flat, nil)

	if got := CountTree(tree); got != 2 {
		t.Errorf("CountTree = %d, want 2", got)
	}
	if diff := cmp.Diff([]string{"r3"}, ids(tree[0].Replies)); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestPostTopLevelOffline(t *testing.T) {
	store := newFakeStore()
	store.fail["create"] = errOffline
	store.block = make(chan struct{})
	store.started = make(chan struct{}, 1)

	th, rec := newThread(t, store, alice)
	th.SetDraft("nice bounty")

	done := make(chan error, 1)
	go func() {
		_, err := th.PostTopLevel(context.Background(), "nice bounty")
		done <- err
	}()

	<-store.started
	visible := th.Comments()
	if len(visible) != 1 || visible[0].Body != "nice bounty" || !reconcile.IsTempID(visible[0].ID) {
		t.Fatalf("optimistic comment not visible: %+v", visible)
	}
	if th.Draft() != "" {
		t.Errorf("draft during submit = %q, want empty", th.Draft())
	}
	if !th.Submitting() {
		t.Error("Submitting = false during store call")
	}

	close(store.block)
	if err := <-done; !errors.Is(err, errOffline) {
		t.Fatalf("PostTopLevel error = %v, want wrapped offline error", err)
	}

	if n := len(th.Comments()); n != 0 {
		t.Errorf("comments after failure = %d, want 0", n)
	}
	if got := th.Draft(); got != "nice bounty" {
		t.Errorf("draft after failure = %q, want %q", got, "nice bounty")
	}
	if got := rec.Count(alert.LevelError); got != 1 {
		t.Errorf("error alerts = %d, want 1", got)
	}
	if th.Submitting() {
		t.Error("Submitting = true after failure")
	}
}

func TestPostTopLevelConfirms(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, rec := newThread(t, store, alice)
	if err := th.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	created, err := th.PostTopLevel(context.Background(), "  hello  ")
	if err != nil {
		t.Fatalf("PostTopLevel failed: %v", err)
	}
	if created.Body != "hello" {
		t.Errorf("body = %q, want trimmed", created.Body)
	}

	tree := th.Comments()
	if tree[0].ID != created.ID {
		t.Errorf("first comment = %s, want %s", tree[0].ID, created.ID)
	}
	for _, c := range tree {
		if reconcile.IsTempID(c.ID) {
			t.Errorf("temporary comment %s left after confirm", c.ID)
		}
	}
	if got := rec.Count(alert.LevelSuccess); got != 1 {
		t.Errorf("success alerts = %d, want 1", got)
	}
}

func TestPostValidation(t *testing.T) {
	tests := []struct {
		name   string
		viewer model.Viewer
		body   string
		want   error
	}{
		{"anonymous", model.Viewer{}, "hi", ErrSignInRequired},
		{"empty", alice, "", ErrEmptyBody},
		{"whitespace", alice, " \n\t", ErrEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			th, _ := newThread(t, store, tt.viewer)

			if _, err := th.PostTopLevel(context.Background(), tt.body); !errors.Is(err, tt.want) {
				t.Errorf("PostTopLevel error = %v, want %v", err, tt.want)
			}
			if _, err := th.PostReply(context.Background(), "c1", tt.body); !errors.Is(err, tt.want) {
				t.Errorf("PostReply error = %v, want %v", err, tt.want)
			}
			if store.callCount() != 0 {
				t.Errorf("store called %d times, want 0", store.callCount())
			}
			if len(th.Comments()) != 0 {
				t.Error("validation failure changed the tree")
			}
		})
	}
}

func TestSecondSubmitRejected(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	store.started = make(chan struct{}, 1)
	th, _ := newThread(t, store, alice)

	done := make(chan error, 1)
	go func() {
		_, err := th.PostTopLevel(context.Background(), "one")
		done <- err
	}()
	<-store.started

	if _, err := th.PostTopLevel(context.Background(), "two"); !errors.Is(err, ErrSubmitting) {
		t.Errorf("second post error = %v, want ErrSubmitting", err)
	}

	close(store.block)
	if err := <-done; err != nil {
		t.Fatalf("first post failed: %v", err)
	}
}

func TestPostReply(t *testing.T) {
	t.Run("confirm", func(t *testing.T) {
		store := newFakeStore(sampleComments()...)
		th, _ := newThread(t, store, alice)
		th.Load(context.Background())
		th.OpenReply("r1")

		created, err := th.PostReply(context.Background(), "r1", "me too")
		if err != nil {
			t.Fatalf("PostReply failed: %v", err)
		}
		if created.ParentID != "r1" {
			t.Errorf("stored parent = %q, want r1", created.ParentID)
		}

		c1 := th.Comments()[1]
		last := c1.Replies[len(c1.Replies)-1]
		if last.ID != created.ID {
			t.Errorf("last reply = %s, want %s", last.ID, created.ID)
		}
		if th.ReplyComposer().Open {
			t.Error("reply composer open after success")
		}
	})

	t.Run("failure reopens composer", func(t *testing.T) {
		store := newFakeStore(sampleComments()...)
		th, rec := newThread(t, store, alice)
		th.Load(context.Background())
		store.fail["create"] = errOffline
		before := th.Count()

		if _, err := th.PostReply(context.Background(), "c1", "lost?"); err == nil {
			t.Fatal("PostReply should fail")
		}

		want := ReplyComposer{ParentID: "c1", Open: true, Text: "lost?"}
		if diff := cmp.Diff(want, th.ReplyComposer()); diff != "" {
			t.Errorf("composer mismatch (-want +got):\n%s", diff)
		}
		if got := th.Count(); got != before {
			t.Errorf("Count = %d, want %d", got, before)
		}
		if got := rec.Count(alert.LevelError); got != 1 {
			t.Errorf("error alerts = %d, want 1", got)
		}
	})

	t.Run("unknown parent", func(t *testing.T) {
		th, _ := newThread(t, newFakeStore(), alice)
		if _, err := th.PostReply(context.Background(), "nope", "hi"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestEditRevertsExactNode(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, _ := newThread(t, store, alice)
	th.Load(context.Background())

	if _, err := th.Edit(context.Background(), "r2", "edited"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if got := th.Comments()[1].Replies[1].Body; got != "edited" {
		t.Errorf("r2 body = %q, want edited", got)
	}

	store.fail["update"] = errOffline
	if _, err := th.Edit(context.Background(), "c1", "nope"); err == nil {
		t.Fatal("Edit should fail")
	}
	tree := th.Comments()
	if tree[1].Body != "first" {
		t.Errorf("c1 body = %q, want first", tree[1].Body)
	}
	if tree[1].Replies[1].Body != "edited" {
		t.Errorf("r2 body changed by unrelated revert: %q", tree[1].Replies[1].Body)
	}
	if len(tree[1].Replies) != 3 {
		t.Errorf("c1 lost replies during edit: %d", len(tree[1].Replies))
	}
}

func TestDeleteRestoresSnapshot(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, _ := newThread(t, store, alice)
	th.Load(context.Background())
	before := th.Comments()

	store.fail["delete"] = errOffline
	if err := th.Delete(context.Background(), "r1"); err == nil {
		t.Fatal("Delete should fail")
	}
	if diff := cmp.Diff(before, th.Comments()); diff != "" {
		t.Errorf("tree not restored (-want +got):\n%s", diff)
	}

	delete(store.fail, "delete")
	if err := th.Delete(context.Background(), "r1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if diff := cmp.Diff([]string{"r2"}, ids(th.Comments()[1].Replies)); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}

	if err := th.Delete(context.Background(), "c2"); err != nil {
		t.Fatalf("Delete top-level failed: %v", err)
	}
	if diff := cmp.Diff([]string{"c1"}, ids(th.Comments())); diff != "" {
		t.Errorf("top-level mismatch (-want +got):\n%s", diff)
	}
}

func TestToggleLike(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, rec := newThread(t, store, alice)
	th.Load(context.Background())

	if err := th.ToggleLike(context.Background(), "r2", false); err != nil {
		t.Fatalf("ToggleLike failed: %v", err)
	}
	r2 := th.Comments()[1].Replies[1]
	if r2.LikeCount != 2 || !r2.LikedByViewer {
		t.Errorf("r2 after like = %d/%v, want 2/true", r2.LikeCount, r2.LikedByViewer)
	}

	store.fail["like"] = errOffline
	if err := th.ToggleLike(context.Background(), "c1", false); err == nil {
		t.Fatal("ToggleLike should fail")
	}
	c1 := th.Comments()[1]
	if c1.LikeCount != 2 || c1.LikedByViewer {
		t.Errorf("c1 after failed like = %d/%v, want 2/false", c1.LikeCount, c1.LikedByViewer)
	}
	if got := rec.Count(alert.LevelError); got != 1 {
		t.Errorf("error alerts = %d, want 1", got)
	}
}

func TestToggleLikeNeverNegative(t *testing.T) {
	store := newFakeStore(model.Comment{ID: "c1", CreatedAt: at(0)})
	store.liked["c1"] = true
	th, _ := newThread(t, store, alice)
	th.Load(context.Background())

	store.mu.Lock()
	store.fail["unlike"] = errOffline
	store.block = make(chan struct{})
	store.started = make(chan struct{}, 1)
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- th.ToggleLike(context.Background(), "c1", true) }()
	<-store.started

	if got := th.Comments()[0].LikeCount; got != 0 {
		t.Errorf("like count during unlike = %d, want 0", got)
	}
	close(store.block)
	<-done

	c := th.Comments()[0]
	if c.LikeCount != 0 {
		t.Errorf("like count after failed unlike = %d, want 0", c.LikeCount)
	}
	if !c.LikedByViewer {
		t.Error("liked flag not restored")
	}
}

func TestDeleteReplyDropsDescendants(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, _ := newThread(t, store, alice)
	th.Load(context.Background())

	store.mu.Lock()
	store.fail["delete"] = errOffline
	store.block = make(chan struct{})
	store.started = make(chan struct{}, 1)
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- th.Delete(context.Background(), "r1") }()
	<-store.started

	if diff := cmp.Diff([]string{"r2"}, ids(th.Comments()[1].Replies)); diff != "" {
		t.Errorf("replies during delete (-want +got):\n%s", diff)
	}
	close(store.block)
	if err := <-done; err == nil {
		t.Fatal("Delete should fail")
	}
	if diff := cmp.Diff([]string{"r1", "r2", "r3"}, ids(th.Comments()[1].Replies)); diff != "" {
		t.Errorf("replies after failed delete (-want +got):\n%s", diff)
	}
}

func TestToggleLikeFailureKeepsRefetchedCount(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, rec := newThread(t, store, alice)
	th.Load(context.Background())

	block := make(chan struct{})
	store.mu.Lock()
	store.fail["like"] = errOffline
	store.block = block
	store.started = make(chan struct{}, 1)
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- th.ToggleLike(context.Background(), "c1", false) }()
	<-store.started

	store.mu.Lock()
	store.block, store.started = nil, nil
	for i := range store.comments {
		if store.comments[i].ID == "c1" {
			store.comments[i].LikeCount = 5
		}
	}
	store.mu.Unlock()
	if err := th.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	close(block)
	if err := <-done; err == nil {
		t.Fatal("ToggleLike should fail")
	}
	c1 := th.Comments()[1]
	if c1.LikeCount != 5 || c1.LikedByViewer {
		t.Errorf("c1 after failed like = %d/%v, want 5/false", c1.LikeCount, c1.LikedByViewer)
	}
	if got := rec.Count(alert.LevelError); got != 1 {
		t.Errorf("error alerts = %d, want 1", got)
	}
}

func TestMergeExternalEventRefetches(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, _ := newThread(t, store, alice)
	th.Load(context.Background())

	store.mu.Lock()
	store.comments = append([]model.Comment{{ID: "c3", SubjectID: "b1", CreatedAt: at(30)}}, store.comments...)
	store.mu.Unlock()

	th.MergeExternalEvent(context.Background(), realtime.Event{Topic: realtime.CommentsTopic("other"), Op: realtime.OpInsert, ID: "c3"})
	if got := th.Count(); got != 5 {
		t.Errorf("Count after foreign event = %d, want 5", got)
	}

	th.MergeExternalEvent(context.Background(), realtime.Event{Topic: realtime.CommentsTopic("b1"), Op: realtime.OpInsert, ID: "c3"})
	if got := th.Count(); got != 6 {
		t.Errorf("Count after event = %d, want 6", got)
	}
	if th.Comments()[0].ID != "c3" {
		t.Errorf("newest comment = %s, want c3", th.Comments()[0].ID)
	}
}

func TestLoadFailureKeepsTree(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	th, rec := newThread(t, store, alice)
	th.Load(context.Background())

	store.fail["list"] = errOffline
	if err := th.Load(context.Background()); err == nil {
		t.Fatal("Load should fail")
	}
	if got := th.Count(); got != 5 {
		t.Errorf("Count after failed load = %d, want 5", got)
	}
	if got := rec.Count(alert.LevelError); got != 1 {
		t.Errorf("error alerts = %d, want 1", got)
	}
}

func TestOpenSubscribesAndCloseDiscards(t *testing.T) {
	hub := realtime.NewHub(8, nil)
	defer hub.Close()

	store := newFakeStore(sampleComments()...)
	th := NewThread(ThreadConfig{Store: store, Source: hub, SubjectID: "b1", Viewer: alice})
	if err := th.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	store.mu.Lock()
	store.comments = append([]model.Comment{{ID: "c9", SubjectID: "b1", CreatedAt: at(60)}}, store.comments...)
	store.mu.Unlock()
	hub.Publish(realtime.Event{Topic: realtime.CommentsTopic("b1"), Op: realtime.OpInsert, ID: "c9"})

	deadline := time.Now().Add(2 * time.Second)
	for th.Count() != 6 {
		if time.Now().After(deadline) {
			t.Fatalf("pushed comment never merged, Count = %d", th.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	th.Close()
	if n := hub.Subscribers(realtime.CommentsTopic("b1")); n != 0 {
		t.Errorf("Subscribers after Close = %d, want 0", n)
	}
	if err := th.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close error = %v, want ErrClosed", err)
	}
}

func TestCloseDiscardsLateFetch(t *testing.T) {
	store := newFakeStore(sampleComments()...)
	store.block = make(chan struct{})
	store.started = make(chan struct{}, 2)
	th, _ := newThread(t, store, alice)

	done := make(chan error, 1)
	go func() { done <- th.Load(context.Background()) }()
	<-store.started

	th.Close()
	close(store.block)
	<-store.started

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("Load error = %v, want ErrClosed", err)
	}
	if n := len(th.Comments()); n != 0 {
		t.Errorf("comments applied after Close: %d", n)
	}
}

func TestIsFromSponsor(t *testing.T) {
	th, _ := newThread(t, newFakeStore(), alice)
	if !th.IsFromSponsor(model.Comment{Author: sponsor}) {
		t.Error("sponsor comment not flagged")
	}
	if th.IsFromSponsor(model.Comment{Author: alice.Author()}) {
		t.Error("viewer comment flagged as sponsor")
	}
}
