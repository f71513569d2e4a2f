package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/contribium/contribium/internal/model"
)

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	logged := LogRequests(zap.New(core))(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/bounties", nil)
	rec := httptest.NewRecorder()
	logged.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != http.MethodGet {
		t.Errorf("method = %v, want GET", fields["method"])
	}
	if fields["path"] != "/api/bounties" {
		t.Errorf("path = %v, want /api/bounties", fields["path"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("status field = %v, want %d", fields["status"], http.StatusTeapot)
	}
}

func TestLogRequestsDifferentMethods(t *testing.T) {
	methods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
	}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			})

			logged := LogRequests(zap.New(core))(handler)
			req := httptest.NewRequest(method, "/test", nil)
			rec := httptest.NewRecorder()

			logged.ServeHTTP(rec, req)

			if n := logs.FilterField(zap.String("method", method)).Len(); n != 1 {
				t.Errorf("log entries for method %s = %d, want 1", method, n)
			}
			if n := logs.FilterField(zap.Int("status", http.StatusOK)).Len(); n != 1 {
				t.Errorf("implicit 200 not recorded")
			}
		})
	}
}

func TestLogRequestsKeepsFlusher(t *testing.T) {
	var flushable bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	})

	LogRequests(nil)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !flushable {
		t.Error("wrapped writer should still implement http.Flusher")
	}
}

func TestViewerFromContext(t *testing.T) {
	tests := []struct {
		name         string
		setupCtx     func() context.Context
		wantID       string
		wantSignedIn bool
	}{
		{
			name:     "empty context",
			setupCtx: context.Background,
		},
		{
			name: "wrong value type",
			setupCtx: func() context.Context {
				return context.WithValue(context.Background(), ContextKeyViewer, "user-1")
			},
		},
		{
			name: "with viewer",
			setupCtx: func() context.Context {
				return WithViewer(context.Background(), model.Viewer{ID: "user-1", DisplayName: "Ada"})
			},
			wantID:       "user-1",
			wantSignedIn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viewer := ViewerFromContext(tt.setupCtx())

			if viewer.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", viewer.ID, tt.wantID)
			}
			if viewer.SignedIn() != tt.wantSignedIn {
				t.Errorf("SignedIn = %v, want %v", viewer.SignedIn(), tt.wantSignedIn)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := setupTestServer(t, testConfig())
	defer ts.cleanup()

	userID, token := ts.createUser(t, "Ada")

	var seen model.Viewer
	capture := func(w http.ResponseWriter, r *http.Request) {
		seen = ViewerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}

	tests := []struct {
		name       string
		middleware func(http.HandlerFunc) http.HandlerFunc
		header     string
		query      string
		wantStatus int
		wantID     string
	}{
		{"require with token", ts.handler.RequireAuth, "Bearer " + token, "", http.StatusNoContent, userID},
		{"require with query token", ts.handler.RequireAuth, "", "?access_token=" + token, http.StatusNoContent, userID},
		{"require without token", ts.handler.RequireAuth, "", "", http.StatusUnauthorized, ""},
		{"require with bad token", ts.handler.RequireAuth, "Bearer nope", "", http.StatusUnauthorized, ""},
		{"optional with token", ts.handler.OptionalAuth, "Bearer " + token, "", http.StatusNoContent, userID},
		{"optional with bad token", ts.handler.OptionalAuth, "Bearer nope", "", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = model.Viewer{}
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			tt.middleware(capture).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if seen.ID != tt.wantID {
				t.Errorf("viewer = %q, want %q", seen.ID, tt.wantID)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	h := &Handler{}

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "9.9.9.9:1", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "9.9.9.9:1", "5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := h.getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
