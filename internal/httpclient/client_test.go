package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestRequestRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	interval := 20 * time.Millisecond
	c := newTestClient(t, Config{Retries: 2, RetryInterval: interval})

	start := time.Now()
	resp, err := c.Get(context.Background(), srv.URL)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff("ok", resp.Text()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(3), hits.Load()); diff != "" {
		t.Errorf("attempt count mismatch (-want +got):\n%s", diff)
	}
	if elapsed < 2*interval {
		t.Errorf("expected at least %v of backoff between failed attempts, got %v", 2*interval, elapsed)
	}
}

func TestRequestExhaustion(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		closed    bool
		retries   int
		wantCalls int32
	}{
		{
			name: "status mismatch",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			retries:   2,
			wantCalls: 3,
		},
		{
			name: "no retries configured",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			retries:   0,
			wantCalls: 1,
		},
		{
			name:    "network failure",
			handler: func(http.ResponseWriter, *http.Request) {},
			closed:  true,
			retries: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tt.handler(w, r)
			}))
			target := srv.URL
			if tt.closed {
				srv.Close()
			} else {
				defer srv.Close()
			}

			c := newTestClient(t, Config{Retries: tt.retries, RetryInterval: time.Millisecond})
			_, err := c.Get(context.Background(), target)
			if !errors.Is(err, ErrNoResponse) {
				t.Fatalf("expected ErrNoResponse, got %v", err)
			}
			if diff := cmp.Diff(tt.wantCalls, hits.Load()); diff != "" {
				t.Errorf("attempt count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequestExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retries: 0})
	resp, err := c.Post(context.Background(), srv.URL, WithStatus(http.StatusCreated))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Status string `json:"status"`
	}
	if err := resp.JSON(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff("queued", got.Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestHeadersQueryAndForm(t *testing.T) {
	type seen struct {
		UserAgent   string
		Accept      string
		ContentType string
		Query       string
		Form        string
	}
	var got seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = seen{
			UserAgent:   r.Header.Get("User-Agent"),
			Accept:      r.Header.Get("Accept"),
			ContentType: r.Header.Get("Content-Type"),
			Query:       r.URL.Query().Get("entry"),
			Form:        r.PostForm.Get("pwencode"),
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	_, err := c.Post(context.Background(), srv.URL+"/login",
		WithHeader("User-Agent", "ignored"),
		WithHeader("Accept", "text/html"),
		WithQuery(url.Values{"entry": {"sso"}}),
		WithForm(url.Values{"pwencode": {"rsa2"}}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := seen{
		UserAgent:   DefaultUserAgent,
		Accept:      "text/html",
		ContentType: "application/x-www-form-urlencoded",
		Query:       "sso",
		Form:        "rsa2",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionCookiesPersist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "SUB", Value: "session", Path: "/"})
		case "/private":
			if ck, err := r.Cookie("SUB"); err != nil || ck.Value != "session" {
				w.WriteHeader(http.StatusForbidden)
			}
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retries: 0})
	ctx := context.Background()
	if _, err := c.Get(ctx, srv.URL+"/login"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.Get(ctx, srv.URL+"/private"); err != nil {
		t.Fatalf("expected cookie to be sent: %v", err)
	}
	if diff := cmp.Diff(1, len(c.Cookies(srv.URL))); diff != "" {
		t.Errorf("cookie count mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retries: 5, RetryInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
