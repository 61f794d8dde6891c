package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmshv/rfpharvest/config"
)

func testFetcher() *Fetcher {
	return NewFetcher(FetcherOptions{
		Retry: config.RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    1,
			MaxDelayMs:        5,
			BackoffMultiplier: 2.0,
		},
		UserAgent: "rfpharvest-test",
	})
}

func TestFetcherRetriesUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if got := r.Header.Get("User-Agent"); got != "rfpharvest-test" {
			t.Errorf("User-Agent = %q", got)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testFetcher().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrUnexpectedStatusCode) {
		t.Fatalf("Get() error = %v, want ErrUnexpectedStatusCode", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFetcherSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	if _, err := testFetcher().Get(context.Background(), srv.URL, map[string]string{"X-Api-Key": "secret"}); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestFetcherRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := testFetcher().Get(ctx, srv.URL, nil)
	if err == nil {
		t.Fatal("Get() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Get() took %v after the context expired", elapsed)
	}
}

func TestFetcherLimitsBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		size := 4096
		if r.URL.Path == "/exact" {
			size = 1024
		}
		_, _ = w.Write(make([]byte, size))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{MaxBodyKb: 1, Retry: config.RetryPolicy{MaxAttempts: 3, BackoffMultiplier: 1}})
	body, err := f.Get(context.Background(), srv.URL+"/exact", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(body) != 1024 {
		t.Errorf("len(body) = %d, want 1024", len(body))
	}

	hits.Store(0)
	_, err = f.Get(context.Background(), srv.URL+"/large", nil)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("Get() error = %v, want ErrBodyTooLarge", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("hits = %d, want 1", n)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		if got := isRetryableStatus(tt.code); got != tt.want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
