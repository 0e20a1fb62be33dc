package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(context.Canceled) {
		t.Fatalf("context.Canceled must not be retried")
	}
	if !IsRetryableError(&StatusError{StatusCode: 503}) {
		t.Fatalf("503 should be retried")
	}
	if IsRetryableError(&StatusError{StatusCode: 400}) {
		t.Fatalf("400 should not be retried")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Fatalf("plain errors should not be retried")
	}
}

func TestRetrierRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	r := Retrier{Service: "test", MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
	body, err := r.Do(context.Background(), srv.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if err != nil || string(body) != "ok" {
		t.Fatalf("Do: want ok got=%q err=%v", body, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls: want=2 got=%d", calls.Load())
	}
}

func TestRetrierStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	r := Retrier{Service: "test", MaxRetries: 3, Backoff: time.Millisecond}
	_, err := r.Do(context.Background(), srv.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("want StatusError 400 got=%v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls: want=1 got=%d", calls.Load())
	}
}
