package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	// Setup limiter: 1 req/sec, burst 2
	limiter := NewGlobalRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ts := httptest.NewServer(handler)
	defer ts.Close()

	client := ts.Client()

	// Bursts: 2 allowed immediately
	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		assert.Equal(t, http.StatusOK, resp.StatusCode, "Within burst limit")
		assert.NoError(t, resp.Body.Close())
	}

	// 3rd request immediately after exhausts the burst
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "Exceeded burst")
	assert.NoError(t, resp.Body.Close())

	// Wait 1.1s for token refill
	time.Sleep(1100 * time.Millisecond)

	resp, err = client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 4 failed: %v", err)
	}
	assert.Equal(t, http.StatusOK, resp.StatusCode, "Refilled token")
	assert.NoError(t, resp.Body.Close())
}

func TestRequestIDMiddleware_AssignsID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/alerts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_PreservesCallerID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/alerts", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "caller-supplied", w.Header().Get("X-Request-ID"))
}

func TestIdempotencyMiddleware_ReplaysCachedResponse(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/ledger/entries", nil)
		req.Header.Set("Idempotency-Key", "key-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, `{"ok":true}`, w.Body.String())
	}
	assert.Equal(t, 1, calls, "second request must be served from cache")
}

func TestIdempotencyMiddleware_SkipsReads(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/alerts", nil)
		req.Header.Set("Idempotency-Key", "key-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
	assert.Equal(t, 2, calls)
}
