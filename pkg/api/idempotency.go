package api

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// cachedResponse stores a previously-seen response for idempotent replay.
type cachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStorer defines the interface for idempotency backends.
type IdempotencyStorer interface {
	Check(key string) (*cachedResponse, bool)
	Set(key string, statusCode int, headers http.Header, body []byte)
}

// MemoryIdempotencyStore holds cached responses keyed by idempotency key (in-memory).
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
}

// NewIdempotencyStore creates a new in-memory idempotency store.
func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
	}
	// Background cleanup of expired entries
	go s.cleanup()
	return s
}

func (s *MemoryIdempotencyStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for k, v := range s.entries {
			if now.Sub(v.CachedAt) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Check returns a cached response if existing and valid.
func (s *MemoryIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	cached, exists := s.entries[key]
	s.mu.RUnlock()

	if exists && time.Since(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

// Set stores a response.
func (s *MemoryIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   time.Now(),
	}
}

// SQLIdempotencyStore provides durable idempotency enforcement backed by a
// SQL database, surviving process restarts.
type SQLIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLIdempotencyStore creates the store and its backing table.
func NewSQLIdempotencyStore(ctx context.Context, db *sql.DB, ttl time.Duration) (*SQLIdempotencyStore, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key         TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		body        BLOB NOT NULL,
		cached_at   TIMESTAMP NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}
	return &SQLIdempotencyStore{db: db, ttl: ttl}, nil
}

// Check returns a cached response if the key was seen before and is within TTL.
func (s *SQLIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var statusCode int
	var body []byte
	var cachedAt time.Time

	err := s.db.QueryRow(
		`SELECT status_code, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	hdr := make(http.Header)
	hdr.Set("Content-Type", "application/json")
	return &cachedResponse{StatusCode: statusCode, Headers: hdr, Body: body}, true
}

// Set stores an idempotency key and its response. Best effort; a write
// failure only loses replay protection for this key.
func (s *SQLIdempotencyStore) Set(key string, statusCode int, _ http.Header, body []byte) {
	_, err := s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, body, cached_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, body = $3, cached_at = $4`,
		key, statusCode, body, time.Now().UTC(),
	)
	if err != nil {
		slog.Warn("idempotency key write failed", "key", key, "error", err)
	}
}

// responseCapture wraps http.ResponseWriter to capture the response.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware ensures that mutating requests with an Idempotency-Key
// header are processed exactly once. Duplicate requests receive the cached response.
func IdempotencyMiddleware(store IdempotencyStorer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, exists := store.Check(key); exists {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Set(k, v)
					}
				}
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Cache successful responses (2xx)
			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(key, capture.statusCode, w.Header().Clone(), capture.body.Bytes())
			}
		})
	}
}
