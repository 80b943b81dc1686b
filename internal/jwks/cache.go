// Package jwks fetches and caches the provider's signing key set.
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"

	"bjpass-go/internal/metrics"
)

// ErrKeyNotFound is returned when the key set holds no key with the
// requested kid. Callers handle rotation by invalidating and retrying once.
var ErrKeyNotFound = errors.New("signing key not found in key set")

// FetchError indicates the provider's JWKS endpoint could not be read or
// returned a payload without a keys array.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to fetch JWKS from %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("failed to fetch JWKS from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cache holds the provider's key set for a TTL. Cold and stale lookups go
// through the same fetch path; concurrent refreshes are coalesced into a
// single in-flight request whose result all waiters share. Cache-hit reads
// never block behind a refresh.
type Cache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time

	now func() time.Time
}

// NewCache creates a cache for the provider's key endpoint. The endpoint is
// shared by all authorization servers under the base URL.
func NewCache(baseURL string, ttl, timeout time.Duration, logger *slog.Logger) *Cache {
	url := strings.TrimRight(baseURL, "/") + "/trustedx-authserver/oauth/keys"
	return &Cache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Key returns the signing key with the given kid, refreshing the key set
// first when the cache is cold or stale.
func (c *Cache) Key(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

// Refresh fetches the key set unconditionally. Concurrent callers share a
// single fetch.
func (c *Cache) Refresh(ctx context.Context) (jwk.Set, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// Invalidate forces the next Key call to refetch regardless of TTL. Used
// when a kid lookup misses, to pick up rotated keys.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

func (c *Cache) current(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set, fetchedAt := c.set, c.fetchedAt
	c.mu.RUnlock()

	if set != nil && c.now().Sub(fetchedAt) < c.ttl {
		return set, nil
	}
	return c.Refresh(ctx)
}

func (c *Cache) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.JwksFetches.WithLabelValues("error").Inc()
		return nil, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.JwksFetches.WithLabelValues("error").Inc()
		return nil, &FetchError{URL: c.url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.JwksFetches.WithLabelValues("error").Inc()
		return nil, &FetchError{URL: c.url, Status: resp.StatusCode}
	}

	// The payload must carry a keys array before it is worth parsing.
	var envelope struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Keys == nil {
		metrics.JwksFetches.WithLabelValues("error").Inc()
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("payload has no keys array")}
	}

	set, err := jwk.Parse(body)
	if err != nil {
		metrics.JwksFetches.WithLabelValues("error").Inc()
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("parsing key set: %w", err)}
	}

	c.mu.Lock()
	c.set = set
	c.fetchedAt = c.now()
	c.mu.Unlock()

	metrics.JwksFetches.WithLabelValues("ok").Inc()
	c.logger.Info("JWKS fetched", "url", c.url, "keys", set.Len())

	return set, nil
}
