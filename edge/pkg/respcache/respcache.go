// Package respcache caches resolved image responses by request equivalence: two requests for the
// same path with the same relevant negotiation hints share an entry.
package respcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
)

// Entry is a fully read response. Entries are immutable once added.
type Entry struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	ETag        string `json:"etag"`
	Depth       int    `json:"depth"`
	Body        []byte `json:"body"`
}

type Cache interface {
	Get(ctx context.Context, requestKey string) (*Entry, bool)
	Add(ctx context.Context, requestKey string, e *Entry)
}

type Config struct {
	// Size is the number of entries of the in-process cache. Zero disables caching.
	Size int `mapstructure:"size"`
	// TTL bounds how long a resolution is reused, a variant uploaded later is picked up afterwards.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxEntryBytes skips bodies larger than this.
	MaxEntryBytes int64 `mapstructure:"max-entry-bytes"`
	// RedisURL selects the shared Redis backend instead of the in-process cache.
	RedisURL string `mapstructure:"redis-url"`
}

func DefaultConfig() Config {
	return Config{
		Size:          1024,
		TTL:           10 * time.Minute,
		MaxEntryBytes: 8 << 20,
	}
}

// RequestKey derives the cache key of a request from the hints the resolver looks at.
// configVersion is the resolver's ConfigVersion, entries resolved with an older configuration are
// not reused after a reload.
func RequestKey(path string, h resolver.Hints, configVersion string) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteString("|a=")
	b.WriteString(strings.Join(h.Accepted, ","))
	b.WriteString("|s=")
	b.WriteString(strconv.FormatBool(h.SaveData))
	b.WriteString("|tw=")
	b.WriteString(strconv.Itoa(h.TargetWidth()))
	b.WriteString("|f=")
	b.WriteString(h.Format)
	b.WriteString("|c=")
	b.WriteString(configVersion)
	return b.String()
}

// LRU is an in-process cache with a fixed number of entries and expiry.
type LRU struct {
	lru      *expirable.LRU[string, *Entry]
	maxBytes int64
}

func NewLRU(size int, ttl time.Duration, maxEntryBytes int64) *LRU {
	return &LRU{
		lru:      expirable.NewLRU[string, *Entry](size, nil, ttl),
		maxBytes: maxEntryBytes,
	}
}

func (c *LRU) Get(_ context.Context, requestKey string) (*Entry, bool) {
	return c.lru.Get(requestKey)
}

func (c *LRU) Add(_ context.Context, requestKey string, e *Entry) {
	if c.maxBytes > 0 && int64(len(e.Body)) > c.maxBytes {
		return
	}
	c.lru.Add(requestKey, e)
}

func (c *LRU) Len() int {
	return c.lru.Len()
}

// Nop never caches anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Entry, bool) { return nil, false }
func (Nop) Add(context.Context, string, *Entry)        {}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (*Entry, error) {
	e := &Entry{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("unable to decode cache entry: %w", err)
	}
	if e.Key == "" {
		return nil, fmt.Errorf("unable to decode cache entry: missing key")
	}
	return e, nil
}
