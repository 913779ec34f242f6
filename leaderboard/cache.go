package leaderboard

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 10 * time.Minute
	// DefaultRetryAfter is how long a failed load is served before retrying.
	DefaultRetryAfter = 30 * time.Second
)

// Status describes the snapshot currently behind a Cache.
type Status struct {
	Loaded   bool      `json:"loaded"`
	Source   string    `json:"source"`
	Records  int       `json:"records"`
	LoadedAt time.Time `json:"loadedAt,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Cache keeps one Board per TTL. Concurrent callers share a single load,
// which runs without holding the cache lock. A failed load is not fatal:
// callers get an empty board and a Status carrying the error until the
// retry window passes.
type Cache struct {
	source     Source
	ttl        time.Duration
	retryAfter time.Duration
	now        func() time.Time
	loads      *prometheus.CounterVec
	group      singleflight.Group

	mu         sync.Mutex
	board      *Board
	status     Status
	fetchedAt  time.Time
	generation uint64
}

type CacheOption func(*Cache)

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithRetryAfter sets how long a failed load is remembered.
func WithRetryAfter(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.retryAfter = d
		}
	}
}

// WithLoadMetrics registers a snapshot load counter on reg.
func WithLoadMetrics(reg prometheus.Registerer) CacheOption {
	return func(c *Cache) {
		c.loads = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvk",
			Name:      "leaderboard_snapshot_loads_total",
			Help:      "Leaderboard snapshot loads, by result.",
		}, []string{"result"})
	}
}

func NewCache(source Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{source: source, ttl: ttl, retryAfter: DefaultRetryAfter, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loadResult struct {
	board  *Board
	status Status
}

func (c *Cache) Board(ctx context.Context) (*Board, Status) {
	c.mu.Lock()
	if c.freshLocked() {
		board, status := c.board, c.status
		c.mu.Unlock()
		return board, status
	}
	gen := c.generation
	c.mu.Unlock()

	// The shared load outlives any one caller's request.
	loadCtx := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(loadKey(gen), func() (any, error) {
		return c.load(loadCtx, gen), nil
	})
	res := v.(loadResult)
	return res.board, res.status
}

func (c *Cache) freshLocked() bool {
	if c.board == nil {
		return false
	}
	age := c.now().Sub(c.fetchedAt)
	if c.status.Loaded {
		return age < c.ttl
	}
	return age < c.retryAfter
}

func (c *Cache) load(ctx context.Context, gen uint64) loadResult {
	records, err := c.source.Load(ctx)
	at := c.now()

	var res loadResult
	if err != nil {
		log.Printf("[LEADERBOARD] snapshot load from %s failed: %v", c.source.Describe(), err)
		c.count("error")
		res = loadResult{
			board:  NewBoard(nil),
			status: Status{Loaded: false, Source: c.source.Describe(), Error: err.Error()},
		}
	} else {
		c.count("success")
		log.Printf("[LEADERBOARD] loaded %d records from %s", len(records), c.source.Describe())
		res = loadResult{
			board:  NewBoard(records),
			status: Status{Loaded: true, Source: c.source.Describe(), Records: len(records), LoadedAt: at.UTC()},
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A load that raced with Invalidate is returned to its callers but not kept.
	if gen == c.generation {
		c.board, c.status, c.fetchedAt = res.board, res.status, at
	}
	return res
}

// Invalidate drops the current board, including a remembered failure, so
// the next call reloads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.board = nil
	c.fetchedAt = time.Time{}
}

func (c *Cache) count(result string) {
	if c.loads != nil {
		c.loads.WithLabelValues(result).Inc()
	}
}

func loadKey(gen uint64) string {
	return "snapshot/" + strconv.FormatUint(gen, 10)
}
