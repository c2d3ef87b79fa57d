package hunt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"threathunt/internal/metrics"
	"threathunt/internal/query"
	"threathunt/internal/siem"
)

// Options tunes query execution. Retries counts attempts after the first.
type Options struct {
	Workers         int
	Timeout         time.Duration
	Retries         int
	Backoff         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	CacheSize       int
}

func DefaultOptions() Options {
	return Options{
		Workers:         4,
		Timeout:         30 * time.Second,
		Retries:         3,
		Backoff:         500 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		CacheSize:       4096,
	}
}

// Stats summarises one Execute call.
type Stats struct {
	Executed int
	Failed   int
	Cached   int
	Hits     int
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeCached
	outcomeFailed
)

// Orchestrator runs search queries against an authenticated connector.
type Orchestrator struct {
	conn    siem.Connector
	opts    Options
	breaker *CircuitBreaker
	logger  *slog.Logger
}

func NewOrchestrator(conn siem.Connector, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		conn:    conn,
		opts:    opts,
		breaker: NewCircuitBreaker(opts.BreakerFailures, opts.BreakerCooldown),
		logger:  logger,
	}
}

// Execute runs every query and returns copies carrying their hit counts.
// out[i] always corresponds to queries[i]. A query that fails gets
// query.HitUnknown; the others are unaffected.
func (o *Orchestrator) Execute(ctx context.Context, queries []query.SearchQuery) ([]query.SearchQuery, Stats) {
	out := make([]query.SearchQuery, len(queries))
	stats := Stats{Executed: len(queries)}
	if len(queries) == 0 {
		return out, stats
	}

	size := o.opts.CacheSize
	if size <= 0 {
		size = len(queries)
	}
	// Identical queries within one call share a single search.
	// New only fails for a non-positive size.
	cache, _ := lru.New[string, int](size)
	var inflight singleflight.Group

	pool := newWorkerPool(o.opts.Workers, len(queries), func(ctx context.Context, j job) result {
		n, oc := o.executeOne(ctx, cache, &inflight, j.query)
		return result{index: j.index, query: j.query.WithHits(n), outcome: oc}
	})
	pool.start(ctx)
	go func() {
		for i, q := range queries {
			pool.submit(job{index: i, query: q})
		}
		pool.close()
	}()

	for r := range pool.results() {
		out[r.index] = r.query
		switch r.outcome {
		case outcomeFailed:
			stats.Failed++
			metrics.Queries.WithLabelValues("failed").Inc()
		case outcomeCached:
			stats.Cached++
			metrics.Queries.WithLabelValues("cached").Inc()
		default:
			metrics.Queries.WithLabelValues("ok").Inc()
		}
		if r.query.HitCount > 0 {
			stats.Hits += r.query.HitCount
		}
	}
	return out, stats
}

func (o *Orchestrator) executeOne(ctx context.Context, cache *lru.Cache[string, int], inflight *singleflight.Group, q query.SearchQuery) (int, outcome) {
	// An unsearched query carries the sentinel, never zero.
	if err := ctx.Err(); err != nil {
		o.logger.Warn("query skipped", "subject", q.Subject, "err", err)
		return query.HitUnknown, outcomeFailed
	}

	key := cacheKey(q)
	if n, ok := cache.Get(key); ok {
		metrics.CacheHits.Inc()
		return n, outcomeCached
	}

	start := time.Now()
	searched := false
	v, err, _ := inflight.Do(key, func() (any, error) {
		if n, ok := cache.Get(key); ok {
			return n, nil
		}
		searched = true
		n, err := o.searchWithRetry(ctx, q)
		if err != nil {
			return 0, err
		}
		cache.Add(key, n)
		return n, nil
	})
	if searched {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		o.logger.Warn("query failed", "subject", q.Subject, "query", q.Expression, "err", err)
		return query.HitUnknown, outcomeFailed
	}

	n := v.(int)
	if !searched {
		metrics.CacheHits.Inc()
		return n, outcomeCached
	}
	o.logger.Debug("query executed", "subject", q.Subject, "hits", n)
	return n, outcomeOK
}

func (o *Orchestrator) searchWithRetry(ctx context.Context, q query.SearchQuery) (int, error) {
	return retry(ctx, o.opts.Retries+1, o.opts.Backoff, siem.Retryable, func() (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !o.breaker.Allow() {
			return 0, fmt.Errorf("%w: circuit open", siem.ErrBackendUnavailable)
		}
		n, err := o.search(ctx, q)
		if err != nil && siem.Retryable(err) {
			if o.breaker.RecordFailure() {
				metrics.BreakerOpen.Inc()
				o.logger.Warn("siem circuit opened", "cooldown", o.opts.BreakerCooldown)
			}
			return 0, err
		}
		o.breaker.RecordSuccess()
		return n, err
	})
}

func (o *Orchestrator) search(ctx context.Context, q query.SearchQuery) (int, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	n, err := o.conn.Search(ctx, q.Expression, q.Window.From, q.Window.To)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative hit count %d", siem.ErrQuery, n)
	}
	return n, nil
}

func cacheKey(q query.SearchQuery) string {
	return q.Expression + "|" + strconv.FormatInt(q.Window.From.UnixNano(), 10) + "|" + strconv.FormatInt(q.Window.To.UnixNano(), 10)
}
