package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/streaming-identity-core/internal/database"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
)

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a ping function into a named Checker.
type CheckerFunc struct {
	Name string
	Ping func(ctx context.Context) error
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	started := time.Now()
	err := c.Ping(ctx)
	res := CheckResult{Name: c.Name, Healthy: err == nil, LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func DBChecker(db *gorm.DB) Checker {
	return CheckerFunc{Name: "db", Ping: func(ctx context.Context) error { return database.Ping(ctx, db) }}
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc{Name: "redis", Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

// ProbeRunner runs every check concurrently under a shared timeout. With a
// positive cacheFor the last result set is reused until it goes stale.
type ProbeRunner struct {
	timeout  time.Duration
	cacheFor time.Duration
	checks   []Checker

	mu       sync.Mutex
	cachedAt time.Time
	ready    bool
	results  []CheckResult
}

func NewProbeRunner(timeout, cacheFor time.Duration, checks ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheFor: cacheFor, checks: checks}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if p == nil {
		return true, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cacheFor > 0 && !p.cachedAt.IsZero() && time.Since(p.cachedAt) < p.cacheFor {
		return p.ready, p.results
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	results := make([]CheckResult, len(p.checks))
	var wg sync.WaitGroup
	for i, c := range p.checks {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}(i, c)
	}
	wg.Wait()

	ready := true
	for _, r := range results {
		observability.RecordHealthProbe(ctx, r.Name, r.Healthy)
		if !r.Healthy {
			ready = false
		}
	}
	p.ready, p.results, p.cachedAt = ready, results, time.Now()
	return ready, results
}
