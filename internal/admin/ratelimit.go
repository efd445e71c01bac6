package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL is how long a caller's bucket can sit idle before the
	// sweep drops it.
	staleLimiterTTL = 10 * time.Minute

	// sweepInterval paces the background sweep over idle buckets.
	sweepInterval = 1 * time.Minute
)

// budget holds the token bucket parameters for one route class.
type budget struct {
	limit rate.Limit
	burst int
}

func perMinute(n float64) rate.Limit { return rate.Limit(n / 60.0) }

// route classifies requests by method and path prefix. An empty method or
// prefix matches anything, so the catch-all goes last.
type route struct {
	class  string
	method string
	prefix string
	budget budget
}

// defaultRoutes returns the admin API limits. Sweeps hit the archive
// database, so the reconcile trigger gets a much tighter budget than the
// drive reads, and everything else shares the default.
func defaultRoutes() []route {
	return []route{
		{class: "reconcile", method: http.MethodPost, prefix: "/admin/v1/reconcile", budget: budget{limit: rate.Every(5 * time.Minute), burst: 1}},
		{class: "drive_reads", method: http.MethodGet, prefix: "/admin/v1/drives", budget: budget{limit: perMinute(30), burst: 5}},
		{class: "default", budget: budget{limit: perMinute(60), burst: 5}},
	}
}

// bucket pairs a limiter with its last use for TTL eviction.
type bucket struct {
	lim     *rate.Limiter
	touched time.Time
}

// RateLimitMiddleware applies per-route, per-caller rate limits to the admin
// API.
type RateLimitMiddleware struct {
	routes []route
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket // key: class + "|" + caller address

	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimitMiddleware builds the middleware with the default routes and
// starts the idle-bucket sweep. Call Stop to release the goroutine.
func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		routes:  defaultRoutes(),
		logger:  logger,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop shuts down the background sweep. Safe to call multiple times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Wrap returns a handler that rate limits before delegating to next.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt := rl.classify(r)
		addr := clientAddr(r)
		if !rl.take(rt, addr) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			rl.logger.Warn("admin API rate limit exceeded",
				"class", rt.class,
				"method", r.Method,
				"path", r.URL.Path,
				"client", addr,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// classify matches the request against the routes in order. The trailing
// catch-all guarantees a hit.
func (rl *RateLimitMiddleware) classify(r *http.Request) route {
	for _, rt := range rl.routes {
		if rt.method != "" && rt.method != r.Method {
			continue
		}
		if rt.prefix != "" && !strings.HasPrefix(r.URL.Path, rt.prefix) {
			continue
		}
		return rt
	}
	return rl.routes[len(rl.routes)-1]
}

// take reserves one token from the caller's bucket for the route class,
// creating the bucket on first sight. rate.Limiter is safe for concurrent
// use, so Allow runs outside the map lock.
func (rl *RateLimitMiddleware) take(rt route, addr string) bool {
	key := rt.class + "|" + addr

	rl.mu.Lock()
	bk, ok := rl.buckets[key]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(rt.budget.limit, rt.budget.burst)}
		rl.buckets[key] = bk
	}
	bk.touched = time.Now()
	rl.mu.Unlock()

	return bk.lim.Allow()
}

func (rl *RateLimitMiddleware) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			if n := rl.sweep(time.Now()); n > 0 {
				rl.logger.Debug("dropped idle rate limit buckets", "count", n)
			}
		}
	}
}

// sweep drops buckets idle past the TTL and reports how many went.
func (rl *RateLimitMiddleware) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for key, bk := range rl.buckets {
		if now.Sub(bk.touched) > staleLimiterTTL {
			delete(rl.buckets, key)
			dropped++
		}
	}
	return dropped
}

// LimiterCount reports the live bucket count, for tests and monitoring.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientAddr resolves the caller address for bucket keys and audit records.
// Proxy headers win over the socket peer, so limits follow the original
// caller when the admin port sits behind a forwarder.
func clientAddr(r *http.Request) string {
	for _, h := range []string{"X-Forwarded-For", "X-Real-IP"} {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
