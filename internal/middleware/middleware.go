// Package middleware provides gin middleware shared by the HTTP API.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// RequestLogger logs one line per request with method, route, status,
// and latency.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			WithField("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Error("request failed")
			return
		}
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
		} else {
			entry.Info("request")
		}
	}
}

// Metrics records per-route request counts, durations, and in-flight
// gauge. Routes are labelled by template, not raw path, so path
// parameters do not explode cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.IncrementInFlight()
		start := time.Now()

		c.Next()

		metrics.DecrementInFlight()
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// rateEntry pairs a limiter with its last use for pruning.
type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles per client IP. Entries idle for an hour are
// pruned on the fly.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateEntry
	limit   rate.Limit
	burst   int
}

// NewRateLimiter builds a limiter allowing rps requests per second with
// the given burst per client.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return &RateLimiter{
		clients: make(map[string]*rateEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

// Handler returns the gin middleware.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(clientIP string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.clients[clientIP]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientIP] = entry
	}
	entry.lastSeen = now

	if len(r.clients) > 1024 {
		for ip, e := range r.clients {
			if now.Sub(e.lastSeen) > time.Hour {
				delete(r.clients, ip)
			}
		}
	}
	return entry.limiter.Allow()
}
