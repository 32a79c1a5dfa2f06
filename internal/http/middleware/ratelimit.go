// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the in-process rate limiter for the lending API. Every
// caller gets two token buckets: one for writes (opening, answering, closing
// and cancelling requests, posting messages, editing the profile) and one for
// reads (browsing open requests, the catalog, message threads). A burst of
// browsing therefore never eats into the budget needed to act on a request.
//
// Buckets are keyed by the caller identity set by Auth, falling back to the
// client IP for routes mounted outside it. Idempotent replays flagged by
// IdempotencyValidator skip the limiter.
//
// The limiter is process-local; replicated deployments use RedisRateLimiter,
// which shares the same keys.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	routeClassRead  = "read"
	routeClassWrite = "write"

	// idleBucketTTL is how long an unused bucket survives a sweep.
	idleBucketTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between sweeps.
	sweepEvery = 5000
)

// keyFunc maps a request to the bucket it is charged against.
type keyFunc func(*gin.Context) string

// KeyByCaller charges requests to "user:<id>:<class>", or to
// "ip:<addr>:<class>" when no caller identity is set. The class is "write"
// for mutating methods and "read" otherwise.
func KeyByCaller() keyFunc {
	return func(c *gin.Context) string {
		class := routeClass(c.Request.Method)
		if uid := UserID(c); uid != "" {
			return "user:" + uid + ":" + class
		}
		return "ip:" + c.ClientIP() + ":" + class
	}
}

func routeClass(method string) string {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return routeClassWrite
	default:
		return routeClassRead
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket limiter. It is safe for concurrent
// use; idle buckets are swept every sweepEvery lookups.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups uint64
	ttl     time.Duration
}

// NewRateLimiter refills rps tokens per second up to burst for each key. A
// burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     idleBucketTTL,
	}
}

// bucketFor returns the limiter for key, creating it on first use. The sweep
// runs before the lookup so a stale bucket is dropped rather than refreshed.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		rl.sweepLocked(now)
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.ttl {
			delete(rl.buckets, k)
		}
	}
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay of a completed write.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler charges one token per request and answers 429 rate_limited once
// the caller's bucket is empty. Retry-After carries the whole seconds until
// the next token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		res := rl.bucketFor(rl.keyFn(c)).Reserve()
		if !res.OK() {
			rejectRateLimited(c, 1)
			return
		}
		if wait := res.Delay(); wait > 0 {
			res.Cancel()
			rejectRateLimited(c, retryAfterSeconds(wait))
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	if s := int(math.Ceil(d.Seconds())); s > 1 {
		return s
	}
	return 1
}

// rejectRateLimited answers 429 with a Retry-After hint in seconds.
func rejectRateLimited(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
}
