package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/metrics"
)

// Category selects the bucket bandwidth of a limited request.
type Category string

const (
	CategoryLogin  Category = "login"
	CategorySignup Category = "signup"
	CategoryAPI    Category = "api"
)

const (
	RateLimitMessage = "Too many requests. Please try again later."
	RateLimitCode    = "TOO_MANY_REQUESTS"
)

// Limits are requests per minute per (client IP, category).
type Limits map[Category]int

func DefaultLimits() Limits {
	return Limits{CategoryLogin: 10, CategorySignup: 5, CategoryAPI: 100}
}

// Rule maps POST requests under Prefix to a category.
type Rule struct {
	Prefix   string
	Category Category
}

// DefaultRules limits login and signup plus every API prefix.
func DefaultRules(apiPrefixes []string) []Rule {
	rules := []Rule{
		{Prefix: "/auth/login", Category: CategoryLogin},
		{Prefix: "/auth/signup", Category: CategorySignup},
	}
	for _, p := range apiPrefixes {
		rules = append(rules, Rule{Prefix: p, Category: CategoryAPI})
	}
	return rules
}

// Decision is the outcome of consuming one token.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter consumes one token from the bucket of (key, category). Consumption
// is atomic per key.
type Limiter interface {
	Allow(ctx context.Context, key string, cat Category) (Decision, error)
	Name() string
}

// MemoryLimiter keeps one x/time/rate token bucket per key in a bounded LRU.
type MemoryLimiter struct {
	limits  Limits
	buckets *lru.Cache[string, *rate.Limiter]

	mu  sync.RWMutex
	now func() time.Time
}

func NewMemoryLimiter(limits Limits, maxBuckets int) (*MemoryLimiter, error) {
	cache, err := lru.New[string, *rate.Limiter](maxBuckets)
	if err != nil {
		return nil, fmt.Errorf("rate limit bucket cache: %w", err)
	}
	return &MemoryLimiter{limits: limits, buckets: cache, now: time.Now}, nil
}

// WithClock replaces the time source (tests).
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryLimiter) Name() string { return "memory" }

func (m *MemoryLimiter) bucket(key string, perMinute int) *rate.Limiter {
	if lim, ok := m.buckets.Get(key); ok {
		return lim
	}
	// a new bucket starts full
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	if prev, ok, _ := m.buckets.PeekOrAdd(key, lim); ok {
		return prev
	}
	return lim
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string, cat Category) (Decision, error) {
	perMinute := m.limits[cat]
	if perMinute <= 0 {
		return Decision{Allowed: true}, nil
	}
	m.mu.RLock()
	now := m.now()
	m.mu.RUnlock()

	lim := m.bucket(string(cat)+"|"+key, perMinute)
	if lim.AllowN(now, 1) {
		return Decision{Allowed: true}, nil
	}
	missing := 1 - lim.TokensAt(now)
	return Decision{RetryAfter: time.Duration(missing * float64(time.Minute/time.Duration(perMinute)))}, nil
}

// Len reports how many buckets are held.
func (m *MemoryLimiter) Len() int { return m.buckets.Len() }

func matchRule(rules []Rule, path string) (Category, bool) {
	for _, r := range rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r.Category, true
		}
	}
	return "", false
}

// RateLimitMiddleware throttles POST requests whose path matches a rule,
// one bucket per (client IP, category). Other requests pass untouched.
// Limiter errors let the request through.
func RateLimitMiddleware(l Limiter, rules []Rule, trustProxy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		cat, ok := matchRule(rules, c.Request.URL.Path)
		if !ok {
			c.Next()
			return
		}
		ip := ClientIP(c.Request, trustProxy)

		d, err := l.Allow(c.Request.Context(), ip, cat)
		if err != nil {
			metrics.RateLimitErrors.WithLabelValues(l.Name()).Inc()
			logger.Error().Err(err).Str("limiter", l.Name()).Str("category", string(cat)).Msg("rate limiter unavailable; allowing request")
			c.Next()
			return
		}
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			metrics.RateLimitRejected.WithLabelValues(l.Name(), string(cat)).Inc()
			logger.Debugf("rate limit exceeded: ip=%s category=%s", ip, cat)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, NewErrorResponse(RateLimitMessage, RateLimitCode))
			return
		}
		metrics.RateLimitAllowed.WithLabelValues(l.Name(), string(cat)).Inc()
		c.Next()
	}
}
