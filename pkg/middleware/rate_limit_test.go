package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/sessionguard/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimitedRouter(t *testing.T, l Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(l, DefaultRules([]string{"/api/"}), true))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.POST("/auth/login", ok)
	r.POST("/auth/signup", ok)
	r.POST("/auth/refresh", ok)
	r.GET("/auth/login", ok)
	r.POST("/api/reviews", ok)
	return r
}

func doRequest(r http.Handler, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-For", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newMemoryLimiter(t *testing.T, clock *fakeClock) *MemoryLimiter {
	t.Helper()
	l, err := NewMemoryLimiter(DefaultLimits(), 1000)
	require.NoError(t, err)
	return l.WithClock(clock.Now)
}

func TestRateLimit_LoginTenPerMinute(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newLimitedRouter(t, newMemoryLimiter(t, clock))

	for i := 1; i <= 10; i++ {
		w := doRequest(r, http.MethodPost, "/auth/login", "1.2.3.4")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doRequest(r, http.MethodPost, "/auth/login", "1.2.3.4")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Equal(t, "TOO_MANY_REQUESTS", body["errorCode"])
	require.Equal(t, RateLimitMessage, body["message"])

	clock.Advance(60 * time.Second)
	w = doRequest(r, http.MethodPost, "/auth/login", "1.2.3.4")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newLimitedRouter(t, newMemoryLimiter(t, clock))

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/auth/signup", "1.2.3.4").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, doRequest(r, http.MethodPost, "/auth/signup", "1.2.3.4").Code)

	// other IP and other category are unaffected
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/auth/signup", "5.6.7.8").Code)
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/auth/login", "1.2.3.4").Code)
}

func TestRateLimit_UnmatchedRequestsPassThrough(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newLimitedRouter(t, newMemoryLimiter(t, clock))

	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/auth/login", "1.2.3.4").Code)
		require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/auth/refresh", "1.2.3.4").Code)
	}
}

func TestRateLimit_APICategory(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newLimitedRouter(t, newMemoryLimiter(t, clock))

	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/api/reviews", "1.2.3.4").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, doRequest(r, http.MethodPost, "/api/reviews", "1.2.3.4").Code)
}

func TestRateLimit_Metrics(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newLimitedRouter(t, newMemoryLimiter(t, clock))

	allowed := testutil.ToFloat64(metrics.RateLimitAllowed.WithLabelValues("memory", "signup"))
	rejected := testutil.ToFloat64(metrics.RateLimitRejected.WithLabelValues("memory", "signup"))
	for i := 0; i < 6; i++ {
		doRequest(r, http.MethodPost, "/auth/signup", "10.10.10.10")
	}
	require.Equal(t, allowed+5, testutil.ToFloat64(metrics.RateLimitAllowed.WithLabelValues("memory", "signup")))
	require.Equal(t, rejected+1, testutil.ToFloat64(metrics.RateLimitRejected.WithLabelValues("memory", "signup")))
}

func TestMemoryLimiter_BoundedBuckets(t *testing.T) {
	l, err := NewMemoryLimiter(DefaultLimits(), 3)
	require.NoError(t, err)
	ctx := context.Background()
	for _, ip := range []string{"a", "b", "c", "d", "e"} {
		d, err := l.Allow(ctx, ip, CategoryLogin)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	require.Equal(t, 3, l.Len())

	_, err = NewMemoryLimiter(DefaultLimits(), 0)
	require.Error(t, err)
}

func TestMemoryLimiter_ConcurrentConsumptionIsAtomic(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := newMemoryLimiter(t, clock)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "1.2.3.4", CategoryLogin)
			if err == nil && d.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, granted)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string, cat Category) (Decision, error) {
	return Decision{}, errors.New("redis down")
}
func (brokenLimiter) Name() string { return "broken" }

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newLimitedRouter(t, brokenLimiter{})
	before := testutil.ToFloat64(metrics.RateLimitErrors.WithLabelValues("broken"))
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/auth/login", "1.2.3.4").Code)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitErrors.WithLabelValues("broken")))
}
