package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// newTestLimiter returns a limiter driven by a manual clock.
func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLimiterAllow(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d should be within burst", i)
	}
	assert.False(t, l.Allow("1.2.3.4"), "request after burst should be denied")

	*clock = clock.Add(time.Second)
	assert.True(t, l.Allow("1.2.3.4"), "one token refills per second at 60/min")
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
	assert.Equal(t, 2, l.Clients())
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, IdleTimeout: time.Minute})

	l.Allow("old")
	*clock = clock.Add(2 * time.Minute)
	l.Allow("fresh")

	l.evictIdle()
	assert.Equal(t, 1, l.Clients())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/v1/reputation", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/reputation", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}
