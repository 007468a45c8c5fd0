package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(mw...)
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return e
}

func get(e http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	e := newEngine(RateLimit(RateLimitConfig{Max: 5, Window: time.Minute}))

	for i := range 5 {
		w := get(e, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	e := newEngine(RateLimit(RateLimitConfig{Max: 2, Window: time.Minute}))

	for range 2 {
		require.Equal(t, http.StatusOK, get(e, "10.0.0.1:9999", nil).Code)
	}

	w := get(e, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_DifferentIPs(t *testing.T) {
	e := newEngine(RateLimit(RateLimitConfig{Max: 1, Window: time.Minute}))

	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.2:1234", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(e, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_APIKey(t *testing.T) {
	e := newEngine(RateLimit(RateLimitConfig{Max: 1, Window: time.Minute}))

	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1", map[string]string{"X-API-Key": "key-a"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(e, "10.0.0.2:1", map[string]string{"X-API-Key": "key-a"}).Code)
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1", map[string]string{"X-API-Key": "key-b"}).Code)
	// The IP bucket is separate from any key bucket.
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1", nil).Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	e := newEngine(RateLimit(RateLimitConfig{Max: 1, Window: time.Minute}))
	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

	assert.Equal(t, http.StatusOK, get(e, "192.168.1.1:4444", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(e, "192.168.1.2:5555", xff).Code)
}

func TestRateLimit_Cleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()
	rl.get("a", now)
	rl.get("b", now.Add(50*time.Second))

	rl.cleanup(now.Add(61 * time.Second))
	assert.NotContains(t, rl.clients, "a")
	assert.Contains(t, rl.clients, "b")
}
