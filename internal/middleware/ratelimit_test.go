package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow("user:1") {
			t.Fatalf("request %d rejected within budget", i+1)
		}
	}
	if rl.allow("user:1") {
		t.Error("fourth request in the same interval was allowed")
	}
	if !rl.allow("user:2") {
		t.Error("another caller was throttled")
	}

	now = now.Add(time.Minute)
	if !rl.allow("user:1") {
		t.Error("budget not refilled after one interval")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.allow("ip:10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.allow("ip:10.0.0.2")
	now = now.Add(2 * time.Minute)
	rl.Cleanup()

	if _, ok := rl.visitors["ip:10.0.0.1"]; ok {
		t.Error("idle visitor kept")
	}
	if _, ok := rl.visitors["ip:10.0.0.2"]; !ok {
		t.Error("recent visitor dropped")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Hour)

	r := gin.New()
	r.GET("/start", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	var last *httptest.ResponseRecorder
	for i := range codes {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/start", nil))
		codes[i] = last.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
	if got := last.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("Retry-After = %q, want 3600", got)
	}
}
