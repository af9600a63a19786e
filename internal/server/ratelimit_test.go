package server_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evidentry/evidentry/internal/server"
	"github.com/gin-gonic/gin"
)

func TestRateLimiter_blocksBurstOverflow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(server.RateLimiter(1, 2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("requests within the burst must pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("request beyond the burst must get 429, got %d", statuses[2])
	}
}

func TestRateLimiter_perIPBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(server.RateLimiter(1, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("10.0.0.1:1234"); got != http.StatusOK {
		t.Fatalf("first client's first request: expected 200, got %d", got)
	}
	if got := do("10.0.0.1:1234"); got != http.StatusTooManyRequests {
		t.Errorf("first client's second request: expected 429, got %d", got)
	}
	if got := do("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("a different client must have its own bucket, got %d", got)
	}
}
