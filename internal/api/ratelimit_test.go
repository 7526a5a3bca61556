package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 10)

	if rl == nil {
		t.Fatal("NewRateLimiter should not return nil")
	}
	if rl.rate != 5 {
		t.Errorf("rate = %d, want 5", rl.rate)
	}
	if rl.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", rl.interval)
	}
	if rl.burst != 10 {
		t.Errorf("burst = %d, want 10", rl.burst)
	}
	if rl.clients == nil {
		t.Error("clients map should be initialized")
	}
}

func TestRateLimiter_Allow_NewClient(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 3)

	// New client should be allowed (starts with full bucket)
	if !rl.Allow("192.168.1.1") {
		t.Error("First request from new client should be allowed")
	}

	rl.mu.Lock()
	bucket, exists := rl.clients["192.168.1.1"]
	rl.mu.Unlock()

	if !exists {
		t.Fatal("Client should be tracked after first request")
	}
	if bucket.tokens != 2 { // burst - 1 for the request just made
		t.Errorf("tokens = %d, want 2", bucket.tokens)
	}
}

func TestRateLimiter_Allow_ExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("Request %d should be allowed within burst", i+1)
		}
	}

	if rl.Allow("10.0.0.1") {
		t.Error("Request beyond burst should be denied")
	}
}

func TestRateLimiter_Allow_IndependentClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 1)

	if !rl.Allow("10.0.0.1") {
		t.Error("First client should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("First client should be exhausted")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Second client should have its own bucket")
	}
}

func TestRateLimiter_Allow_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Millisecond, 2)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1") {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)

	if !rl.Allow("10.0.0.1") {
		t.Error("Bucket should refill after the interval elapses")
	}
}

func TestRateLimiter_Middleware_Blocks(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1, time.Hour, 1)
	r := gin.New()
	r.GET("/limited", rl.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest("GET", "/limited", nil)
	req.RemoteAddr = "203.0.113.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/limited", nil)
	req.RemoteAddr = "203.0.113.1:1234"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request should be limited, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if body["error"] != "Too many requests" {
		t.Errorf("Expected rate limit error, got %v", body["error"])
	}
	if body["retry_after"] == nil {
		t.Error("Expected retry_after hint in response")
	}
}

func TestGlobalLimitersExist(t *testing.T) {
	if LoginLimiter == nil || SetupLimiter == nil || PollLimiter == nil || UploadLimiter == nil {
		t.Fatal("Global rate limiters should be initialized")
	}
	if PollLimiter.burst <= LoginLimiter.burst {
		t.Error("Device-flow polling should allow more burst than login attempts")
	}
}
