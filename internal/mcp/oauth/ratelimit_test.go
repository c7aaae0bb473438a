package oauth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, false, 5*time.Minute, slog.Default())
	defer rl.Stop()

	if rl.rate != 10 {
		t.Errorf("Expected rate 10, got %d", rl.rate)
	}
	if rl.burst != 20 {
		t.Errorf("Expected burst 20, got %d", rl.burst)
	}
	if rl.trustProxy {
		t.Errorf("Expected trustProxy false, got %v", rl.trustProxy)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 10, false, 5*time.Minute, slog.Default())
	defer rl.Stop()

	for i := 0; i < 10; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed (within burst)", i+1)
		}
	}

	if rl.Allow("192.168.1.1") {
		t.Error("Request 11 should be denied (burst exhausted)")
	}

	// 10/s refills one token every 100ms
	time.Sleep(150 * time.Millisecond)

	if !rl.Allow("192.168.1.1") {
		t.Error("Request should be allowed after waiting")
	}
}

func TestRateLimiter_MultipleIPs(t *testing.T) {
	rl := NewRateLimiter(1, 2, false, 5*time.Minute, slog.Default())
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1") {
		t.Error("third request for first IP should be denied")
	}

	if !rl.Allow("10.0.0.2") {
		t.Error("second IP should have its own bucket")
	}
}

func TestRateLimiter_RemoveInactive(t *testing.T) {
	rl := NewRateLimiter(1, 1, false, time.Hour, slog.Default())
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	if removed := rl.removeInactive(time.Now()); removed != 0 {
		t.Errorf("removeInactive(now) = %d, want 0", removed)
	}
	if removed := rl.removeInactive(time.Now().Add(InactiveLimiterCleanupWindow + time.Minute)); removed != 2 {
		t.Errorf("removeInactive(later) = %d, want 2", removed)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, false, time.Millisecond, slog.Default())
	rl.Stop()
	rl.Stop()
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "forwarded headers ignored without trust",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "192.168.1.1",
		},
		{
			name:       "first forwarded address",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "real ip",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			trustProxy: true,
			want:       "198.51.100.2",
		},
		{
			name:       "address without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/token", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := getClientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("getClientIP() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Rate: 1, Burst: 2}
	handler, err := NewHandler(&fakeSource{}, cfg)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	defer handler.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := handler.RateLimitMiddleware(next)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/authorize", nil)
		req.RemoteAddr = "192.168.1.1:1234"
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Error("429 response should carry Retry-After")
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i+1, codes[i], want[i])
		}
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler, err := NewHandler(&fakeSource{}, DefaultConfig())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := handler.RateLimitMiddleware(next); got == nil {
		t.Fatal("RateLimitMiddleware() returned nil")
	}
}
