package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             2,
		CleanupInterval:   time.Minute,
	})

	if !rl.Allow("1.2.3.4") {
		t.Error("first request denied, want allowed")
	}
	if !rl.Allow("1.2.3.4") {
		t.Error("second request denied, want allowed within burst")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("third request allowed, want denied beyond burst")
	}

	// Other clients have independent buckets.
	if !rl.Allow("5.6.7.8") {
		t.Error("request from a different client denied")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   time.Minute,
	})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*http.Request)
		want   string
	}{
		{
			"remote addr",
			func(r *http.Request) { r.RemoteAddr = "10.0.0.1:5555" },
			"10.0.0.1",
		},
		{
			"x-forwarded-for single",
			func(r *http.Request) { r.Header.Set("X-Forwarded-For", "1.1.1.1") },
			"1.1.1.1",
		},
		{
			"x-forwarded-for chain",
			func(r *http.Request) { r.Header.Set("X-Forwarded-For", "2.2.2.2, 3.3.3.3") },
			"2.2.2.2",
		},
		{
			"x-real-ip",
			func(r *http.Request) { r.Header.Set("X-Real-IP", "4.4.4.4") },
			"4.4.4.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
