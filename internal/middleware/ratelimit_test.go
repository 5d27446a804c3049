package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/glimmerapp/glimmer/internal/middleware"
)

func TestRateLimiter_AllowPerIP(t *testing.T) {
	rl := middleware.NewRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	// Other IPs have their own budget
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimitUploads_ConfiguredLimit(t *testing.T) {
	limiter := middleware.RateLimitUploads(1, time.Minute)
	handler := limiter(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/images", nil)
	req.RemoteAddr = "10.0.0.3:1234"

	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
