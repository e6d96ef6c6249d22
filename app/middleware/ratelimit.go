package middleware

import (
	"net/http"
	"sync"

	"github.com/cliphive/ms-go-account/app/dto"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware keeps a token bucket per client IP for the public
// credential routes, where password guessing is cheapest.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimitMiddleware(rps float64, burst int) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		visitors: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (m *RateLimitMiddleware) Limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.limiter(c.RealIP()).Allow() {
			logrus.WithField("remote_ip", c.RealIP()).Warn("Rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Status: http.StatusTooManyRequests,
				Error:  "too many requests",
			})
		}

		return next(c)
	}
}

func (m *RateLimitMiddleware) limiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.visitors[key]
	if !ok {
		limiter = rate.NewLimiter(m.rps, m.burst)
		m.visitors[key] = limiter
	}
	return limiter
}
