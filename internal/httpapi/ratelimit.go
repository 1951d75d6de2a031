package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RepRateLimiter manages per-rep rate limiters for dial commands.
type RepRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	log      *slog.Logger
}

// NewRepRateLimiter allows perMinute commands per rep with the given burst.
func NewRepRateLimiter(perMinute, burst int, log *slog.Logger) *RepRateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &RepRateLimiter{rate: rate.Limit(float64(perMinute) / 60.0), burst: burst, log: log}
}

func (l *RepRateLimiter) getLimiter(repID string) *rate.Limiter {
	if v, ok := l.limiters.Load(repID); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(repID, rate.NewLimiter(l.rate, l.burst))
	return v.(*rate.Limiter)
}

// RateLimit returns a middleware that rate limits by caller rep id.
// It must run after auth.RequireIdentity.
func (l *RepRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, _ := identity(c)
		if rep == "" {
			rep = c.ClientIP()
		}
		if !l.getLimiter(rep).Allow() {
			l.log.Warn("rate limit exceeded", "rep_id", rep, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
