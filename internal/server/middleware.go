package server

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/opsdeck/opsdeck/internal/utils"
)

// ipThrottle is a per-IP token bucket in front of the credential
// endpoints. It is a network-level backstop; the per-username login
// gate is the one that implements the account lockout semantics.
func ipThrottle(perSecond float64, burst int) fiber.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	lastSeen := make(map[string]time.Time)

	// Drop buckets idle for an hour so the map cannot grow without
	// bound.
	const idleTTL = time.Hour
	go func() {
		for range time.Tick(10 * time.Minute) {
			cutoff := time.Now().Add(-idleTTL)
			mu.Lock()
			for ip, seen := range lastSeen {
				if seen.Before(cutoff) {
					delete(limiters, ip)
					delete(lastSeen, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *fiber.Ctx) error {
		ip := c.IP()

		mu.Lock()
		lim, ok := limiters[ip]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[ip] = lim
		}
		lastSeen[ip] = time.Now()
		mu.Unlock()

		if !lim.Allow() {
			return utils.ErrorResponse(c, "too_many_requests", fiber.StatusTooManyRequests)
		}
		return c.Next()
	}
}
