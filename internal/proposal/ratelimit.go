package proposal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-seat proposal limiter
type RateLimitConfig struct {
	PerSecond       float64
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig allows short bursts of proposals from one seat
var DefaultRateLimitConfig = RateLimitConfig{
	PerSecond:       4,
	Burst:           8,
	CleanupInterval: 5 * time.Minute,
}

type seatLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements per-seat token buckets
type RateLimiter struct {
	mu       sync.Mutex
	seats    map[string]*seatLimit
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &RateLimiter{
		seats:    make(map[string]*seatLimit),
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a seat may submit another proposal
func (rl *RateLimiter) Allow(seat string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	s, ok := rl.seats[seat]
	if !ok {
		s = &seatLimit{limiter: rate.NewLimiter(rate.Limit(rl.config.PerSecond), rl.config.Burst)}
		rl.seats[seat] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// cleanup drops idle seats periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)
			for key, s := range rl.seats {
				if s.lastSeen.Before(cutoff) {
					delete(rl.seats, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
