package api

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures a keyed token-bucket limiter
type RateLimitConfig struct {
	RequestsPerSecond float64       // Tokens refilled per second per key
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often idle buckets are dropped
}

// DefaultRateLimitConfig bounds every request per client IP
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CleanupInterval:   5 * time.Minute,
}

// DefaultProposeRateLimitConfig bounds HTTP proposals per seat
var DefaultProposeRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 2,
	Burst:             6,
	CleanupInterval:   5 * time.Minute,
}

// KeyFunc derives the bucket key of a request.
type KeyFunc func(r *http.Request) string

// LimiterStats is a point-in-time view of a RequestLimiter.
type LimiterStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
	Tracked  int    `json:"tracked"` // live buckets
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequestLimiter keeps one token bucket per request key.
type RequestLimiter struct {
	reason string // connection_rejected_total label
	key    KeyFunc
	config RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	allowed  atomic.Uint64
	rejected atomic.Uint64

	stopChan chan struct{}
	stopOnce sync.Once
}

func newRequestLimiter(reason string, key KeyFunc, cfg RateLimitConfig) *RequestLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &RequestLimiter{
		reason:   reason,
		key:      key,
		config:   cfg,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// NewIPRateLimiter limits every request by client IP.
func NewIPRateLimiter(cfg RateLimitConfig) *RequestLimiter {
	return newRequestLimiter("rate_limit", GetClientIP, cfg)
}

// NewSeatRateLimiter limits proposals by seat. Callers without a valid seat
// token share a bucket per IP, so forged tokens cannot mint fresh buckets.
func NewSeatRateLimiter(seats *SeatManager, cfg RateLimitConfig) *RequestLimiter {
	return newRequestLimiter("propose_limit", SeatKey(seats), cfg)
}

// SeatKey keys a request by the team of its seat, falling back to the IP.
func SeatKey(seats *SeatManager) KeyFunc {
	return func(r *http.Request) string {
		if seat, err := seats.ValidateRequest(r); err == nil {
			return "seat:" + seat.Team.String()
		}
		return "ip:" + GetClientIP(r)
	}
}

// Stop stops the cleanup goroutine
func (rl *RequestLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// Allow takes a token from key's bucket.
func (rl *RequestLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	ok = b.limiter.AllowN(now, 1)
	rl.mu.Unlock()

	if ok {
		rl.allowed.Add(1)
	} else {
		rl.rejected.Add(1)
	}
	return ok
}

// Middleware rejects requests whose bucket is empty with a JSON 429.
func (rl *RequestLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.key(r)) {
			RecordConnectionRejected(rl.reason)
			w.Header().Set("Retry-After", "1")
			writeError(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats returns the limiter counters
func (rl *RequestLimiter) Stats() LimiterStats {
	rl.mu.Lock()
	tracked := len(rl.buckets)
	rl.mu.Unlock()
	return LimiterStats{
		Allowed:  rl.allowed.Load(),
		Rejected: rl.rejected.Load(),
		Tracked:  tracked,
	}
}

func (rl *RequestLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops buckets idle for two intervals
func (rl *RequestLimiter) cleanup() {
	cutoff := rl.now().Add(-rl.config.CleanupInterval * 2)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// GetClientIP extracts the client IP from an HTTP request
// Handles X-Forwarded-For header for proxied requests
func GetClientIP(r *http.Request) string {
	// CAUTION: X-Forwarded-For can be spoofed if not behind a trusted proxy
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

var (
	ErrTooManyConnections   = errors.New("connection limit reached")
	ErrTooManyConnectionsIP = errors.New("per-IP connection limit reached")
)

// ConnStats is a point-in-time view of a ConnLimiter.
type ConnStats struct {
	Active        int    `json:"active"`
	TrackedIPs    int    `json:"trackedIps"`
	RejectedTotal uint64 `json:"rejectedTotal"` // server-wide cap
	RejectedPerIP uint64 `json:"rejectedPerIp"` // per-IP cap
	MaxTotal      int    `json:"maxTotal"`
	MaxPerIP      int    `json:"maxPerIp"`
}

// ConnLimiter caps concurrent stream connections, server-wide and per IP.
// A slot is reserved before the upgrade and released when the client leaves.
type ConnLimiter struct {
	maxTotal int
	maxPerIP int

	mu    sync.Mutex
	total int
	perIP map[string]int

	rejectedTotal atomic.Uint64
	rejectedPerIP atomic.Uint64
}

// NewConnLimiter creates a connection limiter
func NewConnLimiter(maxTotal, maxPerIP int) *ConnLimiter {
	return &ConnLimiter{
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
		perIP:    make(map[string]int),
	}
}

// Acquire reserves a slot for ip.
func (cl *ConnLimiter) Acquire(ip string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.total >= cl.maxTotal {
		cl.rejectedTotal.Add(1)
		return ErrTooManyConnections
	}
	if cl.perIP[ip] >= cl.maxPerIP {
		cl.rejectedPerIP.Add(1)
		return ErrTooManyConnectionsIP
	}
	cl.total++
	cl.perIP[ip]++
	return nil
}

// Release frees a slot reserved by Acquire.
func (cl *ConnLimiter) Release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	n, ok := cl.perIP[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(cl.perIP, ip)
	} else {
		cl.perIP[ip] = n - 1
	}
	cl.total--
}

// Stats returns the limiter counters
func (cl *ConnLimiter) Stats() ConnStats {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return ConnStats{
		Active:        cl.total,
		TrackedIPs:    len(cl.perIP),
		RejectedTotal: cl.rejectedTotal.Load(),
		RejectedPerIP: cl.rejectedPerIP.Load(),
		MaxTotal:      cl.maxTotal,
		MaxPerIP:      cl.maxPerIP,
	}
}

// allowedOrigins holds the origin patterns accepted by CORS and the
// websocket upgrader. A "*" in a pattern matches any run of characters.
var (
	allowedOriginsMu sync.RWMutex
	allowedOrigins   = []string{
		"http://localhost",
		"http://localhost:*",
		"http://127.0.0.1:*",
	}
)

// SetAllowedOrigins replaces the allowed origin patterns.
func SetAllowedOrigins(patterns []string) {
	allowedOriginsMu.Lock()
	allowedOrigins = append([]string(nil), patterns...)
	allowedOriginsMu.Unlock()
}

// IsAllowedOrigin checks if an origin matches one of the allowed patterns
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	allowedOriginsMu.RLock()
	defer allowedOriginsMu.RUnlock()
	for _, pattern := range allowedOrigins {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}

func matchOrigin(pattern, origin string) bool {
	prefix, suffix, wildcard := strings.Cut(pattern, "*")
	if !wildcard {
		return pattern == origin
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}
