package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loa-board/internal/game"
)

const (
	// Seat cookie name
	SeatCookieName = "loa_board_seat"

	// SeatTokenHeader carries the seat token for non-browser clients
	SeatTokenHeader = "X-Seat-Token"

	// SeatIdleTimeout releases a seat that has not proposed anything for this long
	SeatIdleTimeout = 30 * time.Minute

	// Cookie settings
	CookieSecure   = false // Set to true in production with HTTPS
	CookieHTTPOnly = true
	CookieSameSite = http.SameSiteLaxMode
)

var (
	ErrSeatsFull        = errors.New("both seats are taken")
	ErrInvalidSeatToken = errors.New("invalid seat token")
)

// Seat is one of the two player slots.
type Seat struct {
	ID       string    `json:"id"`
	Team     game.Team `json:"team"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// SeatManager hands out the red and blue seats and signs the tokens that
// authenticate proposals.
type SeatManager struct {
	mu    sync.RWMutex
	seats [2]*Seat

	// Secret key for signing seat tokens
	secretKey []byte

	// onChange runs after every join or release with the occupancy
	onChange func(team game.Team, joined bool, name string, bothSeated bool)

	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewSeatManager creates a seat manager. An empty secret generates a random
// one, which invalidates tokens on restart.
func NewSeatManager(secret string) *SeatManager {
	secretKey := []byte(secret)
	if len(secretKey) == 0 {
		secretKey = make([]byte, 32)
		if _, err := rand.Read(secretKey); err != nil {
			log.Printf("⚠️ Failed to generate seat secret, using fallback")
			secretKey = []byte("loa-board-default-secret-key-32b")
		}
	}
	return &SeatManager{
		secretKey: secretKey,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// OnChange registers the callback fired after every seat change. It runs
// outside the seat lock.
func (sm *SeatManager) OnChange(fn func(team game.Team, joined bool, name string, bothSeated bool)) {
	sm.mu.Lock()
	sm.onChange = fn
	sm.mu.Unlock()
}

// Start launches the idle-seat cleanup loop.
func (sm *SeatManager) Start() {
	go sm.cleanupIdleSeats()
}

// Stop ends the cleanup loop.
func (sm *SeatManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stopChan) })
}

// Join seats a new player: red first, then blue.
func (sm *SeatManager) Join(name string) (Seat, string, error) {
	sm.mu.Lock()
	team := game.NoTeam
	for _, t := range []game.Team{game.TeamRed, game.TeamBlue} {
		if sm.seats[t] == nil {
			team = t
			break
		}
	}
	if team == game.NoTeam {
		sm.mu.Unlock()
		return Seat{}, "", ErrSeatsFull
	}

	now := sm.now()
	seat := &Seat{
		ID:       uuid.NewString(),
		Team:     team,
		Name:     name,
		JoinedAt: now,
		LastSeen: now,
	}
	sm.seats[team] = seat
	both := sm.seats[game.TeamRed] != nil && sm.seats[game.TeamBlue] != nil
	fn := sm.onChange
	sm.mu.Unlock()

	log.Printf("🪑 %s took the %s seat", name, team)
	if fn != nil {
		fn(team, true, name, both)
	}
	return *seat, sm.encodeToken(seat.ID, team), nil
}

// Leave releases the seat the token belongs to.
func (sm *SeatManager) Leave(token string) (game.Team, error) {
	seat, err := sm.Authenticate(token)
	if err != nil {
		return game.NoTeam, err
	}
	sm.release(seat.Team, seat.ID, "left")
	return seat.Team, nil
}

// Authenticate resolves a token to its current seat and refreshes the seat's
// idle timer.
func (sm *SeatManager) Authenticate(token string) (Seat, error) {
	id, team, err := sm.decodeToken(token)
	if err != nil {
		return Seat{}, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	seat := sm.seats[team]
	if seat == nil || seat.ID != id {
		return Seat{}, ErrInvalidSeatToken
	}
	seat.LastSeen = sm.now()
	return *seat, nil
}

// Seats returns the current occupancy, red first.
func (sm *SeatManager) Seats() []Seat {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]Seat, 0, 2)
	for _, s := range sm.seats {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// ValidateRequest authenticates the seat token carried by r, from the
// header or the seat cookie.
func (sm *SeatManager) ValidateRequest(r *http.Request) (Seat, error) {
	return sm.Authenticate(TokenFromRequest(r))
}

// TokenFromRequest extracts a seat token from the header, the cookie or the
// token query parameter (websocket clients).
func TokenFromRequest(r *http.Request) string {
	if tok := r.Header.Get(SeatTokenHeader); tok != "" {
		return tok
	}
	if cookie, err := r.Cookie(SeatCookieName); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// SetSeatCookie sets the seat cookie on the response
func (sm *SeatManager) SetSeatCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SeatCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: CookieHTTPOnly,
		Secure:   CookieSecure,
		SameSite: CookieSameSite,
	})
}

// ClearSeatCookie removes the seat cookie
func (sm *SeatManager) ClearSeatCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SeatCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: CookieHTTPOnly,
		Secure:   CookieSecure,
		SameSite: CookieSameSite,
	})
}

func (sm *SeatManager) release(team game.Team, id, reason string) {
	sm.mu.Lock()
	seat := sm.seats[team]
	if seat == nil || seat.ID != id {
		sm.mu.Unlock()
		return
	}
	sm.seats[team] = nil
	fn := sm.onChange
	sm.mu.Unlock()

	log.Printf("🪑 %s released the %s seat (%s)", seat.Name, team, reason)
	if fn != nil {
		fn(team, false, seat.Name, false)
	}
}

// encodeToken creates a signed token: base64(seatID.team.signature)
func (sm *SeatManager) encodeToken(seatID string, team game.Team) string {
	payload := fmt.Sprintf("%s.%d", seatID, team)
	return base64.URLEncoding.EncodeToString([]byte(payload + "." + sm.sign(payload)))
}

// decodeToken verifies and extracts the seat id and team from a token
func (sm *SeatManager) decodeToken(token string) (string, game.Team, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", game.NoTeam, fmt.Errorf("token encoding: %w", ErrInvalidSeatToken)
	}

	parts := strings.SplitN(string(decoded), ".", 3)
	if len(parts) != 3 {
		return "", game.NoTeam, fmt.Errorf("token format: %w", ErrInvalidSeatToken)
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sm.sign(payload))) {
		return "", game.NoTeam, fmt.Errorf("token signature: %w", ErrInvalidSeatToken)
	}

	team, err := game.ParseTeam(parts[1])
	if err != nil {
		return "", game.NoTeam, fmt.Errorf("token team: %w", ErrInvalidSeatToken)
	}
	return parts[0], team, nil
}

func (sm *SeatManager) sign(payload string) string {
	mac := hmac.New(sha256.New, sm.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// cleanupIdleSeats releases seats idle for longer than SeatIdleTimeout
func (sm *SeatManager) cleanupIdleSeats() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopChan:
			return
		case <-ticker.C:
			sm.releaseIdle(SeatIdleTimeout)
		}
	}
}

func (sm *SeatManager) releaseIdle(timeout time.Duration) {
	cutoff := sm.now().Add(-timeout)

	sm.mu.RLock()
	var idle []Seat
	for _, s := range sm.seats {
		if s != nil && s.LastSeen.Before(cutoff) {
			idle = append(idle, *s)
		}
	}
	sm.mu.RUnlock()

	for _, s := range idle {
		sm.release(s.Team, s.ID, "idle")
	}
}

// AdminAuthMiddleware requires the admin bearer token. With no token
// configured every admin route answers 403.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, "admin routes are disabled", http.StatusForbidden)
				return
			}
			provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !hmac.Equal([]byte(provided), []byte(token)) {
				writeError(w, "admin authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
