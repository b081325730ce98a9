package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"loa-board/internal/game"
	"loa-board/internal/proposal"
	"loa-board/internal/storage/sqlite"
)

// proposalRequest is the body of POST /api/propose/{type} and of websocket
// proposal messages.
type proposalRequest struct {
	Unit   game.UnitID `json:"unit"`
	Target *game.Pos   `json:"target,omitempty"`
	Kind   string      `json:"kind,omitempty"`
}

// BindSeats connects seat changes to the match lifecycle: the match starts
// when both seats are taken and pauses when one is released.
func BindSeats(seats *SeatManager, engine EngineInterface) {
	seats.OnChange(func(team game.Team, joined bool, name string, bothSeated bool) {
		engine.RecordSeat(team, joined, name)
		switch {
		case joined && bothSeated:
			engine.SetStarted(true)
		case !joined:
			engine.SetStarted(false)
		}
	})
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"match": h.engine.GetSnapshot(),
		"seats": h.seats.Seats(),
	})
}

// queueStatser is implemented by proposal.Queue.
type queueStatser interface {
	Stats() proposal.QueueStats
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	stats := map[string]interface{}{
		"matchId":    snap.MatchID,
		"sequence":   snap.Sequence,
		"turnIndex":  snap.Turn.Index,
		"aliveCount": snap.AliveCount,
		"seated":     len(h.seats.Seats()),
		"http":       h.ipLimiter.Stats(),
		"propose":    h.proposeLimiter.Stats(),
		"eventLog":   h.engine.GetEventLogStats(),
	}
	if q, ok := h.proposals.(queueStatser); ok {
		stats["queue"] = q.Stats()
	}
	if h.hub != nil {
		stats["websocket"] = h.hub.Stats()
	}
	if h.journalStats != nil {
		stats["journal"] = h.journalStats()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "after must be a sequence number", http.StatusBadRequest)
			return
		}
		after = v
	}
	writeJSON(w, h.engine.History(after))
}

func (h *routerHandlers) handleGetMoves(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, "invalid unit id", http.StatusBadRequest)
		return
	}
	unit := game.UnitID(id)

	// Seated players get the legal targets for this turn, spectators the raw move set
	if seat, err := h.seats.ValidateRequest(r); err == nil {
		targets, mode, err := h.engine.LegalTargets(seat.Team, unit)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{
			"unit":    unit,
			"targets": targets,
			"mode":    mode.String(),
			"legal":   true,
		})
		return
	}

	targets, err := h.engine.RawMoves(unit)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"unit":    unit,
		"targets": targets,
		"legal":   false,
	})
}

func (h *routerHandlers) handleGetSeats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.seats.Seats())
}

func (h *routerHandlers) handleSeatJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "Name is required", http.StatusBadRequest)
		return
	}

	seat, token, err := h.seats.Join(req.Name)
	if errors.Is(err, ErrSeatsFull) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.seats.SetSeatCookie(w, token)
	writeJSON(w, map[string]interface{}{
		"seat":  seat,
		"token": token,
	})
}

func (h *routerHandlers) handleSeatLeave(w http.ResponseWriter, r *http.Request) {
	team, err := h.seats.Leave(TokenFromRequest(r))
	if err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	h.seats.ClearSeatCookie(w)
	writeJSON(w, map[string]interface{}{"success": true, "team": team})
}

func (h *routerHandlers) handlePropose(w http.ResponseWriter, r *http.Request) {
	seat, err := h.seats.ValidateRequest(r)
	if err != nil {
		writeError(w, "seat token required", http.StatusUnauthorized)
		return
	}

	typ := proposal.ParseType(chi.URLParam(r, "type"))
	switch typ {
	case proposal.TypeUnknown:
		writeError(w, fmt.Sprintf("unknown proposal type %q", chi.URLParam(r, "type")), http.StatusNotFound)
		return
	case proposal.TypeEndTurn:
		writeError(w, "end_turn is reserved for the authority", http.StatusForbidden)
		return
	}

	var req proposalRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	p, err := buildProposal(typ, seat, req)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeResult(w, h.submit(r.Context(), p))
}

func (h *routerHandlers) handleAdminEndTurn(w http.ResponseWriter, r *http.Request) {
	log.Println("⏭️ Authority end-turn requested via API")
	writeResult(w, h.submit(r.Context(), proposal.Proposal{
		Type:       proposal.TypeEndTurn,
		Seat:       "authority",
		Team:       game.NoTeam,
		ReceivedAt: time.Now(),
	}))
}

func (h *routerHandlers) handleAdminNewMatch(w http.ResponseWriter, r *http.Request) {
	log.Println("🎲 New match requested via API")
	id := h.engine.NewMatch()
	writeJSON(w, map[string]string{"matchId": id})
}

func (h *routerHandlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, "match journal is disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, "limit must be a positive number", http.StatusBadRequest)
			return
		}
		limit = min(v, 500)
	}

	matches, err := h.journal.ListMatches(r.Context(), limit)
	if err != nil {
		log.Printf("❌ List matches failed: %v", err)
		writeError(w, "failed to list matches", http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []sqlite.MatchRecord{}
	}
	writeJSON(w, matches)
}

func (h *routerHandlers) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, "match journal is disabled", http.StatusServiceUnavailable)
		return
	}
	rec, err := h.journal.GetMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, rec)
}

// handleReplay rebuilds a match from its journal. ?upTo=seq stops the replay
// at that command.
func (h *routerHandlers) handleReplay(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, "match journal is disabled", http.StatusServiceUnavailable)
		return
	}
	matchID := chi.URLParam(r, "id")
	rec, err := h.journal.GetMatch(r.Context(), matchID)
	if err != nil {
		writeJournalError(w, err)
		return
	}
	cmds, err := h.journal.LoadCommands(r.Context(), matchID)
	if err != nil {
		writeJournalError(w, err)
		return
	}

	if raw := r.URL.Query().Get("upTo"); raw != "" {
		upTo, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "upTo must be a sequence number", http.StatusBadRequest)
			return
		}
		n := 0
		for n < len(cmds) && cmds[n].Seq <= upTo {
			n++
		}
		cmds = cmds[:n]
	}
	if len(cmds) == 0 {
		writeError(w, "no commands to replay", http.StatusNotFound)
		return
	}

	mirror, err := game.Replay(cmds)
	if err != nil {
		log.Printf("❌ Replay of %s failed: %v", matchID, err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, map[string]interface{}{
		"match":    rec,
		"commands": len(cmds),
		"snapshot": mirror.Snapshot(),
		"board":    mirror.BoardString(),
	})
}

func (h *routerHandlers) submit(ctx context.Context, p proposal.Proposal) proposal.Result {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.proposals.Submit(ctx, p)
}

// buildProposal turns a wire request into a proposal for seat.
func buildProposal(typ proposal.Type, seat Seat, req proposalRequest) (proposal.Proposal, error) {
	p := proposal.Proposal{
		Type:       typ,
		Seat:       seat.ID,
		Team:       seat.Team,
		Unit:       req.Unit,
		ReceivedAt: time.Now(),
	}

	switch typ {
	case proposal.TypeMove, proposal.TypeResurrect:
		if req.Unit == game.NoUnit || req.Target == nil {
			return p, errBadRequest("unit and target are required")
		}
		p.Target = *req.Target
	case proposal.TypeEvolve:
		if req.Unit == game.NoUnit {
			return p, errBadRequest("unit is required")
		}
		kind, err := game.ParseKind(req.Kind)
		if err != nil {
			return p, err
		}
		p.Kind = kind
	case proposal.TypeMark:
		if req.Unit == game.NoUnit {
			return p, errBadRequest("unit is required")
		}
	}
	return p, nil
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequestError(msg) }

// statusFor maps proposal and rules errors to HTTP status codes.
func statusFor(err error) int {
	var bad badRequestError
	switch {
	case errors.As(err, &bad),
		errors.Is(err, game.ErrUnknownKind),
		errors.Is(err, game.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrUnknownUnit):
		return http.StatusNotFound
	case errors.Is(err, proposal.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, proposal.ErrQueueFull),
		errors.Is(err, proposal.ErrQueueStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case game.IsRejection(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeGameError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func writeResult(w http.ResponseWriter, res proposal.Result) {
	if res.Accepted {
		writeJSON(w, res)
		return
	}
	if res.Err == nil {
		res.Err = errors.New(res.Reason)
	}
	if res.Reason == "" {
		res.Reason = res.Err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(res.Err))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": false,
		"error":    res.Reason,
		"sequence": res.Sequence,
	})
}

func writeJournalError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Printf("❌ Journal read failed: %v", err)
	writeError(w, "journal read failed", http.StatusInternalServerError)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
