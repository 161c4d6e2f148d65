package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtside/pickleball-live/internal/engine"
	"github.com/courtside/pickleball-live/internal/hub"
	"github.com/courtside/pickleball-live/internal/session"
	"github.com/courtside/pickleball-live/internal/store"
)

type startSessionRequest struct {
	FirstServerTeamID string   `json:"firstServerTeamId"`
	Team1PlayerIDs    []string `json:"team1PlayerIds,omitempty"`
	Team2PlayerIDs    []string `json:"team2PlayerIds,omitempty"`
}

type startSessionResponse struct {
	MatchID string       `json:"matchId"`
	Version int          `json:"version"`
	State   engine.State `json:"state"`
}

// StartSession begins scorekeeping for a match: the human has chosen the
// first-serving team, so we seed the live state from the persisted match
// and rosters, register the session with the hub, and write the live
// status back. If a session already exists the caller attaches to it.
func StartSession(h *hub.Hub, repo store.MatchRepository, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "matchID")

		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		details, err := repo.ReadMatchDetails(r.Context(), matchID)
		if err != nil {
			if errors.Is(err, store.ErrMatchNotFound) {
				http.Error(w, "match not found", http.StatusNotFound)
				return
			}
			log.Error("read match failed", zap.Error(err), zap.String("match_id", matchID))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		if details.Match.Status == store.StatusFinished {
			http.Error(w, "match already finished", http.StatusConflict)
			return
		}

		var initial engine.State
		if details.Match.Status == store.StatusLive {
			// Already live (a restart, or a second device attaching): the
			// persisted scores and serve state are the truth, not a fresh
			// setup.
			initial = stateFromMatch(details.Match)
		} else {
			team1Players := playerOrder(req.Team1PlayerIDs, details.Team1.Players)
			team2Players := playerOrder(req.Team2PlayerIDs, details.Team2.Players)

			initial, err = engine.NewLiveState(
				details.Team1.ID, details.Team2.ID,
				req.FirstServerTeamID,
				team1Players, team2Players,
			)
			if err != nil {
				// Configuration errors are fatal for this request, not retried.
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.EnsureSession{MatchID: matchID, Initial: initial, Reply: reply}
		sn := <-reply
		if sn == nil {
			http.Error(w, "failed to start session", http.StatusInternalServerError)
			return
		}

		// Persist the transition to live. Unlike the score path this is
		// synchronous: a session start the repository never saw would leave
		// displays seeding from a stale pending match.
		if details.Match.Status != store.StatusLive {
			if _, err := repo.UpdateMatch(r.Context(), matchID, liveUpdate(initial)); err != nil {
				log.Error("persist session start failed", zap.Error(err), zap.String("match_id", matchID))
			}
		}

		viewReply := make(chan session.View, 1)
		sn.Inbox() <- session.GetState{Reply: viewReply}
		view := <-viewReply

		writeJSON(w, http.StatusCreated, startSessionResponse{
			MatchID: matchID,
			Version: view.Version,
			State:   view.State,
		})
	}
}

// playerOrder resolves the two active players: an explicit order from the
// request wins, otherwise roster order for the match's category.
func playerOrder(requested []string, roster []store.Player) []string {
	if len(requested) >= 2 {
		return requested[:2]
	}
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		ids = append(ids, p.ID)
	}
	return ids
}

// stateFromMatch rebuilds the engine state of a match that is already live
// in the repository, so resuming never resets a game in progress.
func stateFromMatch(m store.Match) engine.State {
	return engine.State{
		Phase:        engine.PhaseLive,
		Team1ID:      m.Team1ID,
		Team2ID:      m.Team2ID,
		Team1Score:   m.Team1Score,
		Team2Score:   m.Team2Score,
		ServerTeamID: m.ServerTeamID,
		ServerNumber: m.ServerNumber,
		Positions: engine.Positions{
			Team1Left:  m.Team1Left,
			Team1Right: m.Team1Right,
			Team2Left:  m.Team2Left,
			Team2Right: m.Team2Right,
		},
		FirstServerTeam1: m.FirstServerTeam1,
		FirstServerTeam2: m.FirstServerTeam2,
		FirstSideOutDone: m.FirstSideOutDone,
	}
}

func liveUpdate(st engine.State) store.MatchUpdate {
	status := store.StatusLive
	now := time.Now().UTC()
	return store.MatchUpdate{
		Status:           &status,
		Team1Score:       &st.Team1Score,
		Team2Score:       &st.Team2Score,
		ServerTeamID:     &st.ServerTeamID,
		ServerNumber:     &st.ServerNumber,
		Team1Left:        &st.Positions.Team1Left,
		Team1Right:       &st.Positions.Team1Right,
		Team2Left:        &st.Positions.Team2Left,
		Team2Right:       &st.Positions.Team2Right,
		FirstServerTeam1: &st.FirstServerTeam1,
		FirstServerTeam2: &st.FirstServerTeam2,
		FirstSideOutDone: &st.FirstSideOutDone,
		StartTime:        &now,
	}
}

// GetMatch returns the detail shape displays seed from before subscribing.
func GetMatch(repo store.MatchRepository, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "matchID")

		details, err := repo.ReadMatchDetails(r.Context(), matchID)
		if err != nil {
			if errors.Is(err, store.ErrMatchNotFound) {
				http.Error(w, "match not found", http.StatusNotFound)
				return
			}
			log.Error("read match failed", zap.Error(err), zap.String("match_id", matchID))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, details)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
