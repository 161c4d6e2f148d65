package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtside/pickleball-live/internal/hub"
	"github.com/courtside/pickleball-live/internal/live"
	"github.com/courtside/pickleball-live/internal/session"
	"github.com/courtside/pickleball-live/internal/types"
)

const writeTimeout = 3 * time.Second
const dispatchTimeout = 5 * time.Second

// Handler serves both connection roles. Spectators (?role=spectator, the
// default) stream live events for a match. The scorekeeper
// (?role=scorekeeper) must reach an existing session, claims its single
// scorekeeper slot, and drives it with JSON commands.
func Handler(h *hub.Hub, channel live.Channel, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		switch r.URL.Query().Get("role") {
		case "", "spectator":
			serveSpectator(w, r, channel, matchID, log)
		case "scorekeeper":
			serveScorekeeper(w, r, h, matchID, log)
		default:
			http.Error(w, "unknown role", http.StatusBadRequest)
		}
	}
}

func serveSpectator(w http.ResponseWriter, r *http.Request, channel live.Channel, matchID string, log *zap.Logger) {
	sub := channel.Subscribe(matchID)
	defer sub.Cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", zap.Error(err), zap.String("match_id", matchID))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// Reader exists only to notice the peer going away.
	readCtx, readCancel := context.WithCancel(r.Context())
	defer readCancel()
	go func() {
		defer readCancel()
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readCtx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				// Dropped by the broker for falling behind.
				conn.Close(websocket.StatusTryAgainLater, "too slow")
				return
			}
			if err := writeJSON(readCtx, conn, evt); err != nil {
				return
			}
		}
	}
}

func serveScorekeeper(w http.ResponseWriter, r *http.Request, h *hub.Hub, matchID string, log *zap.Logger) {
	reply := make(chan *session.Session, 1)
	h.Inbox() <- hub.GetSession{MatchID: matchID, Reply: reply}
	sn := <-reply
	if sn == nil {
		http.Error(w, "no live session for match", http.StatusNotFound)
		return
	}

	clientID := uuid.NewString()
	granted := make(chan bool, 1)
	sn.Inbox() <- session.ClaimScorekeeper{ClientID: clientID, Reply: granted}
	if !<-granted {
		http.Error(w, "match already has a scorekeeper", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", zap.Error(err), zap.String("match_id", matchID))
		sn.Inbox() <- session.ReleaseScorekeeper{ClientID: clientID}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	defer func() { sn.Inbox() <- session.ReleaseScorekeeper{ClientID: clientID} }()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
			continue
		}

		action, ok := toAction(cm)
		if !ok {
			_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
			continue
		}

		res, ok := dispatch(sn, action)
		if !ok {
			// Session retired (match finalized and reaped); nothing left
			// for a scorekeeper to drive.
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		if err := writeJSON(r.Context(), conn, toServerMessage(res)); err != nil {
			return
		}
	}
}

func dispatch(sn *session.Session, action session.Action) (session.Result, bool) {
	reply := make(chan session.Result, 1)
	select {
	case sn.Inbox() <- session.Dispatch{Action: action, Reply: reply}:
	case <-time.After(dispatchTimeout):
		return session.Result{}, false
	}
	select {
	case res := <-reply:
		return res, true
	case <-time.After(dispatchTimeout):
		return session.Result{}, false
	}
}

func toAction(m types.ClientMessage) (session.Action, bool) {
	switch m.Type {
	case "Point":
		return session.Action{Type: session.ActionPoint}, true
	case "SideOut":
		return session.Action{Type: session.ActionSideOut}, true
	case "Undo":
		return session.Action{Type: session.ActionUndo}, true
	case "ConfirmGameOver":
		return session.Action{
			Type:            session.ActionConfirm,
			FinalTeam1Score: m.Team1Score,
			FinalTeam2Score: m.Team2Score,
		}, true
	default:
		return session.Action{}, false
	}
}

func toServerMessage(res session.Result) types.ServerMessage {
	switch {
	case res.Err != nil:
		return types.ServerMessage{Type: "Error", Error: res.Err.Error()}
	case res.NothingToUndo:
		return types.ServerMessage{Type: "Noop", Version: res.Version, Note: "nothing to undo"}
	default:
		st := res.State
		return types.ServerMessage{Type: "StateSnapshot", Version: res.Version, State: &st}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}
