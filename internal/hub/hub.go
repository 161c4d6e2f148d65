package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/courtside/pickleball-live/internal/engine"
	"github.com/courtside/pickleball-live/internal/live"
	"github.com/courtside/pickleball-live/internal/session"
	"github.com/courtside/pickleball-live/internal/store"
)

type HubMsg interface{ isHubMsg() }

// EnsureSession returns the running session for a match, creating it from
// Initial only if none exists. This is what makes the single-owner
// assumption operational: a second "start scoring" request attaches to the
// existing session instead of spawning a competitor.
type EnsureSession struct {
	MatchID string
	Initial engine.State // only used if creation happens
	Reply   chan *session.Session
}

type GetSession struct {
	MatchID string
	Reply   chan *session.Session
}

type RemoveSession struct{ MatchID string }

type ShutdownHub struct{}

func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	repo     store.MatchRepository
	channel  live.Channel
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, repo store.MatchRepository, channel live.Channel, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		repo:     repo,
		channel:  channel,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				if sn := h.sessions[msg.MatchID]; sn != nil {
					msg.Reply <- sn
					break
				}
				sn := h.startSession(msg.MatchID, msg.Initial)
				h.sessions[msg.MatchID] = sn
				msg.Reply <- sn

			case GetSession:
				msg.Reply <- h.sessions[msg.MatchID] // may be nil

			case RemoveSession:
				if sn := h.sessions[msg.MatchID]; sn != nil {
					sn.Inbox() <- session.Shutdown{}
					delete(h.sessions, msg.MatchID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// startSession wires the session back to the hub: a finished match retires
// its own registration, so the registry only ever holds running games.
func (h *Hub) startSession(matchID string, initial engine.State) *session.Session {
	return session.New(h.ctx, matchID, initial, h.repo, h.channel, h.log, func() {
		select {
		case h.inbox <- RemoveSession{MatchID: matchID}:
		case <-h.ctx.Done():
		}
	})
}

func (h *Hub) shutdown() {
	for id, sn := range h.sessions {
		sn.Inbox() <- session.Shutdown{}
		delete(h.sessions, id)
	}
	h.cancel()
}
