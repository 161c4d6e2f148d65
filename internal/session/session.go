// Package session owns one live match: the authoritative engine state, the
// undo history, and the two external side effects (repository writes and
// live-channel publishes). Each session is a single goroutine fed by an
// inbox channel; nothing else touches its state, so no locking is needed.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/pickleball-live/internal/engine"
	"github.com/courtside/pickleball-live/internal/live"
	"github.com/courtside/pickleball-live/internal/store"
)

type Msg interface{ isSessionMsg() }

type ActionType string

const (
	ActionPoint   ActionType = "Point"
	ActionSideOut ActionType = "SideOut"
	ActionUndo    ActionType = "Undo"
	ActionConfirm ActionType = "Confirm"
)

type Action struct {
	Type            ActionType
	FinalTeam1Score int
	FinalTeam2Score int
}

// Dispatch submits one scorekeeper action. Reply, if non-nil, receives the
// outcome after the local transition has been applied.
type Dispatch struct {
	Action Action
	Reply  chan Result
}

// Result reports a dispatch outcome. NothingToUndo flags the empty-history
// no-op; it is not an error.
type Result struct {
	Version       int
	State         engine.State
	NothingToUndo bool
	Err           error
}

// ClaimScorekeeper reserves the single scorekeeper slot for a connection.
// Granted is false if another connection already holds it.
type ClaimScorekeeper struct {
	ClientID string
	Reply    chan bool
}

type ReleaseScorekeeper struct{ ClientID string }

type GetState struct{ Reply chan View }

// View reflects internal state for tests and the HTTP layer without races.
type View struct {
	Version      int
	HistoryDepth int
	State        engine.State
}

type Shutdown struct{}

type reconciled struct{ match store.Match }

func (Dispatch) isSessionMsg()           {}
func (ClaimScorekeeper) isSessionMsg()   {}
func (ReleaseScorekeeper) isSessionMsg() {}
func (GetState) isSessionMsg()           {}
func (Shutdown) isSessionMsg()           {}
func (reconciled) isSessionMsg()         {}

type Session struct {
	inbox       chan Msg
	matchID     string
	state       engine.State
	version     int
	history     []engine.Snapshot
	scorekeeper string

	repo       store.MatchRepository
	channel    live.Channel
	sub        *live.Subscription
	log        *zap.Logger
	onFinished func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts the session goroutine. onFinished, if non-nil, is invoked once
// when the match reaches its terminal state so the owner can retire the
// session; it runs outside the session goroutine.
func New(parent context.Context, matchID string, initial engine.State, repo store.MatchRepository, channel live.Channel, log *zap.Logger, onFinished func()) *Session {
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		inbox:      make(chan Msg, 64),
		matchID:    matchID,
		state:      initial,
		repo:       repo,
		channel:    channel,
		sub:        channel.Subscribe(matchID),
		log:        log.With(zap.String("match_id", matchID)),
		onFinished: onFinished,
		ctx:        ctx,
		cancel:     cancel,
	}

	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case evt, ok := <-s.sub.C:
			if !ok {
				s.sub = s.channel.Subscribe(s.matchID)
				continue
			}
			s.onLiveEvent(evt)

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Dispatch:
				res := s.dispatch(msg.Action)
				if msg.Reply != nil {
					msg.Reply <- res
				}

			case ClaimScorekeeper:
				granted := s.scorekeeper == "" || s.scorekeeper == msg.ClientID
				if granted {
					s.scorekeeper = msg.ClientID
				}
				msg.Reply <- granted

			case ReleaseScorekeeper:
				if s.scorekeeper == msg.ClientID {
					s.scorekeeper = ""
				}

			case GetState:
				msg.Reply <- View{
					Version:      s.version,
					HistoryDepth: len(s.history),
					State:        s.state,
				}

			case reconciled:
				s.adoptExternal(msg.match)

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) dispatch(a Action) Result {
	switch a.Type {
	case ActionPoint, ActionSideOut:
		cmdType := engine.CmdPoint
		if a.Type == ActionSideOut {
			cmdType = engine.CmdSideOut
		}

		// Capture before applying: only forward-moving mutations are
		// undoable, and the snapshot must predate the transition.
		snap := s.state.Snapshot()
		_, next, err := engine.Apply(s.state, engine.Command{Type: cmdType})
		if err != nil {
			return Result{Version: s.version, State: s.state, Err: err}
		}

		s.history = append(s.history, snap)
		s.commit(next)
		return Result{Version: s.version, State: s.state}

	case ActionUndo:
		// Finished is terminal: a confirmed result must not be undone
		// back to live after standings were awarded.
		if s.state.Phase == engine.PhaseFinished {
			return Result{Version: s.version, State: s.state, Err: engine.ErrMatchFinished}
		}
		if len(s.history) == 0 {
			return Result{Version: s.version, State: s.state, NothingToUndo: true}
		}
		snap := s.history[len(s.history)-1]
		s.history = s.history[:len(s.history)-1]
		s.commit(s.state.Restore(snap))
		return Result{Version: s.version, State: s.state}

	case ActionConfirm:
		_, next, err := engine.Apply(s.state, engine.Command{
			Type:            engine.CmdConfirm,
			FinalTeam1Score: a.FinalTeam1Score,
			FinalTeam2Score: a.FinalTeam2Score,
		})
		if err != nil {
			return Result{Version: s.version, State: s.state, Err: err}
		}

		s.state = next
		s.version++
		// The session is over: drop the history so nothing can roll a
		// finalized match back, and let the owner retire the session.
		s.history = nil
		s.publish(live.MatchUpdate)
		s.finalize(store.FinalScore{Team1: next.Team1Score, Team2: next.Team2Score})
		s.notifyFinished()
		return Result{Version: s.version, State: s.state}

	default:
		return Result{Version: s.version, State: s.state, Err: engine.ErrUnsupportedCommand}
	}
}

// commit applies a forward or restored state locally, then fires the two
// side effects. Local state is authoritative: a failed write or publish is
// logged and never rolled back, because the next successful write carries
// the full state again.
func (s *Session) commit(next engine.State) {
	s.state = next
	s.version++
	s.publish(live.ScoreUpdate)
	s.persist()
}

func (s *Session) publish(evtType live.EventType) {
	s.channel.Publish(live.Event{
		Type:    evtType,
		MatchID: s.matchID,
		Payload: s.payload(),
	})
}

func (s *Session) payload() live.MatchPayload {
	status := store.StatusLive
	if s.state.Phase == engine.PhaseFinished {
		status = store.StatusFinished
	}
	return live.MatchPayload{
		Status:       string(status),
		Team1Score:   s.state.Team1Score,
		Team2Score:   s.state.Team2Score,
		ServerTeamID: s.state.ServerTeamID,
		ServerNumber: s.state.ServerNumber,
		Positions: live.PlayerPositions{
			Team1Left:  s.state.Positions.Team1Left,
			Team1Right: s.state.Positions.Team1Right,
			Team2Left:  s.state.Positions.Team2Left,
			Team2Right: s.state.Positions.Team2Right,
		},
		FirstSideOutDone: s.state.FirstSideOutDone,
		WinnerID:         s.state.WinnerID,
		Version:          s.version,
		At:               time.Now().UTC(),
	}
}

func (s *Session) persist() {
	upd := s.fullUpdate()
	go func() {
		if _, err := s.repo.UpdateMatch(context.Background(), s.matchID, upd); err != nil {
			s.log.Error("persist failed", zap.Error(err))
		}
	}()
}

func (s *Session) finalize(final store.FinalScore) {
	go func() {
		if _, err := s.repo.FinalizeMatch(context.Background(), s.matchID, final); err != nil {
			s.log.Error("finalize failed", zap.Error(err))
		}
	}()
}

func (s *Session) fullUpdate() store.MatchUpdate {
	status := store.StatusLive
	st := s.state
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
	}
}

// onLiveEvent watches the session's own channel for finalization performed
// outside this process (an admin panel closing the match). A MATCH_UPDATE
// while we still think the game is running triggers a repository re-read.
func (s *Session) onLiveEvent(evt live.Event) {
	if evt.Type != live.MatchUpdate || evt.MatchID != s.matchID {
		return
	}
	if s.state.Phase == engine.PhaseFinished {
		return
	}

	go func() {
		details, err := s.repo.ReadMatchDetails(context.Background(), s.matchID)
		if err != nil {
			s.log.Error("reconcile read failed", zap.Error(err))
			return
		}
		select {
		case s.inbox <- reconciled{match: details.Match}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) adoptExternal(m store.Match) {
	if m.Status != store.StatusFinished || s.state.Phase == engine.PhaseFinished {
		return
	}

	s.state.Phase = engine.PhaseFinished
	s.state.Team1Score = m.Team1Score
	s.state.Team2Score = m.Team2Score
	s.state.WinnerID = m.WinnerID
	s.state.PendingWinnerID = ""
	s.history = nil
	s.version++
	s.publish(live.MatchUpdate)
	s.notifyFinished()
	s.log.Info("adopted external finalization", zap.String("winner_id", m.WinnerID))
}

func (s *Session) notifyFinished() {
	if s.onFinished != nil {
		go s.onFinished()
	}
}

func (s *Session) shutdown() {
	s.sub.Cancel()
	s.history = nil
	s.cancel()
}
