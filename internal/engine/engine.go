package engine

import "errors"

var ErrInsufficientPlayers = errors.New("team needs two registered players for this category")
var ErrUnknownTeam = errors.New("unknown team id")
var ErrInvalidFinalScore = errors.New("final score must reach 11 with a lead of 2")
var ErrGameOverPending = errors.New("game over awaiting confirmation")
var ErrNotGameOver = errors.New("no game over to confirm")
var ErrMatchFinished = errors.New("match already finished")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseLive            Phase = "live"
	PhaseGameOverPending Phase = "game_over_pending"
	PhaseFinished        Phase = "finished"
)

// Positions holds the four active player slots. The serving team's left and
// right slots swap on every point that team wins; a side-out never moves
// anyone.
type Positions struct {
	Team1Left  string `json:"team1Left"`
	Team1Right string `json:"team1Right"`
	Team2Left  string `json:"team2Left"`
	Team2Right string `json:"team2Right"`
}

// State is the full mutable match state the engine transitions over. It is
// a plain value: Apply never mutates its input.
type State struct {
	Phase            Phase     `json:"phase"`
	Team1ID          string    `json:"team1Id"`
	Team2ID          string    `json:"team2Id"`
	Team1Score       int       `json:"team1Score"`
	Team2Score       int       `json:"team2Score"`
	ServerTeamID     string    `json:"serverTeamId"`
	ServerNumber     int       `json:"serverNumber"`
	Positions        Positions `json:"playerPositions"`
	FirstServerTeam1 string    `json:"firstServerTeam1"`
	FirstServerTeam2 string    `json:"firstServerTeam2"`
	FirstSideOutDone bool      `json:"firstSideOutDone"`
	PendingWinnerID  string    `json:"pendingWinnerId,omitempty"`
	WinnerID         string    `json:"winnerId,omitempty"`
}

type CommandType string

const (
	CmdPoint   CommandType = "Point"
	CmdSideOut CommandType = "SideOut"
	CmdConfirm CommandType = "Confirm"
)

type Command struct {
	Type            CommandType
	FinalTeam1Score int
	FinalTeam2Score int
}

type EventType string

const (
	EvtPointScored     EventType = "PointScored"
	EvtServeRotated    EventType = "ServeRotated"
	EvtGameOverPending EventType = "GameOverPending"
	EvtMatchFinished   EventType = "MatchFinished"
)

type Event struct {
	Type         EventType
	TeamID       string
	ServerNumber int
	Team1Score   int
	Team2Score   int
}

// Apply computes the next state for one command. It is pure: no I/O, no
// clock, and the input state is returned unchanged on any error.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseFinished {
		return nil, s, ErrMatchFinished
	}

	next := s

	switch cmd.Type {
	case CmdPoint:
		if s.Phase == PhaseGameOverPending {
			return nil, s, ErrGameOverPending
		}

		// Rally won on serve: point to the serving team, and its players
		// swap sides. Server identity never changes on a point.
		switch s.ServerTeamID {
		case s.Team1ID:
			next.Team1Score++
			next.Positions.Team1Left, next.Positions.Team1Right = s.Positions.Team1Right, s.Positions.Team1Left
		case s.Team2ID:
			next.Team2Score++
			next.Positions.Team2Left, next.Positions.Team2Right = s.Positions.Team2Right, s.Positions.Team2Left
		default:
			return nil, s, ErrUnknownTeam
		}

		events := []Event{{
			Type:       EvtPointScored,
			TeamID:     s.ServerTeamID,
			Team1Score: next.Team1Score,
			Team2Score: next.Team2Score,
		}}

		if winnerID, over := winCheck(next); over {
			// Non-terminal: the score stays editable until a human confirms.
			next.Phase = PhaseGameOverPending
			next.PendingWinnerID = winnerID
			events = append(events, Event{
				Type:       EvtGameOverPending,
				TeamID:     winnerID,
				Team1Score: next.Team1Score,
				Team2Score: next.Team2Score,
			})
		}
		return events, next, nil

	case CmdSideOut:
		if s.Phase == PhaseGameOverPending {
			return nil, s, ErrGameOverPending
		}

		switch {
		case !s.FirstSideOutDone:
			// Opening rule: the first serving team only gets one server's
			// turn, so the very first side-out hands serve straight over.
			next.FirstSideOutDone = true
			next.ServerTeamID = otherTeam(s, s.ServerTeamID)
			next.ServerNumber = 1
		case s.ServerNumber == 1:
			next.ServerNumber = 2
		default:
			next.ServerTeamID = otherTeam(s, s.ServerTeamID)
			next.ServerNumber = 1
		}

		return []Event{{
			Type:         EvtServeRotated,
			TeamID:       next.ServerTeamID,
			ServerNumber: next.ServerNumber,
			Team1Score:   next.Team1Score,
			Team2Score:   next.Team2Score,
		}}, next, nil

	case CmdConfirm:
		if s.Phase != PhaseGameOverPending {
			return nil, s, ErrNotGameOver
		}
		if !ValidFinalScore(cmd.FinalTeam1Score, cmd.FinalTeam2Score) {
			return nil, s, ErrInvalidFinalScore
		}

		next.Team1Score = cmd.FinalTeam1Score
		next.Team2Score = cmd.FinalTeam2Score
		next.Phase = PhaseFinished
		next.PendingWinnerID = ""
		if cmd.FinalTeam1Score > cmd.FinalTeam2Score {
			next.WinnerID = s.Team1ID
		} else {
			next.WinnerID = s.Team2ID
		}

		return []Event{{
			Type:       EvtMatchFinished,
			TeamID:     next.WinnerID,
			Team1Score: next.Team1Score,
			Team2Score: next.Team2Score,
		}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// ValidFinalScore reports whether a score ends a game: leader at 11 or
// more, margin of at least 2. There is deliberately no upper cap.
func ValidFinalScore(team1, team2 int) bool {
	hi, lo := team1, team2
	if team2 > team1 {
		hi, lo = team2, team1
	}
	return hi >= 11 && hi-lo >= 2
}

func winCheck(s State) (string, bool) {
	if !ValidFinalScore(s.Team1Score, s.Team2Score) {
		return "", false
	}
	if s.Team1Score > s.Team2Score {
		return s.Team1ID, true
	}
	return s.Team2ID, true
}

func otherTeam(s State, teamID string) string {
	if teamID == s.Team1ID {
		return s.Team2ID
	}
	return s.Team1ID
}
