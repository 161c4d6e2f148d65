package live

import "time"

type EventType string

const (
	// ScoreUpdate carries the full mutable state after an in-progress
	// mutation (point, side-out, undo).
	ScoreUpdate EventType = "SCORE_UPDATE"
	// MatchUpdate signals a lifecycle change, in particular finalization.
	MatchUpdate EventType = "MATCH_UPDATE"
)

// PlayerPositions mirrors the four court slots on the wire.
type PlayerPositions struct {
	Team1Left  string `json:"team1Left"`
	Team1Right string `json:"team1Right"`
	Team2Left  string `json:"team2Left"`
	Team2Right string `json:"team2Right"`
}

// MatchPayload is the event payload: always the full mutable field set plus
// status, never a delta, so a late or reordered event still describes a
// complete state.
type MatchPayload struct {
	Status           string          `json:"status"`
	Team1Score       int             `json:"team1Score"`
	Team2Score       int             `json:"team2Score"`
	ServerTeamID     string          `json:"serverTeamId"`
	ServerNumber     int             `json:"serverNumber"`
	Positions        PlayerPositions `json:"playerPositions"`
	FirstSideOutDone bool            `json:"firstSideOutDone"`
	WinnerID         string          `json:"winnerId,omitempty"`
	Version          int             `json:"version"`
	At               time.Time       `json:"at"`
}

type Event struct {
	Type    EventType    `json:"type"`
	MatchID string       `json:"matchId"`
	Payload MatchPayload `json:"payload"`
}

// Channel is the publish/subscribe capability the session publishes to and
// spectator connections consume from. The interface is transport-agnostic;
// Broker is the in-process implementation.
type Channel interface {
	Publish(evt Event)
	Subscribe(matchID string) *Subscription
}

// Subscription delivers events for one match until cancelled. C is closed
// on cancel, or by the broker if the consumer falls too far behind.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

func (s *Subscription) Cancel() { s.cancel() }
