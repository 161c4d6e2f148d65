package types

import "github.com/courtside/pickleball-live/internal/engine"

// ClientMessage is what a scorekeeper connection sends. Point/SideOut/Undo
// carry no extra fields; ConfirmGameOver carries the confirmed final score.
type ClientMessage struct {
	Type       string `json:"type"` // "Point" | "SideOut" | "Undo" | "ConfirmGameOver"
	Team1Score int    `json:"team1Score,omitempty"`
	Team2Score int    `json:"team2Score,omitempty"`
}

type ServerMessage struct {
	Type    string        `json:"type"` // "StateSnapshot" | "Noop" | "Error"
	Version int           `json:"version,omitempty"`
	State   *engine.State `json:"state,omitempty"`
	Note    string        `json:"note,omitempty"`
	Error   string        `json:"error,omitempty"`
}
