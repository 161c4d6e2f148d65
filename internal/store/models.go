package store

import "time"

type MatchStatus string

const (
	StatusPending  MatchStatus = "pending"
	StatusAssigned MatchStatus = "assigned"
	StatusLive     MatchStatus = "live"
	StatusFinished MatchStatus = "finished"
)

// Player is owned by roster management; the scorekeeper only reads it.
type Player struct {
	ID        string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	FullName  string    `gorm:"not null" json:"fullName"`
	Category  string    `gorm:"index;not null" json:"category"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type Team struct {
	ID        string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Players   []Player  `gorm:"many2many:team_players;" json:"players"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Match is the unit of mutation. While live it is exclusively owned by one
// session; every update writes the full mutable field set, so repository
// writes are last-write-wins safe.
type Match struct {
	ID               string      `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Team1ID          string      `gorm:"index;not null" json:"team1Id"`
	Team2ID          string      `gorm:"index;not null" json:"team2Id"`
	Category         string      `gorm:"index;not null" json:"category"`
	Court            string      `json:"court,omitempty"`
	Status           MatchStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	Team1Score       int         `json:"team1Score"`
	Team2Score       int         `json:"team2Score"`
	ServerTeamID     string      `json:"serverTeamId,omitempty"`
	ServerNumber     int         `gorm:"default:1" json:"serverNumber"`
	Team1Left        string      `json:"team1Left,omitempty"`
	Team1Right       string      `json:"team1Right,omitempty"`
	Team2Left        string      `json:"team2Left,omitempty"`
	Team2Right       string      `json:"team2Right,omitempty"`
	FirstServerTeam1 string      `json:"firstServerTeam1,omitempty"`
	FirstServerTeam2 string      `json:"firstServerTeam2,omitempty"`
	FirstSideOutDone bool        `json:"firstSideOutDone"`
	StartTime        *time.Time  `json:"startTime,omitempty"`
	EndTime          *time.Time  `json:"endTime,omitempty"`
	WinnerID         string      `json:"winnerId,omitempty"`
	CreatedAt        time.Time   `json:"-"`
	UpdatedAt        time.Time   `json:"-"`
}

// Standing accumulates tournament points per team and category. Rows are
// written only inside FinalizeMatch's transaction.
type Standing struct {
	TeamID    string    `gorm:"primaryKey;type:uuid" json:"teamId"`
	Category  string    `gorm:"primaryKey" json:"category"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Points    int       `json:"points"`
	UpdatedAt time.Time `json:"-"`
}
