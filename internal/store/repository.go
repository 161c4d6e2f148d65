package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/courtside/pickleball-live/internal/engine"
)

var ErrMatchNotFound = errors.New("match not found")
var ErrAlreadyFinalized = errors.New("match already finalized")
var ErrInvalidFinalScore = errors.New("final score must reach 11 with a lead of 2")

const winPoints = 2

type TeamDetails struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Players []Player `json:"players"`
}

type MatchDetails struct {
	Match Match       `json:"match"`
	Team1 TeamDetails `json:"team1"`
	Team2 TeamDetails `json:"team2"`
}

// MatchUpdate is a partial write: nil fields are left untouched. The
// session always sends the full mutable set; the session-start handler
// sends status/positions/startTime.
type MatchUpdate struct {
	Status           *MatchStatus
	Team1Score       *int
	Team2Score       *int
	ServerTeamID     *string
	ServerNumber     *int
	Team1Left        *string
	Team1Right       *string
	Team2Left        *string
	Team2Right       *string
	FirstServerTeam1 *string
	FirstServerTeam2 *string
	FirstSideOutDone *bool
	StartTime        *time.Time
}

func (u MatchUpdate) fields() map[string]any {
	m := map[string]any{}
	if u.Status != nil {
		m["status"] = *u.Status
	}
	if u.Team1Score != nil {
		m["team1_score"] = *u.Team1Score
	}
	if u.Team2Score != nil {
		m["team2_score"] = *u.Team2Score
	}
	if u.ServerTeamID != nil {
		m["server_team_id"] = *u.ServerTeamID
	}
	if u.ServerNumber != nil {
		m["server_number"] = *u.ServerNumber
	}
	if u.Team1Left != nil {
		m["team1_left"] = *u.Team1Left
	}
	if u.Team1Right != nil {
		m["team1_right"] = *u.Team1Right
	}
	if u.Team2Left != nil {
		m["team2_left"] = *u.Team2Left
	}
	if u.Team2Right != nil {
		m["team2_right"] = *u.Team2Right
	}
	if u.FirstServerTeam1 != nil {
		m["first_server_team1"] = *u.FirstServerTeam1
	}
	if u.FirstServerTeam2 != nil {
		m["first_server_team2"] = *u.FirstServerTeam2
	}
	if u.FirstSideOutDone != nil {
		m["first_side_out_done"] = *u.FirstSideOutDone
	}
	if u.StartTime != nil {
		m["start_time"] = *u.StartTime
	}
	return m
}

type FinalScore struct {
	Team1 int `json:"team1Score"`
	Team2 int `json:"team2Score"`
}

// MatchRepository is the durable store contract consumed by the session
// and the HTTP layer.
type MatchRepository interface {
	ReadMatchDetails(ctx context.Context, matchID string) (MatchDetails, error)
	UpdateMatch(ctx context.Context, matchID string, upd MatchUpdate) (Match, error)
	FinalizeMatch(ctx context.Context, matchID string, final FinalScore) (Match, error)
}

type GormMatchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *GormMatchRepository {
	return &GormMatchRepository{db: db}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Player{}, &Team{}, &Match{}, &Standing{})
}

func (r *GormMatchRepository) ReadMatchDetails(ctx context.Context, matchID string) (MatchDetails, error) {
	var match Match
	if err := r.db.WithContext(ctx).First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MatchDetails{}, ErrMatchNotFound
		}
		return MatchDetails{}, err
	}

	team1, err := r.teamDetails(ctx, match.Team1ID, match.Category)
	if err != nil {
		return MatchDetails{}, err
	}
	team2, err := r.teamDetails(ctx, match.Team2ID, match.Category)
	if err != nil {
		return MatchDetails{}, err
	}

	return MatchDetails{Match: match, Team1: team1, Team2: team2}, nil
}

func (r *GormMatchRepository) teamDetails(ctx context.Context, teamID, category string) (TeamDetails, error) {
	var team Team
	err := r.db.WithContext(ctx).
		Preload("Players", "category = ?", category).
		First(&team, "id = ?", teamID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TeamDetails{}, ErrMatchNotFound
		}
		return TeamDetails{}, err
	}
	return TeamDetails{ID: team.ID, Name: team.Name, Players: team.Players}, nil
}

func (r *GormMatchRepository) UpdateMatch(ctx context.Context, matchID string, upd MatchUpdate) (Match, error) {
	var match Match
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		fields := upd.fields()
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&match).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&match, "id = ?", matchID).Error
	})
	return match, err
}

// FinalizeMatch is the one terminal write: it validates the score, fixes
// winner/endTime/status, and awards standing points, all in a single
// transaction so a finished match and its points never diverge.
func (r *GormMatchRepository) FinalizeMatch(ctx context.Context, matchID string, final FinalScore) (Match, error) {
	if !engine.ValidFinalScore(final.Team1, final.Team2) {
		return Match{}, ErrInvalidFinalScore
	}

	var match Match
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&match, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		if match.Status == StatusFinished {
			return ErrAlreadyFinalized
		}

		winnerID, loserID := match.Team1ID, match.Team2ID
		if final.Team2 > final.Team1 {
			winnerID, loserID = match.Team2ID, match.Team1ID
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":      StatusFinished,
			"team1_score": final.Team1,
			"team2_score": final.Team2,
			"winner_id":   winnerID,
			"end_time":    now,
		}
		if err := tx.Model(&match).Updates(updates).Error; err != nil {
			return err
		}

		if err := awardStanding(tx, winnerID, match.Category, 1, 0, winPoints); err != nil {
			return err
		}
		if err := awardStanding(tx, loserID, match.Category, 0, 1, 0); err != nil {
			return err
		}

		return tx.First(&match, "id = ?", matchID).Error
	})
	return match, err
}

func awardStanding(tx *gorm.DB, teamID, category string, wins, losses, points int) error {
	row := Standing{TeamID: teamID, Category: category, Wins: wins, Losses: losses, Points: points}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "team_id"}, {Name: "category"}},
		DoUpdates: clause.Assignments(map[string]any{
			"wins":   gorm.Expr("standings.wins + ?", wins),
			"losses": gorm.Expr("standings.losses + ?", losses),
			"points": gorm.Expr("standings.points + ?", points),
		}),
	}).Create(&row).Error
}
