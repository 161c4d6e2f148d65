package engine

// NewLiveState builds the initial live state once a human has chosen the
// first-serving team. Player slices are in roster order for the match's
// category: the first player starts on the right (serving) side, the second
// on the left. Each team must field two players.
func NewLiveState(team1ID, team2ID, firstServingTeamID string, team1Players, team2Players []string) (State, error) {
	if len(team1Players) < 2 || len(team2Players) < 2 {
		return State{}, ErrInsufficientPlayers
	}
	if firstServingTeamID != team1ID && firstServingTeamID != team2ID {
		return State{}, ErrUnknownTeam
	}

	return State{
		Phase:        PhaseLive,
		Team1ID:      team1ID,
		Team2ID:      team2ID,
		ServerTeamID: firstServingTeamID,
		ServerNumber: 1,
		Positions: Positions{
			Team1Right: team1Players[0],
			Team1Left:  team1Players[1],
			Team2Right: team2Players[0],
			Team2Left:  team2Players[1],
		},
		FirstServerTeam1: team1Players[0],
		FirstServerTeam2: team2Players[0],
		FirstSideOutDone: false,
	}, nil
}

// Snapshot is the immutable capture taken before every forward-moving
// mutation. It carries exactly the fields an undo must restore.
type Snapshot struct {
	Team1Score       int
	Team2Score       int
	ServerTeamID     string
	ServerNumber     int
	Positions        Positions
	FirstSideOutDone bool
}

func (s State) Snapshot() Snapshot {
	return Snapshot{
		Team1Score:       s.Team1Score,
		Team2Score:       s.Team2Score,
		ServerTeamID:     s.ServerTeamID,
		ServerNumber:     s.ServerNumber,
		Positions:        s.Positions,
		FirstSideOutDone: s.FirstSideOutDone,
	}
}

// Restore returns the state rolled back to a snapshot. The phase always
// comes back as live: undoing out of a pending game over discards the
// pending decision along with the winning point.
func (s State) Restore(snap Snapshot) State {
	next := s
	next.Team1Score = snap.Team1Score
	next.Team2Score = snap.Team2Score
	next.ServerTeamID = snap.ServerTeamID
	next.ServerNumber = snap.ServerNumber
	next.Positions = snap.Positions
	next.FirstSideOutDone = snap.FirstSideOutDone
	next.Phase = PhaseLive
	next.PendingWinnerID = ""
	next.WinnerID = ""
	return next
}
