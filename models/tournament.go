package models

import "sort"

// TournamentState представляет состояние турнира.
type TournamentState string

const (
	TournamentRegistration TournamentState = "registration"
	TournamentReady        TournamentState = "ready"
	TournamentInProgress   TournamentState = "in-progress"
	TournamentCompleted    TournamentState = "completed"
	TournamentCancelled    TournamentState = "cancelled"
)

type TournamentFormat string

const (
	FormatSingleElimination TournamentFormat = "single-elimination"
	FormatDoubleElimination TournamentFormat = "double-elimination"
	FormatRoundRobin        TournamentFormat = "round-robin"
	FormatSwiss             TournamentFormat = "swiss"
)

// IsElimination reports whether losers are knocked out of the tournament.
func (f TournamentFormat) IsElimination() bool {
	return f == FormatSingleElimination || f == FormatDoubleElimination
}

func (f TournamentFormat) Valid() bool {
	switch f {
	case FormatSingleElimination, FormatDoubleElimination, FormatRoundRobin, FormatSwiss:
		return true
	}
	return false
}

type WinCondition string

const (
	WinFastestCompletion WinCondition = "fastest-completion"
	WinRaceToTarget      WinCondition = "race-to-target"
	WinHighestWPM        WinCondition = "highest-wpm"
	WinBestScore         WinCondition = "best-score"
)

func (w WinCondition) Valid() bool {
	switch w {
	case WinFastestCompletion, WinRaceToTarget, WinHighestWPM, WinBestScore:
		return true
	}
	return false
}

const (
	DefaultTournamentSize = 8
	MaxTournamentSize     = 64
	DefaultMinAccuracy    = 90
	DefaultAdvanceDelayMs = 5000
)

type TournamentSettings struct {
	Format       TournamentFormat `json:"format"`
	WinCondition WinCondition     `json:"winCondition"`
	Size         int              `json:"size"`
	MinAccuracy  float64          `json:"minAccuracy"`
	AdvanceDelay int64            `json:"advanceDelay"` // ms between rounds
}

// Normalize fills zero values with defaults and clamps out-of-range values.
func (s TournamentSettings) Normalize() TournamentSettings {
	if !s.Format.Valid() {
		s.Format = FormatSingleElimination
	}
	if !s.WinCondition.Valid() {
		s.WinCondition = WinFastestCompletion
	}
	if s.Size <= 0 {
		s.Size = DefaultTournamentSize
	}
	if s.Size < 2 {
		s.Size = 2
	}
	if s.Size > MaxTournamentSize {
		s.Size = MaxTournamentSize
	}
	if s.MinAccuracy <= 0 || s.MinAccuracy > 100 {
		s.MinAccuracy = DefaultMinAccuracy
	}
	if s.AdvanceDelay < 0 {
		s.AdvanceDelay = 0
	}
	if s.AdvanceDelay == 0 {
		s.AdvanceDelay = DefaultAdvanceDelayMs
	}
	return s
}

type TournamentParticipant struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	Seed          int    `json:"seed"`
	IsEliminated  bool   `json:"isEliminated"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	MatchesPlayed int    `json:"matchesPlayed"`
	ConnectionID  string `json:"connectionId"`
	IsConnected   bool   `json:"isConnected"`
}

type BracketSide string

const (
	BracketWinners BracketSide = "winners"
	BracketLosers  BracketSide = "losers"
)

type RoundState string

const (
	RoundPending    RoundState = "pending"
	RoundInProgress RoundState = "in-progress"
	RoundCompleted  RoundState = "completed"
)

type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchReady     MatchState = "ready"
	MatchCountdown MatchState = "countdown"
	MatchActive    MatchState = "active"
	MatchCompleted MatchState = "completed"
)

// SlotRef points at a participant slot (0 or 1) of another match.
type SlotRef struct {
	MatchID string `json:"matchId"`
	Slot    int    `json:"slot"`
}

type MatchResult struct {
	UserID     string  `json:"userId"`
	WPM        float64 `json:"wpm"`
	Accuracy   float64 `json:"accuracy"`
	FinishTime *int64  `json:"finishTime,omitempty"`
	Score      float64 `json:"score"`
	Placement  int     `json:"placement"`
}

type Match struct {
	ID                string                  `json:"id"`
	RoundNumber       int                     `json:"roundNumber"`
	MatchNumber       int                     `json:"matchNumber"`
	Bracket           BracketSide             `json:"bracket"`
	State             MatchState              `json:"state"`
	Participants      []string                `json:"participants"`
	ReadyParticipants []string                `json:"readyParticipants"`
	WinnerID          string                  `json:"winnerId,omitempty"`
	LoserID           string                  `json:"loserId,omitempty"`
	CompetitionID     string                  `json:"competitionId,omitempty"`
	Results           map[string]*MatchResult `json:"results,omitempty"`
	WinnerTo          *SlotRef                `json:"winnerTo,omitempty"`
	LoserTo           *SlotRef                `json:"loserTo,omitempty"`
	IsGrandFinal      bool                    `json:"isGrandFinal,omitempty"`
}

func (m *Match) HasParticipant(userID string) bool {
	for _, id := range m.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *Match) IsReady(userID string) bool {
	for _, id := range m.ReadyParticipants {
		if id == userID {
			return true
		}
	}
	return false
}

// AllReady reports whether every seated participant has signalled readiness.
func (m *Match) AllReady() bool {
	if len(m.Participants) < 2 {
		return false
	}
	for _, id := range m.Participants {
		if !m.IsReady(id) {
			return false
		}
	}
	return true
}

// Seat places userID into slot 0 or 1, keeping slot order stable regardless
// of which slot is filled first.
func (m *Match) Seat(userID string, slot int) {
	if userID == "" || m.HasParticipant(userID) {
		return
	}
	if slot == 0 {
		m.Participants = append([]string{userID}, m.Participants...)
	} else {
		m.Participants = append(m.Participants, userID)
	}
}

type Round struct {
	Number      int         `json:"number"`
	Bracket     BracketSide `json:"bracket"`
	Matches     []*Match    `json:"matches"`
	State       RoundState  `json:"state"`
	StartedAt   *int64      `json:"startedAt,omitempty"`
	CompletedAt *int64      `json:"completedAt,omitempty"`
}

func (r *Round) AllMatchesCompleted() bool {
	for _, m := range r.Matches {
		if m.State != MatchCompleted {
			return false
		}
	}
	return true
}

type Tournament struct {
	ID           string                            `json:"id"`
	Name         string                            `json:"name"`
	Slug         string                            `json:"slug"`
	State        TournamentState                   `json:"state"`
	Settings     TournamentSettings                `json:"settings"`
	Participants map[string]*TournamentParticipant `json:"participants"`
	Rounds       []*Round                          `json:"rounds"`
	CurrentRound int                               `json:"currentRound"`
	HostUserID   string                            `json:"hostUserId"`
	WinnerID     string                            `json:"winnerId,omitempty"`
	RunnerUpID   string                            `json:"runnerUpId,omitempty"`
	ThirdPlaceID string                            `json:"thirdPlaceId,omitempty"`
	CreatedAt    int64                             `json:"createdAt"`
	StartedAt    *int64                            `json:"startedAt,omitempty"`
	CompletedAt  *int64                            `json:"completedAt,omitempty"`
}

// Round returns the round with the given 1-based number, or nil.
func (t *Tournament) Round(number int) *Round {
	if number < 1 || number > len(t.Rounds) {
		return nil
	}
	return t.Rounds[number-1]
}

// FindMatch locates a match by id across all rounds.
func (t *Tournament) FindMatch(matchID string) (*Round, *Match) {
	for _, r := range t.Rounds {
		for _, m := range r.Matches {
			if m.ID == matchID {
				return r, m
			}
		}
	}
	return nil, nil
}

func (t *Tournament) ParticipantByConnection(connectionID string) *TournamentParticipant {
	for _, p := range t.Participants {
		if p.ConnectionID == connectionID {
			return p
		}
	}
	return nil
}

// SeededParticipants returns participants ordered by seed.
func (t *Tournament) SeededParticipants() []TournamentParticipant {
	out := make([]TournamentParticipant, 0, len(t.Participants))
	for _, p := range t.Participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seed < out[j].Seed })
	return out
}

// Standings orders participants by wins desc, losses asc, seed asc.
func (t *Tournament) Standings() []TournamentParticipant {
	out := t.SeededParticipants()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].Losses != out[j].Losses {
			return out[i].Losses < out[j].Losses
		}
		return out[i].Seed < out[j].Seed
	})
	return out
}

// NextSeed is the seed handed to the next registrant.
func (t *Tournament) NextSeed() int {
	max := 0
	for _, p := range t.Participants {
		if p.Seed > max {
			max = p.Seed
		}
	}
	return max + 1
}

// CompetitionRoomID is the deterministic room id of a match's race.
func CompetitionRoomID(tournamentID, matchID string) string {
	return tournamentID + "-" + matchID
}
