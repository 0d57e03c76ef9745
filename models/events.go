package models

// Server -> client frames.

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: MsgError, Message: message}
}

type CompetitionStateEvent struct {
	Type    string              `json:"type"`
	Session *CompetitionSession `json:"session"`
}

type ParticipantJoinedEvent struct {
	Type        string `json:"type"`
	Participant any    `json:"participant"`
}

type ParticipantLeftEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type ParticipantReadyEvent struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	IsReady bool   `json:"isReady"`
}

type CountdownStartEvent struct {
	Type               string `json:"type"`
	CountdownStartTime int64  `json:"countdownStartTime"`
}

type CompetitionStartEvent struct {
	Type      string `json:"type"`
	StartTime int64  `json:"startTime"`
}

type LeaderboardUpdateEvent struct {
	Type        string             `json:"type"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type CompetitionEndEvent struct {
	Type             string             `json:"type"`
	FinalLeaderboard []LeaderboardEntry `json:"finalLeaderboard"`
}

type TournamentStateEvent struct {
	Type       string      `json:"type"`
	Tournament *Tournament `json:"tournament"`
}

type RoundStartedEvent struct {
	Type  string `json:"type"`
	Round *Round `json:"round"`
}

type MatchReadyEvent struct {
	Type  string `json:"type"`
	Match *Match `json:"match"`
}

type MatchStartedEvent struct {
	Type          string `json:"type"`
	MatchID       string `json:"matchId"`
	CompetitionID string `json:"competitionId"`
}

type MatchCompletedEvent struct {
	Type     string                  `json:"type"`
	MatchID  string                  `json:"matchId"`
	Results  map[string]*MatchResult `json:"results"`
	WinnerID string                  `json:"winnerId"`
}

type RoundCompletedEvent struct {
	Type        string `json:"type"`
	RoundNumber int    `json:"roundNumber"`
}
