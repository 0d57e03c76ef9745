package models

import (
	"encoding/json"
	"fmt"
)

// Message types. Frames are JSON objects with a "type" discriminant and flat fields.
const (
	// competition, client -> server
	MsgJoinCompetition  = "JOIN_COMPETITION"
	MsgReadyUp          = "READY_UP"
	MsgStartCompetition = "START_COMPETITION"
	MsgTypingUpdate     = "TYPING_UPDATE"
	MsgFinishTyping     = "FINISH_TYPING"
	MsgLeaveCompetition = "LEAVE_COMPETITION"

	// competition, server -> client
	MsgCompetitionState  = "COMPETITION_STATE"
	MsgParticipantJoined = "PARTICIPANT_JOINED"
	MsgParticipantLeft   = "PARTICIPANT_LEFT"
	MsgParticipantReady  = "PARTICIPANT_READY"
	MsgCountdownStart    = "COUNTDOWN_START"
	MsgCompetitionStart  = "COMPETITION_START"
	MsgLeaderboardUpdate = "LEADERBOARD_UPDATE"
	MsgCompetitionEnd    = "COMPETITION_END"
	MsgError             = "ERROR"

	// tournament, client -> server
	MsgCreateTournament = "CREATE_TOURNAMENT"
	MsgJoinTournament   = "JOIN_TOURNAMENT"
	MsgStartTournament  = "START_TOURNAMENT"
	MsgUpdateConnection = "UPDATE_CONNECTION"
	MsgReadyForMatch    = "READY_FOR_MATCH"
	MsgMatchComplete    = "MATCH_COMPLETE"
	MsgLeaveTournament  = "LEAVE_TOURNAMENT"

	// tournament, server -> client
	MsgTournamentState     = "TOURNAMENT_STATE"
	MsgTournamentStarted   = "TOURNAMENT_STARTED"
	MsgRoundStarted        = "ROUND_STARTED"
	MsgMatchReady          = "MATCH_READY"
	MsgMatchStarted        = "MATCH_STARTED"
	MsgMatchCompleted      = "MATCH_COMPLETED"
	MsgRoundCompleted      = "ROUND_COMPLETED"
	MsgTournamentCompleted = "TOURNAMENT_COMPLETED"
)

// CompetitionCommand is a decoded competition client frame.
type CompetitionCommand interface {
	competitionCommand()
}

type JoinCompetition struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type ReadyUp struct {
	IsReady bool `json:"isReady"`
}

type StartCompetition struct{}

type TypingUpdate struct {
	CurrentIndex int     `json:"currentIndex"`
	Errors       int     `json:"errors"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
	Progress     float64 `json:"progress"`
}

type FinalStats struct {
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
	Progress     float64 `json:"progress"`
	CurrentIndex int     `json:"currentIndex"`
	Errors       int     `json:"errors"`
}

type FinishTyping struct {
	FinalStats FinalStats `json:"finalStats"`
}

type LeaveCompetition struct{}

func (JoinCompetition) competitionCommand()  {}
func (ReadyUp) competitionCommand()          {}
func (StartCompetition) competitionCommand() {}
func (TypingUpdate) competitionCommand()     {}
func (FinishTyping) competitionCommand()     {}
func (LeaveCompetition) competitionCommand() {}

// TournamentCommand is a decoded tournament client frame.
type TournamentCommand interface {
	tournamentCommand()
}

type CreateTournament struct {
	Settings     TournamentSettings `json:"settings"`
	Name         string             `json:"name"`
	HostUsername string             `json:"hostUsername"`
	HostUserID   string             `json:"hostUserId"`
}

type JoinTournament struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type StartTournament struct{}

type UpdateConnection struct {
	UserID string `json:"userId"`
}

type ReadyForMatch struct {
	MatchID string `json:"matchId"`
}

type MatchComplete struct {
	MatchID string        `json:"matchId"`
	Results []MatchResult `json:"results"`
}

type LeaveTournament struct{}

func (CreateTournament) tournamentCommand() {}
func (JoinTournament) tournamentCommand()   {}
func (StartTournament) tournamentCommand()  {}
func (UpdateConnection) tournamentCommand() {}
func (ReadyForMatch) tournamentCommand()    {}
func (MatchComplete) tournamentCommand()    {}
func (LeaveTournament) tournamentCommand()  {}

type envelope struct {
	Type string `json:"type"`
}

func peekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return env.Type, nil
}

func decodeInto[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return v, nil
}

// DecodeCompetitionCommand parses a competition client frame.
func DecodeCompetitionCommand(data []byte) (CompetitionCommand, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case MsgJoinCompetition:
		return decodeInto[JoinCompetition](data)
	case MsgReadyUp:
		return decodeInto[ReadyUp](data)
	case MsgStartCompetition:
		return StartCompetition{}, nil
	case MsgTypingUpdate:
		return decodeInto[TypingUpdate](data)
	case MsgFinishTyping:
		return decodeInto[FinishTyping](data)
	case MsgLeaveCompetition:
		return LeaveCompetition{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}
}

// DecodeTournamentCommand parses a tournament client frame.
func DecodeTournamentCommand(data []byte) (TournamentCommand, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case MsgCreateTournament:
		return decodeInto[CreateTournament](data)
	case MsgJoinTournament:
		return decodeInto[JoinTournament](data)
	case MsgStartTournament:
		return StartTournament{}, nil
	case MsgUpdateConnection:
		return decodeInto[UpdateConnection](data)
	case MsgReadyForMatch:
		return decodeInto[ReadyForMatch](data)
	case MsgMatchComplete:
		return decodeInto[MatchComplete](data)
	case MsgLeaveTournament:
		return LeaveTournament{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}
}
