package services

import (
	"errors"

	"github.com/Dosada05/typing-arena/brackets"
	"github.com/Dosada05/typing-arena/models"
)

// Общие ошибки комнат; текст ошибки уходит клиенту в ERROR{message}.
var (
	ErrMissingIdentity  = errors.New("userId and username are required")
	ErrIdentityConflict = errors.New("user is already connected from another session")
	ErrAlreadyJoined    = errors.New("connection has already joined as another user")
	ErrNotParticipant   = errors.New("connection has not joined this room")
	ErrNotHost          = errors.New("only the host can perform this action")
	ErrPersistFailed    = errors.New("failed to save room state")

	// Ошибки соревнований
	ErrRoomFull              = errors.New("competition room is full")
	ErrAlreadyStarted        = errors.New("competition has already started")
	ErrNotEnoughParticipants = errors.New("not enough participants to start")
	ErrCompetitionNotActive  = errors.New("competition is not active")

	// Ошибки турниров
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrRegistrationClosed = errors.New("tournament registration is closed")
	ErrTournamentFull     = errors.New("tournament is full")
	ErrMatchNotFound      = errors.New("match not found")
	ErrNotInMatch         = errors.New("user is not a participant of this match")
	ErrMatchNotReady      = errors.New("match is not ready")
	ErrMatchNotActive     = errors.New("match is not active")
	ErrInvalidMatchResult = errors.New("match results do not name a winner and a loser")
)

var clientErrors = []error{
	ErrMissingIdentity, ErrIdentityConflict, ErrAlreadyJoined, ErrNotParticipant, ErrNotHost, ErrPersistFailed,
	ErrRoomFull, ErrAlreadyStarted, ErrNotEnoughParticipants, ErrCompetitionNotActive,
	ErrTournamentNotFound, ErrRegistrationClosed, ErrTournamentFull, ErrMatchNotFound, ErrNotInMatch,
	ErrMatchNotReady, ErrMatchNotActive, ErrInvalidMatchResult,
	brackets.ErrNoResults,
}

// errorMessage maps a handler error to the text sent to the client. Unknown
// errors are not echoed.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrUnknownMessageType):
		return "unknown message type"
	case errors.Is(err, models.ErrInvalidMessage):
		return "invalid message"
	}
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal server error"
}
