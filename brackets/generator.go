package brackets

import (
	"errors"
	"fmt"

	"github.com/Dosada05/typing-arena/models"
)

var (
	ErrNotEnoughParticipants = errors.New("not enough participants to generate a bracket (minimum 2)")
	ErrUnsupportedFormat     = errors.New("unsupported tournament format")
)

type GenerateBracketParams struct {
	// Participants must be ordered by seed.
	Participants []models.TournamentParticipant
}

// BracketGenerator builds the initial round structure for a format.
// Generators never keep references to their inputs.
type BracketGenerator interface {
	GenerateBracket(params GenerateBracketParams) ([]*models.Round, error)

	GetName() string
}

// RoundPairer is implemented by formats whose pairings depend on results of
// earlier rounds and are therefore produced when the round starts.
type RoundPairer interface {
	PairRound(round *models.Round, standings []models.TournamentParticipant) error
}

// NewGenerator selects the strategy for a tournament format.
func NewGenerator(format models.TournamentFormat) (BracketGenerator, error) {
	switch format {
	case models.FormatSingleElimination:
		return NewSingleEliminationGenerator(), nil
	case models.FormatDoubleElimination:
		return NewDoubleEliminationGenerator(), nil
	case models.FormatRoundRobin:
		return NewRoundRobinGenerator(), nil
	case models.FormatSwiss:
		return NewSwissGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func newMatch(id string, roundNumber, matchNumber int, side models.BracketSide, participants ...string) *models.Match {
	seated := make([]string, 0, 2)
	for _, p := range participants {
		if p != "" {
			seated = append(seated, p)
		}
	}
	return &models.Match{
		ID:                id,
		RoundNumber:       roundNumber,
		MatchNumber:       matchNumber,
		Bracket:           side,
		State:             models.MatchPending,
		Participants:      seated,
		ReadyParticipants: []string{},
	}
}

func newRound(number int, side models.BracketSide, matches []*models.Match) *models.Round {
	if matches == nil {
		matches = []*models.Match{}
	}
	return &models.Round{
		Number:  number,
		Bracket: side,
		Matches: matches,
		State:   models.RoundPending,
	}
}

// bracketSize returns the smallest power of two >= n and its log2.
func bracketSize(n int) (size, rounds int) {
	size = 1
	for size < n {
		size <<= 1
		rounds++
	}
	return size, rounds
}

// foldPairs pairs seed i against seed size-1-i. Seeds past len(ids) are byes,
// returned as empty strings.
func foldPairs(ids []string, size int) [][2]string {
	pairs := make([][2]string, 0, size/2)
	at := func(i int) string {
		if i < len(ids) {
			return ids[i]
		}
		return ""
	}
	for i := 0; i < size/2; i++ {
		pairs = append(pairs, [2]string{at(i), at(size - 1 - i)})
	}
	return pairs
}

func userIDs(participants []models.TournamentParticipant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return ids
}
