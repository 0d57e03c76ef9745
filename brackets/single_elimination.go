package brackets

import (
	"fmt"

	"github.com/Dosada05/typing-arena/models"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket seeds round 1 with the standard fold and pre-allocates every
// later round with empty slots. Match j of a round feeds slot j%2 of match j/2
// in the next round. Seeds without an opponent get a one-player match that is
// resolved as a walkover when the round starts.
func (g *SingleEliminationGenerator) GenerateBracket(params GenerateBracketParams) ([]*models.Round, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, ErrNotEnoughParticipants
	}

	size, numRounds := bracketSize(n)
	ids := userIDs(params.Participants)

	rounds := make([]*models.Round, 0, numRounds)
	for r := 1; r <= numRounds; r++ {
		count := size >> r
		matches := make([]*models.Match, count)
		for j := 0; j < count; j++ {
			matches[j] = newMatch(fmt.Sprintf("r%dm%d", r, j+1), r, j+1, models.BracketWinners)
		}
		rounds = append(rounds, newRound(r, models.BracketWinners, matches))
	}

	for j, pair := range foldPairs(ids, size) {
		m := rounds[0].Matches[j]
		m.Seat(pair[0], 0)
		m.Seat(pair[1], 1)
	}

	for r := 0; r < numRounds-1; r++ {
		next := rounds[r+1]
		for j, m := range rounds[r].Matches {
			m.WinnerTo = &models.SlotRef{MatchID: next.Matches[j/2].ID, Slot: j % 2}
		}
	}

	return rounds, nil
}
