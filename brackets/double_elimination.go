package brackets

import (
	"fmt"

	"github.com/Dosada05/typing-arena/models"
)

const grandFinalID = "gf"

type DoubleEliminationGenerator struct{}

func NewDoubleEliminationGenerator() BracketGenerator {
	return &DoubleEliminationGenerator{}
}

func (g *DoubleEliminationGenerator) GetName() string {
	return "DoubleElimination"
}

// GenerateBracket builds a winners bracket identical to single elimination,
// a losers bracket of 2r-2 rounds (r = winners rounds) where losers round i
// holds 2^(r-1-ceil(i/2)) matches, and one grand final. Odd losers rounds pair
// losers-bracket entrants with each other, even losers rounds pit their
// survivors against the players dropping from the winners bracket.
//
// Rounds are returned in play order: W1, then Wk, L(2k-3), L(2k-2) for
// k = 2..r, then the grand final.
func (g *DoubleEliminationGenerator) GenerateBracket(params GenerateBracketParams) ([]*models.Round, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, ErrNotEnoughParticipants
	}

	size, r := bracketSize(n)
	ids := userIDs(params.Participants)

	winners := make([][]*models.Match, r+1)
	for k := 1; k <= r; k++ {
		count := size >> k
		winners[k] = make([]*models.Match, count)
		for j := 0; j < count; j++ {
			winners[k][j] = newMatch(fmt.Sprintf("w%dm%d", k, j+1), 0, j+1, models.BracketWinners)
		}
	}

	numLosers := 2*r - 2
	losers := make([][]*models.Match, numLosers+1)
	for i := 1; i <= numLosers; i++ {
		count := 1 << (r - 1 - (i+1)/2)
		losers[i] = make([]*models.Match, count)
		for j := 0; j < count; j++ {
			losers[i][j] = newMatch(fmt.Sprintf("l%dm%d", i, j+1), 0, j+1, models.BracketLosers)
		}
	}

	final := newMatch(grandFinalID, 0, 1, models.BracketWinners)
	final.IsGrandFinal = true

	for j, pair := range foldPairs(ids, size) {
		m := winners[1][j]
		m.Seat(pair[0], 0)
		m.Seat(pair[1], 1)
	}

	// winners bracket advancement
	for k := 1; k <= r; k++ {
		for j, m := range winners[k] {
			if k < r {
				m.WinnerTo = &models.SlotRef{MatchID: winners[k+1][j/2].ID, Slot: j % 2}
			} else {
				m.WinnerTo = &models.SlotRef{MatchID: final.ID, Slot: 0}
			}
		}
	}

	// drops into the losers bracket
	for k := 1; k <= r; k++ {
		for j, m := range winners[k] {
			switch {
			case r == 1:
				m.LoserTo = &models.SlotRef{MatchID: final.ID, Slot: 1}
			case k == 1:
				m.LoserTo = &models.SlotRef{MatchID: losers[1][j/2].ID, Slot: j % 2}
			default:
				m.LoserTo = &models.SlotRef{MatchID: losers[2*k-2][j].ID, Slot: 1}
			}
		}
	}

	// losers bracket advancement
	for i := 1; i <= numLosers; i++ {
		for j, m := range losers[i] {
			switch {
			case i == numLosers:
				m.WinnerTo = &models.SlotRef{MatchID: final.ID, Slot: 1}
			case i%2 == 1:
				m.WinnerTo = &models.SlotRef{MatchID: losers[i+1][j].ID, Slot: 0}
			default:
				m.WinnerTo = &models.SlotRef{MatchID: losers[i+1][j/2].ID, Slot: j % 2}
			}
		}
	}

	rounds := make([]*models.Round, 0, r+numLosers+1)
	add := func(side models.BracketSide, matches []*models.Match) {
		number := len(rounds) + 1
		for _, m := range matches {
			m.RoundNumber = number
		}
		rounds = append(rounds, newRound(number, side, matches))
	}

	add(models.BracketWinners, winners[1])
	for k := 2; k <= r; k++ {
		add(models.BracketWinners, winners[k])
		add(models.BracketLosers, losers[2*k-3])
		add(models.BracketLosers, losers[2*k-2])
	}
	add(models.BracketWinners, []*models.Match{final})

	return rounds, nil
}
