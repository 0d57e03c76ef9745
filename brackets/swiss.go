package brackets

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Dosada05/typing-arena/models"
)

var ErrRoundAlreadyPaired = errors.New("round already has pairings")

type SwissGenerator struct{}

func NewSwissGenerator() BracketGenerator {
	return &SwissGenerator{}
}

func (g *SwissGenerator) GetName() string {
	return "Swiss"
}

// GenerateBracket allocates ceil(log2(n)) empty rounds. Pairings are produced
// by PairRound when each round starts.
func (g *SwissGenerator) GenerateBracket(params GenerateBracketParams) ([]*models.Round, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, ErrNotEnoughParticipants
	}
	_, numRounds := bracketSize(n)

	rounds := make([]*models.Round, 0, numRounds)
	for r := 1; r <= numRounds; r++ {
		rounds = append(rounds, newRound(r, models.BracketWinners, nil))
	}
	return rounds, nil
}

// PairRound sorts non-eliminated participants by wins desc then losses asc
// (input order breaks ties) and pairs adjacent entries. An odd participant
// out gets a one-player match.
func (g *SwissGenerator) PairRound(round *models.Round, standings []models.TournamentParticipant) error {
	if len(round.Matches) > 0 {
		return ErrRoundAlreadyPaired
	}

	active := make([]models.TournamentParticipant, 0, len(standings))
	for _, p := range standings {
		if !p.IsEliminated {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Wins != active[j].Wins {
			return active[i].Wins > active[j].Wins
		}
		return active[i].Losses < active[j].Losses
	})

	matches := make([]*models.Match, 0, (len(active)+1)/2)
	for i := 0; i < len(active); i += 2 {
		id := fmt.Sprintf("r%dm%d", round.Number, len(matches)+1)
		if i+1 < len(active) {
			matches = append(matches, newMatch(id, round.Number, len(matches)+1, round.Bracket, active[i].UserID, active[i+1].UserID))
		} else {
			matches = append(matches, newMatch(id, round.Number, len(matches)+1, round.Bracket, active[i].UserID))
		}
	}
	round.Matches = matches
	return nil
}
