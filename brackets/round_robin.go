package brackets

import (
	"fmt"

	"github.com/Dosada05/typing-arena/models"
)

type RoundRobinGenerator struct{}

func NewRoundRobinGenerator() BracketGenerator {
	return &RoundRobinGenerator{}
}

func (g *RoundRobinGenerator) GetName() string {
	return "RoundRobin"
}

// GenerateBracket schedules every pairing exactly once using the circle
// method: the first entry stays fixed while the rest rotate by one position
// per round. An odd field gets a bye entry whose pairings are dropped, so n
// participants play n-1 rounds (n rounds when n is odd).
func (g *RoundRobinGenerator) GenerateBracket(params GenerateBracketParams) ([]*models.Round, error) {
	if len(params.Participants) < 2 {
		return nil, ErrNotEnoughParticipants
	}

	ids := userIDs(params.Participants)
	if len(ids)%2 == 1 {
		ids = append(ids, "") // bye
	}
	m := len(ids)

	rounds := make([]*models.Round, 0, m-1)
	for r := 1; r <= m-1; r++ {
		matches := make([]*models.Match, 0, m/2)
		for i := 0; i < m/2; i++ {
			a, b := ids[i], ids[m-1-i]
			if a == "" || b == "" {
				continue
			}
			matches = append(matches, newMatch(fmt.Sprintf("r%dm%d", r, len(matches)+1), r, len(matches)+1, models.BracketWinners, a, b))
		}
		rounds = append(rounds, newRound(r, models.BracketWinners, matches))

		// rotate everything but the first entry clockwise
		last := ids[m-1]
		copy(ids[2:], ids[1:m-1])
		ids[1] = last
	}

	return rounds, nil
}
