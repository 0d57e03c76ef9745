package brackets

import (
	"errors"
	"sort"

	"github.com/Dosada05/typing-arena/models"
)

// FinishTimeCeiling is the constant finish times are subtracted from under the
// time-based win conditions; results without a finish time score 0.
const FinishTimeCeiling = 10_000_000

var ErrNoResults = errors.New("no results to determine a winner from")

// Score computes a result's score under a win condition.
func Score(result models.MatchResult, condition models.WinCondition, minAccuracy float64) float64 {
	switch condition {
	case models.WinHighestWPM:
		if result.Accuracy >= minAccuracy {
			return result.WPM
		}
		return 0
	case models.WinBestScore:
		return result.WPM * result.Accuracy / 100
	default: // fastest-completion, race-to-target
		if result.FinishTime == nil {
			return 0
		}
		t := *result.FinishTime
		if t < 0 {
			t = 0
		}
		if t > FinishTimeCeiling-1 {
			t = FinishTimeCeiling - 1
		}
		return float64(FinishTimeCeiling - t)
	}
}

// MatchOutcome is the scored, placed result set of a match.
type MatchOutcome struct {
	WinnerID string
	LoserID  string
	Results  []models.MatchResult
}

// DetermineMatchWinner scores every result and returns the first maximal one
// as the winner. Ties go to whichever result was reported first. With more
// than one result the loser is the last-placed entry.
func DetermineMatchWinner(results []models.MatchResult, condition models.WinCondition, minAccuracy float64) (MatchOutcome, error) {
	if len(results) == 0 {
		return MatchOutcome{}, ErrNoResults
	}

	scored := make([]models.MatchResult, len(results))
	copy(scored, results)
	for i := range scored {
		scored[i].Score = Score(scored[i], condition, minAccuracy)
	}

	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scored[order[a]].Score > scored[order[b]].Score
	})
	for place, idx := range order {
		scored[idx].Placement = place + 1
	}

	outcome := MatchOutcome{
		WinnerID: scored[order[0]].UserID,
		Results:  scored,
	}
	if len(order) > 1 {
		outcome.LoserID = scored[order[len(order)-1]].UserID
	}
	return outcome, nil
}
