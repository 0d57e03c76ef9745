package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/typing-arena/models"
	"github.com/Dosada05/typing-arena/storage"
)

type tournamentFixture struct {
	t     *testing.T
	c     *TournamentCoordinator
	deps  RoomDeps
	store *storage.MemoryStore
	out   *recordingBroadcaster
	clock *clockwork.FakeClock
}

func newTournamentFixture(t *testing.T) *tournamentFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	deps, out, clock := testDeps(t, store)
	c := NewTournamentCoordinator("CUP", deps)
	t.Cleanup(c.Close)
	return &tournamentFixture{t: t, c: c, deps: deps, store: store, out: out, clock: clock}
}

// restart closes the live coordinator and builds a fresh one over the same store.
func (f *tournamentFixture) restart() *models.Tournament {
	f.c.Close()
	f.c = NewTournamentCoordinator("CUP", f.deps)
	f.t.Cleanup(f.c.Close)
	return f.c.Snapshot()
}

func (f *tournamentFixture) persisted() *models.Tournament {
	blob, err := f.store.Get(context.Background(), "CUP", storage.KeyTournament)
	if err != nil {
		return nil
	}
	var tr models.Tournament
	require.NoError(f.t, json.Unmarshal(blob, &tr))
	return &tr
}

func (f *tournamentFixture) send(conn, payload string) *models.Tournament {
	f.c.HandleMessage(conn, []byte(payload))
	return f.c.Snapshot()
}

// setup creates a tournament hosted by u1 on c1 and registers u2..un on c2..cn.
func (f *tournamentFixture) setup(format models.TournamentFormat, n int) *models.Tournament {
	f.c.HandleConnect("c1", nil)
	tr := f.send("c1", fmt.Sprintf(`{"type":"CREATE_TOURNAMENT","name":"Friday Cup","hostUserId":"u1","hostUsername":"alice","settings":{"format":%q,"winCondition":"fastest-completion","advanceDelay":5000}}`, format))
	for i := 2; i <= n; i++ {
		conn := fmt.Sprintf("c%d", i)
		f.c.HandleConnect(conn, nil)
		tr = f.send(conn, fmt.Sprintf(`{"type":"JOIN_TOURNAMENT","userId":"u%d","username":"player%d"}`, i, i))
	}
	return tr
}

func connOf(userID string) string {
	return "c" + strings.TrimPrefix(userID, "u")
}

// play readies both seats of a ready match and reports a result the winner wins.
func (f *tournamentFixture) play(matchID, winner, loser string) *models.Tournament {
	f.send(connOf(winner), fmt.Sprintf(`{"type":"READY_FOR_MATCH","matchId":%q}`, matchID))
	tr := f.send(connOf(loser), fmt.Sprintf(`{"type":"READY_FOR_MATCH","matchId":%q}`, matchID))
	_, m := tr.FindMatch(matchID)
	require.NotNil(f.t, m)
	require.Equal(f.t, models.MatchActive, m.State, "match %s should be active", matchID)

	return f.send(connOf(winner), fmt.Sprintf(`{"type":"MATCH_COMPLETE","matchId":%q,"results":[
		{"userId":%q,"wpm":70,"accuracy":98,"finishTime":30000},
		{"userId":%q,"wpm":65,"accuracy":97,"finishTime":41000}]}`, matchID, winner, loser))
}

// advance lets the inter-round delay elapse and waits for round n to start.
// A round made only of walkovers is already completed when this returns.
func (f *tournamentFixture) advance(n int) *models.Tournament {
	f.clock.Advance(5 * time.Second)
	var tr *models.Tournament
	eventually(f.t, func() bool {
		tr = f.c.Snapshot()
		r := tr.Round(n)
		return r != nil && r.State != models.RoundPending
	}, "round %d should start", n)
	return tr
}

func TestTournament_CreateAndRegister(t *testing.T) {
	f := newTournamentFixture(t)
	tr := f.setup(models.FormatSingleElimination, 3)

	assert.Equal(t, models.TournamentRegistration, tr.State)
	assert.Equal(t, "friday-cup", tr.Slug)
	assert.Equal(t, "u1", tr.HostUserID)
	assert.Equal(t, models.DefaultTournamentSize, tr.Settings.Size)
	require.Len(t, tr.Participants, 3)
	assert.Equal(t, 1, tr.Participants["u1"].Seed)
	assert.Equal(t, 2, tr.Participants["u2"].Seed)
	assert.Equal(t, 3, tr.Participants["u3"].Seed)
}

func TestTournament_StartRules(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 1)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	assert.Equal(t, models.TournamentRegistration, tr.State)
	assert.Equal(t, ErrNotEnoughParticipants.Error(), f.out.lastError("c1"))

	f.c.HandleConnect("c2", nil)
	f.send("c2", `{"type":"JOIN_TOURNAMENT","userId":"u2","username":"bob"}`)
	tr = f.send("c2", `{"type":"START_TOURNAMENT"}`)
	assert.Equal(t, models.TournamentRegistration, tr.State)
	assert.Equal(t, ErrNotHost.Error(), f.out.lastError("c2"))

	tr = f.send("c1", `{"type":"START_TOURNAMENT"}`)
	assert.Equal(t, models.TournamentInProgress, tr.State)

	f.c.HandleConnect("c3", nil)
	f.send("c3", `{"type":"JOIN_TOURNAMENT","userId":"u3","username":"carol"}`)
	assert.Equal(t, ErrRegistrationClosed.Error(), f.out.lastError("c3"))
}

func TestTournament_FourPlayerSingleElimination(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 4)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	require.Equal(t, models.TournamentInProgress, tr.State)
	require.Len(t, tr.Rounds, 2)
	assert.Equal(t, 1, tr.CurrentRound)

	r1 := tr.Round(1)
	assert.Equal(t, models.RoundInProgress, r1.State)
	assert.Equal(t, []string{"u1", "u4"}, r1.Matches[0].Participants)
	assert.Equal(t, []string{"u2", "u3"}, r1.Matches[1].Participants)
	for _, m := range r1.Matches {
		assert.Equal(t, models.MatchReady, m.State)
	}

	tr = f.play("r1m1", "u1", "u4")
	_, m := tr.FindMatch("r1m1")
	assert.Equal(t, "u1", m.WinnerID)
	assert.Equal(t, "u4", m.LoserID)
	assert.Equal(t, "CUP-r1m1", m.CompetitionID)
	assert.True(t, tr.Participants["u4"].IsEliminated)
	assert.Equal(t, models.RoundInProgress, tr.Round(1).State)

	tr = f.play("r1m2", "u3", "u2")
	assert.Equal(t, models.RoundCompleted, tr.Round(1).State)
	assert.Equal(t, 2, tr.CurrentRound)
	assert.Equal(t, models.RoundPending, tr.Round(2).State)

	tr = f.advance(2)
	final := tr.Round(2).Matches[0]
	assert.Equal(t, []string{"u1", "u3"}, final.Participants, "finals seat round-one winners in bracket order")
	assert.Equal(t, models.MatchReady, final.State)

	tr = f.play(final.ID, "u3", "u1")
	assert.Equal(t, models.TournamentCompleted, tr.State)
	assert.Equal(t, "u3", tr.WinnerID)
	assert.Equal(t, "u1", tr.RunnerUpID)
	assert.Equal(t, "u4", tr.ThirdPlaceID)
	require.NotNil(t, tr.CompletedAt)

	types := f.out.broadcasts()
	assert.Contains(t, types, models.MsgTournamentStarted)
	assert.Contains(t, types, models.MsgRoundCompleted)
	assert.Equal(t, models.MsgTournamentCompleted, types[len(types)-1])
}

func TestTournament_ReadyForMatchRules(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 4)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)

	f.send("c2", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)
	assert.Equal(t, ErrNotInMatch.Error(), f.out.lastError("c2"))

	f.send("c1", `{"type":"READY_FOR_MATCH","matchId":"nope"}`)
	assert.Equal(t, ErrMatchNotFound.Error(), f.out.lastError("c1"))

	f.out.reset()
	f.send("c1", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)
	tr := f.send("c1", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)
	_, m := tr.FindMatch("r1m1")
	assert.Equal(t, []string{"u1"}, m.ReadyParticipants, "readiness is idempotent")
	assert.Equal(t, models.MatchReady, m.State)
	assert.Equal(t, []string{models.MsgMatchReady, models.MsgMatchReady}, f.out.broadcasts())

	f.send("c4", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)
	msgs := f.out.all()
	last := msgs[len(msgs)-1]
	assert.Equal(t, models.MsgMatchStarted, last.Type)
	assert.Equal(t, "CUP-r1m1", last.Body["competitionId"])
}

func TestTournament_DuplicateMatchCompleteIgnored(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 4)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)
	f.play("r1m1", "u1", "u4")

	tr := f.send("c4", `{"type":"MATCH_COMPLETE","matchId":"r1m1","results":[{"userId":"u4","wpm":99,"accuracy":99,"finishTime":1000}]}`)
	_, m := tr.FindMatch("r1m1")
	assert.Equal(t, "u1", m.WinnerID)
	assert.Equal(t, 1, tr.Participants["u1"].Wins)
	assert.Equal(t, 1, tr.Participants["u4"].Losses)
	assert.Empty(t, f.out.lastError("c4"))
}

func TestTournament_MatchCompleteBeforeStartRejected(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 2)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)

	f.send("c1", `{"type":"MATCH_COMPLETE","matchId":"r1m1","results":[{"userId":"u1","finishTime":1000}]}`)
	assert.Equal(t, ErrMatchNotActive.Error(), f.out.lastError("c1"))
}

func TestTournament_ByesAreWalkovers(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 3)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	_, bye := tr.FindMatch("r1m1")
	assert.Equal(t, models.MatchCompleted, bye.State)
	assert.Equal(t, "u1", bye.WinnerID)

	tr = f.play("r1m2", "u2", "u3")
	assert.Equal(t, models.RoundCompleted, tr.Round(1).State)

	tr = f.advance(2)
	assert.Equal(t, []string{"u1", "u2"}, tr.Round(2).Matches[0].Participants)
}

func TestTournament_TwoPlayerDoubleElimination(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatDoubleElimination, 2)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	require.Len(t, tr.Rounds, 2)

	tr = f.play("w1m1", "u2", "u1")
	assert.False(t, tr.Participants["u1"].IsEliminated, "first loss drops to the grand final")

	tr = f.advance(2)
	gf := tr.Round(2).Matches[0]
	assert.True(t, gf.IsGrandFinal)
	assert.Equal(t, []string{"u2", "u1"}, gf.Participants)

	tr = f.play(gf.ID, "u1", "u2")
	assert.Equal(t, models.TournamentCompleted, tr.State)
	assert.Equal(t, "u1", tr.WinnerID)
	assert.Equal(t, "u2", tr.RunnerUpID)
	assert.True(t, tr.Participants["u2"].IsEliminated)
	assert.Empty(t, tr.ThirdPlaceID)
}

func TestTournament_SwissPairsLazilyAndCreditsByes(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSwiss, 3)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	require.Len(t, tr.Rounds, 2)
	assert.Empty(t, tr.Round(2).Matches, "later rounds are paired when they start")

	r1 := tr.Round(1)
	require.Len(t, r1.Matches, 2)
	assert.Equal(t, []string{"u1", "u2"}, r1.Matches[0].Participants)
	assert.Equal(t, []string{"u3"}, r1.Matches[1].Participants)
	assert.Equal(t, 1, tr.Participants["u3"].Wins, "a bye counts as a win")

	f.play("r1m1", "u2", "u1")
	tr = f.advance(2)
	r2 := tr.Round(2)
	require.Len(t, r2.Matches, 2)
	assert.Equal(t, []string{"u2", "u3"}, r2.Matches[0].Participants)
	assert.Equal(t, []string{"u1"}, r2.Matches[1].Participants)

	tr = f.play("r2m1", "u3", "u2")
	assert.Equal(t, models.TournamentCompleted, tr.State)
	assert.Equal(t, "u3", tr.WinnerID)
	// u1 and u2 are both 1-1; the better seed ranks first
	assert.Equal(t, "u1", tr.RunnerUpID)
	assert.Equal(t, "u2", tr.ThirdPlaceID)
}

func TestTournament_HostLeavingDuringRegistrationCancels(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatRoundRobin, 3)

	tr := f.send("c3", `{"type":"LEAVE_TOURNAMENT"}`)
	assert.NotContains(t, tr.Participants, "u3")
	assert.Equal(t, models.TournamentRegistration, tr.State)

	tr = f.send("c1", `{"type":"LEAVE_TOURNAMENT"}`)
	assert.Equal(t, models.TournamentCancelled, tr.State)
}

func TestTournament_LeaveAfterStartOnlyDisconnects(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatRoundRobin, 3)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)

	tr := f.send("c2", `{"type":"LEAVE_TOURNAMENT"}`)
	require.Contains(t, tr.Participants, "u2")
	assert.False(t, tr.Participants["u2"].IsConnected)
}

func TestTournament_UpdateConnectionRebinds(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 2)

	f.c.HandleDisconnect("c2")
	f.c.HandleConnect("c9", nil)
	tr := f.send("c9", `{"type":"UPDATE_CONNECTION","userId":"u2"}`)
	p := tr.Participants["u2"]
	assert.True(t, p.IsConnected)
	assert.Equal(t, "c9", p.ConnectionID)

	var pending bool
	f.c.actor.Call(func() { pending = f.c.reconnect.Pending("u2") })
	assert.False(t, pending)

	msgs := f.out.sentTo("c9")
	require.NotEmpty(t, msgs)
	assert.Equal(t, models.MsgTournamentState, msgs[len(msgs)-1].Type)
}

func TestTournament_RoundRobinPlaysEveryRound(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatRoundRobin, 3)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	require.Len(t, tr.Rounds, 3)

	for n := 1; n <= 3; n++ {
		if n > 1 {
			tr = f.advance(n)
		}
		m := tr.Round(n).Matches[0]
		require.Len(t, m.Participants, 2)
		// the lower user id always wins
		a, b := m.Participants[0], m.Participants[1]
		if b < a {
			a, b = b, a
		}
		tr = f.play(m.ID, a, b)
	}

	assert.Equal(t, models.TournamentCompleted, tr.State)
	assert.Equal(t, "u1", tr.WinnerID)
	assert.Equal(t, "u2", tr.RunnerUpID)
	assert.Equal(t, "u3", tr.ThirdPlaceID)
	assert.Equal(t, 2, tr.Participants["u1"].MatchesPlayed)
}

func TestTournament_MatchCompleteDuplicateResultsKeepFirst(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 2)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)
	f.send("c1", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)
	f.send("c2", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)

	tr := f.send("c1", `{"type":"MATCH_COMPLETE","matchId":"r1m1","results":[
		{"userId":"u1","wpm":80,"accuracy":99,"finishTime":30000},
		{"userId":"u1","wpm":10,"accuracy":50,"finishTime":90000},
		{"userId":"u2","wpm":60,"accuracy":95,"finishTime":45000}]}`)
	_, m := tr.FindMatch("r1m1")
	assert.Equal(t, "u1", m.WinnerID)
	assert.Equal(t, "u2", m.LoserID)

	u1, u2 := tr.Participants["u1"], tr.Participants["u2"]
	assert.Equal(t, 1, u1.Wins)
	assert.Zero(t, u1.Losses)
	assert.False(t, u1.IsEliminated)
	assert.Equal(t, 1, u2.Losses)
	assert.True(t, u2.IsEliminated)

	assert.Equal(t, models.TournamentCompleted, tr.State)
	assert.Equal(t, "u1", tr.WinnerID)
	assert.Equal(t, "u2", tr.RunnerUpID)
}

func TestTournament_RepeatedWinnerResultCreditsOtherSeatWithLoss(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 2)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)
	f.send("c1", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)
	f.send("c2", `{"type":"READY_FOR_MATCH","matchId":"r1m1"}`)

	tr := f.send("c1", `{"type":"MATCH_COMPLETE","matchId":"r1m1","results":[
		{"userId":"u1","wpm":80,"accuracy":99,"finishTime":30000},
		{"userId":"u1","wpm":10,"accuracy":50,"finishTime":90000}]}`)
	assert.Empty(t, f.out.lastError("c1"))

	_, m := tr.FindMatch("r1m1")
	assert.Equal(t, "u1", m.WinnerID)
	assert.Equal(t, "u2", m.LoserID)
	assert.Len(t, m.Results, 1)
	assert.Zero(t, tr.Participants["u1"].Losses)
	assert.True(t, tr.Participants["u2"].IsEliminated)
	assert.NotEqual(t, tr.WinnerID, tr.RunnerUpID)
}

func TestErrorMessage_InvalidMatchResult(t *testing.T) {
	err := fmt.Errorf("match r1m1: %w", ErrInvalidMatchResult)
	assert.Equal(t, ErrInvalidMatchResult.Error(), errorMessage(err))
}

func TestTournament_RestartResumesPendingRound(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 4)
	f.send("c1", `{"type":"START_TOURNAMENT"}`)
	f.play("r1m1", "u1", "u4")
	tr := f.play("r1m2", "u2", "u3")
	require.Equal(t, models.RoundPending, tr.Round(2).State)

	tr = f.restart()
	require.NotNil(t, tr)
	assert.Equal(t, models.TournamentInProgress, tr.State)
	assert.Equal(t, 2, tr.CurrentRound)
	for id, p := range tr.Participants {
		assert.False(t, p.IsConnected, "%s is offline until it reconnects", id)
	}

	tr = f.advance(2)
	final := tr.Round(2).Matches[0]
	assert.Equal(t, models.RoundInProgress, tr.Round(2).State)
	assert.Equal(t, []string{"u1", "u2"}, final.Participants)
	assert.Equal(t, models.MatchReady, final.State)
}

func TestTournament_FivePlayerDoubleElimination(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatDoubleElimination, 5)

	tr := f.send("c1", `{"type":"START_TOURNAMENT"}`)
	require.Len(t, tr.Rounds, 8)
	for _, id := range []string{"w1m1", "w1m2", "w1m3"} {
		_, m := tr.FindMatch(id)
		assert.Equal(t, models.MatchCompleted, m.State, "%s is a walkover", id)
	}

	tr = f.play("w1m4", "u4", "u5")
	assert.False(t, tr.Participants["u5"].IsEliminated, "first loss drops to the losers bracket")

	tr = f.advance(2)
	assert.Equal(t, []string{"u1", "u2"}, tr.Round(2).Matches[0].Participants)
	assert.Equal(t, []string{"u3", "u4"}, tr.Round(2).Matches[1].Participants)
	f.play("w2m1", "u1", "u2")
	f.play("w2m2", "u3", "u4")

	// losers round one holds only the walkover for u5
	tr = f.advance(3)
	assert.Equal(t, models.RoundCompleted, tr.Round(3).State)

	tr = f.advance(4)
	_, l2 := tr.FindMatch("l2m2")
	assert.Equal(t, []string{"u5", "u4"}, l2.Participants)
	tr = f.play("l2m2", "u4", "u5")
	assert.True(t, tr.Participants["u5"].IsEliminated)

	tr = f.advance(5)
	assert.Equal(t, []string{"u1", "u3"}, tr.Round(5).Matches[0].Participants)
	tr = f.play("w3m1", "u1", "u3")
	assert.False(t, tr.Participants["u3"].IsEliminated)

	tr = f.advance(6)
	assert.Equal(t, []string{"u2", "u4"}, tr.Round(6).Matches[0].Participants)
	tr = f.play("l3m1", "u2", "u4")
	assert.True(t, tr.Participants["u4"].IsEliminated)

	tr = f.advance(7)
	assert.Equal(t, []string{"u2", "u3"}, tr.Round(7).Matches[0].Participants)
	tr = f.play("l4m1", "u3", "u2")
	assert.True(t, tr.Participants["u2"].IsEliminated)

	tr = f.advance(8)
	gf := tr.Round(8).Matches[0]
	require.True(t, gf.IsGrandFinal)
	assert.Equal(t, []string{"u1", "u3"}, gf.Participants)
	tr = f.play(gf.ID, "u1", "u3")

	assert.Equal(t, models.TournamentCompleted, tr.State)
	assert.Equal(t, "u1", tr.WinnerID)
	assert.Equal(t, "u3", tr.RunnerUpID)
	assert.Equal(t, "u2", tr.ThirdPlaceID)
	assert.False(t, tr.Participants["u1"].IsEliminated)
	for _, id := range []string{"u2", "u3", "u4", "u5"} {
		assert.True(t, tr.Participants[id].IsEliminated, id)
	}
}

func TestTournament_GraceExpiryPersistsOfflineState(t *testing.T) {
	f := newTournamentFixture(t)
	f.setup(models.FormatSingleElimination, 2)

	f.c.HandleDisconnect("c2")
	f.c.Snapshot()
	assert.True(t, f.persisted().Participants["u2"].IsConnected, "offline state is not written before the grace period ends")

	f.clock.Advance(DefaultReconnectGrace)
	eventually(t, func() bool {
		tr := f.persisted()
		return tr != nil && !tr.Participants["u2"].IsConnected
	})
}
