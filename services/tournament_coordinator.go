package services

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/Dosada05/typing-arena/brackets"
	"github.com/Dosada05/typing-arena/models"
	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/storage"
)

const KindTournament = "tournament"

// TournamentCoordinator owns one tournament room: registration, bracket
// generation, round progression and completion.
type TournamentCoordinator struct {
	*roomCore
	tournament *models.Tournament
	generator  brackets.BracketGenerator
	advance    *deferred
}

var _ realtime.Room = (*TournamentCoordinator)(nil)

func NewTournamentCoordinator(roomID string, deps RoomDeps) *TournamentCoordinator {
	c := &TournamentCoordinator{
		roomCore: newRoomCore(KindTournament, roomID, storage.KeyTournament, deps),
	}
	c.advance = newDeferred(c.clock, c.actor.Do)
	c.state = func() (interface{}, bool) {
		return c.tournament, c.tournament != nil
	}
	c.actor.Do(c.rehydrate)
	return c
}

func (c *TournamentCoordinator) rehydrate() {
	var t models.Tournament
	found, err := c.load(&t)
	if err != nil {
		c.logger.Error("failed to load tournament", slog.Any("error", err))
		return
	}
	if !found {
		return
	}
	if t.Participants == nil {
		t.Participants = make(map[string]*models.TournamentParticipant)
	}
	c.tournament = &t

	for _, p := range t.Participants {
		if p.IsConnected {
			p.IsConnected = false
			c.armGrace(p.UserID)
		}
	}

	if t.State == models.TournamentInProgress {
		gen, err := brackets.NewGenerator(t.Settings.Format)
		if err != nil {
			c.logger.Error("restored tournament has unsupported format", slog.Any("error", err))
			return
		}
		c.generator = gen
		if r := t.Round(t.CurrentRound); r != nil && r.State == models.RoundPending {
			c.scheduleRound(t.CurrentRound)
		}
	}
	c.logger.Info("tournament restored", slog.String("state", string(t.State)), slog.Int("participants", len(t.Participants)))
}

func (c *TournamentCoordinator) HandleConnect(connectionID string, _ url.Values) {
	c.actor.Do(func() {
		c.connect(connectionID)
		if c.tournament != nil {
			c.out.SendTo(c.id, connectionID, c.stateEvent(models.MsgTournamentState))
		}
	})
}

func (c *TournamentCoordinator) HandleMessage(connectionID string, payload []byte) {
	c.actor.Do(func() {
		c.touch()
		cmd, err := models.DecodeTournamentCommand(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable message", slog.String("conn_id", connectionID), slog.Any("error", err))
			c.replyError(connectionID, err)
			return
		}
		if err := c.handle(connectionID, cmd); err != nil {
			c.discard()
			c.logger.Debug("command rejected", slog.String("conn_id", connectionID), slog.Any("error", err))
			c.replyError(connectionID, err)
		}
	})
}

func (c *TournamentCoordinator) HandleDisconnect(connectionID string) {
	c.actor.Do(func() {
		c.disconnect(connectionID)
		c.dropConnection(connectionID)
	})
}

func (c *TournamentCoordinator) Idle(ttl time.Duration) bool {
	return c.idle(ttl, c.advance.armed)
}

func (c *TournamentCoordinator) Close() {
	c.close(c.advance.stop)
}

// Snapshot returns a copy of the live tournament, or nil when none exists.
func (c *TournamentCoordinator) Snapshot() *models.Tournament {
	return snapshot(c.roomCore, func() *models.Tournament { return c.tournament })
}

func (c *TournamentCoordinator) stateEvent(msgType string) models.TournamentStateEvent {
	return models.TournamentStateEvent{Type: msgType, Tournament: c.tournament}
}

func (c *TournamentCoordinator) handle(connectionID string, cmd models.TournamentCommand) error {
	switch m := cmd.(type) {
	case models.CreateTournament:
		return c.create(connectionID, m)
	case models.JoinTournament:
		return c.join(connectionID, m)
	case models.StartTournament:
		return c.start(connectionID)
	case models.UpdateConnection:
		return c.updateConnection(connectionID, m)
	case models.ReadyForMatch:
		return c.readyForMatch(connectionID, m)
	case models.MatchComplete:
		return c.matchComplete(m)
	case models.LeaveTournament:
		return c.leave(connectionID)
	}
	return models.ErrUnknownMessageType
}

func (c *TournamentCoordinator) create(connectionID string, m models.CreateTournament) error {
	hostID := strings.TrimSpace(m.HostUserID)
	hostName := strings.TrimSpace(m.HostUsername)
	if hostID == "" || hostName == "" {
		return ErrMissingIdentity
	}
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = hostName + "'s tournament"
	}

	// creating always replaces whatever the room held before
	c.advance.stop()
	c.reconnect.CancelAll()
	c.generator = nil

	c.tournament = &models.Tournament{
		ID:       c.id,
		Name:     name,
		Slug:     slug.Make(name),
		State:    models.TournamentRegistration,
		Settings: m.Settings.Normalize(),
		Participants: map[string]*models.TournamentParticipant{
			hostID: {
				UserID:       hostID,
				Username:     hostName,
				Seed:         1,
				ConnectionID: connectionID,
				IsConnected:  true,
			},
		},
		Rounds:     []*models.Round{},
		HostUserID: hostID,
		CreatedAt:  c.nowMs(),
	}

	c.broadcast(c.stateEvent(models.MsgTournamentState))
	c.logger.Info("tournament created",
		slog.String("host", hostID),
		slog.String("format", string(c.tournament.Settings.Format)),
		slog.Int("size", c.tournament.Settings.Size))
	return c.commit()
}

func (c *TournamentCoordinator) sender(connectionID string) *models.TournamentParticipant {
	if c.tournament == nil {
		return nil
	}
	return c.tournament.ParticipantByConnection(connectionID)
}

func (c *TournamentCoordinator) join(connectionID string, m models.JoinTournament) error {
	t := c.tournament
	if t == nil {
		return ErrTournamentNotFound
	}
	userID := strings.TrimSpace(m.UserID)
	username := strings.TrimSpace(m.Username)
	if userID == "" || username == "" {
		return ErrMissingIdentity
	}
	if other := t.ParticipantByConnection(connectionID); other != nil && other.UserID != userID && other.IsConnected {
		return ErrAlreadyJoined
	}

	if existing, ok := t.Participants[userID]; ok {
		if existing.IsConnected && existing.ConnectionID != connectionID {
			return ErrIdentityConflict
		}
		existing.ConnectionID = connectionID
		existing.IsConnected = true
		c.reconnect.Cancel(userID)

		c.send(connectionID, c.stateEvent(models.MsgTournamentState))
		c.broadcast(models.ParticipantJoinedEvent{Type: models.MsgParticipantJoined, Participant: existing})
		c.logger.Info("participant reconnected", slog.String("user_id", userID))
		return c.commit()
	}

	if t.State != models.TournamentRegistration {
		return ErrRegistrationClosed
	}
	if len(t.Participants) >= t.Settings.Size {
		return ErrTournamentFull
	}

	p := &models.TournamentParticipant{
		UserID:       userID,
		Username:     username,
		Seed:         t.NextSeed(),
		ConnectionID: connectionID,
		IsConnected:  true,
	}
	t.Participants[userID] = p

	c.send(connectionID, c.stateEvent(models.MsgTournamentState))
	c.broadcast(models.ParticipantJoinedEvent{Type: models.MsgParticipantJoined, Participant: p})
	c.logger.Info("participant registered", slog.String("user_id", userID), slog.Int("seed", p.Seed))
	return c.commit()
}

func (c *TournamentCoordinator) updateConnection(connectionID string, m models.UpdateConnection) error {
	t := c.tournament
	if t == nil {
		return ErrTournamentNotFound
	}
	p, ok := t.Participants[strings.TrimSpace(m.UserID)]
	if !ok {
		return ErrNotParticipant
	}
	if other := t.ParticipantByConnection(connectionID); other != nil && other != p && other.IsConnected {
		return ErrAlreadyJoined
	}

	wasOffline := !p.IsConnected
	p.ConnectionID = connectionID
	p.IsConnected = true
	c.reconnect.Cancel(p.UserID)

	c.send(connectionID, c.stateEvent(models.MsgTournamentState))
	if wasOffline {
		c.broadcast(models.ParticipantJoinedEvent{Type: models.MsgParticipantJoined, Participant: p})
	}
	return c.commit()
}

func (c *TournamentCoordinator) start(connectionID string) error {
	t := c.tournament
	if t == nil {
		return ErrTournamentNotFound
	}
	p := t.ParticipantByConnection(connectionID)
	if p == nil {
		return ErrNotParticipant
	}
	if p.UserID != t.HostUserID {
		return ErrNotHost
	}
	if t.State != models.TournamentRegistration {
		return ErrRegistrationClosed
	}
	if len(t.Participants) < 2 {
		return ErrNotEnoughParticipants
	}

	gen, err := brackets.NewGenerator(t.Settings.Format)
	if err != nil {
		return err
	}
	rounds, err := gen.GenerateBracket(brackets.GenerateBracketParams{Participants: t.SeededParticipants()})
	if err != nil {
		return fmt.Errorf("failed to generate %s bracket: %w", gen.GetName(), err)
	}

	now := c.nowMs()
	c.generator = gen
	t.Rounds = rounds
	t.State = models.TournamentInProgress
	t.CurrentRound = 1
	t.StartedAt = &now
	c.broadcast(c.stateEvent(models.MsgTournamentStarted))
	c.logger.Info("tournament started", slog.String("bracket", gen.GetName()), slog.Int("rounds", len(rounds)))

	c.startRound(1)
	return c.commit()
}

// startRound opens round n. Pairings of formats that pair per round are made
// here; matches with both seats filled become ready, the rest are settled
// as walkovers.
func (c *TournamentCoordinator) startRound(n int) {
	t := c.tournament
	r := t.Round(n)
	if r == nil || r.State != models.RoundPending {
		return
	}

	if pairer, ok := c.generator.(brackets.RoundPairer); ok && len(r.Matches) == 0 {
		if err := pairer.PairRound(r, t.Standings()); err != nil {
			c.logger.Error("failed to pair round", slog.Int("round", n), slog.Any("error", err))
		}
	}

	now := c.nowMs()
	r.State = models.RoundInProgress
	r.StartedAt = &now
	c.broadcast(models.RoundStartedEvent{Type: models.MsgRoundStarted, Round: r})

	for _, m := range r.Matches {
		if m.State != models.MatchPending {
			continue
		}
		switch len(m.Participants) {
		case 2:
			m.State = models.MatchReady
			c.broadcast(models.MatchReadyEvent{Type: models.MsgMatchReady, Match: m})
		case 1:
			c.walkover(m)
		default:
			m.State = models.MatchCompleted
		}
	}
	c.logger.Info("round started", slog.Int("round", n), slog.Int("matches", len(r.Matches)))

	if r.AllMatchesCompleted() {
		c.completeRound(r)
	}
}

// walkover settles a one-player match in that player's favour. A Swiss bye
// counts as a win.
func (c *TournamentCoordinator) walkover(m *models.Match) {
	t := c.tournament
	winner := m.Participants[0]
	m.State = models.MatchCompleted
	m.WinnerID = winner
	m.Results = map[string]*models.MatchResult{}
	if t.Settings.Format == models.FormatSwiss {
		if p, ok := t.Participants[winner]; ok {
			p.Wins++
			p.MatchesPlayed++
		}
	}
	c.broadcast(models.MatchCompletedEvent{Type: models.MsgMatchCompleted, MatchID: m.ID, Results: m.Results, WinnerID: winner})
}

func (c *TournamentCoordinator) readyForMatch(connectionID string, m models.ReadyForMatch) error {
	t := c.tournament
	if t == nil {
		return ErrTournamentNotFound
	}
	p := t.ParticipantByConnection(connectionID)
	if p == nil {
		return ErrNotParticipant
	}
	_, match := t.FindMatch(m.MatchID)
	if match == nil {
		return ErrMatchNotFound
	}
	if !match.HasParticipant(p.UserID) {
		return ErrNotInMatch
	}
	if match.State != models.MatchReady {
		return ErrMatchNotReady
	}

	if !match.IsReady(p.UserID) {
		match.ReadyParticipants = append(match.ReadyParticipants, p.UserID)
	}

	if match.AllReady() {
		match.State = models.MatchActive
		match.CompetitionID = models.CompetitionRoomID(t.ID, match.ID)
		c.broadcast(models.MatchStartedEvent{Type: models.MsgMatchStarted, MatchID: match.ID, CompetitionID: match.CompetitionID})
		c.logger.Info("match started", slog.String("match_id", match.ID), slog.String("competition_id", match.CompetitionID))
	} else {
		c.broadcast(models.MatchReadyEvent{Type: models.MsgMatchReady, Match: match})
	}
	return c.commit()
}

func (c *TournamentCoordinator) matchComplete(m models.MatchComplete) error {
	t := c.tournament
	if t == nil {
		return ErrTournamentNotFound
	}
	round, match := t.FindMatch(m.MatchID)
	if match == nil {
		return ErrMatchNotFound
	}
	if match.State == models.MatchCompleted {
		c.logger.Debug("duplicate match result ignored", slog.String("match_id", match.ID))
		return nil
	}
	if match.State != models.MatchActive {
		return ErrMatchNotActive
	}

	results := make([]models.MatchResult, 0, len(m.Results))
	seen := make(map[string]bool, len(match.Participants))
	for _, r := range m.Results {
		if match.HasParticipant(r.UserID) && !seen[r.UserID] {
			seen[r.UserID] = true
			results = append(results, r)
		}
	}
	outcome, err := brackets.DetermineMatchWinner(results, t.Settings.WinCondition, t.Settings.MinAccuracy)
	if err != nil {
		return err
	}

	loserID := outcome.LoserID
	if loserID == "" {
		for _, id := range match.Participants {
			if id != outcome.WinnerID {
				loserID = id
			}
		}
	}
	if loserID == "" || loserID == outcome.WinnerID {
		return ErrInvalidMatchResult
	}

	match.Results = make(map[string]*models.MatchResult, len(outcome.Results))
	for i := range outcome.Results {
		r := outcome.Results[i]
		match.Results[r.UserID] = &r
	}
	match.WinnerID = outcome.WinnerID
	match.LoserID = loserID
	match.State = models.MatchCompleted

	if w, ok := t.Participants[outcome.WinnerID]; ok {
		w.Wins++
		w.MatchesPlayed++
	}
	if l, ok := t.Participants[loserID]; ok {
		l.Losses++
		l.MatchesPlayed++
		if t.Settings.Format.IsElimination() && match.LoserTo == nil {
			l.IsEliminated = true
		}
	}

	c.broadcast(models.MatchCompletedEvent{Type: models.MsgMatchCompleted, MatchID: match.ID, Results: match.Results, WinnerID: match.WinnerID})
	c.logger.Info("match completed", slog.String("match_id", match.ID), slog.String("winner", match.WinnerID))

	if round.State == models.RoundInProgress && round.AllMatchesCompleted() {
		c.completeRound(round)
	}
	return c.commit()
}

// completeRound closes the round, moves winners and losers along their
// bracket links, then either finishes the tournament or schedules the next
// round after the configured delay.
func (c *TournamentCoordinator) completeRound(r *models.Round) {
	t := c.tournament
	now := c.nowMs()
	r.State = models.RoundCompleted
	r.CompletedAt = &now

	for _, m := range r.Matches {
		c.seat(m.WinnerTo, m.WinnerID)
		c.seat(m.LoserTo, m.LoserID)
	}
	c.broadcast(models.RoundCompletedEvent{Type: models.MsgRoundCompleted, RoundNumber: r.Number})
	c.logger.Info("round completed", slog.Int("round", r.Number))

	if c.isComplete() {
		c.completeTournament()
		return
	}
	t.CurrentRound++
	c.scheduleRound(t.CurrentRound)
}

func (c *TournamentCoordinator) seat(ref *models.SlotRef, userID string) {
	if ref == nil || userID == "" {
		return
	}
	if _, m := c.tournament.FindMatch(ref.MatchID); m != nil {
		m.Seat(userID, ref.Slot)
	}
}

// isComplete reports whether the final round is done. Elimination formats
// additionally need a winner in the final.
func (c *TournamentCoordinator) isComplete() bool {
	t := c.tournament
	if len(t.Rounds) == 0 {
		return false
	}
	last := t.Rounds[len(t.Rounds)-1]
	if last.State != models.RoundCompleted {
		return false
	}
	if t.Settings.Format.IsElimination() {
		return len(last.Matches) > 0 && last.Matches[0].WinnerID != ""
	}
	for _, r := range t.Rounds {
		if r.State != models.RoundCompleted {
			return false
		}
	}
	return true
}

func (c *TournamentCoordinator) scheduleRound(n int) {
	delay := time.Duration(c.tournament.Settings.AdvanceDelay) * time.Millisecond
	c.advance.schedule(delay, func() {
		t := c.tournament
		if t == nil || t.State != models.TournamentInProgress || t.CurrentRound != n {
			return
		}
		c.startRound(n)
		c.commitDeferred()
	})
}

func (c *TournamentCoordinator) completeTournament() {
	t := c.tournament
	now := c.nowMs()
	t.State = models.TournamentCompleted
	t.CompletedAt = &now
	c.advance.stop()

	if t.Settings.Format.IsElimination() {
		final := t.Rounds[len(t.Rounds)-1].Matches[0]
		t.WinnerID = final.WinnerID
		t.RunnerUpID = final.LoserID
		t.ThirdPlaceID = c.thirdPlace()
	} else {
		standings := t.Standings()
		ids := []*string{&t.WinnerID, &t.RunnerUpID, &t.ThirdPlaceID}
		for i, dst := range ids {
			if i < len(standings) {
				*dst = standings[i].UserID
			}
		}
	}

	c.broadcast(c.stateEvent(models.MsgTournamentCompleted))
	c.logger.Info("tournament completed", slog.String("winner", t.WinnerID))
}

// thirdPlace is the first semifinal loser in single elimination and the
// losers-bracket final loser in double elimination. No playoff is held.
func (c *TournamentCoordinator) thirdPlace() string {
	t := c.tournament
	if len(t.Rounds) < 2 {
		return ""
	}
	prev := t.Rounds[len(t.Rounds)-2]
	if t.Settings.Format == models.FormatDoubleElimination && prev.Bracket != models.BracketLosers {
		return ""
	}
	for _, m := range prev.Matches {
		if m.LoserID != "" {
			return m.LoserID
		}
	}
	return ""
}

func (c *TournamentCoordinator) leave(connectionID string) error {
	t := c.tournament
	p := c.sender(connectionID)
	if p == nil {
		return nil
	}
	c.reconnect.Cancel(p.UserID)

	if t.State != models.TournamentRegistration {
		p.IsConnected = false
		p.ConnectionID = ""
		c.broadcast(models.ParticipantLeftEvent{Type: models.MsgParticipantLeft, UserID: p.UserID})
		return c.commit()
	}

	delete(t.Participants, p.UserID)
	c.broadcast(models.ParticipantLeftEvent{Type: models.MsgParticipantLeft, UserID: p.UserID})
	if p.UserID == t.HostUserID {
		t.State = models.TournamentCancelled
		c.broadcast(c.stateEvent(models.MsgTournamentState))
		c.logger.Info("host left during registration, tournament cancelled")
	}
	return c.commit()
}

func (c *TournamentCoordinator) dropConnection(connectionID string) {
	p := c.sender(connectionID)
	if p == nil || !p.IsConnected {
		return
	}
	p.IsConnected = false
	c.broadcast(models.ParticipantLeftEvent{Type: models.MsgParticipantLeft, UserID: p.UserID})
	c.flush()
	c.armGrace(p.UserID)
}

func (c *TournamentCoordinator) armGrace(userID string) {
	c.reconnect.Arm(userID, func() {
		if c.tournament == nil {
			return
		}
		p, ok := c.tournament.Participants[userID]
		if !ok || p.IsConnected {
			return
		}
		if err := c.persist(); err != nil {
			c.logger.Error("failed to persist offline participant", slog.String("user_id", userID), slog.Any("error", err))
			return
		}
		c.logger.Info("participant marked offline", slog.String("user_id", userID))
	})
}
