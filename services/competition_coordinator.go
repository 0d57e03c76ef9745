package services

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Dosada05/typing-arena/models"
	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/storage"
	"github.com/Dosada05/typing-arena/utils"
)

const (
	KindCompetition = "competition"

	CountdownDuration = 3000 * time.Millisecond
)

// CompetitionCoordinator owns one competition room: lobby, countdown, race
// and results.
type CompetitionCoordinator struct {
	*roomCore
	texts     TextPicker
	session   *models.CompetitionSession
	countdown *deferred
}

var _ realtime.Room = (*CompetitionCoordinator)(nil)

func NewCompetitionCoordinator(roomID string, texts TextPicker, deps RoomDeps) *CompetitionCoordinator {
	c := &CompetitionCoordinator{
		roomCore: newRoomCore(KindCompetition, roomID, storage.KeySession, deps),
		texts:    texts,
	}
	c.countdown = newDeferred(c.clock, c.actor.Do)
	c.state = func() (interface{}, bool) {
		return c.session, c.session != nil
	}
	c.actor.Do(c.rehydrate)
	return c
}

func (c *CompetitionCoordinator) rehydrate() {
	var session models.CompetitionSession
	found, err := c.load(&session)
	if err != nil {
		c.logger.Error("failed to load competition session", slog.Any("error", err))
		return
	}
	if !found {
		return
	}
	if session.Participants == nil {
		session.Participants = make(map[string]*models.Participant)
	}
	c.session = &session

	for _, p := range session.Participants {
		if p.IsConnected {
			p.IsConnected = false
			c.armGrace(p.UserID)
		}
	}

	if session.State == models.CompetitionCountdown && session.CountdownStartTime != nil {
		remaining := time.Duration(*session.CountdownStartTime+CountdownDuration.Milliseconds()-c.nowMs()) * time.Millisecond
		if remaining <= 0 {
			c.activate()
		} else {
			c.countdown.schedule(remaining, c.activate)
		}
	}
	c.logger.Info("competition session restored", slog.String("state", string(session.State)), slog.Int("participants", len(session.Participants)))
}

func (c *CompetitionCoordinator) HandleConnect(connectionID string, _ url.Values) {
	c.actor.Do(func() {
		c.connect(connectionID)
		if c.session != nil {
			c.out.SendTo(c.id, connectionID, models.CompetitionStateEvent{Type: models.MsgCompetitionState, Session: c.session})
		}
	})
}

func (c *CompetitionCoordinator) HandleMessage(connectionID string, payload []byte) {
	c.actor.Do(func() {
		c.touch()
		cmd, err := models.DecodeCompetitionCommand(payload)
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

func (c *CompetitionCoordinator) HandleDisconnect(connectionID string) {
	c.actor.Do(func() {
		c.disconnect(connectionID)
		c.dropConnection(connectionID)
	})
}

func (c *CompetitionCoordinator) Idle(ttl time.Duration) bool {
	return c.idle(ttl, c.countdown.armed)
}

func (c *CompetitionCoordinator) Close() {
	c.close(c.countdown.stop)
}

// Snapshot returns a copy of the live session, or nil when none exists.
func (c *CompetitionCoordinator) Snapshot() *models.CompetitionSession {
	return snapshot(c.roomCore, func() *models.CompetitionSession { return c.session })
}

func (c *CompetitionCoordinator) handle(connectionID string, cmd models.CompetitionCommand) error {
	switch m := cmd.(type) {
	case models.JoinCompetition:
		return c.join(connectionID, m)
	case models.ReadyUp:
		return c.readyUp(connectionID, m)
	case models.StartCompetition:
		return c.start(connectionID)
	case models.TypingUpdate:
		return c.typingUpdate(connectionID, m)
	case models.FinishTyping:
		return c.finishTyping(connectionID, m)
	case models.LeaveCompetition:
		return c.leave(connectionID)
	}
	return models.ErrUnknownMessageType
}

func (c *CompetitionCoordinator) join(connectionID string, m models.JoinCompetition) error {
	userID := strings.TrimSpace(m.UserID)
	username := strings.TrimSpace(m.Username)
	if userID == "" || username == "" {
		return ErrMissingIdentity
	}

	if c.session == nil {
		c.session = models.NewCompetitionSession(c.id, c.texts.Pick(), c.nowMs())
		c.logger.Info("competition session created")
	}
	if other := c.session.ParticipantByConnection(connectionID); other != nil && other.UserID != userID && other.IsConnected {
		return ErrAlreadyJoined
	}

	if existing, ok := c.session.Participants[userID]; ok {
		if existing.IsConnected && existing.ConnectionID != connectionID {
			return ErrIdentityConflict
		}
		existing.ConnectionID = connectionID
		existing.IsConnected = true
		c.reconnect.Cancel(userID)

		c.send(connectionID, models.CompetitionStateEvent{Type: models.MsgCompetitionState, Session: c.session})
		c.broadcast(models.ParticipantJoinedEvent{Type: models.MsgParticipantJoined, Participant: existing})
		c.logger.Info("participant reconnected", slog.String("user_id", userID))
		return c.commit()
	}

	if len(c.session.Participants) >= c.session.Settings.MaxParticipants {
		return ErrRoomFull
	}
	if c.session.State != models.CompetitionWaiting {
		return ErrAlreadyStarted
	}

	p := &models.Participant{
		UserID:       userID,
		Username:     username,
		ConnectionID: connectionID,
		IsHost:       len(c.session.Participants) == 0,
		IsConnected:  true,
		JoinedAt:     c.nowMs(),
	}
	c.session.Participants[userID] = p

	c.send(connectionID, models.CompetitionStateEvent{Type: models.MsgCompetitionState, Session: c.session})
	c.broadcast(models.ParticipantJoinedEvent{Type: models.MsgParticipantJoined, Participant: p})
	c.logger.Info("participant joined", slog.String("user_id", userID), slog.Bool("host", p.IsHost))
	return c.commit()
}

func (c *CompetitionCoordinator) sender(connectionID string) *models.Participant {
	if c.session == nil {
		return nil
	}
	return c.session.ParticipantByConnection(connectionID)
}

func (c *CompetitionCoordinator) readyUp(connectionID string, m models.ReadyUp) error {
	p := c.sender(connectionID)
	if p == nil {
		return nil
	}
	if c.session.State != models.CompetitionWaiting {
		return ErrAlreadyStarted
	}
	p.IsReady = m.IsReady
	c.broadcast(models.ParticipantReadyEvent{Type: models.MsgParticipantReady, UserID: p.UserID, IsReady: p.IsReady})
	return c.commit()
}

func (c *CompetitionCoordinator) start(connectionID string) error {
	p := c.sender(connectionID)
	if p == nil {
		return ErrNotParticipant
	}
	if !p.IsHost {
		return ErrNotHost
	}
	if c.session.State != models.CompetitionWaiting {
		return ErrAlreadyStarted
	}
	if len(c.session.Participants) < c.session.Settings.MinParticipants {
		return ErrNotEnoughParticipants
	}

	now := c.nowMs()
	c.session.State = models.CompetitionCountdown
	c.session.CountdownStartTime = &now
	c.broadcast(models.CountdownStartEvent{Type: models.MsgCountdownStart, CountdownStartTime: now})
	if err := c.commit(); err != nil {
		return err
	}
	c.countdown.schedule(CountdownDuration, c.activate)
	c.logger.Info("countdown started", slog.String("host", p.UserID))
	return nil
}

func (c *CompetitionCoordinator) activate() {
	if c.session == nil || c.session.State != models.CompetitionCountdown {
		return
	}
	now := c.nowMs()
	c.session.State = models.CompetitionActive
	c.session.StartTime = &now
	c.broadcast(models.CompetitionStartEvent{Type: models.MsgCompetitionStart, StartTime: now})
	c.commitDeferred()
	c.logger.Info("competition started")
}

func clampStats(stats *models.ParticipantStats, currentIndex, errors int, wpm, accuracy, progress float64, textLen int) {
	stats.WPM = utils.ClampFloat(wpm, 0, utils.MaxWPM)
	stats.Accuracy = utils.ClampFloat(accuracy, 0, utils.MaxPercent)
	stats.Progress = utils.ClampFloat(progress, 0, utils.MaxPercent)
	stats.CurrentIndex = utils.ClampInt(currentIndex, 0, textLen)
	if errors < 0 {
		errors = 0
	}
	stats.ErrorCount = errors
}

func (c *CompetitionCoordinator) typingUpdate(connectionID string, m models.TypingUpdate) error {
	p := c.sender(connectionID)
	if p == nil || p.Stats.Finished {
		return nil
	}
	if c.session.State != models.CompetitionActive {
		c.logger.Debug("typing update outside active race dropped", slog.String("user_id", p.UserID))
		return nil
	}
	clampStats(&p.Stats, m.CurrentIndex, m.Errors, m.WPM, m.Accuracy, m.Progress, len(c.session.SourceText))
	c.broadcast(models.LeaderboardUpdateEvent{Type: models.MsgLeaderboardUpdate, Leaderboard: models.Leaderboard(c.session.Participants)})
	return c.commit()
}

func (c *CompetitionCoordinator) finishTyping(connectionID string, m models.FinishTyping) error {
	p := c.sender(connectionID)
	if p == nil {
		return ErrNotParticipant
	}
	if c.session.State != models.CompetitionActive {
		return ErrCompetitionNotActive
	}
	if p.Stats.Finished {
		return nil
	}

	fs := m.FinalStats
	clampStats(&p.Stats, fs.CurrentIndex, fs.Errors, fs.WPM, fs.Accuracy, fs.Progress, len(c.session.SourceText))
	elapsed := c.nowMs() - *c.session.StartTime
	if elapsed < 0 {
		elapsed = 0
	}
	p.Stats.Finished = true
	p.Stats.FinishTime = &elapsed

	if !c.endIfComplete() {
		c.broadcast(models.LeaderboardUpdateEvent{Type: models.MsgLeaderboardUpdate, Leaderboard: models.Leaderboard(c.session.Participants)})
	}
	return c.commit()
}

// endIfComplete finishes the race once every connected participant has
// finished, queueing COMPETITION_END. It reports whether the race ended.
func (c *CompetitionCoordinator) endIfComplete() bool {
	if c.session.State != models.CompetitionActive || !c.session.AllConnectedFinished() {
		return false
	}
	now := c.nowMs()
	c.session.State = models.CompetitionFinished
	c.session.EndTime = &now
	c.broadcast(models.CompetitionEndEvent{Type: models.MsgCompetitionEnd, FinalLeaderboard: models.Leaderboard(c.session.Participants)})
	c.logger.Info("competition finished")
	return true
}

func (c *CompetitionCoordinator) leave(connectionID string) error {
	p := c.sender(connectionID)
	if p == nil {
		return nil
	}
	c.reconnect.Cancel(p.UserID)

	if c.session.State != models.CompetitionWaiting {
		p.IsConnected = false
		p.ConnectionID = ""
		c.broadcast(models.ParticipantLeftEvent{Type: models.MsgParticipantLeft, UserID: p.UserID})
		c.endIfComplete()
		return c.commit()
	}

	delete(c.session.Participants, p.UserID)
	c.broadcast(models.ParticipantLeftEvent{Type: models.MsgParticipantLeft, UserID: p.UserID})
	c.logger.Info("participant left", slog.String("user_id", p.UserID))

	if len(c.session.Participants) == 0 {
		c.session = nil
		c.countdown.stop()
		c.logger.Info("competition room emptied, session discarded")
		return c.commit()
	}
	if p.IsHost {
		next := c.session.EarliestJoiner()
		next.IsHost = true
		c.broadcast(models.CompetitionStateEvent{Type: models.MsgCompetitionState, Session: c.session})
		c.logger.Info("host handed off", slog.String("user_id", next.UserID))
	}
	return c.commit()
}

// dropConnection soft-removes whoever owned connectionID and starts the grace
// period. Peers hear about it right away; the offline state is persisted only
// if the participant has not come back when the grace period ends.
func (c *CompetitionCoordinator) dropConnection(connectionID string) {
	p := c.sender(connectionID)
	if p == nil || !p.IsConnected {
		return
	}
	p.IsConnected = false
	c.broadcast(models.ParticipantLeftEvent{Type: models.MsgParticipantLeft, UserID: p.UserID})
	c.armGrace(p.UserID)

	if c.endIfComplete() {
		c.commitDeferred()
		return
	}
	c.flush()
}

func (c *CompetitionCoordinator) armGrace(userID string) {
	c.reconnect.Arm(userID, func() {
		if c.session == nil {
			return
		}
		p, ok := c.session.Participants[userID]
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
