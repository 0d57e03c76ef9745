package models

import "sort"

// CompetitionState is the lifecycle state of a competition room.
type CompetitionState string

const (
	CompetitionWaiting   CompetitionState = "waiting"
	CompetitionCountdown CompetitionState = "countdown"
	CompetitionActive    CompetitionState = "active"
	CompetitionFinished  CompetitionState = "finished"
)

const (
	DefaultMaxParticipants = 10
	DefaultMinParticipants = 2
)

type CompetitionSettings struct {
	MaxParticipants int `json:"maxParticipants"`
	MinParticipants int `json:"minParticipants"`
}

func DefaultCompetitionSettings() CompetitionSettings {
	return CompetitionSettings{
		MaxParticipants: DefaultMaxParticipants,
		MinParticipants: DefaultMinParticipants,
	}
}

// ParticipantStats is client-reported typing telemetry. FinishTime is
// milliseconds elapsed since the race started.
type ParticipantStats struct {
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
	Progress     float64 `json:"progress"`
	CurrentIndex int     `json:"currentIndex"`
	ErrorCount   int     `json:"errorCount"`
	Finished     bool    `json:"finished"`
	FinishTime   *int64  `json:"finishTime,omitempty"`
}

// Participant is identified by UserID; ConnectionID changes on every reconnect.
type Participant struct {
	UserID       string           `json:"userId"`
	Username     string           `json:"username"`
	ConnectionID string           `json:"connectionId"`
	IsReady      bool             `json:"isReady"`
	IsHost       bool             `json:"isHost"`
	IsConnected  bool             `json:"isConnected"`
	JoinedAt     int64            `json:"joinedAt"`
	Stats        ParticipantStats `json:"stats"`
}

// CompetitionSession is the authoritative aggregate of one competition room.
// Timestamps are unix milliseconds.
type CompetitionSession struct {
	ID                 string                  `json:"id"`
	State              CompetitionState        `json:"state"`
	SourceText         string                  `json:"sourceText"`
	Participants       map[string]*Participant `json:"participants"`
	Settings           CompetitionSettings     `json:"settings"`
	CreatedAt          int64                   `json:"createdAt"`
	CountdownStartTime *int64                  `json:"countdownStartTime,omitempty"`
	StartTime          *int64                  `json:"startTime,omitempty"`
	EndTime            *int64                  `json:"endTime,omitempty"`
}

func NewCompetitionSession(id, sourceText string, now int64) *CompetitionSession {
	return &CompetitionSession{
		ID:           id,
		State:        CompetitionWaiting,
		SourceText:   sourceText,
		Participants: make(map[string]*Participant),
		Settings:     DefaultCompetitionSettings(),
		CreatedAt:    now,
	}
}

func (s *CompetitionSession) ParticipantByConnection(connectionID string) *Participant {
	for _, p := range s.Participants {
		if p.ConnectionID == connectionID {
			return p
		}
	}
	return nil
}

// Host returns the participant flagged as host, or nil.
func (s *CompetitionSession) Host() *Participant {
	for _, p := range s.Participants {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// ConnectedCount counts participants with a live connection.
func (s *CompetitionSession) ConnectedCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// AllConnectedFinished reports whether at least one participant is connected
// and every connected participant has finished.
func (s *CompetitionSession) AllConnectedFinished() bool {
	connected := 0
	for _, p := range s.Participants {
		if !p.IsConnected {
			continue
		}
		connected++
		if !p.Stats.Finished {
			return false
		}
	}
	return connected > 0
}

// EarliestJoiner returns the participant who joined first, ties broken by user id.
func (s *CompetitionSession) EarliestJoiner() *Participant {
	var first *Participant
	for _, p := range s.Participants {
		if first == nil || p.JoinedAt < first.JoinedAt ||
			(p.JoinedAt == first.JoinedAt && p.UserID < first.UserID) {
			first = p
		}
	}
	return first
}

type LeaderboardEntry struct {
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	WPM        float64 `json:"wpm"`
	Accuracy   float64 `json:"accuracy"`
	Progress   float64 `json:"progress"`
	Finished   bool    `json:"finished"`
	FinishTime *int64  `json:"finishTime,omitempty"`
	Rank       int     `json:"rank"`
}

// Leaderboard ranks connected participants: finished before unfinished,
// finished by ascending finish time, unfinished by descending progress then
// descending wpm. Remaining ties fall back to user id so the order is total.
func Leaderboard(participants map[string]*Participant) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		if !p.IsConnected {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID:     p.UserID,
			Username:   p.Username,
			WPM:        p.Stats.WPM,
			Accuracy:   p.Stats.Accuracy,
			Progress:   p.Stats.Progress,
			Finished:   p.Stats.Finished,
			FinishTime: p.Stats.FinishTime,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Finished != b.Finished {
			return a.Finished
		}
		if a.Finished {
			at, bt := finishTimeOrMax(a.FinishTime), finishTimeOrMax(b.FinishTime)
			if at != bt {
				return at < bt
			}
		} else {
			if a.Progress != b.Progress {
				return a.Progress > b.Progress
			}
			if a.WPM != b.WPM {
				return a.WPM > b.WPM
			}
		}
		return a.UserID < b.UserID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func finishTimeOrMax(t *int64) int64 {
	if t == nil {
		return int64(^uint64(0) >> 1)
	}
	return *t
}
