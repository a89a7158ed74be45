// Package engine owns the authoritative per-room game state and drives the
// question/answer lifecycle: matchmaking on connect, answer scoring,
// difficulty changes, and question broadcasts.
package engine

import (
	"sync"

	"github.com/quizduel/server/internal/game/question"
)

// Phase is the lifecycle phase of a room.
type Phase string

const (
	// PhaseWaiting means the room has a single member waiting for an
	// opponent; no question is answerable.
	PhaseWaiting Phase = "waiting"
	// PhaseActive means the room is full and questions are being dealt.
	PhaseActive Phase = "active"
)

// Tally counts a player's correct answers per difficulty tier.
type Tally struct {
	Easy   int `json:"easy"`
	Medium int `json:"medium"`
	Hard   int `json:"hard"`
}

// Add increments the count for the given tier by 1. Unknown tiers are
// ignored.
func (t *Tally) Add(tier question.Tier) {
	switch tier {
	case question.TierEasy:
		t.Easy++
	case question.TierMedium:
		t.Medium++
	case question.TierHard:
		t.Hard++
	}
}

// Total returns the sum across all tiers.
func (t Tally) Total() int {
	return t.Easy + t.Medium + t.Hard
}

// roomState is the authoritative game state for one room. All fields are
// guarded by mu. The engine never holds two roomState locks at once, so
// rooms cannot contend with each other.
type roomState struct {
	mu sync.Mutex
	// tier is the room's current difficulty.
	tier question.Tier
	// current is the question in flight, nil when none is answerable.
	current *question.Question
	// scores maps member connection ids to their tallies. Entries exist
	// only for connections currently in the room.
	scores map[string]*Tally
	// dealing marks an outstanding provider fetch for this room. A second
	// deal triggered while one is outstanding is coalesced away.
	dealing bool
}

func newRoomState(tier question.Tier) *roomState {
	return &roomState{
		tier:   tier,
		scores: make(map[string]*Tally),
	}
}

// snapshotScores copies the tallies for broadcast. Caller must hold mu.
func (st *roomState) snapshotScores() map[string]Tally {
	out := make(map[string]Tally, len(st.scores))
	for id, tally := range st.scores {
		out[id] = *tally
	}
	return out
}
