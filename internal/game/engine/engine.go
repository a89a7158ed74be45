package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quizduel/server/internal/game/question"
	"github.com/quizduel/server/internal/game/registry"
	"github.com/quizduel/server/internal/game/room"
)

// ErrQuestionUnavailable is returned when the question provider fails. The
// room's previous question stays in place so clients are not left hanging;
// the condition is recoverable and never tears down the room.
var ErrQuestionUnavailable = errors.New("question unavailable")

// ResultRecorder receives scored answers for out-of-band persistence.
// Recording is best-effort; failures never reach room state.
type ResultRecorder interface {
	RecordCorrectAnswer(ctx context.Context, playerID string, tier question.Tier) error
}

// Options tunes engine behavior.
type Options struct {
	// InitialTier is the difficulty new rooms start at. Defaults to easy.
	InitialTier question.Tier
	// AutoAdjust moves the room tier one step after every answer: up on
	// correct, down on incorrect. Manual difficulty changes still apply.
	AutoAdjust bool
	// Recorder, when non-nil, is notified of every scored answer.
	Recorder ResultRecorder
}

// Engine is the session coordinator: it owns per-room game state and is
// the single writer for scores, the current question, and difficulty.
// Cross-room operations never contend; each room carries its own lock.
type Engine struct {
	registry *registry.Registry
	rooms    *room.Directory
	provider question.Provider
	recorder ResultRecorder
	logger   *zap.Logger

	initialTier question.Tier
	autoAdjust  bool

	mu     sync.RWMutex
	states map[string]*roomState
}

// New creates an Engine over the given collaborators.
//
// Precondition: reg, rooms, provider, and logger must be non-nil.
func New(reg *registry.Registry, rooms *room.Directory, provider question.Provider, logger *zap.Logger, opts Options) *Engine {
	tier := opts.InitialTier
	if !tier.Valid() {
		tier = question.TierEasy
	}
	return &Engine{
		registry:    reg,
		rooms:       rooms,
		provider:    provider,
		recorder:    opts.Recorder,
		logger:      logger,
		initialTier: tier,
		autoAdjust:  opts.AutoAdjust,
		states:      make(map[string]*roomState),
	}
}

// Connect registers a new connection and places it in a room: the first
// open room if one exists, otherwise a fresh one. On the room reaching two
// members a question is dealt immediately.
//
// Postcondition: The connection is registered with a zeroed tally in its
// room, or ErrDuplicateConnection is returned and nothing changes.
func (e *Engine) Connect(ctx context.Context, id string, conn *registry.Conn) error {
	if err := e.registry.Register(id, conn); err != nil {
		return err
	}

	roomID := e.placeInRoom(id)
	st := e.stateFor(roomID)

	st.mu.Lock()
	st.scores[id] = &Tally{}
	st.mu.Unlock()

	members := e.rooms.MembersOf(roomID)
	e.logger.Info("player connected",
		zap.String("player_id", id),
		zap.String("room_id", roomID),
		zap.Int("members", len(members)),
	)

	if len(members) == room.MaxMembers {
		if err := e.dealQuestion(ctx, roomID); err != nil {
			e.logger.Warn("initial deal failed",
				zap.String("room_id", roomID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// placeInRoom joins the first open room, retrying if another connection
// takes the seat first, and creates a new room when none is open.
func (e *Engine) placeInRoom(id string) string {
	for {
		roomID, ok := e.rooms.FindOpenRoom()
		if !ok {
			return e.rooms.Create(id)
		}
		if err := e.rooms.Join(roomID, id); err == nil {
			return roomID
		}
	}
}

// Disconnect removes a connection: it is unregistered, its tally dropped,
// and its room returned to the waiting phase (question cleared) or
// destroyed when it empties. Unknown ids are a no-op.
func (e *Engine) Disconnect(id string) {
	e.registry.Unregister(id)

	roomID, ok := e.rooms.Leave(id)
	if !ok {
		return
	}
	st, ok := e.state(roomID)
	if !ok {
		return
	}

	st.mu.Lock()
	delete(st.scores, id)
	remaining := e.rooms.MembersOf(roomID)
	if len(remaining) > 0 {
		// No question is answerable with a single player.
		st.current = nil
		st.mu.Unlock()
		e.logger.Info("player disconnected, room waiting",
			zap.String("player_id", id),
			zap.String("room_id", roomID),
		)
		return
	}
	st.mu.Unlock()

	e.mu.Lock()
	delete(e.states, roomID)
	e.mu.Unlock()
	e.logger.Info("player disconnected, room destroyed",
		zap.String("player_id", id),
		zap.String("room_id", roomID),
	)
}

// SubmitAnswer scores a submitted answer against the room's current
// question and deals the next one. A submission racing a question
// transition (no current question) is silently dropped. Both members may
// score the same question; serialization only decides broadcast order.
func (e *Engine) SubmitAnswer(ctx context.Context, id, answer string) error {
	roomID, ok := e.rooms.RoomOf(id)
	if !ok {
		e.logger.Debug("answer from connection with no room",
			zap.String("player_id", id),
		)
		return nil
	}
	st, ok := e.state(roomID)
	if !ok {
		return nil
	}

	st.mu.Lock()
	if st.current == nil {
		st.mu.Unlock()
		return nil
	}
	tier := st.tier
	correct := answer == st.current.Answer
	if correct {
		if tally, ok := st.scores[id]; ok {
			tally.Add(tier)
		}
	}
	if e.autoAdjust {
		st.tier = question.Adjust(st.tier, correct)
	}
	st.mu.Unlock()

	e.logger.Debug("answer scored",
		zap.String("player_id", id),
		zap.String("room_id", roomID),
		zap.String("tier", string(tier)),
		zap.Bool("correct", correct),
	)

	if correct && e.recorder != nil {
		go e.record(id, tier)
	}

	return e.dealQuestion(ctx, roomID)
}

// SetDifficulty changes the room's difficulty and deals a new question.
// Unknown tier names are ignored without error, matching client tolerance.
func (e *Engine) SetDifficulty(ctx context.Context, id, level string) error {
	tier, ok := question.ParseTier(level)
	if !ok {
		e.logger.Debug("ignoring unknown difficulty",
			zap.String("player_id", id),
			zap.String("level", level),
		)
		return nil
	}
	roomID, ok := e.rooms.RoomOf(id)
	if !ok {
		return nil
	}
	st, ok := e.state(roomID)
	if !ok {
		return nil
	}

	st.mu.Lock()
	st.tier = tier
	st.mu.Unlock()

	return e.dealQuestion(ctx, roomID)
}

// dealQuestion fetches a question at the room's current tier and
// broadcasts it with a full score snapshot to every registered member.
// At most one fetch per room is outstanding; extra calls coalesce into it.
// Provider failure leaves the previous question in place. A result that
// arrives after the room emptied is discarded.
func (e *Engine) dealQuestion(ctx context.Context, roomID string) error {
	st, ok := e.state(roomID)
	if !ok {
		return nil
	}

	st.mu.Lock()
	if st.dealing {
		st.mu.Unlock()
		return nil
	}
	st.dealing = true
	st.mu.Unlock()

	for {
		st.mu.Lock()
		tier := st.tier
		st.mu.Unlock()

		q, err := e.provider.GetQuestion(ctx, tier)

		if _, alive := e.state(roomID); !alive {
			st.mu.Lock()
			st.dealing = false
			st.mu.Unlock()
			e.logger.Debug("discarding question for destroyed room",
				zap.String("room_id", roomID),
			)
			return nil
		}

		if err != nil {
			st.mu.Lock()
			st.dealing = false
			st.mu.Unlock()
			e.logger.Warn("question unavailable",
				zap.String("room_id", roomID),
				zap.String("tier", string(tier)),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", ErrQuestionUnavailable, err)
		}

		st.mu.Lock()
		if st.tier != tier {
			// Difficulty changed while the fetch was outstanding; drop the
			// stale question and fetch again at the new tier.
			st.mu.Unlock()
			continue
		}

		st.current = &q
		payload := QuestionBroadcast{
			Difficulty: string(tier),
			Question:   q.Text,
			Options:    q.Options,
			Scores:     st.snapshotScores(),
		}
		data, merr := json.Marshal(payload)
		if merr != nil {
			st.dealing = false
			st.mu.Unlock()
			return fmt.Errorf("encoding broadcast: %w", merr)
		}

		// Sends happen under the room lock so members observe broadcasts
		// in generation order. Push never blocks.
		members := e.rooms.MembersOf(roomID)
		var undeliverable []string
		for _, m := range members {
			if serr := e.registry.Send(m, data); serr != nil {
				e.logger.Debug("skipping member during broadcast",
					zap.String("player_id", m),
					zap.String("room_id", roomID),
					zap.Error(serr),
				)
				if errors.Is(serr, registry.ErrDeliveryFailed) {
					undeliverable = append(undeliverable, m)
				}
			}
		}
		st.dealing = false
		st.mu.Unlock()

		// An undeliverable connection is effectively gone; clean it up the
		// same way a disconnect would.
		for _, m := range undeliverable {
			e.Disconnect(m)
		}
		return nil
	}
}

// record persists one scored answer with its own deadline, detached from
// the submitting connection's lifetime.
func (e *Engine) record(id string, tier question.Tier) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.recorder.RecordCorrectAnswer(ctx, id, tier); err != nil {
		e.logger.Warn("recording result",
			zap.String("player_id", id),
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
	}
}

// stateFor returns the state for roomID, creating it at the initial tier
// on first use.
func (e *Engine) stateFor(roomID string) *roomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[roomID]
	if !ok {
		st = newRoomState(e.initialTier)
		e.states[roomID] = st
	}
	return st
}

func (e *Engine) state(roomID string) (*roomState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[roomID]
	return st, ok
}

// Phase reports the lifecycle phase of a room.
//
// Postcondition: Returns (phase, true) for a live room, or ("", false).
func (e *Engine) Phase(roomID string) (Phase, bool) {
	if _, ok := e.state(roomID); !ok {
		return "", false
	}
	if len(e.rooms.MembersOf(roomID)) == room.MaxMembers {
		return PhaseActive, true
	}
	return PhaseWaiting, true
}

// CurrentQuestion returns the room's question in flight.
//
// Postcondition: Returns (question, true) when one is answerable.
func (e *Engine) CurrentQuestion(roomID string) (question.Question, bool) {
	st, ok := e.state(roomID)
	if !ok {
		return question.Question{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return question.Question{}, false
	}
	return *st.current, true
}

// Tier returns the room's current difficulty.
func (e *Engine) Tier(roomID string) (question.Tier, bool) {
	st, ok := e.state(roomID)
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tier, true
}

// RoomOf reports which room a connected player occupies.
func (e *Engine) RoomOf(id string) (string, bool) {
	return e.rooms.RoomOf(id)
}

// Scores returns a snapshot of the room's tallies.
func (e *Engine) Scores(roomID string) map[string]Tally {
	st, ok := e.state(roomID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotScores()
}
