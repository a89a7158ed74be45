package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quizduel/server/internal/game/question"
	"github.com/quizduel/server/internal/game/registry"
	"github.com/quizduel/server/internal/game/room"
)

// fakeProvider returns a fixed question per call, with optional failure
// injection and a gate to simulate a slow remote generator.
type fakeProvider struct {
	mu    sync.Mutex
	err   error
	calls int
	gate  chan struct{}
}

func (p *fakeProvider) GetQuestion(_ context.Context, tier question.Tier) (question.Question, error) {
	p.mu.Lock()
	p.calls++
	err := p.err
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return question.Question{}, err
	}
	return question.Question{
		Text:    "What is 2+2?",
		Options: []string{"1", "2", "3", "4"},
		Answer:  "4",
		Tier:    tier,
	}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *memoryRecorder) RecordCorrectAnswer(_ context.Context, playerID string, tier question.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, playerID+"/"+string(tier))
	return nil
}

func (r *memoryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestEngine(t *testing.T, provider question.Provider, opts Options) (*Engine, *registry.Registry, *room.Directory) {
	t.Helper()
	reg := registry.NewRegistry()
	rooms := room.NewDirectory()
	return New(reg, rooms, provider, zaptest.NewLogger(t), opts), reg, rooms
}

func connect(t *testing.T, e *Engine, id string, buffer int) *registry.Conn {
	t.Helper()
	conn := registry.NewConn(id, buffer)
	require.NoError(t, e.Connect(context.Background(), id, conn))
	return conn
}

func readBroadcast(t *testing.T, conn *registry.Conn) QuestionBroadcast {
	t.Helper()
	select {
	case data, ok := <-conn.Events():
		require.True(t, ok, "events channel closed before broadcast")
		var b QuestionBroadcast
		require.NoError(t, json.Unmarshal(data, &b))
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return QuestionBroadcast{}
	}
}

func assertNoBroadcast(t *testing.T, conn *registry.Conn) {
	t.Helper()
	select {
	case data := <-conn.Events():
		t.Fatalf("unexpected broadcast: %s", data)
	default:
	}
}

func TestEngine_FirstPlayerWaits(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)

	roomID, ok := rooms.RoomOf("A")
	require.True(t, ok)
	phase, ok := e.Phase(roomID)
	require.True(t, ok)
	assert.Equal(t, PhaseWaiting, phase)
	assert.Equal(t, 0, provider.callCount(), "no question before pairing")
	assertNoBroadcast(t, connA)

	_, ok = e.CurrentQuestion(roomID)
	assert.False(t, ok)
}

func TestEngine_PairingDealsExactlyOnce(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)

	roomID, _ := rooms.RoomOf("A")
	sameRoom, _ := rooms.RoomOf("B")
	assert.Equal(t, roomID, sameRoom, "B joins A's open room")

	phase, _ := e.Phase(roomID)
	assert.Equal(t, PhaseActive, phase)
	assert.Equal(t, 1, provider.callCount(), "pairing deals exactly once")

	forA := readBroadcast(t, connA)
	forB := readBroadcast(t, connB)
	assert.Equal(t, forA, forB, "both members see the same broadcast")
	assert.Equal(t, "easy", forA.Difficulty)
	assert.Equal(t, "What is 2+2?", forA.Question)
	assert.Len(t, forA.Options, 4)
	assert.Equal(t, Tally{}, forA.Scores["A"])
	assert.Equal(t, Tally{}, forA.Scores["B"])
}

func TestEngine_ThirdPlayerGetsNewRoom(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connect(t, e, "A", 8)
	connect(t, e, "B", 8)
	connect(t, e, "C", 8)

	roomAB, _ := rooms.RoomOf("A")
	roomC, _ := rooms.RoomOf("C")
	assert.NotEqual(t, roomAB, roomC)
	assert.Equal(t, 2, rooms.Count())

	phase, _ := e.Phase(roomC)
	assert.Equal(t, PhaseWaiting, phase)
	assert.Equal(t, 1, provider.callCount(), "no deal for a waiting room")
}

func TestEngine_DuplicateConnectionRejected(t *testing.T) {
	provider := &fakeProvider{}
	e, reg, _ := newTestEngine(t, provider, Options{})

	connect(t, e, "A", 8)
	err := e.Connect(context.Background(), "A", registry.NewConn("A", 8))
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDuplicateConnection)
	assert.Equal(t, 1, reg.Count())
}

func TestEngine_CorrectAnswerScoresSubmitter(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "4"))

	scores := e.Scores(roomID)
	assert.Equal(t, Tally{Easy: 1}, scores["A"], "submitter's easy tally incremented by 1")
	assert.Equal(t, Tally{}, scores["B"], "opponent untouched")

	next := readBroadcast(t, connA)
	assert.Equal(t, 1, next.Scores["A"].Easy, "broadcast carries the updated snapshot")
	assert.Equal(t, 2, provider.callCount(), "next question dealt immediately")
}

func TestEngine_IncorrectAnswerLeavesTalliesAlone(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "3"))

	scores := e.Scores(roomID)
	assert.Equal(t, Tally{}, scores["A"])
	assert.Equal(t, Tally{}, scores["B"])
	assert.Equal(t, 2, provider.callCount(), "incorrect answers still advance the question")
}

func TestEngine_BothPlayersScoreSameQuestion(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	// Block the re-deal so the second answer still sees the same question.
	provider.mu.Lock()
	provider.gate = gate
	provider.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = e.SubmitAnswer(context.Background(), "A", "4")
		close(done)
	}()
	require.Eventually(t, func() bool { return provider.callCount() == 2 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.SubmitAnswer(context.Background(), "B", "4"))
	close(gate)
	<-done

	scores := e.Scores(roomID)
	assert.Equal(t, Tally{Easy: 1}, scores["A"])
	assert.Equal(t, Tally{Easy: 1}, scores["B"], "both correct answers count")
}

func TestEngine_AnswerWithoutQuestionIsNoOp(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	roomID, _ := rooms.RoomOf("A")

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "4"))

	assert.Equal(t, 0, provider.callCount(), "no deal triggered")
	assert.Equal(t, Tally{}, e.Scores(roomID)["A"])
	assertNoBroadcast(t, connA)
}

func TestEngine_AnswerFromUnknownConnection(t *testing.T) {
	provider := &fakeProvider{}
	e, _, _ := newTestEngine(t, provider, Options{})

	require.NoError(t, e.SubmitAnswer(context.Background(), "ghost", "4"))
	assert.Equal(t, 0, provider.callCount())
}

func TestEngine_DisconnectReturnsRoomToWaiting(t *testing.T) {
	provider := &fakeProvider{}
	e, reg, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)
	require.NoError(t, e.SubmitAnswer(context.Background(), "B", "4"))
	readBroadcast(t, connB)

	e.Disconnect("A")

	phase, ok := e.Phase(roomID)
	require.True(t, ok)
	assert.Equal(t, PhaseWaiting, phase)

	_, ok = e.CurrentQuestion(roomID)
	assert.False(t, ok, "current question cleared for the lone survivor")

	scores := e.Scores(roomID)
	_, present := scores["A"]
	assert.False(t, present, "departing member's tally dropped")
	assert.Equal(t, Tally{Easy: 1}, scores["B"], "survivor's tally intact")

	assert.Equal(t, 1, reg.Count())
	assert.True(t, connA.IsClosed())
}

func TestEngine_LastDisconnectDestroysRoom(t *testing.T) {
	provider := &fakeProvider{}
	e, reg, rooms := newTestEngine(t, provider, Options{})

	connect(t, e, "A", 8)
	connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")

	e.Disconnect("A")
	e.Disconnect("B")

	_, ok := e.Phase(roomID)
	assert.False(t, ok, "room state torn down")
	assert.Equal(t, 0, rooms.Count())
	assert.Equal(t, 0, reg.Count())

	// Idempotent for already-gone connections.
	e.Disconnect("A")
}

func TestEngine_ProviderFailureKeepsPreviousQuestion(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	before, ok := e.CurrentQuestion(roomID)
	require.True(t, ok)

	provider.fail(errors.New("generator timeout"))
	err := e.SubmitAnswer(context.Background(), "A", "4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuestionUnavailable)

	after, ok := e.CurrentQuestion(roomID)
	require.True(t, ok)
	assert.Equal(t, before, after, "previous question left in place")
	assert.Equal(t, Tally{Easy: 1}, e.Scores(roomID)["A"], "answer was still scored")
	assertNoBroadcast(t, connA)
	assertNoBroadcast(t, connB)
}

func TestEngine_BroadcastNeverLeaksAnswer(t *testing.T) {
	provider := &fakeProvider{}
	e, reg, _ := newTestEngine(t, provider, Options{})

	connect(t, e, "A", 8)
	connect(t, e, "B", 8)

	connA, _ := reg.Get("A")
	data := <-connA.Events()

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 4)
	for _, key := range []string{"difficulty", "question", "options", "scores"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "answer")
}

func TestEngine_SetDifficulty(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	require.NoError(t, e.SetDifficulty(context.Background(), "A", "hard"))

	tier, _ := e.Tier(roomID)
	assert.Equal(t, question.TierHard, tier)

	b := readBroadcast(t, connA)
	assert.Equal(t, "hard", b.Difficulty)
	assert.Equal(t, 2, provider.callCount())
}

func TestEngine_SetDifficultyUnknownIgnored(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	require.NoError(t, e.SetDifficulty(context.Background(), "A", "brutal"))

	tier, _ := e.Tier(roomID)
	assert.Equal(t, question.TierEasy, tier, "difficulty unchanged")
	assert.Equal(t, 1, provider.callCount(), "no deal for an unknown tier")
	assertNoBroadcast(t, connA)
}

func TestEngine_InFlightDealsCoalesce(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{gate: gate}
	e, _, _ := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)

	done := make(chan struct{})
	var connB *registry.Conn
	go func() {
		connB = registry.NewConn("B", 8)
		_ = e.Connect(context.Background(), "B", connB)
		close(done)
	}()

	require.Eventually(t, func() bool { return provider.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	// The fetch is outstanding; a difficulty change must not race a second
	// overlapping fetch. It is picked up when the first resolves.
	require.NoError(t, e.SetDifficulty(context.Background(), "A", "hard"))
	assert.Equal(t, 1, provider.callCount())

	close(gate)
	<-done

	b := readBroadcast(t, connA)
	assert.Equal(t, "hard", b.Difficulty, "stale easy question dropped, refetched at hard")
	assert.Equal(t, 2, provider.callCount())
}

func TestEngine_LateResultForDestroyedRoomDiscarded(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{gate: gate}
	e, _, rooms := newTestEngine(t, provider, Options{})

	connect(t, e, "A", 8)

	done := make(chan struct{})
	go func() {
		_ = e.Connect(context.Background(), "B", registry.NewConn("B", 8))
		close(done)
	}()
	require.Eventually(t, func() bool { return provider.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	roomID, _ := rooms.RoomOf("A")
	e.Disconnect("A")
	e.Disconnect("B")
	close(gate)
	<-done

	_, ok := e.Phase(roomID)
	assert.False(t, ok, "late provider result must not resurrect the room")
	assert.Equal(t, 0, rooms.Count())
}

func TestEngine_DeliveryFailureCleansUpMember(t *testing.T) {
	provider := &fakeProvider{}
	e, reg, rooms := newTestEngine(t, provider, Options{})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 1)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	// B never drains; its one-slot buffer is now full.

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "4"))

	readBroadcast(t, connA)
	assert.Equal(t, 1, reg.Count(), "undeliverable member cleaned up like a disconnect")
	assert.True(t, connB.IsClosed())

	phase, ok := e.Phase(roomID)
	require.True(t, ok)
	assert.Equal(t, PhaseWaiting, phase)
}

func TestEngine_AutoAdjustMovesTier(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{AutoAdjust: true})

	connA := connect(t, e, "A", 16)
	connB := connect(t, e, "B", 16)
	roomID, _ := rooms.RoomOf("A")
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "4"))
	tier, _ := e.Tier(roomID)
	assert.Equal(t, question.TierMedium, tier, "correct answer moves up")
	assert.Equal(t, "medium", readBroadcast(t, connA).Difficulty)

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "1"))
	tier, _ = e.Tier(roomID)
	assert.Equal(t, question.TierEasy, tier, "incorrect answer moves down")
}

func TestEngine_RecorderObservesScoredAnswers(t *testing.T) {
	provider := &fakeProvider{}
	recorder := &memoryRecorder{}
	e, _, _ := newTestEngine(t, provider, Options{Recorder: recorder})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	readBroadcast(t, connA)
	readBroadcast(t, connB)

	require.NoError(t, e.SubmitAnswer(context.Background(), "A", "4"))
	require.NoError(t, e.SubmitAnswer(context.Background(), "B", "1"))

	require.Eventually(t, func() bool { return recorder.count() == 1 },
		2*time.Second, 5*time.Millisecond, "only the correct answer is recorded")
	recorder.mu.Lock()
	assert.Equal(t, []string{"A/easy"}, recorder.entries)
	recorder.mu.Unlock()
}

func TestEngine_InitialTierOption(t *testing.T) {
	provider := &fakeProvider{}
	e, _, rooms := newTestEngine(t, provider, Options{InitialTier: question.TierMedium})

	connA := connect(t, e, "A", 8)
	connB := connect(t, e, "B", 8)
	roomID, _ := rooms.RoomOf("A")

	tier, _ := e.Tier(roomID)
	assert.Equal(t, question.TierMedium, tier)
	assert.Equal(t, "medium", readBroadcast(t, connA).Difficulty)
	readBroadcast(t, connB)
}
