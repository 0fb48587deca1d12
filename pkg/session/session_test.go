package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchroom/sketchroom/pkg/board"
	"github.com/sketchroom/sketchroom/pkg/storage"
)

// memStore is an in-memory BoardStore that records writes and can be made
// to fail, standing in for the sqlite store in session-level tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]storage.Record
	puts    int
	failPut error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]storage.Record)}
}

func (m *memStore) Get(_ context.Context, id string) (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Put(_ context.Context, rec storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.puts++
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) List(_ context.Context) ([]storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func newTestSession(t *testing.T, store *memStore) *Session {
	t.Helper()
	s := newSession("boardid", 1700000000000, nil, store, nil)
	s.now = func() int64 { return 12345 }
	return s
}

// readFrame decodes the next frame from a subscriber or fails the test.
func readFrame(t *testing.T, sub *Subscriber) map[string]any {
	t.Helper()
	select {
	case data, ok := <-sub.Frames():
		require.True(t, ok, "subscriber channel closed")
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// drainAttach consumes the frames emitted when sub attached: its own init
// plus one userCount.
func drainAttach(t *testing.T, sub *Subscriber) {
	t.Helper()
	require.Equal(t, FrameInit, readFrame(t, sub)[keyFrameType])
	require.Equal(t, FrameUserCount, readFrame(t, sub)[keyFrameType])
}

func elementIDs(elements []board.Element) []string {
	out := make([]string, len(elements))
	for i, el := range elements {
		out[i] = el.ID()
	}
	return out
}

func TestApplyCreateAssignsIDAndStampsMetadata(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestSession(t, store)

	el, err := s.ApplyCreate(context.Background(), board.Element{
		"type": "rectangle", "x": 10.0, "y": 20.0, "width": 30.0, "height": 40.0,
	}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, el.ID())
	assert.Equal(t, board.OriginAPI, el[board.KeyCreatedBy])
	assert.Equal(t, int64(12345), el[board.KeyTimestamp])

	rec, err := store.Get(context.Background(), "boardid")
	require.NoError(t, err)
	require.Len(t, rec.Elements, 1)
	assert.Equal(t, el.ID(), rec.Elements[0].ID())
}

func TestApplyCreateKeepsClientID(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())

	el, err := s.ApplyCreate(context.Background(), board.Element{"id": "mine", "type": "pen"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mine", el.ID())
}

func TestApplyCreateReassignsTakenID(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	first, err := s.ApplyCreate(ctx, board.Element{"id": "dup", "type": "pen"}, nil)
	require.NoError(t, err)
	require.Equal(t, "dup", first.ID())

	second, err := s.ApplyCreate(ctx, board.Element{"id": "dup", "type": "pen"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "dup", second.ID(), "a taken identifier must be replaced")
	assert.NotEmpty(t, second.ID())

	elements, _ := s.Snapshot()
	require.Len(t, elements, 2)
	assert.NotEqual(t, elements[0].ID(), elements[1].ID())
}

func TestApplyCreateBatchReassignsTakenIDs(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.ApplyCreate(ctx, board.Element{"id": "held", "type": "pen"}, nil)
	require.NoError(t, err)

	// One collision with the existing sequence, one inside the batch.
	list, err := s.ApplyCreateBatch(ctx, []board.Element{
		{"id": "held", "type": "circle"},
		{"id": "fresh", "type": "line"},
		{"id": "fresh", "type": "rectangle"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.NotEqual(t, "held", list[0].ID())
	assert.Equal(t, "fresh", list[1].ID())
	assert.NotEqual(t, "fresh", list[2].ID())

	elements, _ := s.Snapshot()
	seen := make(map[string]bool)
	for _, el := range elements {
		require.False(t, seen[el.ID()], "identifier %q appears twice", el.ID())
		seen[el.ID()] = true
	}
}

func TestBroadcastOrderIdenticalAcrossSubscribers(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	a := NewSubscriber("ua", s.ID())
	b := NewSubscriber("ub", s.ID())
	s.Attach(a)
	drainAttach(t, a)
	s.Attach(b)
	require.Equal(t, FrameUserCount, readFrame(t, a)[keyFrameType])
	drainAttach(t, b)

	el, err := s.ApplyCreate(ctx, board.Element{"type": "circle", "cx": 0.0, "cy": 0.0, "radius": 5.0}, nil)
	require.NoError(t, err)
	_, err = s.ApplyUpdate(ctx, el.ID(), board.Element{"radius": 9.0}, nil)
	require.NoError(t, err)
	require.NoError(t, s.ApplyDelete(ctx, el.ID(), nil))
	require.NoError(t, s.ApplyClear(ctx, nil))

	want := []string{FrameDraw, FrameMove, FrameErase, FrameClear}
	for _, sub := range []*Subscriber{a, b} {
		for _, wantType := range want {
			assert.Equal(t, wantType, readFrame(t, sub)[keyFrameType])
		}
	}
}

func TestSocketOriginExcludedFromBroadcast(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())

	a := NewSubscriber("ua", s.ID())
	b := NewSubscriber("ub", s.ID())
	s.Attach(a)
	drainAttach(t, a)
	s.Attach(b)
	require.Equal(t, FrameUserCount, readFrame(t, a)[keyFrameType])
	drainAttach(t, b)

	_, err := s.ApplyCreate(context.Background(), board.Element{"type": "pen"}, a)
	require.NoError(t, err)

	frame := readFrame(t, b)
	assert.Equal(t, FrameDraw, frame[keyFrameType])
	element, ok := frame[keyElement].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, element["id"])
	assert.Equal(t, "ua", element[board.KeyCreatedBy])

	select {
	case data := <-a.Frames():
		t.Fatalf("origin received unexpected frame: %s", data)
	default:
	}
}

func TestCursorRelayedWithoutPersistence(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestSession(t, store)

	a := NewSubscriber("ua", s.ID())
	b := NewSubscriber("ub", s.ID())
	s.Attach(a)
	drainAttach(t, a)
	s.Attach(b)
	require.Equal(t, FrameUserCount, readFrame(t, a)[keyFrameType])
	drainAttach(t, b)

	before := store.putCount()
	s.RelayCursor(3, 4, a)

	frame := readFrame(t, b)
	assert.Equal(t, FrameCursor, frame[keyFrameType])
	assert.Equal(t, 3.0, frame[keyCursorX])
	assert.Equal(t, 4.0, frame[keyCursorY])
	assert.Equal(t, "ua", frame[legacyUserKey])
	assert.Equal(t, "ua", frame[aliasUserKey])
	assert.Equal(t, before, store.putCount())

	select {
	case data := <-a.Frames():
		t.Fatalf("origin received unexpected frame: %s", data)
	default:
	}
}

func TestPersistenceFailureRefusesMutation(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestSession(t, store)
	ctx := context.Background()

	_, err := s.ApplyCreate(ctx, board.Element{"type": "note", "text": "keep"}, nil)
	require.NoError(t, err)

	sub := NewSubscriber("ua", s.ID())
	s.Attach(sub)
	drainAttach(t, sub)

	store.failPut = errors.New("disk full")
	_, err = s.ApplyCreate(ctx, board.Element{"type": "text", "text": "lost"}, nil)
	require.Error(t, err)

	elements, _ := s.Snapshot()
	assert.Len(t, elements, 1)

	select {
	case data := <-sub.Frames():
		t.Fatalf("subscriber received frame for refused mutation: %s", data)
	default:
	}
}

func TestBatchPersistsOnceAndEmitsPerElement(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestSession(t, store)

	sub := NewSubscriber("ua", s.ID())
	s.Attach(sub)
	drainAttach(t, sub)

	before := store.putCount()
	list, err := s.ApplyCreateBatch(context.Background(), []board.Element{
		{"type": "rectangle", "x": 1.0},
		{"type": "circle", "cx": 2.0},
		{"type": "line", "x1": 3.0},
	}, nil)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, before+1, store.putCount())

	for _, want := range list {
		frame := readFrame(t, sub)
		require.Equal(t, FrameDraw, frame[keyFrameType])
		element := frame[keyElement].(map[string]any)
		assert.Equal(t, want.ID(), element["id"])
	}
}

func TestApplyUpdateMergesAndPreservesID(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	el, err := s.ApplyCreate(ctx, board.Element{"type": "text", "x": 1.0, "text": "a"}, nil)
	require.NoError(t, err)

	updated, err := s.ApplyUpdate(ctx, el.ID(), board.Element{"id": "other", "text": "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, el.ID(), updated.ID())
	assert.Equal(t, "b", updated["text"])
	assert.Equal(t, 1.0, updated["x"])
	assert.Equal(t, board.OriginAPI, updated[board.KeyUpdatedBy])
	assert.Equal(t, int64(12345), updated[board.KeyUpdatedAt])
}

func TestApplyUpdateUnknownElement(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())

	_, err := s.ApplyUpdate(context.Background(), "ghost", board.Element{"x": 1.0}, nil)
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestApplyDeleteUnknownElement(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())

	err := s.ApplyDelete(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestApplyMoveStampsMovedMetadata(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	a := NewSubscriber("ua", s.ID())
	s.Attach(a)
	drainAttach(t, a)

	el, err := s.ApplyCreate(ctx, board.Element{"type": "rectangle", "x": 0.0}, a)
	require.NoError(t, err)

	moved, err := s.ApplyMove(ctx, el.ID(), board.Element{"type": "rectangle", "x": 50.0}, a)
	require.NoError(t, err)
	assert.Equal(t, el.ID(), moved.ID())
	assert.Equal(t, 50.0, moved["x"])
	assert.Equal(t, "ua", moved[board.KeyMovedBy])
	assert.Equal(t, int64(12345), moved[board.KeyMovedAt])
}

func TestApplyReorder(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestSession(t, store)
	ctx := context.Background()

	var ids []string
	for _, typ := range []string{"rectangle", "circle", "line"} {
		el, err := s.ApplyCreate(ctx, board.Element{"type": typ}, nil)
		require.NoError(t, err)
		ids = append(ids, el.ID())
	}

	// [A B C] -> front(A) -> [B C A]
	require.NoError(t, s.ApplyReorder(ctx, ids[0], PositionFront, nil))
	elements, _ := s.Snapshot()
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, elementIDs(elements))

	// [B C A] -> back(A) -> [A B C]
	require.NoError(t, s.ApplyReorder(ctx, ids[0], PositionBack, nil))
	elements, _ = s.Snapshot()
	assert.Equal(t, []string{ids[0], ids[1], ids[2]}, elementIDs(elements))

	// Invalid position: no state change, no persistence.
	before := store.putCount()
	require.NoError(t, s.ApplyReorder(ctx, ids[0], "middle", nil))
	elements, _ = s.Snapshot()
	assert.Equal(t, []string{ids[0], ids[1], ids[2]}, elementIDs(elements))
	assert.Equal(t, before, store.putCount())

	// Unknown element: no-op.
	require.NoError(t, s.ApplyReorder(ctx, "ghost", PositionFront, nil))
	assert.Equal(t, before, store.putCount())
}

func TestAttachSendsConsistentInit(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())

	_, err := s.ApplyCreate(context.Background(), board.Element{"type": "note", "text": "n"}, nil)
	require.NoError(t, err)

	sub := NewSubscriber("ua", s.ID())
	s.Attach(sub)

	init := readFrame(t, sub)
	require.Equal(t, FrameInit, init[keyFrameType])
	assert.Equal(t, "ua", init[keyInitUserID])
	assert.Equal(t, 1.0, init[keyInitUsers])
	elements, ok := init[keyElements].([]any)
	require.True(t, ok)
	assert.Len(t, elements, 1)

	count := readFrame(t, sub)
	require.Equal(t, FrameUserCount, count[keyFrameType])
	assert.Equal(t, 1.0, count[keyCount])
}

func TestDetachAnnouncesDeparture(t *testing.T) {
	t.Parallel()
	var idleID string
	s := newSession("boardid", 1, nil, newMemStore(), func(id string) { idleID = id })

	a := NewSubscriber("ua", s.ID())
	b := NewSubscriber("ub", s.ID())
	s.Attach(a)
	drainAttach(t, a)
	s.Attach(b)
	require.Equal(t, FrameUserCount, readFrame(t, a)[keyFrameType])
	drainAttach(t, b)

	s.Detach(a)
	assert.Empty(t, idleID, "session with remaining subscriber is not idle")

	count := readFrame(t, b)
	require.Equal(t, FrameUserCount, count[keyFrameType])
	assert.Equal(t, 1.0, count[keyCount])

	left := readFrame(t, b)
	require.Equal(t, FrameUserLeft, left[keyFrameType])
	assert.Equal(t, "ua", left[legacyUserKey])
	assert.Equal(t, "ua", left[aliasUserKey])

	s.Detach(b)
	assert.Equal(t, "boardid", idleID)
}

func TestSlowSubscriberIsClosed(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newMemStore())

	slow := NewSubscriber("uslow", s.ID())
	s.Attach(slow)
	// Never drained: cursor relays overflow the bounded queue eventually.
	for i := 0; i <= sendQueueDepth+1; i++ {
		s.RelayCursor(float64(i), 0, nil)
	}

	assert.Equal(t, 0, s.SubscriberCount())

	// The channel is closed after the buffered frames drain.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel never closed")
		}
	}
}
