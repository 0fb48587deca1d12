// Package session implements the collaborative whiteboard core: the Session
// object that serializes all mutations for one board, the subscriber
// delivery queues it broadcasts to, and the registry that owns the
// id-to-session mapping with idle eviction.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sketchroom/sketchroom/pkg/board"
	"github.com/sketchroom/sketchroom/pkg/identifiers"
	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/storage"
	"github.com/sketchroom/sketchroom/pkg/telemetry"
)

// ErrElementNotFound is returned when an operation addresses an element
// identifier that is not in the session. Handlers map it to HTTP 404.
var ErrElementNotFound = errors.New("element not found")

// Session owns one board: its ordered element sequence, its live subscriber
// set, and the single serialization point all mutations pass through. Every
// state-changing operation mutates memory, persists the full record, and
// enqueues broadcast frames before the serialization point releases, so all
// subscribers observe edits in the same order the session applied them.
type Session struct {
	id        string
	createdAt int64
	store     storage.BoardStore

	// onIdle is invoked (outside the session lock) whenever the subscriber
	// set drops to empty; the registry uses it to arm deferred eviction.
	onIdle func(id string)

	// now is millisecond Unix time, replaceable in tests.
	now func() int64

	mu       sync.Mutex
	elements []board.Element
	subs     map[string]*Subscriber
}

func newSession(id string, createdAt int64, elements []board.Element, store storage.BoardStore, onIdle func(string)) *Session {
	if elements == nil {
		elements = []board.Element{}
	}
	return &Session{
		id:        id,
		createdAt: createdAt,
		store:     store,
		onIdle:    onIdle,
		now:       func() int64 { return time.Now().UnixMilli() },
		elements:  elements,
		subs:      make(map[string]*Subscriber),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time in millisecond Unix time.
func (s *Session) CreatedAt() int64 { return s.createdAt }

// Snapshot returns a copy of the element sequence and the current
// subscriber count, consistent at one serialization point.
func (s *Session) Snapshot() ([]board.Element, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), len(s.subs)
}

// Element returns the element with the given identifier.
func (s *Session) Element(elementID string) (board.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(elementID)
	if idx < 0 {
		return nil, ErrElementNotFound
	}
	return s.elements[idx].Clone(), nil
}

// SubscriberCount returns the number of attached subscribers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// ApplyCreate appends a new element to the top of the Z-order. A missing
// identifier, or one already present in the sequence, is replaced by a
// server-assigned one so identifiers stay unique. origin is nil for HTTP
// mutations.
func (s *Session) ApplyCreate(ctx context.Context, el board.Element, origin *Subscriber) (board.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshotLocked()
	stamped := s.stampNewLocked(el, origin, next)
	next = append(next, stamped)
	if err := s.persistLocked(ctx, next); err != nil {
		return nil, err
	}
	s.elements = next
	s.broadcastLocked(FrameDraw, map[string]any{
		keyFrameType: FrameDraw,
		keyElement:   stamped,
	}, origin)
	return stamped, nil
}

// ApplyCreateBatch appends each element in input order, persisting once for
// the whole batch and emitting one draw frame per element with no
// intervening frames from other operations.
func (s *Session) ApplyCreateBatch(ctx context.Context, list []board.Element, origin *Subscriber) ([]board.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshotLocked()
	stamped := make([]board.Element, 0, len(list))
	for _, el := range list {
		e := s.stampNewLocked(el, origin, next)
		stamped = append(stamped, e)
		next = append(next, e)
	}
	if err := s.persistLocked(ctx, next); err != nil {
		return nil, err
	}
	s.elements = next
	for _, e := range stamped {
		s.broadcastLocked(FrameDraw, map[string]any{
			keyFrameType: FrameDraw,
			keyElement:   e,
		}, origin)
	}
	return stamped, nil
}

// ApplyUpdate overlays patch onto the addressed element, preserving its
// identifier. The change is announced with a move frame even when no
// geometric field changed: move is the single notification channel for
// element replacement on the wire.
func (s *Session) ApplyUpdate(ctx context.Context, elementID string, patch board.Element, origin *Subscriber) (board.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(elementID)
	if idx < 0 {
		return nil, ErrElementNotFound
	}

	merged := s.elements[idx].Merge(patch)
	merged.StampUpdated(actorFor(origin), s.now())

	next := s.snapshotLocked()
	next[idx] = merged
	if err := s.persistLocked(ctx, next); err != nil {
		return nil, err
	}
	s.elements = next
	s.broadcastLocked(FrameMove, map[string]any{
		keyFrameType: FrameMove,
		keyElementID: elementID,
		keyElement:   merged,
	}, origin)
	return merged, nil
}

// ApplyMove replaces the addressed element with the full body sent by a
// socket peer, preserving the identifier and stamping movedBy/movedAt.
func (s *Session) ApplyMove(ctx context.Context, elementID string, replacement board.Element, origin *Subscriber) (board.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(elementID)
	if idx < 0 {
		return nil, ErrElementNotFound
	}

	moved := replacement.Clone()
	moved.SetID(elementID)
	moved.StampMoved(actorFor(origin), s.now())

	next := s.snapshotLocked()
	next[idx] = moved
	if err := s.persistLocked(ctx, next); err != nil {
		return nil, err
	}
	s.elements = next
	s.broadcastLocked(FrameMove, map[string]any{
		keyFrameType: FrameMove,
		keyElementID: elementID,
		keyElement:   moved,
	}, origin)
	return moved, nil
}

// ApplyDelete removes the first element with the given identifier.
func (s *Session) ApplyDelete(ctx context.Context, elementID string, origin *Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(elementID)
	if idx < 0 {
		return ErrElementNotFound
	}

	next := s.snapshotLocked()
	next = append(next[:idx], next[idx+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.elements = next
	s.broadcastLocked(FrameErase, map[string]any{
		keyFrameType: FrameErase,
		keyElementID: elementID,
	}, origin)
	return nil
}

// ApplyClear empties the element sequence.
func (s *Session) ApplyClear(ctx context.Context, origin *Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := []board.Element{}
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.elements = next
	s.broadcastLocked(FrameClear, map[string]any{
		keyFrameType: FrameClear,
	}, origin)
	return nil
}

// ApplyReorder moves the addressed element to the top (position "front") or
// bottom ("back") of the Z-order. Any other position, or an unknown element
// identifier, is a no-op with no persistence and no broadcast.
func (s *Session) ApplyReorder(ctx context.Context, elementID, position string, origin *Subscriber) error {
	if position != PositionFront && position != PositionBack {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(elementID)
	if idx < 0 {
		return nil
	}

	moved := s.elements[idx]
	rest := s.snapshotLocked()
	rest = append(rest[:idx], rest[idx+1:]...)

	var next []board.Element
	if position == PositionFront {
		next = append(rest, moved)
	} else {
		next = append([]board.Element{moved}, rest...)
	}

	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.elements = next
	s.broadcastLocked(FrameReorder, map[string]any{
		keyFrameType: FrameReorder,
		keyElementID: elementID,
		keyPosition:  position,
	}, origin)
	return nil
}

// RelayCursor broadcasts a cursor position to every subscriber except the
// origin. Cursor frames share the session's ordering stream but never touch
// the store.
func (s *Session) RelayCursor(x, y float64, origin *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := map[string]any{
		keyFrameType: FrameCursor,
		keyCursorX:   x,
		keyCursorY:   y,
	}
	if origin != nil {
		frame[legacyUserKey] = origin.UserID()
		frame[aliasUserKey] = origin.UserID()
	}
	s.broadcastLocked(FrameCursor, frame, origin)
}

// Attach adds a subscriber, sends it an init frame carrying the current
// snapshot, and announces the new user count to every subscriber. Both
// frames reflect the same serialization point, so the init snapshot and the
// subsequent broadcast stream form a consistent sequence.
func (s *Session) Attach(sub *Subscriber) {
	s.mu.Lock()
	s.subs[sub.UserID()] = sub
	telemetry.SubscribersActive.Inc()

	init, err := json.Marshal(map[string]any{
		keyFrameType:  FrameInit,
		keyInitUserID: sub.UserID(),
		keyElements:   s.snapshotLocked(),
		keyInitUsers:  len(s.subs),
	})
	if err != nil {
		logger.Errorw("failed to encode init frame", "session", s.id, "error", err)
	} else {
		if !sub.trySend(init) {
			logger.Warnw("subscriber overflowed on init", "session", s.id, "user", sub.UserID())
		}
		telemetry.FramesBroadcast.WithLabelValues(FrameInit).Inc()
	}

	s.broadcastLocked(FrameUserCount, map[string]any{
		keyFrameType: FrameUserCount,
		keyCount:     len(s.subs),
	}, nil)
	s.mu.Unlock()
}

// Detach removes a subscriber, announces the reduced user count and the
// departing user to the remainder, and reports the session idle when the
// subscriber set drops to empty.
func (s *Session) Detach(sub *Subscriber) {
	s.mu.Lock()
	idle := s.removeLocked(sub)
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle(s.id)
	}
}

// removeLocked detaches sub if still attached and emits the detach frame
// sequence. It reports whether the subscriber set became empty.
func (s *Session) removeLocked(sub *Subscriber) bool {
	if _, ok := s.subs[sub.UserID()]; !ok {
		return false
	}
	delete(s.subs, sub.UserID())
	sub.close()
	telemetry.SubscribersActive.Dec()

	s.broadcastLocked(FrameUserCount, map[string]any{
		keyFrameType: FrameUserCount,
		keyCount:     len(s.subs),
	}, nil)
	s.broadcastLocked(FrameUserLeft, map[string]any{
		keyFrameType:  FrameUserLeft,
		legacyUserKey: sub.UserID(),
		aliasUserKey:  sub.UserID(),
	}, nil)
	return len(s.subs) == 0
}

// broadcastLocked encodes the frame once and enqueues the shared bytes to
// every subscriber except origin. Subscribers whose bounded queue is full
// are detached so one slow peer cannot stall the session.
func (s *Session) broadcastLocked(frameType string, payload map[string]any, origin *Subscriber) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorw("failed to encode frame", "session", s.id, "type", frameType, "error", err)
		return
	}
	telemetry.FramesBroadcast.WithLabelValues(frameType).Inc()

	var failed []*Subscriber
	for _, sub := range s.subs {
		if sub == origin {
			continue
		}
		if !sub.trySend(data) {
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		logger.Warnw("closing slow subscriber", "session", s.id, "user", sub.UserID())
		if s.removeLocked(sub) && s.onIdle != nil {
			// Still inside the session lock; arm eviction off-thread.
			go s.onIdle(s.id)
		}
	}
}

// persistLocked durably writes the candidate element sequence. The
// in-memory sequence is only replaced by the caller after success, so a
// refused persist leaves no partial state.
func (s *Session) persistLocked(ctx context.Context, next []board.Element) error {
	rec := storage.Record{ID: s.id, CreatedAt: s.createdAt, Elements: next}
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("persisting session %s: %w", s.id, err)
	}
	telemetry.ElementsPersisted.Inc()
	return nil
}

// stampNewLocked clones el, assigns an identifier if the client omitted one
// or supplied one already taken in the candidate sequence, and stamps
// creation metadata.
func (s *Session) stampNewLocked(el board.Element, origin *Subscriber, taken []board.Element) board.Element {
	stamped := el.Clone()
	if id := stamped.ID(); id == "" || indexOf(taken, id) >= 0 {
		stamped.SetID(identifiers.NewElementID())
	}
	stamped.StampCreated(actorFor(origin), s.now())
	return stamped
}

func (s *Session) snapshotLocked() []board.Element {
	out := make([]board.Element, len(s.elements))
	copy(out, s.elements)
	return out
}

func (s *Session) indexOfLocked(elementID string) int {
	return indexOf(s.elements, elementID)
}

func indexOf(elements []board.Element, elementID string) int {
	for i, el := range elements {
		if el.ID() == elementID {
			return i
		}
	}
	return -1
}

// actorFor names the mutation origin in element metadata: the subscriber's
// user identifier, or "api" for HTTP callers.
func actorFor(origin *Subscriber) string {
	if origin == nil {
		return board.OriginAPI
	}
	return origin.UserID()
}
