package session

import "sync"

// sendQueueDepth bounds the outbound queue of one subscriber. A subscriber
// whose queue is full when a frame is enqueued is closed rather than allowed
// to stall the session's broadcast.
const sendQueueDepth = 256

// Subscriber is one attached socket peer. The session enqueues encoded
// frames into its bounded channel; a dedicated writer owned by the socket
// front end drains [Frames] to the wire.
type Subscriber struct {
	userID    string
	sessionID string
	frames    chan []byte
	closeOnce sync.Once
}

// NewSubscriber creates a subscriber bound to a session for its lifetime.
func NewSubscriber(userID, sessionID string) *Subscriber {
	return &Subscriber{
		userID:    userID,
		sessionID: sessionID,
		frames:    make(chan []byte, sendQueueDepth),
	}
}

// UserID returns the user identifier assigned on attach.
func (s *Subscriber) UserID() string { return s.userID }

// SessionID returns the session this subscriber is bound to.
func (s *Subscriber) SessionID() string { return s.sessionID }

// Frames returns the outbound delivery channel. It is closed when the
// subscriber detaches; pending frames are discarded by the reader going away.
func (s *Subscriber) Frames() <-chan []byte { return s.frames }

// trySend enqueues a frame without blocking. It reports false when the
// queue is full, which marks the subscriber for removal.
func (s *Subscriber) trySend(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// close closes the delivery channel exactly once.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.frames) })
}
