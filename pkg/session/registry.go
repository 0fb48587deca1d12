package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sketchroom/sketchroom/pkg/board"
	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/storage"
	"github.com/sketchroom/sketchroom/pkg/telemetry"
)

// DefaultEvictionDelay is how long a session stays resident after its
// subscriber set drops to empty. The store copy is the source of truth;
// eviction is purely a memory-management concern.
const DefaultEvictionDelay = 60 * time.Second

// Registry maintains the process-wide id-to-session mapping. The mapping
// lock is held only for lookup and insert, never across store I/O: loading
// happens behind a per-entry sync.Once after the entry is published.
type Registry struct {
	store storage.BoardStore
	delay time.Duration

	mu       sync.Mutex
	sessions map[string]*registryEntry
	stopped  bool
}

type registryEntry struct {
	once sync.Once
	sess *Session
	err  error

	// evict is the armed eviction timer; evictGen identifies the arming.
	// A fired callback whose generation no longer matches was cancelled or
	// superseded while it waited on the registry lock and must not evict;
	// Timer.Stop alone cannot prevent that late run.
	evict    *time.Timer
	evictGen uint64
}

// NewRegistry creates a registry backed by the given store. evictionDelay
// is the idle period before an empty session is dropped from memory.
func NewRegistry(store storage.BoardStore, evictionDelay time.Duration) *Registry {
	return &Registry{
		store:    store,
		delay:    evictionDelay,
		sessions: make(map[string]*registryEntry),
	}
}

// GetOrCreate returns the resident session, rehydrates it from the store,
// or synthesizes a new empty session and persists its skeleton immediately.
// Any pending eviction for the identifier is cancelled.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		e = &registryEntry{}
		r.sessions[id] = e
	}
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
		e.evictGen++
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.sess, e.err = r.load(ctx, id)
		if e.err == nil {
			telemetry.SessionsLoaded.Inc()
		}
	})
	if e.err != nil {
		// Drop the failed entry so a later reference retries the load.
		r.mu.Lock()
		if r.sessions[id] == e {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		return nil, e.err
	}
	return e.sess, nil
}

// Get returns the session only if the registry or the store already has it;
// unlike GetOrCreate it never brings a new session into existence. A hit
// cancels any pending eviction.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	_, resident := r.sessions[id]
	r.mu.Unlock()

	if !resident {
		if _, err := r.store.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return r.GetOrCreate(ctx, id)
}

// ScheduleEviction arms the deferred eviction of an idle session. A newer
// schedule supersedes a pending one; any re-reference cancels it.
func (r *Registry) ScheduleEviction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || r.stopped {
		return
	}
	if e.evict != nil {
		e.evict.Stop()
	}
	e.evictGen++
	gen := e.evictGen
	e.evict = time.AfterFunc(r.delay, func() { r.evictIfIdle(id, gen) })
}

// evictIfIdle drops the session from the map if it still has no subscribers
// when the eviction timer fires. The persisted record is kept. A stale
// generation means the arming was cancelled by a re-reference or replaced by
// a newer schedule after the timer fired; such a callback must not evict.
func (r *Registry) evictIfIdle(id string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.sess == nil {
		return
	}
	if e.evictGen != gen {
		return
	}
	e.evict = nil
	if e.sess.SubscriberCount() > 0 {
		return
	}
	delete(r.sessions, id)
	telemetry.SessionsLoaded.Dec()
	logger.Debugw("evicted idle session", "session", id)
}

// Stop cancels all pending eviction timers. Sessions stay resident; Stop is
// for process shutdown, not cleanup.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for _, e := range r.sessions {
		if e.evict != nil {
			e.evict.Stop()
			e.evict = nil
			e.evictGen++
		}
	}
}

// load fetches the persisted record or creates and persists a skeleton.
func (r *Registry) load(ctx context.Context, id string) (*Session, error) {
	rec, err := r.store.Get(ctx, id)
	switch {
	case err == nil:
		logger.Debugw("rehydrated session from store", "session", id, "elements", len(rec.Elements))
	case isNotFound(err):
		rec = storage.Record{ID: id, CreatedAt: time.Now().UnixMilli(), Elements: []board.Element{}}
		if err := r.store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("persisting session skeleton: %w", err)
		}
		logger.Infow("created session", "session", id)
	default:
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	return newSession(rec.ID, rec.CreatedAt, rec.Elements, r.store, r.ScheduleEviction), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
