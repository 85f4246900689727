// Package registry tracks every live Session, allocates the TCP ports
// owned sessions spawn their adapters on, and coordinates bulk
// shutdown. It is the only place that creates a session.Session.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	errs "github.com/dbgbridge/dbgbridge/internal/errors"
	"github.com/dbgbridge/dbgbridge/internal/session"
	"github.com/dbgbridge/dbgbridge/internal/supervisor"
)

// startPort is the first port owned sessions may be spawned on; 5678
// is reserved as the conventional default for an already-listening,
// user-started debugpy that attach_to_debugpy targets.
const startPort = 5679

// Registry owns the full set of live sessions.
type Registry struct {
	bus         *bus.Bus
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*session.Session
	nextPort int
}

// New creates an empty Registry publishing lifecycle events on b.
func New(b *bus.Bus, maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = 16
	}
	return &Registry{
		bus:         b,
		maxSessions: maxSessions,
		sessions:    make(map[string]*session.Session),
		nextPort:    startPort,
	}
}

// AllocatePort hands out the next candidate port for an owned spawn,
// verified bindable by supervisor.AllocatePort starting from the
// registry's monotonic counter so two concurrent spawns never collide
// even if one session's port is later freed.
func (r *Registry) AllocatePort() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	port, err := supervisor.AllocatePort(r.nextPort)
	if err != nil {
		return 0, err
	}
	r.nextPort = port + 1
	return port, nil
}

// Create registers a new Session in Starting state. Callers then run
// the handshake and call AttachClient/SetProcess before transitioning
// it to Running.
func (r *Registry) Create(scriptPath string, port int, ownsProc bool) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return nil, errs.SessionLimitReached(r.maxSessions)
	}

	id := uuid.New().String()
	s := session.New(id, scriptPath, port, ownsProc, r.bus)
	r.sessions[id] = s

	r.bus.Publish(bus.Event{Kind: "session_created", SessionID: id, Payload: map[string]any{
		"scriptPath": scriptPath, "port": port, "owned": ownsProc,
	}})
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.SessionNotFound(id)
	}
	return s, nil
}

// Remove drops id from the registry without terminating it; used once
// Session.Terminate has already run.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Terminate terminates and removes one session.
func (r *Registry) Terminate(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	err = s.Terminate(ctx)
	r.Remove(id)
	return err
}

// SessionSummary is the tool-surface shape of one listed session.
type SessionSummary struct {
	ID         string
	ScriptPath string
	Port       int
	OwnsProc   bool
	State      session.State
}

// List returns a summary of every live session.
func (r *Registry) List() []SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionSummary, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, SessionSummary{
			ID:         id,
			ScriptPath: s.ScriptPath,
			Port:       s.Port,
			OwnsProc:   s.OwnsProc,
			State:      s.State(),
		})
	}
	return out
}

// Stats aggregates session counts by lifecycle state.
func (r *Registry) Stats() map[session.State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[session.State]int)
	for _, s := range r.sessions {
		counts[s.State()]++
	}
	return counts
}

// ShutdownAll terminates every session concurrently and waits for all
// of them to finish, returning once the last one has.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = r.Terminate(ctx, id)
		}(id)
	}
	wg.Wait()
}
