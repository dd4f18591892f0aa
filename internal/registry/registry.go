// Package registry implements the process-wide Match Registry (C7):
// matchId -> live match, with atomic creation and reader/writer-discipline
// lookups (§4.7, §5): lookups take the shared read lock (they are not
// lock-free); create/terminate take the exclusive lock. Grounded on the
// reference server's world registry, which keeps the same shape for its
// live-session table.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/towerlords/matchserver/internal/match"
)

// ErrAlreadyExists is returned by Create if matchId collides (never
// expected given uuid generation, but guards the invariant explicitly).
var ErrAlreadyExists = errors.New("match already exists")

// Handle is what the registry hands back for a live match: its state plus
// whatever the caller needs to reach its scheduler task. Scheduler is an
// opaque pointer the registry never dereferences; internal/scheduler
// supplies the concrete type.
type Handle struct {
	State     *match.MatchState
	Scheduler any
}

// Registry is the concurrent matchId -> Handle map.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*Handle
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{matches: make(map[string]*Handle)}
}

// Create generates a new matchId and atomically inserts state under it.
// Readmission by MATCH_JOIN must use Lookup, never Create.
func (r *Registry) Create(state *match.MatchState, scheduler any) (string, error) {
	id := uuid.NewString()
	state.MatchID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.matches[id]; exists {
		return "", ErrAlreadyExists
	}
	r.matches[id] = &Handle{State: state, Scheduler: scheduler}
	return id, nil
}

// Lookup returns the handle for matchID, or (nil, false).
func (r *Registry) Lookup(matchID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.matches[matchID]
	return h, ok
}

// Terminate removes matchID from the registry (called after
// FINISHED_GRACE_MS elapses post-finish); history remains in the
// repository, only the live handle is dropped.
func (r *Registry) Terminate(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, matchID)
}

// Count returns the number of live matches, for health/metrics surfaces.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}
