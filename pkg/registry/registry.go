// Package registry is the process-wide directory of supervisors keyed by
// session id (component F, spec.md §4.F): at most one supervisor per
// session id, reads under a shared read lock, single-flight creation.
package registry

import (
	"context"
	"sync"

	"github.com/crm/pkg/apikey"
	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/sessionstorage"
	"github.com/crm/pkg/supervisor"
	"github.com/crm/pkg/webhook"
	"gorm.io/gorm"
)

// Factory builds the Deps a fresh Supervisor needs. Kept as a function
// (rather than the Registry importing browserworker directly) so tests
// can inject a fake worker factory.
type Factory struct {
	DB       *gorm.DB
	Storage  *sessionstorage.Service
	APIKeys  *apikey.Service
	Webhooks *webhook.Engine
	Workers  supervisor.WorkerFactory
	IncrementNumbersUsed func(ctx context.Context, userID uint) error
}

type Registry struct {
	factory Factory

	mu          sync.RWMutex
	supervisors map[string]*supervisor.Supervisor

	// creating single-flights concurrent create_if_absent calls for the
	// same key so a race produces exactly one winner.
	creating map[string]*sync.WaitGroup
	createMu sync.Mutex
}

func New(factory Factory) *Registry {
	return &Registry{
		factory:     factory,
		supervisors: make(map[string]*supervisor.Supervisor),
		creating:    make(map[string]*sync.WaitGroup),
	}
}

// Get is not lock-free: it takes the shared read lock (a single
// RLock/RUnlock pair), so it only waits while a writer holds the map.
func (r *Registry) Get(sessionID string) (*supervisor.Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.supervisors[sessionID]
	return sup, ok
}

// CreateIfAbsent is atomic: if two callers race for the same session id,
// one constructs the Supervisor and the other waits for and reuses it.
// The Supervisor it creates runs on its own background lifetime context,
// never the caller's, since it outlives whatever request triggered its
// creation (spec.md §4.E/§4.F).
func (r *Registry) CreateIfAbsent(sessionID string, userID uint, isRestore bool) *supervisor.Supervisor {
	if sup, ok := r.Get(sessionID); ok {
		return sup
	}

	r.createMu.Lock()
	if wg, inflight := r.creating[sessionID]; inflight {
		r.createMu.Unlock()
		wg.Wait()
		sup, _ := r.Get(sessionID)
		return sup
	}
	if sup, ok := r.Get(sessionID); ok {
		r.createMu.Unlock()
		return sup
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	r.creating[sessionID] = wg
	r.createMu.Unlock()

	defer func() {
		r.createMu.Lock()
		delete(r.creating, sessionID)
		r.createMu.Unlock()
		wg.Done()
	}()

	deps := supervisor.Deps{
		DB:                   r.factory.DB,
		Storage:              r.factory.Storage,
		APIKeys:              r.factory.APIKeys,
		Webhooks:             r.factory.Webhooks,
		Workers:              r.factory.Workers,
		IncrementNumbersUsed: r.factory.IncrementNumbersUsed,
		Evict:                r.Evict,
		ForceDisconnectOthers: r.forceDisconnectOthers,
	}
	sup := supervisor.New(sessionID, userID, deps)

	r.mu.Lock()
	r.supervisors[sessionID] = sup
	r.mu.Unlock()

	sup.Start(isRestore)
	return sup
}

// Evict removes a supervisor from the map. Only called from a
// supervisor's own terminal-state transition (spec.md §4.F).
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.supervisors, sessionID)
}

// forceDisconnectOthers implements spec.md §4.E's "On ready" clause:
// every other session belonging to the same user must end up
// disconnected. Live supervisors are torn down in memory via Disconnect,
// which also persists the row; a row left connected by a supervisor that
// no longer exists in this process (a prior crash, a restart) has no
// in-memory actor to do that, so it's demoted directly at the DB level.
func (r *Registry) forceDisconnectOthers(ctx context.Context, userID uint, exceptSessionID string) {
	r.mu.RLock()
	var others []*supervisor.Supervisor
	live := make([]string, 0, len(r.supervisors))
	for id, sup := range r.supervisors {
		live = append(live, id)
		if id != exceptSessionID && sup.UserID == userID && sup.Status() == entities.SessionConnected {
			others = append(others, sup)
		}
	}
	r.mu.RUnlock()

	for _, sup := range others {
		_ = sup.Disconnect(ctx)
	}

	if r.factory.DB == nil {
		return
	}
	exempt := append(live, exceptSessionID)
	r.factory.DB.WithContext(ctx).Model(&entities.Session{}).
		Where("user_id = ? AND status = ? AND session_id NOT IN ?", userID, entities.SessionConnected, exempt).
		Update("status", entities.SessionDisconnected)
}

// Len reports the number of live supervisors, used by health checks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.supervisors)
}
