package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("session limit reached")
)

// SnapshotFunc returns the snapshot new sessions start from.
type SnapshotFunc func() *discovery.Snapshot

// ListenerFunc builds the event listener of a new session.
type ListenerFunc func(sessionID string) discovery.Listener

type RegistryConfig struct {
	// Options is the template every session is created with. Its Listener is
	// replaced by the one Listener builds.
	Options     discovery.Options
	Snapshot    SnapshotFunc
	Listener    ListenerFunc
	MaxSessions int
	IdleTimeout time.Duration
}

// Registry owns the live browsing sessions. Each session runs on its own
// goroutine until it is deleted, idles out, or the registry stops.
type Registry struct {
	cfg RegistryConfig
	ctx context.Context

	mu       sync.RWMutex
	sessions map[string]*discovery.Session
}

// NewRegistry creates a registry whose sessions live at most as long as ctx.
func NewRegistry(ctx context.Context, cfg RegistryConfig) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 5000
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Registry{cfg: cfg, ctx: ctx, sessions: make(map[string]*discovery.Session)}
}

func (r *Registry) Create() (*discovery.Session, error) {
	snap := r.cfg.Snapshot()
	if snap == nil {
		return nil, errors.New("no listing snapshot loaded")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	id := uuid.NewString()
	opts := r.cfg.Options
	if r.cfg.Listener != nil {
		opts.Listener = r.cfg.Listener(id)
	}
	s := discovery.NewSession(id, snap, opts)
	r.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))

	go func() {
		if err := s.Run(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Str("session", id).Msg("session loop ended")
		}
		r.forget(id, s)
	}()
	return s, nil
}

func (r *Registry) Get(id string) (*discovery.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete stops the session and forgets it.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) forget(id string, s *discovery.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
}

// Reap closes sessions idle since before now minus the idle timeout and
// returns how many were closed.
func (r *Registry) Reap(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTimeout)
	var idle []*discovery.Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done, then closes the rest.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(r.cfg.IdleTimeout/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return nil
		case now := <-ticker.C:
			if n := r.Reap(now); n > 0 {
				logging.Info().Int("sessions", n).Msg("reaped idle sessions")
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*discovery.Session)
	metrics.ActiveSessions.Set(0)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
