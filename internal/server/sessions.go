package server

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/voyagen/lineup/internal/session"
)

// registry holds the open edit sessions. Sessions idle longer than ttl are
// discarded, either lazily on lookup or by the periodic sweep.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	ttl      time.Duration
	now      func() time.Time
}

func newRegistry(ttl time.Duration, now func() time.Time) *registry {
	return &registry{sessions: map[string]*session.Session{}, ttl: ttl, now: now}
}

func (r *registry) add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

func (r *registry) get(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	if r.expireLocked(s) {
		return nil, false
	}
	return s, true
}

func (r *registry) remove(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *registry) list() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// sweep discards every idle session and returns how many it dropped.
func (r *registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if r.expireLocked(s) {
			n++
		}
	}
	return n
}

// expireLocked discards s if it has been idle past the TTL. A session with a
// commit in flight is kept until the commit returns.
func (r *registry) expireLocked(s *session.Session) bool {
	if r.ttl <= 0 || r.now().Sub(s.TouchedAt()) <= r.ttl {
		return false
	}
	if err := s.Discard(); err != nil && !errors.Is(err, session.ErrDiscarded) {
		return false
	}
	delete(r.sessions, s.ID())
	log.Printf("session %s: expired after %s idle", s.ID(), r.ttl)
	return true
}

// run sweeps until ctx is done.
func (r *registry) run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				log.Printf("sessions: swept %d idle session(s)", n)
			}
		}
	}
}
