package httpclient

import (
	"context"
	"sync"
	"time"

	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
)

// DefaultLogoutDelay leaves a just-queued notification time to show before
// the session is torn down.
const DefaultLogoutDelay = 5 * time.Second

// Scheduler runs delayed logouts. At most one logout is pending per
// session.
type Scheduler struct {
	store session.Store
	delay time.Duration
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewScheduler(store session.Store, delay time.Duration, log zerolog.Logger) *Scheduler {
	if delay < 0 {
		delay = 0
	}
	return &Scheduler{
		store:   store,
		delay:   delay,
		log:     log.With().Str("component", "logout").Logger(),
		pending: map[string]*time.Timer{},
	}
}

// Schedule logs out session id after the delay. It returns false when a
// logout for id is already pending.
func (s *Scheduler) Schedule(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		return false
	}
	s.pending[id] = time.AfterFunc(s.delay, func() {
		s.run(id)
	})
	s.log.Info().Str("session", id).Dur("delay", s.delay).Msg("logout scheduled")
	return true
}

// Pending reports whether a logout for id is scheduled and has not run yet.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

func (s *Scheduler) run(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.LogOut(ctx, s.store, id); err != nil {
		s.log.Error().Err(err).Str("session", id).Msg("scheduled logout failed")
	} else {
		s.log.Info().Str("session", id).Msg("session logged out")
	}

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Stop cancels all pending logouts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}
