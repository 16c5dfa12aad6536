package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hupe1980/imgsieve"
)

// session is one registered triage session plus its request budget.
type session struct {
	triage    *imgsieve.Session
	limiter   *rate.Limiter
	createdAt time.Time
}

// registry tracks open sessions by token. Tokens are random UUIDs; guessing
// one is the only way to reach someone else's session, so they never appear
// in logs.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	limit rate.Limit
	burst int
}

func newRegistry(limit rate.Limit, burst int) *registry {
	return &registry{
		sessions: make(map[string]*session),
		limit:    limit,
		burst:    burst,
	}
}

// add registers a session and returns its fresh token.
func (r *registry) add(triage *imgsieve.Session) string {
	token := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[token] = &session{
		triage:    triage,
		limiter:   rate.NewLimiter(r.limit, r.burst),
		createdAt: time.Now(),
	}

	return token
}

func (r *registry) get(token string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[token]
	return sess, ok
}

// remove drops a session. Returns false when the token was unknown.
func (r *registry) remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[token]; !ok {
		return false
	}
	delete(r.sessions, token)
	return true
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
