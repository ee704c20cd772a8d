package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterPrune = 1024
)

type actorLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiter is a per-actor token bucket. A zero limit disables it.
type limiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	actors map[string]*actorLimit
	now    func() time.Time
}

func newLimiter(limit rate.Limit, burst int) *limiter {
	if burst <= 0 {
		burst = 1
	}
	return &limiter{limit: limit, burst: burst, actors: make(map[string]*actorLimit), now: time.Now}
}

func (l *limiter) Allow(actorID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.actors) >= limiterPrune {
		for id, entry := range l.actors {
			if now.Sub(entry.lastSeen) > limiterIdle {
				delete(l.actors, id)
			}
		}
	}
	entry, ok := l.actors[actorID]
	if !ok {
		entry = &actorLimit{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.actors[actorID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
