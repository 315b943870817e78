package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local is an in-process Limiter. Each key gets a token bucket holding max
// tokens that refills completely over window.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLocal() *Local {
	return &Local{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Local) bucket(key string, max int, window time.Duration) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		every := window / time.Duration(max)
		if every <= 0 {
			every = time.Nanosecond
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), max)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b
}

func (l *Local) Check(_ context.Context, key string, max int, window time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucket(key, max, window).limiter.TokensAt(l.now()) < 1 {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) Hit(_ context.Context, key string, max int, window time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.bucket(key, max, window).limiter.AllowN(l.now(), 1) {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
	return nil
}

// Prune drops buckets idle for longer than idle and returns how many were removed.
func (l *Local) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}
