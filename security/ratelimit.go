package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxLimiters   = 10000
	limiterIdleTimeout   = 30 * time.Minute
	limiterSweepInterval = 5 * time.Minute
)

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a keyed token-bucket limiter. Keys are typically
// "<endpoint>:<client ip>". The least recently used key is evicted once
// maxEntries is reached, and idle keys are swept in the background.
type RateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
	evictions   int64
}

// NewRateLimiter creates a limiter allowing perMinute events per key with
// the given burst.
func NewRateLimiter(perMinute, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(rate.Limit(float64(perMinute)/60.0), burst, defaultMaxLimiters, logger)
}

// NewRateLimiterWithConfig creates a limiter with an explicit rate and key cap.
// maxEntries <= 0 selects the default cap.
func NewRateLimiterWithConfig(limit rate.Limit, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxLimiters
	}

	rl := &RateLimiter{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		limit:       limit,
		burst:       burst,
		maxEntries:  maxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether an event for key may happen now.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(rl.entries) >= rl.maxEntries {
		if oldest := rl.lru.Back(); oldest != nil {
			delete(rl.entries, oldest.Value.(*limiterEntry).key)
			rl.lru.Remove(oldest)
			rl.evictions++
		}
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(limiterIdleTimeout)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops keys idle for longer than maxIdle. It returns the number removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	// The list is ordered by recency, so walk from the back until a fresh entry.
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, entry.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed", "removed", removed, "remaining", len(rl.entries))
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Evictions returns how many keys were evicted because of the key cap.
func (rl *RateLimiter) Evictions() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.evictions
}

// Stop stops the background cleanup. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
