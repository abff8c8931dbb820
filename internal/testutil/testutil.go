package testutil

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/team-broker/security"
)

// Clock is a controllable, goroutine-safe time source for deterministic tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current mock time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the mock time forward by the given duration
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set sets the mock time to a specific value
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NewEncryptor returns an Encryptor with a fresh random key.
func NewEncryptor(t testing.TB) *security.Encryptor {
	t.Helper()
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	return enc
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
