package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"bundlechat/pkg/domain"
	"bundlechat/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeObjects struct{}

func (fakeObjects) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/upload/" + key, nil
}

func (fakeObjects) ContentURL(key string) string {
	return "https://objects.test/" + key
}

func (fakeObjects) Delete(context.Context, string) error { return nil }

func newTestApp(t *testing.T) (*App, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	a, err := New(Config{
		Store:    store.NewMemoryStore(),
		Presence: store.NewMemoryPresence().WithClock(clock.Now),
		Objects:  fakeObjects{},
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, clock
}

func signIn(t *testing.T, a *App, subject, username, email string) domain.User {
	t.Helper()
	user, err := a.ResolveOrCreate(subject, ProfileHints{Username: username, Email: email})
	if err != nil {
		t.Fatalf("resolve %s: %v", subject, err)
	}
	return user
}
