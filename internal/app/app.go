package app

import (
	"fmt"
	"time"

	"bundlechat/internal/live"
	"bundlechat/pkg/storage"
	"bundlechat/pkg/store"
)

// Publisher receives the write-set of a mutation. The local bus always
// implements it; a multi-node deployment adds the AMQP relay.
type Publisher interface {
	Publish(keys ...live.Key)
}

// Config wires storage and messaging dependencies for the core application.
type Config struct {
	Store    store.Store
	Presence store.PresenceStore
	Objects  storage.ObjectStore
	Bus      *live.Bus
	Relay    Publisher
	Now      func() time.Time
}

// App is the core application service: identity, workspaces, conversations,
// messages, read state, and typing presence.
type App struct {
	store    store.Store
	presence store.PresenceStore
	objects  storage.ObjectStore
	bus      *live.Bus
	relay    Publisher
	now      func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	presence := cfg.Presence
	if presence == nil {
		presence = store.NewMemoryPresence()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = live.NewBus()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		store:    cfg.Store,
		presence: presence,
		objects:  cfg.Objects,
		bus:      bus,
		relay:    cfg.Relay,
		now:      now,
	}, nil
}

// Bus exposes the invalidation bus for live-query subscribers.
func (a *App) Bus() *live.Bus { return a.bus }

// caller resolves the verified subject to the internal user record.
func (a *App) caller(subject string) (userID string, err error) {
	user, ok, err := a.store.GetUserBySubject(subject)
	if err != nil {
		return "", fmt.Errorf("resolve caller: %w", err)
	}
	if subject == "" || !ok {
		return "", ErrUnauthenticated
	}
	return user.ID, nil
}

// publish pushes a mutation's write-set to the local bus and, when
// configured, to peer nodes.
func (a *App) publish(keys ...live.Key) {
	a.bus.Publish(keys...)
	if a.relay != nil {
		a.relay.Publish(keys...)
	}
}
