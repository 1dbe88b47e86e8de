// Package profile provides cached, serialized access to stored profiles.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/persona"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetProfile(ctx context.Context, id string) (persona.Profile, error)
	PutProfile(ctx context.Context, p persona.Profile) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// DefaultCacheTTL is how long a loaded profile is served from memory.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	profile  persona.Profile
	cachedAt time.Time
}

// Manager caches profiles read from the store and serializes writes per
// profile. Writes to different profiles never contend.
type Manager struct {
	store  Store
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a Manager with the given cache TTL. A non-positive
// TTL disables caching.
func NewManager(store Store, ttl time.Duration) *Manager {
	return NewManagerWithClock(store, realClock{}, ttl)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: slog.Default(),
		cache:  make(map[string]cacheEntry),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Create stores a new empty profile with a fresh ID.
func (m *Manager) Create(ctx context.Context, userRef, bio string) (persona.Profile, error) {
	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		return persona.Profile{}, fmt.Errorf("%w: user_ref is required", persona.ErrInvalidInput)
	}
	p := persona.NewProfile(uuid.NewString(), userRef, m.clock.Now())
	p.Bio = strings.TrimSpace(bio)

	if err := m.store.PutProfile(ctx, p); err != nil {
		return persona.Profile{}, fmt.Errorf("storing profile: %w", err)
	}
	m.remember(p)
	m.logger.Info("profile created", "profile_id", p.ID, "user_ref", p.UserRef)
	return p.Clone(), nil
}

// Get returns the profile with id from cache or storage.
func (m *Manager) Get(ctx context.Context, id string) (persona.Profile, error) {
	p, err := m.load(ctx, id)
	if err != nil {
		return persona.Profile{}, err
	}
	return p.Clone(), nil
}

// Update loads the profile, applies fn and stores the result while holding
// the profile's lock. When fn fails nothing is written. fn must not block
// on external calls.
func (m *Manager) Update(ctx context.Context, id string, fn func(persona.Profile) (persona.Profile, error)) (persona.Profile, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.load(ctx, id)
	if err != nil {
		return persona.Profile{}, err
	}

	next, err := fn(current.Clone())
	if err != nil {
		return persona.Profile{}, err
	}
	if next.ID != id {
		return persona.Profile{}, fmt.Errorf("update of profile %s returned profile %q", id, next.ID)
	}

	if err := m.store.PutProfile(ctx, next); err != nil {
		m.Invalidate(id)
		return persona.Profile{}, fmt.Errorf("storing profile %s: %w", id, err)
	}
	m.remember(next)
	return next.Clone(), nil
}

// Invalidate drops id from the cache.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
}

func (m *Manager) load(ctx context.Context, id string) (persona.Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	e, ok := m.cache[id]
	m.mu.RUnlock()
	if ok && m.fresh(e) {
		return e.profile, nil
	}

	p, err := m.store.GetProfile(ctx, id)
	if err != nil {
		return persona.Profile{}, fmt.Errorf("loading profile %s: %w", id, err)
	}
	m.remember(p)
	return p, nil
}

func (m *Manager) fresh(e cacheEntry) bool {
	return m.clock.Now().Before(e.cachedAt.Add(m.ttl))
}

func (m *Manager) remember(p persona.Profile) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.cache[p.ID] = cacheEntry{profile: p.Clone(), cachedAt: m.clock.Now()}
	m.mu.Unlock()
}

// lockFor returns the write lock of a profile. Locks are kept for the life
// of the process.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}
