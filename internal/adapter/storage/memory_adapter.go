package storage

import (
	"context"
	"sync"
	"time"

	"github.com/textorder/textorder/internal/core/domain"
)

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryAdapter is the single-process stand-in for RedisAdapter. Entries
// expire lazily on read.
type MemoryAdapter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryAdapter) get(key string) (any, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *MemoryAdapter) set(key string, value any, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *MemoryAdapter) GetSession(ctx context.Context, businessID, identity string) (*domain.ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(customerKey(sessionKeyPrefix, businessID, identity))
	if !ok {
		return nil, nil
	}
	session := v.(domain.ConversationSession)
	return &session, nil
}

func (m *MemoryAdapter) SaveSession(ctx context.Context, session domain.ConversationSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(customerKey(sessionKeyPrefix, session.BusinessID, session.CustomerIdentity), session, ttl)
	return nil
}

func (m *MemoryAdapter) DeleteSession(ctx context.Context, businessID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, customerKey(sessionKeyPrefix, businessID, identity))
	return nil
}

func (m *MemoryAdapter) GetRememberedName(ctx context.Context, businessID, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(customerKey(nameKeyPrefix, businessID, identity))
	if !ok {
		return "", nil
	}
	return v.(string), nil
}

func (m *MemoryAdapter) RememberName(ctx context.Context, businessID, identity, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(customerKey(nameKeyPrefix, businessID, identity), name, ttl)
	return nil
}

func (m *MemoryAdapter) MarkAwaitingCheckIn(ctx context.Context, businessID, identity, orderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(customerKey(checkInKeyPrefix, businessID, identity), orderID, ttl)
	return nil
}

func (m *MemoryAdapter) AwaitingCheckIn(ctx context.Context, businessID, identity string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(customerKey(checkInKeyPrefix, businessID, identity))
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *MemoryAdapter) ClearCheckIn(ctx context.Context, businessID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, customerKey(checkInKeyPrefix, businessID, identity))
	return nil
}

func (m *MemoryAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key = idempotencyKeyPrefix + key
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.set(key, struct{}{}, idempotencyKeyTTL)
	return true, nil
}

func (m *MemoryAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, idempotencyKeyPrefix+key)
	return nil
}

func (m *MemoryAdapter) GetMenu(ctx context.Context, businessID string) (domain.Menu, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(menuKeyPrefix + businessID)
	if !ok {
		return nil, false, nil
	}
	cached := v.(domain.Menu)
	menu := make(domain.Menu, len(cached))
	for name, price := range cached {
		menu[name] = price
	}
	return menu, true, nil
}

func (m *MemoryAdapter) SetMenu(ctx context.Context, businessID string, menu domain.Menu, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(menu) == 0 {
		delete(m.entries, menuKeyPrefix+businessID)
		return nil
	}
	cached := make(domain.Menu, len(menu))
	for name, price := range menu {
		cached[name] = price
	}
	m.set(menuKeyPrefix+businessID, cached, ttl)
	return nil
}

func (m *MemoryAdapter) InvalidateMenu(ctx context.Context, businessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, menuKeyPrefix+businessID)
	return nil
}
