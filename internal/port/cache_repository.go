package port

import (
	"context"
	"time"

	"github.com/textorder/textorder/internal/core/domain"
)

// SessionStore keeps conversation sessions and the last name a customer used.
// Getters return nil/"" with a nil error when nothing is stored.
type SessionStore interface {
	GetSession(ctx context.Context, businessID, identity string) (*domain.ConversationSession, error)

	// SaveSession stores the session; ttl bounds how long the store keeps it.
	SaveSession(ctx context.Context, session domain.ConversationSession, ttl time.Duration) error

	DeleteSession(ctx context.Context, businessID, identity string) error

	GetRememberedName(ctx context.Context, businessID, identity string) (string, error)
	RememberName(ctx context.Context, businessID, identity, name string, ttl time.Duration) error
}

// CheckInMarks records customers that were asked whether their order arrived.
type CheckInMarks interface {
	MarkAwaitingCheckIn(ctx context.Context, businessID, identity, orderID string, ttl time.Duration) error

	// AwaitingCheckIn returns the order id the prompt was sent for.
	AwaitingCheckIn(ctx context.Context, businessID, identity string) (string, bool, error)

	ClearCheckIn(ctx context.Context, businessID, identity string) error
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes the key so a later retry is accepted
	ReleaseIdempotency(ctx context.Context, key string) error
}

// MenuCache fronts MenuRepository.GetMenu. Stock is never cached.
type MenuCache interface {
	GetMenu(ctx context.Context, businessID string) (domain.Menu, bool, error)
	SetMenu(ctx context.Context, businessID string, menu domain.Menu, ttl time.Duration) error
	InvalidateMenu(ctx context.Context, businessID string) error
}
