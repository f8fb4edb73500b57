package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/port"
)

const (
	DefaultSessionTimeout = 10 * time.Minute
	DefaultNameMemoryTTL  = 30 * 24 * time.Hour
)

// ConversationTracker owns the one-slot dialogue that collects a missing
// customer name. A missing or expired session is treated the same way: the
// next message starts a fresh order.
type ConversationTracker struct {
	store   port.SessionStore
	timeout time.Duration
	nameTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewConversationTracker(store port.SessionStore, timeout, nameTTL time.Duration, logger *zap.Logger) *ConversationTracker {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if nameTTL <= 0 {
		nameTTL = DefaultNameMemoryTTL
	}
	return &ConversationTracker{
		store:   store,
		timeout: timeout,
		nameTTL: nameTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// GetSession returns the live session or nil.
func (t *ConversationTracker) GetSession(ctx context.Context, businessID, identity string) (*domain.ConversationSession, error) {
	session, err := t.store.GetSession(ctx, businessID, identity)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if session.Expired(t.now(), t.timeout) {
		if err := t.store.DeleteSession(ctx, businessID, identity); err != nil {
			t.logger.Warn("failed to delete expired session", zap.String("identity", identity), zap.Error(err))
		}
		return nil, nil
	}
	return session, nil
}

// OpenSession parks pending until the customer sends a name.
func (t *ConversationTracker) OpenSession(ctx context.Context, businessID, identity string, pending domain.ParsedOrder) (*domain.ConversationSession, error) {
	session := domain.ConversationSession{
		CustomerIdentity: identity,
		BusinessID:       businessID,
		Stage:            domain.StageAwaitingName,
		PendingOrder:     pending,
		LastActivityAt:   t.now(),
	}
	if err := t.store.SaveSession(ctx, session, t.timeout); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &session, nil
}

// ContinueSession consumes the reply to the name prompt. It returns the
// completed order and true, or false when the reply was blank and the
// session stays open.
func (t *ConversationTracker) ContinueSession(ctx context.Context, session *domain.ConversationSession, message string) (domain.ParsedOrder, bool, error) {
	order := session.PendingOrder
	if session.Stage != domain.StageAwaitingName {
		return order, true, nil
	}

	name, table := splitNameReply(message)
	if name == "" {
		session.LastActivityAt = t.now()
		if err := t.store.SaveSession(ctx, *session, t.timeout); err != nil {
			return order, false, fmt.Errorf("save session: %w", err)
		}
		return order, false, nil
	}

	order.CustomerName = name
	if order.TableNumber == "" && table != "" {
		order.TableNumber = table
	}
	return order, true, nil
}

// CloseSession removes the session for the identity.
func (t *ConversationTracker) CloseSession(ctx context.Context, businessID, identity string) error {
	if err := t.store.DeleteSession(ctx, businessID, identity); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (t *ConversationTracker) RememberedName(ctx context.Context, businessID, identity string) (string, error) {
	name, err := t.store.GetRememberedName(ctx, businessID, identity)
	if err != nil {
		return "", fmt.Errorf("get remembered name: %w", err)
	}
	return name, nil
}

func (t *ConversationTracker) RememberName(ctx context.Context, businessID, identity, name string) error {
	if name == "" {
		return nil
	}
	if err := t.store.RememberName(ctx, businessID, identity, name, t.nameTTL); err != nil {
		return fmt.Errorf("remember name: %w", err)
	}
	return nil
}

var tableRefRe = regexp.MustCompile(`^[A-Za-z]*\d[A-Za-z0-9]*$`)

// splitNameReply reads "NAME" or "NAME, TABLE". The part after the comma is
// a table only when it looks like one; otherwise the whole reply is the name.
func splitNameReply(message string) (string, string) {
	message = strings.TrimSpace(message)
	name, rest, found := strings.Cut(message, ",")
	if !found {
		return message, ""
	}
	table := strings.TrimSpace(rest)
	lower := strings.ToLower(table)
	for _, prefix := range []string{"table", "tbl", "#"} {
		if strings.HasPrefix(lower, prefix) {
			table = strings.TrimSpace(table[len(prefix):])
			lower = strings.ToLower(table)
		}
	}
	if !tableRefRe.MatchString(table) {
		return message, ""
	}
	return strings.TrimSpace(name), strings.ToUpper(table)
}
