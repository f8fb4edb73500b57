package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/textorder/textorder/internal/core/domain"
)

const (
	sessionKeyPrefix     = "session:"
	nameKeyPrefix        = "name:"
	checkInKeyPrefix     = "checkin:"
	menuKeyPrefix        = "menu:"
	idempotencyKeyPrefix = "idem:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// setMenuScript replaces the cached menu hash and its expiry in one step.
var setMenuScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

redis.call('DEL', key)
for i = 2, #ARGV, 2 do
	redis.call('HSET', key, ARGV[i], ARGV[i + 1])
end

if #ARGV > 1 then
	redis.call('PEXPIRE', key, ttl)
end

return 1
`)

// RedisAdapter keeps short-lived conversational state: sessions, remembered
// names, check-in marks, payment idempotency keys and the menu cache.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func customerKey(prefix, businessID, identity string) string {
	return prefix + businessID + ":" + identity
}

func (r *RedisAdapter) GetSession(ctx context.Context, businessID, identity string) (*domain.ConversationSession, error) {
	data, err := r.client.Get(ctx, customerKey(sessionKeyPrefix, businessID, identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session domain.ConversationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (r *RedisAdapter) SaveSession(ctx context.Context, session domain.ConversationSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := customerKey(sessionKeyPrefix, session.BusinessID, session.CustomerIdentity)
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisAdapter) DeleteSession(ctx context.Context, businessID, identity string) error {
	return r.client.Del(ctx, customerKey(sessionKeyPrefix, businessID, identity)).Err()
}

func (r *RedisAdapter) GetRememberedName(ctx context.Context, businessID, identity string) (string, error) {
	name, err := r.client.Get(ctx, customerKey(nameKeyPrefix, businessID, identity)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return name, err
}

func (r *RedisAdapter) RememberName(ctx context.Context, businessID, identity, name string, ttl time.Duration) error {
	return r.client.Set(ctx, customerKey(nameKeyPrefix, businessID, identity), name, ttl).Err()
}

func (r *RedisAdapter) MarkAwaitingCheckIn(ctx context.Context, businessID, identity, orderID string, ttl time.Duration) error {
	return r.client.Set(ctx, customerKey(checkInKeyPrefix, businessID, identity), orderID, ttl).Err()
}

func (r *RedisAdapter) AwaitingCheckIn(ctx context.Context, businessID, identity string) (string, bool, error) {
	orderID, err := r.client.Get(ctx, customerKey(checkInKeyPrefix, businessID, identity)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}

func (r *RedisAdapter) ClearCheckIn(ctx context.Context, businessID, identity string) error {
	return r.client.Del(ctx, customerKey(checkInKeyPrefix, businessID, identity)).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// GetMenu reports a miss when the hash is absent or empty.
func (r *RedisAdapter) GetMenu(ctx context.Context, businessID string) (domain.Menu, bool, error) {
	fields, err := r.client.HGetAll(ctx, menuKeyPrefix+businessID).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	menu := make(domain.Menu, len(fields))
	for name, raw := range fields {
		cents, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("decode cached price for %q: %w", name, err)
		}
		menu[name] = domain.Money(cents)
	}
	return menu, true, nil
}

func (r *RedisAdapter) SetMenu(ctx context.Context, businessID string, menu domain.Menu, ttl time.Duration) error {
	args := []any{ttl.Milliseconds()}
	for _, name := range menu.Names() {
		args = append(args, name, int64(menu[name]))
	}
	return setMenuScript.Run(ctx, r.client, []string{menuKeyPrefix + businessID}, args...).Err()
}

func (r *RedisAdapter) InvalidateMenu(ctx context.Context, businessID string) error {
	return r.client.Del(ctx, menuKeyPrefix+businessID).Err()
}
