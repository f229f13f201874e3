// Package cache хранит снимки баланса кассы в Redis.
//
// Снимок содержит баланс, восстановленный по записям с id не больше ThroughID.
// Журнал только дополняется, поэтому снимок остаётся верным и после новых записей:
// достаточно досчитать хвост журнала поверх него.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// DefaultTTL задаёт время жизни снимка по умолчанию.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "cashdrawer:balance:"

// Snapshot содержит баланс кассы после записи ThroughID.
type Snapshot struct {
	ThroughID int64                   `json:"through_id"`
	Counts    model.DenominationCount `json:"counts"`
}

// BalanceCache читает и записывает снимки баланса.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New создаёт кэш поверх клиента Redis. Нулевой ttl заменяется на DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Connect подключается к Redis по адресу addr и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key возвращает ключ снимка кассы.
func Key(instanceID string) string {
	return keyPrefix + instanceID
}

// Get возвращает снимок кассы. Второе значение false, если снимка нет.
func (c *BalanceCache) Get(ctx context.Context, instanceID string) (Snapshot, bool, error) {
	raw, err := c.client.Get(ctx, Key(instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Counts == nil {
		snap.Counts = model.DenominationCount{}
	}
	return snap, true, nil
}

// Put сохраняет снимок кассы.
func (c *BalanceCache) Put(ctx context.Context, instanceID string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, Key(instanceID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Invalidate удаляет снимок кассы.
func (c *BalanceCache) Invalidate(ctx context.Context, instanceID string) error {
	if err := c.client.Del(ctx, Key(instanceID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
