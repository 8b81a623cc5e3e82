// Package cache is the shared TTL-keyed cache owned by the event
// router. It replaces process-local maps so correctness does not depend
// on single-instance memory.
package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chatform/flow-engine-go/internal/redis"
)

type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// RememberCallPeer stores the caller's phone for a gateway call id so
// the later accept/reject event can be attributed to a contact.
func (c *Cache) RememberCallPeer(ctx context.Context, botID, callID, phone string, ttl time.Duration) error {
	return c.client.Set(ctx, redis.CallPeerKey(botID, callID), phone, ttl).Err()
}

// CallPeer returns the phone stored for a call id, or "" when unknown
// or expired.
func (c *Cache) CallPeer(ctx context.Context, botID, callID string) (string, error) {
	val, err := c.client.Get(ctx, redis.CallPeerKey(botID, callID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// MarkProcessed records an occurrence id, returning true only for the
// first caller within the TTL. Used to absorb gateway webhook retries.
func (c *Cache) MarkProcessed(ctx context.Context, botID, occurrenceID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, redis.DedupeKey(botID, occurrenceID), "1", ttl).Result()
}

// AcquireLease takes a best-effort cross-instance lease on the session
// of one (bot, contact) pair. Returns a release func and whether the
// lease was obtained. Pairs with the in-process keyed lock; the
// optimistic session version check remains the backstop.
func (c *Cache) AcquireLease(ctx context.Context, botID, contactID string, ttl time.Duration) (func(), bool, error) {
	key := redis.SessionLockKey(botID, contactID)
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	release := func() {
		c.client.Del(context.Background(), key)
	}
	return release, true, nil
}
