package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SessionLockKey is the lease key guarding the session read-modify-write
// cycle of one (bot, contact) pair.
func SessionLockKey(botID, contactID string) string {
	return fmt.Sprintf("session-lock:%s:%s", botID, contactID)
}

// CallPeerKey maps a gateway call id to the caller's phone until the
// accept/reject event arrives.
func CallPeerKey(botID, callID string) string {
	return fmt.Sprintf("call-peer:%s:%s", botID, callID)
}

// DedupeKey marks an occurrence id as processed.
func DedupeKey(botID, occurrenceID string) string {
	return fmt.Sprintf("dedupe:%s:%s", botID, occurrenceID)
}
