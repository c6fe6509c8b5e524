package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"transcendence/pong/internal/matchmaking"
)

const invitePrefix = "pong:invite:"

// RedisInvites keeps invites in Redis so every matchmaker replica sees them.
type RedisInvites struct {
	client *redis.Client
}

// NewRedisInvites wraps client.
func NewRedisInvites(client *redis.Client) *RedisInvites {
	return &RedisInvites{client: client}
}

// DialRedis connects to addr and checks it answers.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisInvites) Save(ctx context.Context, invite matchmaking.Invite, ttl time.Duration) error {
	if invite.Token == "" {
		return matchmaking.ErrInvalidFormat
	}
	payload, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("encode invite: %w", err)
	}
	if err := r.client.Set(ctx, invitePrefix+invite.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save invite: %w", err)
	}
	return nil
}

func (r *RedisInvites) Load(ctx context.Context, token string) (matchmaking.Invite, error) {
	payload, err := r.client.Get(ctx, invitePrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return matchmaking.Invite{}, matchmaking.ErrInviteNotFound
	}
	if err != nil {
		return matchmaking.Invite{}, fmt.Errorf("load invite: %w", err)
	}
	var invite matchmaking.Invite
	if err := json.Unmarshal(payload, &invite); err != nil {
		return matchmaking.Invite{}, fmt.Errorf("decode invite: %w", err)
	}
	return invite, nil
}

func (r *RedisInvites) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, invitePrefix+token).Err(); err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}
