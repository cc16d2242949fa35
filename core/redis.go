package core

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "nodebird:sess:"

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisSessionStore keeps each session as a hash with a key TTL.
type RedisSessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (s *RedisSessionStore) Load(ctx context.Context, id string) (SessionData, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return SessionData{}, err
	}
	if len(fields) == 0 {
		return SessionData{}, ErrSessionNotFound
	}
	var data SessionData
	if v := fields["user_id"]; v != "" {
		if data.UserID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return SessionData{}, err
		}
	}
	if v := fields["created_at"]; v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return SessionData{}, err
		}
		data.CreatedAt = time.Unix(sec, 0).UTC()
	}
	return data, nil
}

// Save replaces the hash and resets its TTL in one MULTI/EXEC.
func (s *RedisSessionStore) Save(ctx context.Context, id string, data SessionData) error {
	key := sessionKey(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"user_id", strconv.FormatInt(data.UserID, 10),
			"created_at", strconv.FormatInt(data.CreatedAt.Unix(), 10),
		)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *RedisSessionStore) Touch(ctx context.Context, id string) error {
	ok, err := s.client.Expire(ctx, sessionKey(id), s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisSessionStore) Destroy(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

// Ping reports whether the backing redis answers.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
