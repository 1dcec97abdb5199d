package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "medshare:decrypt-token:"

// TokenStore guarda los jti vivos de los tokens de descifrado.
// GetDel hace que el canje sea de un solo uso aun con varias réplicas.
type TokenStore struct {
	client *redis.Client
}

func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func (s *TokenStore) Put(ctx context.Context, jti string, ttl time.Duration) error {
	return s.client.Set(ctx, tokenPrefix+jti, "1", ttl).Err()
}

func (s *TokenStore) Take(ctx context.Context, jti string) (bool, error) {
	_, err := s.client.GetDel(ctx, tokenPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *TokenStore) Discard(ctx context.Context, jti string) error {
	return s.client.Del(ctx, tokenPrefix+jti).Err()
}
