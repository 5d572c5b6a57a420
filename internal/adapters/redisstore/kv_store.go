// Package redisstore fournit un ports.KVStore sur Redis, alternative au store
// sqlite quand plusieurs instances partagent le même cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

const (
	// defaultOperationTimeout borne chaque opération Redis.
	defaultOperationTimeout = 5 * time.Second
	scanCount               = 100
)

type KVStore struct {
	client *redis.Client
}

func Open(ctx context.Context, addr string) (*KVStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &KVStore{client: client}, nil
}

func NewKVStore(client *redis.Client) *KVStore {
	return &KVStore{client: client}
}

func (s *KVStore) Close() error {
	return s.client.Close()
}

func operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultOperationTimeout)
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := operationContext(ctx)
	defer cancel()

	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrNotFound
	}
	return b, err
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := operationContext(ctx)
	defer cancel()
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := operationContext(ctx)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// deleteIfScript compare et supprime en une seule étape côté serveur.
var deleteIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *KVStore) DeleteIf(ctx context.Context, key string, expected []byte) (bool, error) {
	ctx, cancel := operationContext(ctx)
	defer cancel()

	n, err := deleteIfScript.Run(ctx, s.client, []string{key}, expected).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys parcourt l'espace de clés avec SCAN (jamais KEYS, bloquant).
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := operationContext(ctx)
	defer cancel()

	var out []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
