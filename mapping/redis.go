package mapping

import (
	"fmt"
	"net/url"

	"github.com/go-redis/redis"
)

const defaultRedisKey = "discord-mirror:mapping"

// RedisBackend stores the JSON-encoded snapshot under one key.
// The key can be overridden with ?key= on the DSN.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(u *url.URL) (*RedisBackend, error) {
	key := u.Query().Get("key")
	if key == "" {
		key = defaultRedisKey
	}
	stripped := *u
	stripped.RawQuery = ""
	opts, err := redis.ParseURL(stripped.String())
	if err != nil {
		return nil, fmt.Errorf("parsing redis dsn: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts), key: key}, nil
}

func (b *RedisBackend) Load() (Snapshot, error) {
	payload, err := b.client.Get(b.key).Bytes()
	if err == redis.Nil {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(payload)
}

func (b *RedisBackend) Save(snap Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	return b.client.Set(b.key, payload, 0).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
