// Package redisstore implements the persistence backend over Redis.
// Object rows are hashes holding a JSON payload and a revision counter;
// updates go through a compare-and-set script keyed on the revision, which
// is what makes optimistic locking and cluster-safe job claims work
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/paisley/internal/persistence"
)

type (
	// Config holds the Redis connection settings
	Config struct {
		Addr     string
		Password string
		Prefix   string
		DB       int
	}

	// Store is a persistence.Backend over a single Redis database
	Store struct {
		client *redis.Client
		kinds  persistence.Registry
		prefix string
	}
)

const (
	propertiesKey = "props"
	idBlockField  = "next.dbid"
	allSuffix     = "all"
)

var (
	ErrConnectFailed = errors.New("failed to connect to redis")
	ErrRowCorrupt    = errors.New("row missing data field")
)

// Open connects to Redis and returns a backend serving the registered
// kinds
func Open(
	ctx context.Context, cfg *Config, kinds persistence.Registry,
) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "paisley"
	}
	return &Store{
		client: client,
		kinds:  kinds,
		prefix: prefix,
	}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

// NextIDBlock reserves a block of identifiers and returns its upper bound
func (s *Store) NextIDBlock(ctx context.Context, size int64) (int64, error) {
	return s.client.HIncrBy(
		ctx, s.key(propertiesKey), idBlockField, size,
	).Result()
}

// Properties returns the engine property row
func (s *Store) Properties(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(propertiesKey)).Result()
}

// SetProperty writes a single engine property
func (s *Store) SetProperty(ctx context.Context, name, value string) error {
	return s.client.HSet(ctx, s.key(propertiesKey), name, value).Err()
}

// Counts returns the number of rows per registered kind
func (s *Store) Counts(
	ctx context.Context,
) (map[persistence.Kind]int64, error) {
	res := map[persistence.Kind]int64{}
	for kind := range s.kinds {
		n, err := s.client.SCard(ctx, s.allKey(kind)).Result()
		if err != nil {
			return nil, err
		}
		res[kind] = n
	}
	return res, nil
}

func (s *Store) key(parts ...string) string {
	res := s.prefix
	for _, p := range parts {
		res += ":" + p
	}
	return res
}

func (s *Store) rowKey(kind persistence.Kind, id string) string {
	return s.key(string(kind), id)
}

func (s *Store) allKey(kind persistence.Kind) string {
	return s.key(string(kind), allSuffix)
}

func (s *Store) indexKey(kind persistence.Kind, ix persistence.Index) string {
	if ix.Ranked {
		return s.key(string(kind), "rx", ix.Name)
	}
	return s.key(string(kind), "ix", ix.Name, ix.Value)
}

func (s *Store) rankedKey(kind persistence.Kind, name string) string {
	return s.key(string(kind), "rx", name)
}

func (s *Store) plainKey(kind persistence.Kind, name, value string) string {
	return s.key(string(kind), "ix", name, value)
}
