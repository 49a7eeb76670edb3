package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/friend"
)

// DefaultRedisPrefix namespaces the keys written by RedisStore.
const DefaultRedisPrefix = "friendrelay"

// RedisOptions configures the connection made by DialRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps one JSON user record per field of the hash
// "<prefix>:users" and the schema version under "<prefix>:version".
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to the server described by opts and verifies the
// connection with a PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialRedis",
		"addr":     opts.Addr,
		"db":       opts.DB,
	}).Info("Connected to redis")

	return NewRedisStore(client, opts.Prefix), nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) usersKey() string   { return s.prefix + ":users" }
func (s *RedisStore) versionKey() string { return s.prefix + ":version" }

// Load reads every user record. Missing keys yield an empty snapshot.
func (s *RedisStore) Load(ctx context.Context) (*friend.Snapshot, error) {
	version, err := s.client.Get(ctx, s.versionKey()).Int()
	if errors.Is(err, redis.Nil) {
		return friend.EmptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot version: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}

	snap := &friend.Snapshot{Version: version, Users: make([]friend.UserRecord, 0, len(fields))}
	if err := checkVersion(snap); err != nil {
		return nil, err
	}

	for username, data := range fields {
		var rec friend.UserRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode user %q: %w", username, err)
		}
		rec.Username = username
		snap.Users = append(snap.Users, rec)
	}
	sort.Slice(snap.Users, func(i, j int) bool {
		return snap.Users[i].Username < snap.Users[j].Username
	})

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"prefix":   s.prefix,
		"users":    len(snap.Users),
	}).Info("Snapshot loaded")

	return snap, nil
}

// Save replaces the stored records with snap in one MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, snap *friend.Snapshot) error {
	values := make([]interface{}, 0, len(snap.Users)*2)
	for _, rec := range snap.Users {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode user %q: %w", rec.Username, err)
		}
		values = append(values, rec.Username, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.usersKey())
		if len(values) > 0 {
			pipe.HSet(ctx, s.usersKey(), values...)
		}
		pipe.Set(ctx, s.versionKey(), snap.Version, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
