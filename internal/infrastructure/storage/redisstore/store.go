// Package redisstore keeps sequences in Redis.
//
// Each sequence is a hash {prefix, week, mode, slot, last_number,
// updated_at} whose key is listed in the namespace's index set. Compound
// scopes also index their opened slots in a sorted set so the highest slot
// is one read.
// Compare-and-set uses WATCH/MULTI: a concurrent write aborts the
// transaction and surfaces as sequence.ErrConflict.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"barcodeseq/internal/core/sequence"
)

// Compile-time interface checks.
var (
	_ sequence.Store  = (*Store)(nil)
	_ sequence.Setter = (*Store)(nil)
	_ sequence.Lister = (*Store)(nil)
)

const defaultNamespace = "barcodeseq"

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Store implements sequence.Store on Redis.
type Store struct {
	client *redis.Client
	ns     string
	now    func() time.Time
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	return New(client, cfg.Namespace), nil
}

// New wraps an existing client. An empty namespace uses "barcodeseq".
func New(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{client: client, ns: namespace, now: time.Now}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) recordKey(key sequence.Key) string {
	if !key.Compound() {
		return fmt.Sprintf("%s:seq:%s", s.ns, key.Prefix)
	}
	return fmt.Sprintf("%s:seq:%s:%s:%s:%d", s.ns, key.Prefix, key.Week, key.Mode, key.Slot)
}

func (s *Store) slotsKey(prefix, week string, mode sequence.Mode) string {
	return fmt.Sprintf("%s:slots:%s:%s:%s", s.ns, prefix, week, mode)
}

func (s *Store) indexKey() string {
	return s.ns + ":keys"
}

// Get implements sequence.Store.
func (s *Store) Get(ctx context.Context, key sequence.Key) (sequence.Record, error) {
	return s.get(ctx, s.client, key)
}

func (s *Store) get(ctx context.Context, c redis.Cmdable, key sequence.Key) (sequence.Record, error) {
	fields, err := c.HGetAll(ctx, s.recordKey(key)).Result()
	if err != nil {
		return sequence.Record{}, fmt.Errorf("read sequence %s: %w", key, err)
	}
	if len(fields) == 0 {
		return sequence.Record{}, sequence.ErrNotFound
	}
	return decode(key, fields)
}

func decode(key sequence.Key, fields map[string]string) (sequence.Record, error) {
	last, err := strconv.Atoi(fields["last_number"])
	if err != nil {
		return sequence.Record{}, fmt.Errorf("decode sequence %s: %w", key, err)
	}
	rec := sequence.Record{Key: key, LastNumber: last}
	if ts := fields["updated_at"]; ts != "" {
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return sequence.Record{}, fmt.Errorf("decode sequence %s: %w", key, err)
		}
	}
	return rec, nil
}

// keyOf reads the scope stored alongside a record.
func keyOf(fields map[string]string) (sequence.Key, error) {
	key := sequence.Key{
		Prefix: fields["prefix"],
		Week:   fields["week"],
		Mode:   sequence.Mode(fields["mode"]),
	}
	if key.Prefix == "" {
		return sequence.Key{}, errors.New("record has no prefix")
	}
	if slot := fields["slot"]; slot != "" {
		n, err := strconv.Atoi(slot)
		if err != nil {
			return sequence.Key{}, fmt.Errorf("bad slot %q: %w", slot, err)
		}
		key.Slot = n
	}
	return key, nil
}

// List implements sequence.Lister.
func (s *Store) List(ctx context.Context) ([]sequence.Record, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}

	out := make([]sequence.Record, 0, len(cmds))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		key, err := keyOf(fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", members[i], err)
		}
		rec, err := decode(key, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Highest implements sequence.Store.
func (s *Store) Highest(ctx context.Context, prefix, week string, mode sequence.Mode) (sequence.Record, error) {
	slots, err := s.client.ZRevRangeWithScores(ctx, s.slotsKey(prefix, week, mode), 0, 0).Result()
	if err != nil {
		return sequence.Record{}, fmt.Errorf("read slots %s/%s/%s: %w", prefix, week, mode, err)
	}
	if len(slots) == 0 {
		return sequence.Record{}, sequence.ErrNotFound
	}
	return s.Get(ctx, sequence.CompoundKey(prefix, week, mode, int(slots[0].Score)))
}

// Upsert implements sequence.Store.
func (s *Store) Upsert(ctx context.Context, key sequence.Key, expected, next int) error {
	rk := s.recordKey(key)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current := 0
		rec, err := s.get(ctx, tx, key)
		switch {
		case err == nil:
			current = rec.LastNumber
		case !errors.Is(err, sequence.ErrNotFound):
			return err
		}
		if current != expected {
			return fmt.Errorf("sequence %s at %d, expected %d: %w", key, current, expected, sequence.ErrConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, key, next)
			return nil
		})
		return err
	}, rk)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("upsert sequence %s: %w", key, sequence.ErrConflict)
	}
	if err != nil && !errors.Is(err, sequence.ErrConflict) {
		return fmt.Errorf("upsert sequence %s: %w", key, err)
	}
	return err
}

// Set implements sequence.Setter.
func (s *Store) Set(ctx context.Context, key sequence.Key, value int) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set sequence %s: %w", key, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, pipe redis.Pipeliner, key sequence.Key, value int) {
	rk := s.recordKey(key)
	pipe.HSet(ctx, rk,
		"prefix", key.Prefix,
		"week", key.Week,
		"mode", string(key.Mode),
		"slot", key.Slot,
		"last_number", value,
		"updated_at", s.now().UTC().Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, s.indexKey(), rk)
	if key.Compound() {
		pipe.ZAdd(ctx, s.slotsKey(key.Prefix, key.Week, key.Mode), redis.Z{
			Score:  float64(key.Slot),
			Member: strconv.Itoa(key.Slot),
		})
	}
}

// Ping implements sequence.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
