package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration for the statistics
// backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Prefix   string `mapstructure:"prefix"`
}

// RedisStore implements Store on Redis: hashes for scalars, sorted sets for
// rankings, ZUNIONSTORE for the lifetime fold.
//
// Key layout (internal, not a public contract):
//
//	{prefix}:sess:{room}              HASH counter -> scalar
//	{prefix}:life:{room}              HASH counter -> scalar
//	{prefix}:sess:{room}:rank:{ctr}   ZSET viewer -> score
//	{prefix}:life:{room}:rank:{ctr}   ZSET viewer -> score
//	{prefix}:sess:{room}:seen         HASH viewer -> first-seen nanos
//	{prefix}:life:{room}:seen         HASH viewer -> first-seen nanos
//
// Redis orders sorted-set ties lexicographically, so ranked queries fetch
// scores plus the first-seen hash and resolve ties by insertion order
// client-side.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and returns a statistics store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &StoreError{Op: "connect", Err: err}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "starwatch"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) scalarKey(scope Scope, roomID int64) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, scope, roomID)
}

func (s *RedisStore) rankKey(scope Scope, roomID int64, c Counter) string {
	return fmt.Sprintf("%s:%s:%d:rank:%s", s.prefix, scope, roomID, c)
}

func (s *RedisStore) seenKey(scope Scope, roomID int64) string {
	return fmt.Sprintf("%s:%s:%d:seen", s.prefix, scope, roomID)
}

func member(viewerID int64) string { return strconv.FormatInt(viewerID, 10) }

func (s *RedisStore) IncrSession(ctx context.Context, roomID int64, c Counter, delta float64) error {
	if err := s.client.HIncrByFloat(ctx, s.scalarKey(ScopeSession, roomID), string(c), delta).Err(); err != nil {
		return &StoreError{Op: "incr session", Err: err}
	}
	return nil
}

func (s *RedisStore) IncrSessionViewer(ctx context.Context, roomID int64, c Counter, viewerID int64, delta float64) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrByFloat(ctx, s.scalarKey(ScopeSession, roomID), string(c), delta)
	pipe.ZIncrBy(ctx, s.rankKey(ScopeSession, roomID, c), delta, member(viewerID))
	pipe.HSetNX(ctx, s.seenKey(ScopeSession, roomID), member(viewerID), time.Now().UnixNano())
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Op: "incr session viewer", Err: err}
	}
	return nil
}

func (s *RedisStore) scalar(ctx context.Context, scope Scope, roomID int64, c Counter) (float64, error) {
	v, err := s.client.HGet(ctx, s.scalarKey(scope, roomID), string(c)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, &StoreError{Op: "read scalar", Err: err}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &StoreError{Op: "read scalar", Err: err}
	}
	return f, nil
}

func (s *RedisStore) Value(ctx context.Context, scope Scope, roomID int64, c Counter) (float64, error) {
	return s.scalar(ctx, scope, roomID, c)
}

func (s *RedisStore) CombinedValue(ctx context.Context, roomID int64, c Counter) (float64, error) {
	sess, err := s.scalar(ctx, ScopeSession, roomID, c)
	if err != nil {
		return 0, err
	}
	life, err := s.scalar(ctx, ScopeLifetime, roomID, c)
	if err != nil {
		return 0, err
	}
	return sess + life, nil
}

func (s *RedisStore) viewerScore(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (float64, error) {
	v, err := s.client.ZScore(ctx, s.rankKey(scope, roomID, c), member(viewerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, &StoreError{Op: "read viewer score", Err: err}
	}
	return v, nil
}

func (s *RedisStore) ViewerScore(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (float64, error) {
	return s.viewerScore(ctx, scope, roomID, c, viewerID)
}

func (s *RedisStore) CombinedViewerScore(ctx context.Context, roomID int64, c Counter, viewerID int64) (float64, error) {
	sess, err := s.viewerScore(ctx, ScopeSession, roomID, c, viewerID)
	if err != nil {
		return 0, err
	}
	life, err := s.viewerScore(ctx, ScopeLifetime, roomID, c, viewerID)
	if err != nil {
		return 0, err
	}
	return sess + life, nil
}

// entries fetches a whole ranking in first-seen order.
func (s *RedisStore) entries(ctx context.Context, scope Scope, roomID int64, c Counter) ([]RankEntry, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.rankKey(scope, roomID, c), 0, -1).Result()
	if err != nil {
		return nil, &StoreError{Op: "read ranking", Err: err}
	}
	seen, err := s.client.HGetAll(ctx, s.seenKey(scope, roomID)).Result()
	if err != nil {
		return nil, &StoreError{Op: "read ranking", Err: err}
	}

	type seqEntry struct {
		entry RankEntry
		seq   int64
	}
	seqs := make([]seqEntry, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		seq := int64(0)
		if raw, ok := seen[name]; ok {
			seq, _ = strconv.ParseInt(raw, 10, 64)
		}
		seqs = append(seqs, seqEntry{entry: RankEntry{ViewerID: id, Score: z.Score}, seq: seq})
	}

	// Insertion order first; ranked queries then sort stably by score.
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j].seq < seqs[j-1].seq; j-- {
			seqs[j], seqs[j-1] = seqs[j-1], seqs[j]
		}
	}
	out := make([]RankEntry, len(seqs))
	for i, e := range seqs {
		out[i] = e.entry
	}
	return out, nil
}

func (s *RedisStore) TopN(ctx context.Context, scope Scope, roomID int64, c Counter, n int) ([]RankEntry, error) {
	entries, err := s.entries(ctx, scope, roomID, c)
	if err != nil {
		return nil, err
	}
	return topOf(entries, n, true), nil
}

func (s *RedisStore) BottomN(ctx context.Context, scope Scope, roomID int64, c Counter, n int) ([]RankEntry, error) {
	entries, err := s.entries(ctx, scope, roomID, c)
	if err != nil {
		return nil, err
	}
	return topOf(entries, n, false), nil
}

func (s *RedisStore) ViewerRank(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (*RankInfo, error) {
	entries, err := s.entries(ctx, scope, roomID, c)
	if err != nil {
		return nil, err
	}
	return rankOf(entries, viewerID), nil
}

func (s *RedisStore) ViewerCount(ctx context.Context, scope Scope, roomID int64, c Counter) (int64, error) {
	n, err := s.client.ZCard(ctx, s.rankKey(scope, roomID, c)).Result()
	if err != nil {
		return 0, &StoreError{Op: "viewer count", Err: err}
	}
	return n, nil
}

func (s *RedisStore) SessionSnapshot(ctx context.Context, roomID int64) (Snapshot, error) {
	vals, err := s.client.HGetAll(ctx, s.scalarKey(ScopeSession, roomID)).Result()
	if err != nil {
		return nil, &StoreError{Op: "session snapshot", Err: err}
	}
	snap := make(Snapshot, len(Counters))
	for _, c := range Counters {
		f := 0.0
		if raw, ok := vals[string(c)]; ok {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				f = parsed
			}
		}
		snap[c] = f
	}
	return snap, nil
}

func (s *RedisStore) FoldSessionIntoLifetime(ctx context.Context, roomID int64) error {
	snap, err := s.SessionSnapshot(ctx, roomID)
	if err != nil {
		return err
	}
	seen, err := s.client.HGetAll(ctx, s.seenKey(ScopeSession, roomID)).Result()
	if err != nil {
		return &StoreError{Op: "fold", Err: err}
	}

	pipe := s.client.TxPipeline()
	for _, c := range Counters {
		if snap[c] != 0 {
			pipe.HIncrByFloat(ctx, s.scalarKey(ScopeLifetime, roomID), string(c), snap[c])
		}
		// ZUNIONSTORE sums per-viewer scores across both rankings.
		pipe.ZUnionStore(ctx, s.rankKey(ScopeLifetime, roomID, c), &redis.ZStore{
			Keys: []string{s.rankKey(ScopeLifetime, roomID, c), s.rankKey(ScopeSession, roomID, c)},
		})
	}
	for viewer, seq := range seen {
		pipe.HSetNX(ctx, s.seenKey(ScopeLifetime, roomID), viewer, seq)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Op: "fold", Err: err}
	}
	return nil
}

func (s *RedisStore) ResetSession(ctx context.Context, roomID int64) error {
	keys := []string{
		s.scalarKey(ScopeSession, roomID),
		s.seenKey(ScopeSession, roomID),
	}
	for _, c := range Counters {
		keys = append(keys, s.rankKey(ScopeSession, roomID, c))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &StoreError{Op: "reset session", Err: err}
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
