package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each checkpoint under its own key and indexes the
// iterations in a sorted set scored by iteration
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ CheckpointStore = &RedisStore{}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "recsim"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(iteration int) string {
	return fmt.Sprintf("%s:checkpoint:%d", r.prefix, iteration)
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":checkpoints"
}

func (r *RedisStore) Save(ctx context.Context, ckpt *Checkpoint) error {
	bs, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %d: %w", ckpt.Iteration, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(ckpt.Iteration), bs, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(ckpt.Iteration),
			Member: strconv.Itoa(ckpt.Iteration),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store checkpoint %d: %w", ckpt.Iteration, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, iteration int) (*Checkpoint, error) {
	bs, err := r.client.Get(ctx, r.key(iteration)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("iteration %d: %w", iteration, ErrNoCheckpoint)
		}
		return nil, err
	}
	ckpt := &Checkpoint{}
	if err := json.Unmarshal(bs, ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %w", iteration, err)
	}
	return ckpt, nil
}

func (r *RedisStore) Iterations(ctx context.Context) ([]int, error) {
	members, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	iterations := make([]int, 0, len(members))
	for _, m := range members {
		iteration, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		iterations = append(iterations, iteration)
	}
	sort.Ints(iterations)
	return iterations, nil
}

func (r *RedisStore) Latest(ctx context.Context) (int, error) {
	top, err := r.client.ZRevRangeWithScores(ctx, r.indexKey(), 0, 0).Result()
	if err != nil {
		return 0, err
	}
	if len(top) == 0 {
		return 0, ErrNoCheckpoint
	}
	return int(top[0].Score), nil
}

func (r *RedisStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	iterations, err := r.Iterations(ctx)
	if err != nil {
		return err
	}
	old := stale(iterations, keep)
	if len(old) == 0 {
		return nil
	}
	keys := make([]string, len(old))
	members := make([]interface{}, len(old))
	for i, iteration := range old {
		keys[i] = r.key(iteration)
		members[i] = strconv.Itoa(iteration)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.indexKey(), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}
