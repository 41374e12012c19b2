package redislog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ai-speech-intelligence-service/internal/service/batch"
)

// JobStore implements batch.JobStore. Each job is a JSON string; active jobs
// are also indexed in a sorted set scored by their last update.
type JobStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ batch.JobStore = (*JobStore)(nil)

// NewJobStore creates a store whose job records expire ttl after their last
// update.
func NewJobStore(client redis.UniversalClient, prefix string, ttl time.Duration) *JobStore {
	if prefix == "" {
		prefix = "batch"
	}
	return &JobStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *JobStore) key(id string) string { return s.prefix + ":job:" + id }
func (s *JobStore) activeKey() string    { return s.prefix + ":jobs:active" }

// Save writes the job and updates the active index in one MULTI/EXEC block.
func (s *JobStore) Save(ctx context.Context, j batch.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(j.ID), b, s.ttl)
		if j.Status.Active() {
			pipe.ZAdd(ctx, s.activeKey(), redis.Z{Score: float64(j.UpdatedAt.Unix()), Member: j.ID})
		} else {
			pipe.ZRem(ctx, s.activeKey(), j.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (batch.Job, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return batch.Job{}, batch.ErrJobNotFound
	}
	if err != nil {
		return batch.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	var j batch.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return batch.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return j, nil
}

// Stale reads the active index up to cutoff. Index entries whose record has
// expired are dropped.
func (s *JobStore) Stale(ctx context.Context, cutoff time.Time) ([]batch.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range active jobs: %w", err)
	}
	var out []batch.Job
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if errors.Is(err, batch.ErrJobNotFound) {
			s.client.ZRem(ctx, s.activeKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if j.Status.Active() && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}
