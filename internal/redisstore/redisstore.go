// Package redisstore keeps progress records in Redis: one hash per
// (user, course) for scalar fields and streaks, and one set for learned ids.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/mastery"
	"github.com/conorfennell/kartuli/internal/progress"
)

const (
	fieldFinished    = "is_finished"
	fieldCreated     = "created_at"
	fieldLastUpdated = "last_updated"
	streakPrefix     = "streak:"
)

// adjustScript steps one streak and keeps the learned set in line with it.
// KEYS: record hash, learned set. ARGV: item id, delta, threshold, now.
var adjustScript = redis.NewScript(`
local field = 'streak:' .. ARGV[1]
local delta = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local cur = tonumber(redis.call('HGET', KEYS[1], field) or '0')
if cur < 0 then cur = 0 end
if cur > threshold then cur = threshold end
local nxt = cur + delta
if nxt < 0 then nxt = 0 end
if nxt > threshold then nxt = threshold end
redis.call('HSET', KEYS[1], field, nxt, 'last_updated', ARGV[4])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[4])
redis.call('HSETNX', KEYS[1], 'is_finished', '0')
local was = redis.call('SISMEMBER', KEYS[2], ARGV[1])
if nxt >= threshold then
  redis.call('SADD', KEYS[2], ARGV[1])
else
  redis.call('SREM', KEYS[2], ARGV[1])
end
return {nxt, was}
`)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is a progress.Store backed by Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ progress.Store = (*Store)(nil)

// New connects to Redis.
func New(cfg Config) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{rdb: rdb, prefix: cfg.Prefix, now: time.Now}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) keys(userID, courseID string) (string, string) {
	base := s.prefix + "progress:" + userID + ":" + courseID
	return base, base + ":learned"
}

func (s *Store) Get(ctx context.Context, userID, courseID string) (*domain.ProgressRecord, error) {
	hashKey, setKey := s.keys(userID, courseID)

	fields, err := s.rdb.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read progress hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	learned, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read learned set: %w", err)
	}
	sort.Strings(learned)

	rec := &domain.ProgressRecord{
		UserID:         userID,
		CourseID:       courseID,
		LearnedItemIDs: learned,
		IsFinished:     fields[fieldFinished] == "1",
		CreatedAt:      parseTime(fields[fieldCreated]),
		LastUpdated:    parseTime(fields[fieldLastUpdated]),
	}
	for k, v := range fields {
		id, ok := strings.CutPrefix(k, streakPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode streak of %s: %w", id, err)
		}
		if rec.ItemProgress == nil {
			rec.ItemProgress = make(map[string]int)
		}
		rec.ItemProgress[id] = mastery.Clamp(n)
	}
	return rec, nil
}

func (s *Store) Merge(ctx context.Context, userID, courseID string, p progress.Patch) error {
	if userID == "" {
		return progress.ErrAnonymous
	}
	hashKey, setKey := s.keys(userID, courseID)
	now := s.stamp()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, hashKey, fieldCreated, now)
		pipe.HSetNX(ctx, hashKey, fieldFinished, "0")

		values := []any{fieldLastUpdated, now}
		if p.IsFinished != nil {
			values = append(values, fieldFinished, boolString(*p.IsFinished))
		}
		pipe.HSet(ctx, hashKey, values...)

		if len(p.AddLearned) > 0 {
			pipe.SAdd(ctx, setKey, toAny(p.AddLearned)...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge progress: %w", err)
	}
	return nil
}

func (s *Store) AdjustStreak(ctx context.Context, userID, courseID, itemID string, correct bool) (progress.StreakResult, error) {
	if userID == "" {
		return progress.StreakResult{}, progress.ErrAnonymous
	}
	hashKey, setKey := s.keys(userID, courseID)

	delta := -1
	if correct {
		delta = 1
	}

	out, err := adjustScript.Run(ctx, s.rdb, []string{hashKey, setKey},
		itemID, delta, mastery.StreakThreshold, s.stamp()).Int64Slice()
	if err != nil {
		return progress.StreakResult{}, fmt.Errorf("adjust streak: %w", err)
	}
	if len(out) != 2 {
		return progress.StreakResult{}, fmt.Errorf("adjust streak: unexpected reply %v", out)
	}

	res := progress.StreakResult{Correct: int(out[0])}
	res.Learned = mastery.Streak{Correct: res.Correct}.IsLearned()
	wasLearned := out[1] == 1
	switch {
	case res.Learned && !wasLearned:
		res.Transition = mastery.BecameLearned
	case !res.Learned && wasLearned:
		res.Transition = mastery.BecameUnlearned
	}
	return res, nil
}

func (s *Store) Reset(ctx context.Context, userID, courseID string) error {
	if userID == "" {
		return progress.ErrAnonymous
	}
	hashKey, setKey := s.keys(userID, courseID)

	fields, err := s.rdb.HKeys(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	var streaks []string
	for _, f := range fields {
		if strings.HasPrefix(f, streakPrefix) {
			streaks = append(streaks, f)
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, setKey)
		if len(streaks) > 0 {
			pipe.HDel(ctx, hashKey, streaks...)
		}
		if len(fields) > 0 {
			pipe.HSet(ctx, hashKey, fieldFinished, "0", fieldLastUpdated, s.stamp())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
