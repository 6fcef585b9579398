// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorse-io/shelf/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	recommendKey     = "recommend"
	recommendTimeKey = "recommend_time"
)

// Redis keeps the certainties of a user in a sorted set and the creation time of every
// recommendation in a global sorted set.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) userKey(userId int64) string {
	return r.Key(fmt.Sprintf("%s/%d", recommendKey, userId))
}

func timeMember(userId, bookId int64) string {
	return fmt.Sprintf("%d/%d", userId, bookId)
}

func parseTimeMember(member string) (int64, int64, error) {
	userId, bookId, found := strings.Cut(member, "/")
	if !found {
		return 0, 0, errors.NotValidf("member %s", member)
	}
	u, err := strconv.ParseInt(userId, 10, 64)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	b, err := strconv.ParseInt(bookId, 10, 64)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	return u, b, nil
}

// Init nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

// Close redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Purge deletes every key with the prefix.
func (r *Redis) Purge() error {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.Key("*"), 1000).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(iter.Err())
}

func (r *Redis) SetRecommendations(ctx context.Context, userId int64, recommendations []Recommendation) error {
	key := r.userKey(userId)
	previous, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return errors.Trace(err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(previous) > 0 {
			pipe.ZRem(ctx, r.Key(recommendTimeKey), lo.Map(previous, func(bookId string, _ int) any {
				return fmt.Sprintf("%d/%s", userId, bookId)
			})...)
		}
		if len(recommendations) == 0 {
			return nil
		}
		pipe.ZAdd(ctx, key, lo.Map(recommendations, func(rec Recommendation, _ int) redis.Z {
			return redis.Z{Member: strconv.FormatInt(rec.BookId, 10), Score: rec.Certainty}
		})...)
		pipe.ZAdd(ctx, r.Key(recommendTimeKey), lo.Map(recommendations, func(rec Recommendation, _ int) redis.Z {
			return redis.Z{Member: timeMember(userId, rec.BookId), Score: float64(rec.Timestamp.UnixMicro())}
		})...)
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetRecommendations(ctx context.Context, userId int64) ([]Recommendation, error) {
	scores, err := r.client.ZRevRangeWithScores(ctx, r.userKey(userId), 0, -1).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(scores) == 0 {
		return nil, nil
	}
	members := lo.Map(scores, func(z redis.Z, _ int) string {
		return fmt.Sprintf("%d/%s", userId, z.Member.(string))
	})
	timestamps, err := r.client.ZMScore(ctx, r.Key(recommendTimeKey), members...).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommendations := make([]Recommendation, 0, len(scores))
	for i, z := range scores {
		bookId, err := strconv.ParseInt(z.Member.(string), 10, 64)
		if err != nil {
			return nil, errors.Trace(err)
		}
		recommendations = append(recommendations, Recommendation{
			UserId:    userId,
			BookId:    bookId,
			Certainty: z.Score,
			Timestamp: time.UnixMicro(int64(timestamps[i])).UTC(),
		})
	}
	SortRecommendations(recommendations)
	return recommendations, nil
}

func (r *Redis) DeleteRecommendation(ctx context.Context, userId, bookId int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.userKey(userId), strconv.FormatInt(bookId, 10))
		pipe.ZRem(ctx, r.Key(recommendTimeKey), timeMember(userId, bookId))
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) DeleteStaleRecommendations(ctx context.Context, before time.Time) (int, error) {
	members, err := r.client.ZRangeByScore(ctx, r.Key(recommendTimeKey), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			userId, bookId, err := parseTimeMember(member)
			if err != nil {
				return errors.Trace(err)
			}
			pipe.ZRem(ctx, r.userKey(userId), strconv.FormatInt(bookId, 10))
		}
		pipe.ZRem(ctx, r.Key(recommendTimeKey), lo.ToAnySlice(members)...)
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return len(members), nil
}
