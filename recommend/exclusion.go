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

package recommend

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/storage/cache"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Exclusions computes the books that must not be recommended to a user right now.
type Exclusions struct {
	DataStore  data.Database
	CacheStore cache.Database
	// BadRecommendationTTL is the lifetime of a bad recommendation mark.
	BadRecommendationTTL time.Duration
	// Cooldown is the time a recommended book is kept out of the next lists.
	Cooldown time.Duration
}

// ActiveBadMarks returns the books under an unexpired bad recommendation mark. Expired
// marks are deleted.
func (e *Exclusions) ActiveBadMarks(ctx context.Context, userId int64, now time.Time) ([]int64, error) {
	marks, err := e.DataStore.LoadBadRecommendations(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var active, expired []int64
	for _, mark := range marks {
		if mark.Timestamp.Add(e.BadRecommendationTTL).After(now) {
			active = append(active, mark.BookId)
		} else {
			expired = append(expired, mark.RecommendationId)
		}
	}
	if len(expired) > 0 {
		if err = e.DataStore.DeleteBadRecommendations(ctx, expired); err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Debug("purge expired bad recommendations",
			zap.Int64("user_id", userId), zap.Int("n", len(expired)))
	}
	return lo.Uniq(active), nil
}

// RecentRecommendations returns the recommendations of a user created within the cooldown.
func (e *Exclusions) RecentRecommendations(ctx context.Context, userId int64, now time.Time) ([]cache.Recommendation, error) {
	if e.CacheStore == nil || e.Cooldown <= 0 {
		return nil, nil
	}
	recommendations, err := e.CacheStore.GetRecommendations(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cutoff := now.Add(-e.Cooldown)
	return lo.Filter(recommendations, func(r cache.Recommendation, _ int) bool {
		return !r.Timestamp.Before(cutoff)
	}), nil
}

// blockedBooks returns the books on any list of the user and the books under an active
// bad recommendation mark.
func (e *Exclusions) blockedBooks(ctx context.Context, userId int64, now time.Time) (mapset.Set[int64], error) {
	blocked := mapset.NewSet[int64]()
	listBooks, err := e.DataStore.GetUserListBooks(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	blocked.Append(listBooks...)
	badBooks, err := e.ActiveBadMarks(ctx, userId, now)
	if err != nil {
		return nil, errors.Trace(err)
	}
	blocked.Append(badBooks...)
	return blocked, nil
}

// Resolve returns the recommendations inside the cooldown that are still valid and the
// exclusion set. Rows whose book went on a list or under a bad mark are not kept.
func (e *Exclusions) Resolve(ctx context.Context, userId int64, now time.Time) ([]cache.Recommendation, mapset.Set[int64], error) {
	excluded, err := e.blockedBooks(ctx, userId, now)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	recent, err := e.RecentRecommendations(ctx, userId, now)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	kept := lo.Filter(recent, func(r cache.Recommendation, _ int) bool {
		return !excluded.Contains(r.BookId)
	})
	for _, r := range recent {
		excluded.Add(r.BookId)
	}
	return kept, excluded, nil
}

// ExclusionSet is the union of books on any list of the user, books under an active bad
// recommendation mark and books recommended within the cooldown.
func (e *Exclusions) ExclusionSet(ctx context.Context, userId int64, now time.Time) (mapset.Set[int64], error) {
	_, excluded, err := e.Resolve(ctx, userId, now)
	return excluded, errors.Trace(err)
}
