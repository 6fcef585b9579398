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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/config"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// MatrixBuilder fuses the behavioural signals of every user into a dense users x books
// interaction matrix.
type MatrixBuilder struct {
	DataStore  data.Database
	Exclusions *Exclusions
	Signal     config.SignalConfig
}

type userSignals struct {
	reviews     []data.Review
	diary       map[int64][]data.Rating
	listBooks   mapset.Set[int64]
	followBooks mapset.Set[int64]
}

func (b *MatrixBuilder) loadSignals(ctx context.Context, rc *RunContext) ([]userSignals, error) {
	signals := make([]userSignals, rc.Users.Len())
	for i := range signals {
		signals[i].diary = make(map[int64][]data.Rating)
		signals[i].listBooks = mapset.NewThreadUnsafeSet[int64]()
		signals[i].followBooks = mapset.NewThreadUnsafeSet[int64]()
	}
	reviews, err := b.DataStore.LoadExplicitRatings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, review := range reviews {
		u := rc.UserIndex(review.UserId)
		signals[u].reviews = append(signals[u].reviews, review)
	}
	entries, err := b.DataStore.LoadDiaryEntries(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, entry := range entries {
		u := rc.UserIndex(entry.UserId)
		signals[u].diary[entry.BookId] = append(signals[u].diary[entry.BookId], entry.Rating)
	}
	memberships, err := b.DataStore.LoadListMemberships(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, membership := range memberships {
		signals[rc.UserIndex(membership.UserId)].listBooks.Add(membership.BookId)
	}
	follows, err := b.DataStore.LoadFollowedAuthorBooks(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, follow := range follows {
		signals[rc.UserIndex(follow.UserId)].followBooks.Add(follow.BookId)
	}
	return signals, nil
}

// Build returns the interaction matrix. Users who passed the review threshold lose their
// initial preferences and expired bad recommendation marks are deleted.
func (b *MatrixBuilder) Build(ctx context.Context, rc *RunContext) (*mat.Dense, error) {
	if rc.Users.Len() == 0 || rc.Books.Len() == 0 {
		return nil, errors.NotValidf("interaction matrix %dx%d", rc.Users.Len(), rc.Books.Len())
	}
	signals, err := b.loadSignals(ctx, rc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	matrix := mat.NewDense(rc.Users.Len(), rc.Books.Len(), nil)
	var seeded, graduated int
	for u := range signals {
		userId := rc.UserId(u)
		s := signals[u]
		// explicit ratings
		reviewCount := 0
		for _, review := range s.reviews {
			matrix.Set(u, rc.BookIndex(review.BookId), review.Mean())
			reviewCount += review.Count
		}
		// cold-start seed
		authors, err := b.DataStore.LoadInitialPreferences(ctx, userId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(authors) > 0 {
			if reviewCount <= b.Signal.MinReviews {
				books, err := b.DataStore.GetAuthorBooks(ctx, authors)
				if err != nil {
					return nil, errors.Trace(err)
				}
				for _, bookId := range books {
					i := rc.BookIndex(bookId)
					matrix.Set(u, i, matrix.At(u, i)+b.Signal.SeedValue)
				}
				seeded++
			} else {
				if err = b.DataStore.PurgeInitialPreferences(ctx, userId); err != nil {
					return nil, errors.Trace(err)
				}
				graduated++
			}
		}
		// reading lists
		for _, bookId := range s.listBooks.ToSlice() {
			b.boost(matrix, u, rc.BookIndex(bookId), b.Signal.ReadingListBoost)
		}
		// followed authors
		for _, bookId := range s.followBooks.ToSlice() {
			b.boost(matrix, u, rc.BookIndex(bookId), b.Signal.FollowBoost)
		}
		// diary entries
		for bookId, ratings := range s.diary {
			var sum float64
			for _, rating := range ratings {
				sum += rating.Mean()
			}
			i := rc.BookIndex(bookId)
			matrix.Set(u, i, matrix.At(u, i)+sum/float64(len(ratings)))
		}
		// bad recommendations override everything
		badBooks, err := b.Exclusions.ActiveBadMarks(ctx, userId, rc.Now)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, bookId := range badBooks {
			if rc.Books.Contains(bookId) {
				matrix.Set(u, rc.BookIndex(bookId), b.Signal.SuppressedValue)
			}
		}
	}
	log.Logger().Debug("build interaction matrix",
		zap.Int("n_users", rc.Users.Len()),
		zap.Int("n_books", rc.Books.Len()),
		zap.Int("n_seeded_users", seeded),
		zap.Int("n_graduated_users", graduated))
	return matrix, nil
}

// boost seeds an empty cell or scales a filled one by (1 + boost).
func (b *MatrixBuilder) boost(matrix *mat.Dense, u, i int, boost float64) {
	if v := matrix.At(u, i); v == 0 {
		matrix.Set(u, i, b.Signal.SeedValue)
	} else {
		matrix.Set(u, i, v*(1+boost))
	}
}
