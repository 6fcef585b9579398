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
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// ColdStart recommends books to a freshly onboarded user from the genre affinities of the
// books written by their favourite authors.
type ColdStart struct {
	DataStore data.Database
}

// BookFactors loads the persisted genre affinities as a books x genres matrix. Rows for
// books or genres outside the snapshot are ignored.
func (c *ColdStart) BookFactors(ctx context.Context, rc *RunContext) (*mat.Dense, error) {
	affinities, err := c.DataStore.LoadGenreAffinities(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	factors := mat.NewDense(rc.Books.Len(), rc.Genres.Len(), nil)
	for _, a := range affinities {
		if rc.Books.Contains(a.BookId) && rc.Genres.Contains(a.GenreId) {
			factors.Set(rc.BookIndex(a.BookId), rc.GenreIndex(a.GenreId), a.MatchStrength)
		}
	}
	return factors, nil
}

// TargetVector averages, per genre, the match strength of every book by the authors.
func (c *ColdStart) TargetVector(ctx context.Context, rc *RunContext, authorIds []int64) ([]float64, error) {
	books, err := c.DataStore.GetAuthorBooks(ctx, authorIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	affinities, err := c.DataStore.GetBookGenreAffinities(ctx, books)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sum := make([]float64, rc.Genres.Len())
	count := make([]int, rc.Genres.Len())
	for _, a := range affinities {
		if !rc.Genres.Contains(a.GenreId) {
			continue
		}
		g := rc.GenreIndex(a.GenreId)
		sum[g] += a.MatchStrength
		count[g]++
	}
	for g := range sum {
		if count[g] > 0 {
			sum[g] /= float64(count[g])
		}
	}
	return sum, nil
}

// Recommend ranks the books against the target vector of the authors.
func (c *ColdStart) Recommend(ctx context.Context, rc *RunContext, authorIds []int64, excluded mapset.Set[int64], n int) ([]Scored, error) {
	if rc.Books.Len() == 0 || rc.Genres.Len() == 0 {
		return nil, nil
	}
	target, err := c.TargetVector(ctx, rc, authorIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	factors, err := c.BookFactors(ctx, rc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Rank(rc, target, factors, excluded, n), nil
}
