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
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/shelf/base"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestCertainty(t *testing.T) {
	assert.Zero(t, Certainty([]float64{0, 0}, []float64{1, 2}))
	assert.Zero(t, Certainty([]float64{1, 2}, []float64{0, 0}))
	assert.InDelta(t, 1.0, Certainty([]float64{0.1, 0.2, 0.3}, []float64{0.1, 0.2, 0.3}), 1e-12)
	assert.LessOrEqual(t, Certainty([]float64{0.1, 0.2, 0.3}, []float64{0.1, 0.2, 0.3}), 1.0)
	assert.InDelta(t, 1.0, Certainty([]float64{1, 1}, []float64{3, 3}), 1e-12)
	assert.Zero(t, Certainty([]float64{1, 0}, []float64{0, 1}))
	assert.Zero(t, Certainty([]float64{1, 0}, []float64{-1, 0}))
	assert.InDelta(t, 0.7071067811865475, Certainty([]float64{1, 0}, []float64{1, 1}), 1e-9)
}

func testRunContext(books ...int64) *RunContext {
	return &RunContext{
		Users:  base.NewMapIndexFrom([]int64{1}),
		Books:  base.NewMapIndexFrom(books),
		Genres: base.NewMapIndexFrom([]int64{1, 2}),
	}
}

func TestRank(t *testing.T) {
	rc := testRunContext(10, 20, 30, 40)
	factors := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		2, 2,
		0, 0,
	})
	query := []float64{1, 0.5}
	ranked := Rank(rc, query, factors, nil, 3)
	if assert.Len(t, ranked, 3) {
		assert.Equal(t, int64(30), ranked[0].BookId)
		assert.InDelta(t, 3.0, ranked[0].Score, 1e-9)
		assert.Equal(t, int64(10), ranked[1].BookId)
		assert.Equal(t, int64(20), ranked[2].BookId)
		for _, r := range ranked {
			assert.GreaterOrEqual(t, r.Certainty, 0.0)
			assert.LessOrEqual(t, r.Certainty, 1.0)
		}
	}

	// excluded books are skipped
	ranked = Rank(rc, query, factors, mapset.NewSet[int64](30, 10), 3)
	assert.Equal(t, []int64{20, 40}, bookIdsOf(ranked))
	assert.Zero(t, ranked[1].Certainty)

	// zero query
	ranked = Rank(rc, []float64{0, 0}, factors, nil, 10)
	assert.Len(t, ranked, 4)
	for _, r := range ranked {
		assert.Zero(t, r.Certainty)
	}

	// nothing requested
	assert.Empty(t, Rank(rc, query, factors, nil, 0))
}

func TestRankTopK(t *testing.T) {
	rc := testRunContext(10, 20, 30, 40, 50, 60)
	factors := mat.NewDense(6, 1, []float64{3, 1, 5, 3, 4, 2})
	// only the best two survive the heap
	ranked := Rank(rc, []float64{1}, factors, nil, 2)
	assert.Equal(t, []int64{30, 50}, bookIdsOf(ranked))
	// equal scores keep catalogue order
	ranked = Rank(rc, []float64{1}, factors, nil, 4)
	assert.Equal(t, []int64{30, 50, 10, 40}, bookIdsOf(ranked))
	// all books when n exceeds the catalogue
	ranked = Rank(rc, []float64{1}, factors, mapset.NewSet[int64](30), 10)
	assert.Equal(t, []int64{50, 10, 40, 60, 20}, bookIdsOf(ranked))
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func bookIdsOf(ranked []Scored) []int64 {
	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.BookId
	}
	return ids
}

func TestRecoverUnknownIdentifier(t *testing.T) {
	lookup := func(rc *RunContext, bookId int64) (index int, err error) {
		defer recoverUnknownIdentifier(&err)
		return rc.BookIndex(bookId), nil
	}
	rc := testRunContext(10, 20)
	index, err := lookup(rc, 20)
	assert.NoError(t, err)
	assert.Equal(t, 1, index)
	_, err = lookup(rc, 30)
	assert.True(t, errors.Is(err, base.ErrUnknownIdentifier), err)

	assert.Panics(t, func() {
		var err error
		defer recoverUnknownIdentifier(&err)
		panic("boom")
	})
}
