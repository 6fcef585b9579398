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
	"math"
	"sort"
	"time"

	"github.com/gorse-io/shelf/storage/cache"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// BookRecommendation is a recommendation joined with the book it points to.
type BookRecommendation struct {
	BookId     int64
	Certainty  float64
	Timestamp  time.Time
	Title      string
	CoverImage string
	Synopsis   string
	AuthorId   int64
	AuthorName string
	Genres     []string
	// AverageRating is the mean overall review rating rounded to two decimals, 0 when
	// the book has no reviews.
	AverageRating float64
	NumRatings    int
}

// BookSummary is the compact form of a recommendation.
type BookSummary struct {
	BookId     int64
	Title      string
	CoverImage string
	AuthorName string
}

type catalogue struct {
	books   map[int64]data.Book
	authors map[int64]data.Author
}

func (e *Engine) loadCatalogue(ctx context.Context, recommendations []cache.Recommendation) (*catalogue, error) {
	bookIds := lo.Map(recommendations, func(r cache.Recommendation, _ int) int64 { return r.BookId })
	books, err := e.DataStore.BatchGetBooks(ctx, bookIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	authorIds := lo.Uniq(lo.Map(books, func(b data.Book, _ int) int64 { return b.AuthorId }))
	authors, err := e.DataStore.GetAuthors(ctx, authorIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &catalogue{
		books:   lo.KeyBy(books, func(b data.Book) int64 { return b.BookId }),
		authors: lo.KeyBy(authors, func(a data.Author) int64 { return a.AuthorId }),
	}, nil
}

// topGenres returns the names of the strongest genres of every book.
func (e *Engine) topGenres(ctx context.Context, bookIds []int64) (map[int64][]string, error) {
	genres, err := e.DataStore.GetGenres(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	names := lo.SliceToMap(genres, func(g data.Genre) (int64, string) { return g.GenreId, g.Name })
	affinities, err := e.DataStore.GetBookGenreAffinities(ctx, bookIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	grouped := lo.GroupBy(affinities, func(a data.GenreAffinity) int64 { return a.BookId })
	result := make(map[int64][]string, len(grouped))
	for bookId, rows := range grouped {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].MatchStrength > rows[j].MatchStrength })
		if len(rows) > e.Config.DisplayGenres {
			rows = rows[:e.Config.DisplayGenres]
		}
		result[bookId] = lo.FilterMap(rows, func(a data.GenreAffinity, _ int) (string, bool) {
			name, ok := names[a.GenreId]
			return name, ok
		})
	}
	return result, nil
}

// GetRecommendations returns the persisted recommendations of a user ordered by certainty.
// It fails with ErrNoPreferences if the user has not completed onboarding or has never
// been recommended anything.
func (e *Engine) GetRecommendations(ctx context.Context, userId int64) ([]BookRecommendation, error) {
	user, err := e.DataStore.GetUser(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommendations, err := e.CacheStore.GetRecommendations(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(recommendations) == 0 || !user.PreferencesSet {
		return nil, errors.Annotatef(ErrNoPreferences, "user_id=%d", userId)
	}
	c, err := e.loadCatalogue(ctx, recommendations)
	if err != nil {
		return nil, errors.Trace(err)
	}
	genres, err := e.topGenres(ctx, lo.Keys(c.books))
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := e.DataStore.GetBookRatings(ctx, lo.Keys(c.books))
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratingOf := lo.KeyBy(ratings, func(r data.BookRating) int64 { return r.BookId })
	result := make([]BookRecommendation, 0, len(recommendations))
	for _, r := range recommendations {
		book, exist := c.books[r.BookId]
		if !exist {
			continue
		}
		result = append(result, BookRecommendation{
			BookId:     r.BookId,
			Certainty:  r.Certainty,
			Timestamp:  r.Timestamp,
			Title:      book.Title,
			CoverImage: book.CoverImage,
			Synopsis:   book.Synopsis,
			AuthorId:   book.AuthorId,
			AuthorName: c.authors[book.AuthorId].DisplayName(),
			Genres:     genres[r.BookId],

			AverageRating: math.Round(ratingOf[r.BookId].AverageRating*100) / 100,
			NumRatings:    ratingOf[r.BookId].NumRatings,
		})
	}
	return result, nil
}

// GetRecommendationSummaries returns the recommendations of a user in compact form. Users
// without recommendations get an empty list.
func (e *Engine) GetRecommendationSummaries(ctx context.Context, userId int64) ([]BookSummary, error) {
	recommendations, err := e.CacheStore.GetRecommendations(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c, err := e.loadCatalogue(ctx, recommendations)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.FilterMap(recommendations, func(r cache.Recommendation, _ int) (BookSummary, bool) {
		book, exist := c.books[r.BookId]
		return BookSummary{
			BookId:     r.BookId,
			Title:      book.Title,
			CoverImage: book.CoverImage,
			AuthorName: c.authors[book.AuthorId].DisplayName(),
		}, exist
	}), nil
}
