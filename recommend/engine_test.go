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
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/gorse-io/shelf/config"
	"github.com/gorse-io/shelf/storage/cache"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"
)

const (
	userU = int64(100)
	userV = int64(200)
	userW = int64(300)

	bookA = int64(11)
	bookB = int64(12)
	bookC = int64(31)
)

type EngineTestSuite struct {
	suite.Suite
	dataStore  data.Database
	cacheStore cache.Database
	engine     *Engine
	now        time.Time
}

func (suite *EngineTestSuite) SetupTest() {
	var err error
	dir := suite.T().TempDir()
	suite.dataStore, err = data.Open(fmt.Sprintf("sqlite://%s/data.db", dir), "")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.dataStore.Init())
	suite.cacheStore, err = cache.Open(fmt.Sprintf("sqlite://%s/cache.db", dir), "")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.cacheStore.Init())

	cfg := config.GetDefaultConfig().Recommend
	cfg.Factorization.Seed = 42
	suite.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	suite.engine = NewEngine(suite.dataStore, suite.cacheStore, cfg)
	suite.engine.Clock = func() time.Time { return suite.now }
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.NoError(suite.dataStore.Close())
	suite.NoError(suite.cacheStore.Close())
}

func (suite *EngineTestSuite) review(userId, bookId int64, overall float64) data.Reading {
	return data.Reading{UserId: userId, BookId: bookId, Rating: data.Rating{Overall: overall}, Timestamp: suite.now}
}

// insertScenario creates three books: A and B by author 1 and C by author 3. U rates A 4.0
// and B 3.0 and follows author 3.
func (suite *EngineTestSuite) insertScenario() {
	ctx := context.Background()
	suite.NoError(suite.dataStore.BatchInsertUsers(ctx, []data.User{
		{UserId: userU, PreferencesSet: true},
		{UserId: userV, PreferencesSet: true},
		{UserId: userW},
	}))
	suite.NoError(suite.dataStore.BatchInsertAuthors(ctx, []data.Author{
		{AuthorId: 1, FirstName: "Ursula", Surname: "Le Guin"},
		{AuthorId: 3, FirstName: "Mary Ann", Surname: "Evans", Alias: "George Eliot"},
	}))
	suite.NoError(suite.dataStore.BatchInsertBooks(ctx, []data.Book{
		{BookId: bookA, AuthorId: 1, Title: "The Dispossessed"},
		{BookId: bookB, AuthorId: 1, Title: "The Left Hand of Darkness"},
		{BookId: bookC, AuthorId: 3, Title: "Middlemarch"},
	}))
	suite.NoError(suite.dataStore.BatchInsertGenres(ctx, []data.Genre{
		{GenreId: 1, Name: "science fiction"},
		{GenreId: 2, Name: "classic"},
	}))
	suite.NoError(suite.dataStore.BatchInsertReviews(ctx, []data.Reading{
		suite.review(userU, bookA, 4),
		suite.review(userU, bookB, 3),
		suite.review(userV, bookA, 5),
		suite.review(userV, bookC, 2),
	}))
	suite.NoError(suite.dataStore.FollowAuthor(ctx, userU, 3))
}

func (suite *EngineTestSuite) cell(rc *RunContext, matrix *mat.Dense, userId, bookId int64) float64 {
	return matrix.At(rc.UserIndex(userId), rc.BookIndex(bookId))
}

func (suite *EngineTestSuite) TestBuildMatrix() {
	suite.insertScenario()
	signal := suite.engine.Config.Signal
	rc, matrix, err := suite.engine.BuildMatrix(context.Background())
	suite.NoError(err)
	rows, cols := matrix.Dims()
	suite.Equal(3, rows)
	suite.Equal(3, cols)
	suite.InDelta(4.0, suite.cell(rc, matrix, userU, bookA), 1e-9)
	suite.InDelta(3.0, suite.cell(rc, matrix, userU, bookB), 1e-9)
	suite.InDelta(signal.SeedValue, suite.cell(rc, matrix, userU, bookC), 1e-9)
	suite.InDelta(5.0, suite.cell(rc, matrix, userV, bookA), 1e-9)
	suite.Zero(suite.cell(rc, matrix, userW, bookA))
}

func (suite *EngineTestSuite) TestBuildMatrixSignals() {
	ctx := context.Background()
	suite.insertScenario()
	signal := suite.engine.Config.Signal
	// reading list on a rated and an unrated book
	suite.NoError(suite.dataStore.InsertListEntry(ctx, data.ListEntry{UserId: userV, BookId: bookA, ListName: "have read"}))
	suite.NoError(suite.dataStore.InsertListEntry(ctx, data.ListEntry{UserId: userV, BookId: bookB, ListName: "want to read"}))
	// followed author on a rated book
	suite.NoError(suite.dataStore.FollowAuthor(ctx, userV, 3))
	// diary entries are averaged and added
	suite.NoError(suite.dataStore.BatchInsertDiaryEntries(ctx, []data.Reading{
		{UserId: userV, BookId: bookC, Rating: data.Rating{Overall: 1}, Timestamp: suite.now},
		{UserId: userV, BookId: bookC, Rating: data.Rating{Overall: 3, Plot: lo.ToPtr(6.0)}, Timestamp: suite.now},
	}))
	// W picked author 1 during onboarding
	suite.NoError(suite.dataStore.InsertInitialPreferences(ctx, userW, []int64{1}))

	rc, matrix, err := suite.engine.BuildMatrix(ctx)
	suite.NoError(err)
	suite.InDelta(5.0*(1+signal.ReadingListBoost), suite.cell(rc, matrix, userV, bookA), 1e-9)
	suite.InDelta(signal.SeedValue, suite.cell(rc, matrix, userV, bookB), 1e-9)
	suite.InDelta(2.0*(1+signal.FollowBoost)+2.5, suite.cell(rc, matrix, userV, bookC), 1e-9)
	suite.InDelta(signal.SeedValue, suite.cell(rc, matrix, userW, bookA), 1e-9)
	suite.InDelta(signal.SeedValue, suite.cell(rc, matrix, userW, bookB), 1e-9)
	suite.Zero(suite.cell(rc, matrix, userW, bookC))
	authors, err := suite.dataStore.LoadInitialPreferences(ctx, userW)
	suite.NoError(err)
	suite.Equal([]int64{1}, authors)
}

func (suite *EngineTestSuite) TestBuildMatrixGraduation() {
	ctx := context.Background()
	suite.insertScenario()
	suite.engine.Config.Signal.MinReviews = 1
	suite.NoError(suite.dataStore.InsertInitialPreferences(ctx, userU, []int64{3}))
	suite.NoError(suite.dataStore.InsertInitialPreferences(ctx, userW, []int64{3}))
	rc, matrix, err := suite.engine.BuildMatrix(ctx)
	suite.NoError(err)
	// U has two reviews and graduates, the seed is not applied on top of the follow
	suite.InDelta(suite.engine.Config.Signal.SeedValue, suite.cell(rc, matrix, userU, bookC), 1e-9)
	authors, err := suite.dataStore.LoadInitialPreferences(ctx, userU)
	suite.NoError(err)
	suite.Empty(authors)
	// W has no review and keeps the seed
	suite.InDelta(suite.engine.Config.Signal.SeedValue, suite.cell(rc, matrix, userW, bookC), 1e-9)
	authors, err = suite.dataStore.LoadInitialPreferences(ctx, userW)
	suite.NoError(err)
	suite.Equal([]int64{3}, authors)
}

func (suite *EngineTestSuite) TestRankTopTwo() {
	ctx := context.Background()
	suite.insertScenario()
	suite.engine.Config.N = 2
	result, err := suite.engine.Fit(ctx)
	suite.NoError(err)
	rc, model := result.RunContext, result.Model
	_, nFactors := model.UserFactor.Dims()
	suite.Equal(rc.Genres.Len(), nFactors)

	excluded, err := suite.engine.exclusions().ExclusionSet(ctx, userU, suite.now)
	suite.NoError(err)
	suite.Zero(excluded.Cardinality())
	u := rc.UserIndex(userU)
	ranked := Rank(rc, model.UserFactor.RawRowView(u), model.ItemFactor, excluded, suite.engine.Config.N)
	suite.Len(ranked, 2)

	// all three candidates are considered
	candidates := []int64{bookA, bookB, bookC}
	sort.SliceStable(candidates, func(i, j int) bool {
		return model.Predict(u, rc.BookIndex(candidates[i])) > model.Predict(u, rc.BookIndex(candidates[j]))
	})
	suite.Equal(candidates[:2], bookIdsOf(ranked))
	suite.GreaterOrEqual(ranked[0].Score, ranked[1].Score)
	for _, r := range ranked {
		suite.GreaterOrEqual(r.Certainty, 0.0)
		suite.LessOrEqual(r.Certainty, 1.0)
	}
}

func (suite *EngineTestSuite) TestFitPersistsGenreAffinities() {
	ctx := context.Background()
	suite.insertScenario()
	result, err := suite.engine.Fit(ctx)
	suite.NoError(err)
	affinities, err := suite.dataStore.LoadGenreAffinities(ctx)
	suite.NoError(err)
	perBook := lo.CountValuesBy(affinities, func(a data.GenreAffinity) int64 { return a.BookId })
	for _, n := range perBook {
		suite.LessOrEqual(n, result.RunContext.Genres.Len())
	}
	for _, a := range affinities {
		suite.Greater(a.MatchStrength, 0.0)
		suite.InDelta(result.Model.ItemFactor.At(result.RunContext.BookIndex(a.BookId), result.RunContext.GenreIndex(a.GenreId)), a.MatchStrength, 1e-9)
	}
}

func (suite *EngineTestSuite) TestGenreAffinityRoundTrip() {
	ctx := context.Background()
	suite.insertScenario()
	result, err := suite.engine.Fit(ctx)
	suite.NoError(err)
	rc := result.RunContext
	coldStart := &ColdStart{DataStore: suite.dataStore}
	persisted, err := coldStart.BookFactors(ctx, rc)
	suite.NoError(err)
	// non-positive strengths are not stored
	expected := mat.DenseCopyOf(result.Model.ItemFactor)
	expected.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, expected)
	suite.True(mat.EqualApprox(expected, persisted, 1e-9))

	target := []float64{0.7, 0.3}
	first := Rank(rc, target, persisted, nil, 2)
	reloaded, err := coldStart.BookFactors(ctx, rc)
	suite.NoError(err)
	suite.Equal(first, Rank(rc, target, reloaded, nil, 2))
	suite.Equal(bookIdsOf(Rank(rc, target, expected, nil, 2)), bookIdsOf(first))
}

func (suite *EngineTestSuite) TestBadRecommendation() {
	ctx := context.Background()
	suite.insertScenario()
	signal := suite.engine.Config.Signal
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userU, []cache.Recommendation{
		{BookId: bookA, Certainty: 0.9, Timestamp: suite.now.Add(-72 * time.Hour)},
	}))
	suite.NoError(suite.engine.MarkBadRecommendation(ctx, userU, bookA))
	recommendations, err := suite.cacheStore.GetRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Empty(recommendations)

	// suppressed regardless of the review
	suite.now = suite.now.Add(time.Hour)
	rc, matrix, err := suite.engine.BuildMatrix(ctx)
	suite.NoError(err)
	suite.InDelta(signal.SuppressedValue, suite.cell(rc, matrix, userU, bookA), 1e-12)
	result, err := suite.engine.Fit(ctx)
	suite.NoError(err)
	_, err = suite.engine.GenerateRecommendations(ctx, result)
	suite.NoError(err)
	recommendations, err = suite.cacheStore.GetRecommendations(ctx, userU)
	suite.NoError(err)
	suite.NotEmpty(recommendations)
	suite.NotContains(lo.Map(recommendations, func(r cache.Recommendation, _ int) int64 { return r.BookId }), bookA)

	// the mark expires after ten weeks
	suite.now = suite.now.Add(10 * 7 * 24 * time.Hour)
	rc, matrix, err = suite.engine.BuildMatrix(ctx)
	suite.NoError(err)
	suite.InDelta(4.0, suite.cell(rc, matrix, userU, bookA), 1e-9)
	marks, err := suite.dataStore.LoadBadRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Empty(marks)
	excluded, err := suite.engine.exclusions().ExclusionSet(ctx, userU, suite.now)
	suite.NoError(err)
	suite.False(excluded.Contains(bookA))

	// unknown user
	err = suite.engine.MarkBadRecommendation(ctx, 999, bookA)
	suite.True(errors.Is(err, data.ErrUserNotExist), err)
}

func (suite *EngineTestSuite) TestExclusionSet() {
	ctx := context.Background()
	suite.insertScenario()
	exclusions := suite.engine.exclusions()
	suite.NoError(suite.dataStore.InsertListEntry(ctx, data.ListEntry{UserId: userU, BookId: bookB, ListName: "my shelf"}))
	suite.NoError(suite.dataStore.InsertBadRecommendation(ctx, userU, bookA, suite.now.Add(-11*7*24*time.Hour)))
	suite.NoError(suite.dataStore.InsertBadRecommendation(ctx, userU, bookC, suite.now.Add(-time.Hour)))
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userU, []cache.Recommendation{
		{BookId: bookA, Certainty: 0.5, Timestamp: suite.now.Add(-time.Hour)},
	}))

	first, err := exclusions.ExclusionSet(ctx, userU, suite.now)
	suite.NoError(err)
	suite.ElementsMatch([]int64{bookA, bookB, bookC}, first.ToSlice())
	marks, err := suite.dataStore.LoadBadRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Len(marks, 1)
	second, err := exclusions.ExclusionSet(ctx, userU, suite.now)
	suite.NoError(err)
	suite.True(first.Equal(second))

	// the cooldown passes
	later := suite.now.Add(suite.engine.Config.Cooldown + time.Minute)
	third, err := exclusions.ExclusionSet(ctx, userU, later)
	suite.NoError(err)
	suite.ElementsMatch([]int64{bookB, bookC}, third.ToSlice())
}

func (suite *EngineTestSuite) TestGenerateRecommendations() {
	ctx := context.Background()
	suite.insertScenario()
	suite.engine.Config.N = 1
	result, err := suite.engine.Fit(ctx)
	suite.NoError(err)
	n, err := suite.engine.GenerateRecommendations(ctx, result)
	suite.NoError(err)
	suite.Equal(2, n)
	first, err := suite.cacheStore.GetRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Len(first, 1)
	// users without preferences are skipped
	recommendations, err := suite.cacheStore.GetRecommendations(ctx, userW)
	suite.NoError(err)
	suite.Empty(recommendations)

	// recommendations inside the cooldown are kept and not recommended again
	_, err = suite.engine.GenerateRecommendations(ctx, result)
	suite.NoError(err)
	second, err := suite.cacheStore.GetRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Len(second, 2)
	suite.Len(lo.UniqBy(second, func(r cache.Recommendation) int64 { return r.BookId }), 2)
	suite.Contains(lo.Map(second, func(r cache.Recommendation, _ int) int64 { return r.BookId }), first[0].BookId)
}

func (suite *EngineTestSuite) TestGenerateRecommendationsDropsListedBooks() {
	ctx := context.Background()
	suite.insertScenario()
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userU, []cache.Recommendation{
		{UserId: userU, BookId: bookC, Certainty: 0.8, Timestamp: suite.now.Add(-time.Hour)},
		{UserId: userU, BookId: bookB, Certainty: 0.6, Timestamp: suite.now.Add(-time.Hour)},
	}))
	suite.NoError(suite.dataStore.InsertListEntry(ctx, data.ListEntry{UserId: userU, BookId: bookC, ListName: "want to read"}))
	suite.NoError(suite.dataStore.InsertBadRecommendation(ctx, userU, bookB, suite.now.Add(-time.Minute)))

	kept, excluded, err := suite.engine.exclusions().Resolve(ctx, userU, suite.now)
	suite.NoError(err)
	suite.Empty(kept)
	suite.True(excluded.Contains(bookC))
	suite.True(excluded.Contains(bookB))

	_, err = suite.engine.RunMaintenance(ctx)
	suite.NoError(err)
	recommendations, err := suite.cacheStore.GetRecommendations(ctx, userU)
	suite.NoError(err)
	bookIds := lo.Map(recommendations, func(r cache.Recommendation, _ int) int64 { return r.BookId })
	suite.NotContains(bookIds, bookC)
	suite.NotContains(bookIds, bookB)
	suite.Equal([]int64{bookA}, bookIds)
}

func (suite *EngineTestSuite) TestGenerateRecommendationsKeepsCooldownRows() {
	ctx := context.Background()
	suite.insertScenario()
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userU, []cache.Recommendation{
		{UserId: userU, BookId: bookC, Certainty: 0.8, Timestamp: suite.now.Add(-time.Hour)},
	}))
	kept, excluded, err := suite.engine.exclusions().Resolve(ctx, userU, suite.now)
	suite.NoError(err)
	if suite.Len(kept, 1) {
		suite.Equal(bookC, kept[0].BookId)
	}
	suite.True(excluded.Contains(bookC))

	_, err = suite.engine.RunMaintenance(ctx)
	suite.NoError(err)
	recommendations, err := suite.cacheStore.GetRecommendations(ctx, userU)
	suite.NoError(err)
	bookIds := lo.Map(recommendations, func(r cache.Recommendation, _ int) int64 { return r.BookId })
	suite.ElementsMatch([]int64{bookA, bookB, bookC}, bookIds)
	suite.Len(lo.Uniq(bookIds), len(bookIds))
}

func (suite *EngineTestSuite) TestRunMaintenance() {
	ctx := context.Background()
	suite.insertScenario()
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userW, []cache.Recommendation{
		{BookId: bookA, Certainty: 0.5, Timestamp: suite.now.Add(-72 * time.Hour)},
	}))
	report, err := suite.engine.RunMaintenance(ctx)
	suite.NoError(err)
	suite.Equal(3, report.NumUsers)
	suite.Equal(3, report.NumBooks)
	suite.Equal(2, report.NumGenres)
	suite.Equal(2, report.NumRecommendedUsers)
	suite.Equal(1, report.NumStaleRecommendations)
	recommendations, err := suite.cacheStore.GetRecommendations(ctx, userW)
	suite.NoError(err)
	suite.Empty(recommendations)
}

func (suite *EngineTestSuite) TestEvaluate() {
	suite.insertScenario()
	scores, err := suite.engine.Evaluate(context.Background())
	suite.NoError(err)
	suite.Len(scores, suite.engine.Config.Factorization.NEpochs)
	affinities, err := suite.dataStore.LoadGenreAffinities(context.Background())
	suite.NoError(err)
	suite.Empty(affinities)
}

func (suite *EngineTestSuite) TestAddUser() {
	ctx := context.Background()
	suite.insertScenario()
	suite.NoError(suite.dataStore.SaveGenreAffinities(ctx, []data.GenreAffinity{
		{BookId: bookA, GenreId: 1, MatchStrength: 0.9},
		{BookId: bookB, GenreId: 1, MatchStrength: 0.4},
		{BookId: bookB, GenreId: 2, MatchStrength: 0.6},
		{BookId: bookC, GenreId: 2, MatchStrength: 0.8},
	}))
	ranked, err := suite.engine.AddUser(ctx, userW, []int64{3})
	suite.NoError(err)
	// target = (0, 0.8)
	suite.Equal([]int64{bookC, bookB, bookA}, bookIdsOf(ranked))
	suite.InDelta(1.0, ranked[0].Certainty, 1e-9)
	suite.Zero(ranked[2].Certainty)
	user, err := suite.dataStore.GetUser(ctx, userW)
	suite.NoError(err)
	suite.True(user.PreferencesSet)
	authors, err := suite.dataStore.LoadInitialPreferences(ctx, userW)
	suite.NoError(err)
	suite.Equal([]int64{3}, authors)

	recommendations, err := suite.engine.GetRecommendations(ctx, userW)
	suite.NoError(err)
	if suite.Len(recommendations, 3) {
		suite.Equal(bookC, recommendations[0].BookId)
		suite.Equal("Middlemarch", recommendations[0].Title)
		suite.Equal("George Eliot", recommendations[0].AuthorName)
		suite.Equal([]string{"classic"}, recommendations[0].Genres)
		suite.Equal([]string{"classic", "science fiction"}, recommendations[1].Genres)
		// community ratings over all reviews
		suite.Equal(2.0, recommendations[0].AverageRating)
		suite.Equal(1, recommendations[0].NumRatings)
		suite.Equal(bookA, recommendations[2].BookId)
		suite.Equal(4.5, recommendations[2].AverageRating)
		suite.Equal(2, recommendations[2].NumRatings)
	}
	summaries, err := suite.engine.GetRecommendationSummaries(ctx, userW)
	suite.NoError(err)
	suite.Equal([]int64{bookC, bookB, bookA}, lo.Map(summaries, func(s BookSummary, _ int) int64 { return s.BookId }))

	// invalid onboarding
	_, err = suite.engine.AddUser(ctx, 999, []int64{3})
	suite.True(errors.Is(err, data.ErrUserNotExist), err)
	_, err = suite.engine.AddUser(ctx, userW, []int64{3, 7})
	suite.True(errors.Is(err, data.ErrAuthorNotExist), err)
	_, err = suite.engine.AddUser(ctx, userW, nil)
	suite.True(errors.Is(err, errors.NotValid), err)
}

func (suite *EngineTestSuite) TestColdStartNonEmpty() {
	ctx := context.Background()
	suite.insertScenario()
	// a single book with a single nonzero affinity
	suite.NoError(suite.dataStore.SaveGenreAffinities(ctx, []data.GenreAffinity{{BookId: bookC, GenreId: 1, MatchStrength: 0.2}}))
	rc, err := NewRunContext(ctx, suite.dataStore, suite.now)
	suite.NoError(err)
	coldStart := &ColdStart{DataStore: suite.dataStore}
	ranked, err := coldStart.Recommend(ctx, rc, []int64{3}, nil, 10)
	suite.NoError(err)
	suite.NotEmpty(ranked)
	suite.Equal(bookC, ranked[0].BookId)
	suite.InDelta(1.0, ranked[0].Certainty, 1e-9)
}

func (suite *EngineTestSuite) TestNoPreferences() {
	ctx := context.Background()
	suite.insertScenario()
	// no recommendation
	_, err := suite.engine.GetRecommendations(ctx, userU)
	suite.True(errors.Is(err, ErrNoPreferences), err)
	summaries, err := suite.engine.GetRecommendationSummaries(ctx, userU)
	suite.NoError(err)
	suite.Empty(summaries)
	// recommendations exist but onboarding is not complete
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userW, []cache.Recommendation{{BookId: bookA, Certainty: 0.5, Timestamp: suite.now}}))
	_, err = suite.engine.GetRecommendations(ctx, userW)
	suite.True(errors.Is(err, ErrNoPreferences), err)
	// unknown user
	_, err = suite.engine.GetRecommendations(ctx, 999)
	suite.True(errors.Is(err, data.ErrUserNotExist), err)
}

func (suite *EngineTestSuite) TestRemoveRecommendation() {
	ctx := context.Background()
	suite.insertScenario()
	suite.NoError(suite.cacheStore.SetRecommendations(ctx, userU, []cache.Recommendation{
		{BookId: bookA, Certainty: 0.5, Timestamp: suite.now},
		{BookId: bookC, Certainty: 0.7, Timestamp: suite.now},
	}))
	suite.NoError(suite.engine.RemoveRecommendation(ctx, userU, bookC))
	recommendations, err := suite.engine.GetRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Equal([]int64{bookA}, lo.Map(recommendations, func(r BookRecommendation, _ int) int64 { return r.BookId }))
	marks, err := suite.dataStore.LoadBadRecommendations(ctx, userU)
	suite.NoError(err)
	suite.Empty(marks)
}

func (suite *EngineTestSuite) TestEmptyCatalogue() {
	_, err := suite.engine.Fit(context.Background())
	suite.Error(err)
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
