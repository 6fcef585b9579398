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

	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/config"
	"github.com/gorse-io/shelf/model/als"
	"github.com/gorse-io/shelf/storage/cache"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Engine is the entry point of the recommender. It keeps no state between calls except
// the stores.
type Engine struct {
	DataStore  data.Database
	CacheStore cache.Database
	Config     config.RecommendConfig
	// Clock returns the current time. It defaults to time.Now.
	Clock func() time.Time
}

func NewEngine(dataStore data.Database, cacheStore cache.Database, cfg config.RecommendConfig) *Engine {
	return &Engine{
		DataStore:  dataStore,
		CacheStore: cacheStore,
		Config:     cfg,
		Clock:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock().UTC()
}

func (e *Engine) exclusions() *Exclusions {
	return &Exclusions{
		DataStore:            e.DataStore,
		CacheStore:           e.CacheStore,
		BadRecommendationTTL: e.Config.BadRecommendationTTL,
		Cooldown:             e.Config.Cooldown,
	}
}

func (e *Engine) factorizationConfig() als.Config {
	return als.Config{
		NEpochs:      e.Config.Factorization.NEpochs,
		Reg:          e.Config.Factorization.Reg,
		HoldoutRatio: e.Config.Factorization.HoldoutRatio,
		InitLow:      e.Config.Factorization.InitLow,
		InitHigh:     e.Config.Factorization.InitHigh,
		Seed:         e.Config.Factorization.Seed,
	}
}

// BuildMatrix takes a new snapshot and builds its interaction matrix.
func (e *Engine) BuildMatrix(ctx context.Context) (rc *RunContext, matrix *mat.Dense, err error) {
	defer recoverUnknownIdentifier(&err)
	rc, err = NewRunContext(ctx, e.DataStore, e.now())
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if rc.Genres.Len() == 0 {
		return nil, nil, errors.NotValidf("catalogue without genres")
	}
	builder := &MatrixBuilder{DataStore: e.DataStore, Exclusions: e.exclusions(), Signal: e.Config.Signal}
	matrix, err = builder.Build(ctx, rc)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return rc, matrix, nil
}

// FitResult is the outcome of a factorization run.
type FitResult struct {
	RunContext *RunContext
	Model      *als.Model
}

// Fit factorizes the interaction matrix and persists every book factor as its genre
// affinities.
func (e *Engine) Fit(ctx context.Context) (result *FitResult, err error) {
	defer recoverUnknownIdentifier(&err)
	rc, matrix, err := e.BuildMatrix(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	model, err := als.Fit(ctx, matrix, rc.Genres.Len(), e.factorizationConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	nBooks, nGenres := model.ItemFactor.Dims()
	affinities := make([]data.GenreAffinity, 0, nBooks*nGenres)
	for i := 0; i < nBooks; i++ {
		for g := 0; g < nGenres; g++ {
			affinities = append(affinities, data.GenreAffinity{
				BookId:        rc.BookId(i),
				GenreId:       rc.GenreId(g),
				MatchStrength: model.ItemFactor.At(i, g),
			})
		}
	}
	if err = e.DataStore.SaveGenreAffinities(ctx, affinities); err != nil {
		return nil, errors.Trace(err)
	}
	return &FitResult{RunContext: rc, Model: model}, nil
}

// Evaluate runs the factorizer on a fresh snapshot and returns its learning curve.
// Genre affinities are not persisted.
func (e *Engine) Evaluate(ctx context.Context) (scores []als.Score, err error) {
	rc, matrix, err := e.BuildMatrix(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	_, scores, err = als.Evaluate(ctx, matrix, rc.Genres.Len(), e.factorizationConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return scores, nil
}

// GenerateRecommendations ranks books for every user who completed onboarding and
// replaces their recommendations. Recommendations still inside the cooldown are kept
// unless the book has since gone on a list or under a bad mark.
// It returns the number of users updated.
func (e *Engine) GenerateRecommendations(ctx context.Context, result *FitResult) (n int, err error) {
	defer recoverUnknownIdentifier(&err)
	rc, model := result.RunContext, result.Model
	exclusions := e.exclusions()
	for u := 0; u < rc.Users.Len(); u++ {
		userId := rc.UserId(u)
		user, err := e.DataStore.GetUser(ctx, userId)
		if errors.Is(err, data.ErrUserNotExist) {
			continue
		} else if err != nil {
			return n, errors.Trace(err)
		}
		if !user.PreferencesSet {
			continue
		}
		kept, excluded, err := exclusions.Resolve(ctx, userId, rc.Now)
		if err != nil {
			return n, errors.Trace(err)
		}
		ranked := Rank(rc, model.UserFactor.RawRowView(u), model.ItemFactor, excluded, e.Config.N)
		recommendations := append(kept, toRecommendations(userId, ranked, rc.Now)...)
		if err = e.CacheStore.SetRecommendations(ctx, userId, recommendations); err != nil {
			return n, errors.Trace(err)
		}
		n++
	}
	log.Logger().Info("generate recommendations complete", zap.Int("n_users", n))
	return n, nil
}

func toRecommendations(userId int64, ranked []Scored, now time.Time) []cache.Recommendation {
	return lo.Map(ranked, func(s Scored, _ int) cache.Recommendation {
		return cache.Recommendation{UserId: userId, BookId: s.BookId, Certainty: s.Certainty, Timestamp: now}
	})
}

// MaintenanceReport summarizes a maintenance run.
type MaintenanceReport struct {
	NumUsers                   int
	NumBooks                   int
	NumGenres                  int
	NumRecommendedUsers        int
	NumStaleRecommendations    int
	FitTime                    time.Duration
	GenerateRecommendationTime time.Duration
}

// RunMaintenance fits the model, regenerates recommendations and purges stale ones.
func (e *Engine) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	start := time.Now()
	result, err := e.Fit(ctx)
	if err != nil {
		return report, errors.Trace(err)
	}
	report.FitTime = time.Since(start)
	report.NumUsers = result.RunContext.Users.Len()
	report.NumBooks = result.RunContext.Books.Len()
	report.NumGenres = result.RunContext.Genres.Len()
	start = time.Now()
	if report.NumRecommendedUsers, err = e.GenerateRecommendations(ctx, result); err != nil {
		return report, errors.Trace(err)
	}
	report.GenerateRecommendationTime = time.Since(start)
	if e.Config.CacheTTL > 0 {
		if report.NumStaleRecommendations, err = e.CacheStore.DeleteStaleRecommendations(ctx, result.RunContext.Now.Add(-e.Config.CacheTTL)); err != nil {
			return report, errors.Trace(err)
		}
	}
	log.Logger().Info("maintenance complete",
		zap.Int("n_users", report.NumUsers),
		zap.Int("n_books", report.NumBooks),
		zap.Int("n_genres", report.NumGenres),
		zap.Int("n_recommended_users", report.NumRecommendedUsers),
		zap.Int("n_stale_recommendations", report.NumStaleRecommendations),
		zap.Duration("fit_time", report.FitTime),
		zap.Duration("generate_time", report.GenerateRecommendationTime))
	return report, nil
}

// AddUser stores the favourite authors picked during onboarding and persists a first
// recommendation list derived from their genre affinities.
func (e *Engine) AddUser(ctx context.Context, userId int64, authorIds []int64) (ranked []Scored, err error) {
	defer recoverUnknownIdentifier(&err)
	if _, err = e.DataStore.GetUser(ctx, userId); err != nil {
		return nil, errors.Trace(err)
	}
	authorIds = lo.Uniq(authorIds)
	if len(authorIds) == 0 {
		return nil, errors.NotValidf("empty author list")
	}
	authors, err := e.DataStore.GetAuthors(ctx, authorIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(authors) != len(authorIds) {
		found := lo.Map(authors, func(a data.Author, _ int) int64 { return a.AuthorId })
		missing, _ := lo.Difference(authorIds, found)
		return nil, errors.Annotatef(data.ErrAuthorNotExist, "author_id=%v", missing)
	}
	if err = e.DataStore.InsertInitialPreferences(ctx, userId, authorIds); err != nil {
		return nil, errors.Trace(err)
	}
	if err = e.DataStore.SetPreferencesSet(ctx, userId, true); err != nil {
		return nil, errors.Trace(err)
	}
	rc, err := NewRunContext(ctx, e.DataStore, e.now())
	if err != nil {
		return nil, errors.Trace(err)
	}
	excluded, err := e.exclusions().ExclusionSet(ctx, userId, rc.Now)
	if err != nil {
		return nil, errors.Trace(err)
	}
	coldStart := &ColdStart{DataStore: e.DataStore}
	ranked, err = coldStart.Recommend(ctx, rc, authorIds, excluded, e.Config.N)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = e.CacheStore.SetRecommendations(ctx, userId, toRecommendations(userId, ranked, rc.Now)); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("add user complete", zap.Int64("user_id", userId), zap.Int("n_recommendations", len(ranked)))
	return ranked, nil
}

// MarkBadRecommendation removes a recommendation and keeps the book away from the user
// until the mark expires.
func (e *Engine) MarkBadRecommendation(ctx context.Context, userId, bookId int64) error {
	if _, err := e.DataStore.GetUser(ctx, userId); err != nil {
		return errors.Trace(err)
	}
	if err := e.CacheStore.DeleteRecommendation(ctx, userId, bookId); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.DataStore.InsertBadRecommendation(ctx, userId, bookId, e.now()))
}

// RemoveRecommendation removes a recommendation the user accepted, for example by adding
// the book to a list.
func (e *Engine) RemoveRecommendation(ctx context.Context, userId, bookId int64) error {
	return errors.Trace(e.CacheStore.DeleteRecommendation(ctx, userId, bookId))
}
