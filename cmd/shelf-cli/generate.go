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

package main

import (
	"context"
	"math/rand"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/jaswdr/faker"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var readingLists = []string{"have read", "currently reading", "want to read"}

type catalogueOptions struct {
	NumUsers       int
	NumAuthors     int
	NumBooks       int
	NumGenres      int
	MaxReviews     int
	MaxDiary       int
	MaxListEntries int
	MaxFollows     int
	Seed           int64
	Now            time.Time
	// ShowProgress renders a progress bar on stderr while users are generated.
	ShowProgress bool
}

func (opt catalogueOptions) validate() error {
	if opt.NumUsers <= 0 || opt.NumAuthors <= 0 || opt.NumBooks <= 0 || opt.NumGenres <= 0 {
		return errors.NotValidf("catalogue size users=%d authors=%d books=%d genres=%d",
			opt.NumUsers, opt.NumAuthors, opt.NumBooks, opt.NumGenres)
	}
	return nil
}

// sampleIds picks up to n distinct ids from [1, upper].
func sampleIds(fake faker.Faker, n, upper int) []int64 {
	n = min(n, upper)
	picked := mapset.NewThreadUnsafeSet[int64]()
	for picked.Cardinality() < n {
		picked.Add(int64(fake.IntBetween(1, upper)))
	}
	return picked.ToSlice()
}

func fakeRating(fake faker.Faker) data.Rating {
	rating := data.Rating{Overall: fake.Float64(1, 1, 5)}
	if fake.Bool() {
		rating.Character = lo.ToPtr(fake.Float64(1, 1, 5))
	}
	if fake.Bool() {
		rating.Plot = lo.ToPtr(fake.Float64(1, 1, 5))
	}
	return rating
}

// generateCatalogue fills the data store with fake users, authors, books, genres and
// reading signals. Identifiers start at 1.
func generateCatalogue(ctx context.Context, database data.Database, opt catalogueOptions) error {
	if err := opt.validate(); err != nil {
		return errors.Trace(err)
	}
	fake := faker.NewWithSeed(rand.NewSource(opt.Seed))

	genres := make([]data.Genre, opt.NumGenres)
	for i := range genres {
		genres[i] = data.Genre{GenreId: int64(i + 1), Name: fake.Lorem().Word()}
	}
	if err := database.BatchInsertGenres(ctx, genres); err != nil {
		return errors.Trace(err)
	}
	authors := make([]data.Author, opt.NumAuthors)
	for i := range authors {
		person := fake.Person()
		authors[i] = data.Author{AuthorId: int64(i + 1), FirstName: person.FirstName(), Surname: person.LastName()}
		if fake.IntBetween(0, 9) == 0 {
			authors[i].Alias = person.Name()
		}
	}
	if err := database.BatchInsertAuthors(ctx, authors); err != nil {
		return errors.Trace(err)
	}
	books := make([]data.Book, opt.NumBooks)
	for i := range books {
		books[i] = data.Book{
			BookId:     int64(i + 1),
			AuthorId:   int64(fake.IntBetween(1, opt.NumAuthors)),
			Title:      fake.Lorem().Sentence(3),
			CoverImage: fake.Internet().URL(),
			Synopsis:   fake.Lorem().Paragraph(2),
		}
	}
	if err := database.BatchInsertBooks(ctx, books); err != nil {
		return errors.Trace(err)
	}
	users := make([]data.User, opt.NumUsers)
	for i := range users {
		users[i] = data.User{UserId: int64(i + 1), PreferencesSet: fake.IntBetween(0, 4) > 0}
	}
	if err := database.BatchInsertUsers(ctx, users); err != nil {
		return errors.Trace(err)
	}

	var bar *progressbar.ProgressBar
	if opt.ShowProgress {
		bar = progressbar.Default(int64(opt.NumUsers), "generate users")
	}
	for _, user := range users {
		reviews := lo.Map(sampleIds(fake, fake.IntBetween(0, opt.MaxReviews), opt.NumBooks), func(bookId int64, _ int) data.Reading {
			return data.Reading{UserId: user.UserId, BookId: bookId, Rating: fakeRating(fake), Timestamp: opt.Now}
		})
		if err := database.BatchInsertReviews(ctx, reviews); err != nil {
			return errors.Trace(err)
		}
		diary := lo.Map(sampleIds(fake, fake.IntBetween(0, opt.MaxDiary), opt.NumBooks), func(bookId int64, _ int) data.Reading {
			return data.Reading{UserId: user.UserId, BookId: bookId, Rating: fakeRating(fake), Timestamp: opt.Now}
		})
		if err := database.BatchInsertDiaryEntries(ctx, diary); err != nil {
			return errors.Trace(err)
		}
		for _, bookId := range sampleIds(fake, fake.IntBetween(0, opt.MaxListEntries), opt.NumBooks) {
			entry := data.ListEntry{UserId: user.UserId, BookId: bookId, ListName: fake.RandomStringElement(readingLists)}
			if err := database.InsertListEntry(ctx, entry); err != nil {
				return errors.Trace(err)
			}
		}
		for _, authorId := range sampleIds(fake, fake.IntBetween(0, opt.MaxFollows), opt.NumAuthors) {
			if err := database.FollowAuthor(ctx, user.UserId, authorId); err != nil {
				return errors.Trace(err)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	log.Logger().Info("generate catalogue complete",
		zap.Int("n_users", opt.NumUsers),
		zap.Int("n_authors", opt.NumAuthors),
		zap.Int("n_books", opt.NumBooks),
		zap.Int("n_genres", opt.NumGenres))
	return nil
}

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "Fill the data store with a synthetic catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		database, err := openDataStore(cfg)
		if err != nil {
			return errors.Annotatef(err, "data store %s", log.RedactDBURL(cfg.Database.DataStore))
		}
		defer database.Close()
		opt := catalogueOptions{Now: time.Now().UTC(), ShowProgress: true}
		opt.NumUsers, _ = cmd.Flags().GetInt("users")
		opt.NumAuthors, _ = cmd.Flags().GetInt("authors")
		opt.NumBooks, _ = cmd.Flags().GetInt("books")
		opt.NumGenres, _ = cmd.Flags().GetInt("genres")
		opt.MaxReviews, _ = cmd.Flags().GetInt("max-reviews")
		opt.MaxDiary, _ = cmd.Flags().GetInt("max-diary")
		opt.MaxListEntries, _ = cmd.Flags().GetInt("max-list-entries")
		opt.MaxFollows, _ = cmd.Flags().GetInt("max-follows")
		opt.Seed, _ = cmd.Flags().GetInt64("seed")
		if opt.Seed == 0 {
			opt.Seed = time.Now().UnixNano()
		}
		return generateCatalogue(cmd.Context(), database, opt)
	},
}

func init() {
	generateCommand.Flags().Int("users", 1000, "number of users")
	generateCommand.Flags().Int("authors", 200, "number of authors")
	generateCommand.Flags().Int("books", 2000, "number of books")
	generateCommand.Flags().Int("genres", 20, "number of genres")
	generateCommand.Flags().Int("max-reviews", 20, "maximum number of reviews per user")
	generateCommand.Flags().Int("max-diary", 10, "maximum number of diary entries per user")
	generateCommand.Flags().Int("max-list-entries", 10, "maximum number of list entries per user")
	generateCommand.Flags().Int("max-follows", 3, "maximum number of followed authors per user")
	generateCommand.Flags().Int64("seed", 0, "random seed, 0 for a time-based seed")
	cliCommand.AddCommand(generateCommand)
}
