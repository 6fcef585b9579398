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

package data

import (
	"context"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

var (
	ErrUserNotExist   = errors.NotFoundf("user")
	ErrBookNotExist   = errors.NotFoundf("book")
	ErrAuthorNotExist = errors.NotFoundf("author")
)

// User stores the onboarding state of a reader.
type User struct {
	UserId         int64
	PreferencesSet bool
}

// Author stores the display names of an author.
type Author struct {
	AuthorId  int64
	FirstName string
	Surname   string
	Alias     string
}

// DisplayName returns the alias if present, otherwise the full name.
func (a Author) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return strings.TrimSpace(a.FirstName + " " + a.Surname)
}

// Book stores meta data about a book.
type Book struct {
	BookId     int64
	AuthorId   int64
	Title      string
	CoverImage string
	Synopsis   string
}

// Genre stores meta data about a genre.
type Genre struct {
	GenreId int64
	Name    string
}

// GenreAffinity is the match strength between a book and a genre.
type GenreAffinity struct {
	BookId        int64
	GenreId       int64
	MatchStrength float64
}

// BookRating is the community rating of a book over all its reviews.
type BookRating struct {
	BookId        int64
	AverageRating float64
	NumRatings    int
}

// Rating is an overall rating with optional character and plot sub-ratings.
type Rating struct {
	Overall   float64
	Character *float64
	Plot      *float64
}

// Mean averages the overall rating and the sub-ratings. Missing sub-ratings default to the overall rating.
func (r Rating) Mean() float64 {
	character := lo.FromPtrOr(r.Character, r.Overall)
	plot := lo.FromPtrOr(r.Plot, r.Overall)
	return (r.Overall + character + plot) / 3
}

// Review is the explicit rating aggregated over every review a user wrote for a book.
type Review struct {
	UserId int64
	BookId int64
	Rating
	Count int
}

// Reading is a single rated review or diary entry.
type Reading struct {
	UserId int64
	BookId int64
	Rating
	Timestamp time.Time
}

// ListEntry is a book on one of a user's reading lists.
type ListEntry struct {
	UserId   int64
	BookId   int64
	ListName string
}

// UserBook is a (user, book) pair.
type UserBook struct {
	UserId int64
	BookId int64
}

// BadRecommendation is a book a user dismissed from their recommendations.
type BadRecommendation struct {
	RecommendationId int64
	UserId           int64
	BookId           int64
	Timestamp        time.Time
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// entities
	ListUsers(ctx context.Context) ([]int64, error)
	ListBooks(ctx context.Context) ([]int64, error)
	ListGenres(ctx context.Context) ([]int64, error)
	GetUser(ctx context.Context, userId int64) (User, error)
	SetPreferencesSet(ctx context.Context, userId int64, preferencesSet bool) error
	GetAuthors(ctx context.Context, authorIds []int64) ([]Author, error)
	GetGenres(ctx context.Context) ([]Genre, error)
	BatchGetBooks(ctx context.Context, bookIds []int64) ([]Book, error)
	GetAuthorBooks(ctx context.Context, authorIds []int64) ([]int64, error)
	BatchInsertUsers(ctx context.Context, users []User) error
	BatchInsertAuthors(ctx context.Context, authors []Author) error
	BatchInsertBooks(ctx context.Context, books []Book) error
	BatchInsertGenres(ctx context.Context, genres []Genre) error
	// signals
	LoadExplicitRatings(ctx context.Context) ([]Review, error)
	LoadDiaryEntries(ctx context.Context) ([]Reading, error)
	LoadListMemberships(ctx context.Context) ([]ListEntry, error)
	LoadFollowedAuthorBooks(ctx context.Context) ([]UserBook, error)
	GetUserListBooks(ctx context.Context, userId int64) ([]int64, error)
	GetBookRatings(ctx context.Context, bookIds []int64) ([]BookRating, error)
	BatchInsertReviews(ctx context.Context, reviews []Reading) error
	BatchInsertDiaryEntries(ctx context.Context, entries []Reading) error
	InsertListEntry(ctx context.Context, entry ListEntry) error
	DeleteListEntry(ctx context.Context, userId, bookId int64) error
	FollowAuthor(ctx context.Context, userId, authorId int64) error
	// onboarding
	LoadInitialPreferences(ctx context.Context, userId int64) ([]int64, error)
	InsertInitialPreferences(ctx context.Context, userId int64, authorIds []int64) error
	PurgeInitialPreferences(ctx context.Context, userId int64) error
	// negative feedback
	LoadBadRecommendations(ctx context.Context, userId int64) ([]BadRecommendation, error)
	InsertBadRecommendation(ctx context.Context, userId, bookId int64, timestamp time.Time) error
	DeleteBadRecommendations(ctx context.Context, recommendationIds []int64) error
	// genre affinities
	LoadGenreAffinities(ctx context.Context) ([]GenreAffinity, error)
	GetBookGenreAffinities(ctx context.Context, bookIds []int64) ([]GenreAffinity, error)
	SaveGenreAffinities(ctx context.Context, affinities []GenreAffinity) error
}

// Open a connection to a database.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// probe isolation variable name
		isolationVarName, err := storage.ProbeMySQLIsolationVariableName(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":       "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			isolationVarName: "'READ-COMMITTED'",
			"parseTime":      "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLDatabase)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		gormConfig := storage.NewGORMConfig(tablePrefix)
		gormConfig.Logger = &zapgorm2.Logger{
			ZapLogger:     log.Logger(),
			LogLevel:      logger.Warn,
			SlowThreshold: 10 * time.Second,
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}
