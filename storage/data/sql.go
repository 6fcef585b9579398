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
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/shelf/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type SQLUser struct {
	UserId         int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	PreferencesSet bool  `gorm:"column:preferences_set;not null"`
}

type SQLAuthor struct {
	AuthorId  int64  `gorm:"column:author_id;primaryKey;autoIncrement:false"`
	FirstName string `gorm:"column:first_name;type:varchar(256);not null"`
	Surname   string `gorm:"column:surname;type:varchar(256);not null"`
	Alias     string `gorm:"column:alias;type:varchar(256);not null"`
}

type SQLBook struct {
	BookId     int64  `gorm:"column:book_id;primaryKey;autoIncrement:false"`
	AuthorId   int64  `gorm:"column:author_id;index;not null"`
	Title      string `gorm:"column:title;type:varchar(512);not null"`
	CoverImage string `gorm:"column:cover_image;type:varchar(1024);not null"`
	Synopsis   string `gorm:"column:synopsis;type:text;not null"`
}

type SQLGenre struct {
	GenreId int64  `gorm:"column:genre_id;primaryKey;autoIncrement:false"`
	Name    string `gorm:"column:name;type:varchar(256);not null"`
}

type SQLBookGenre struct {
	BookId        int64   `gorm:"column:book_id;primaryKey;autoIncrement:false"`
	GenreId       int64   `gorm:"column:genre_id;primaryKey;autoIncrement:false"`
	MatchStrength float64 `gorm:"column:match_strength;not null"`
}

type SQLReview struct {
	ReviewId        int64     `gorm:"column:review_id;primaryKey;autoIncrement"`
	UserId          int64     `gorm:"column:user_id;index;not null"`
	BookId          int64     `gorm:"column:book_id;index;not null"`
	OverallRating   float64   `gorm:"column:overall_rating;not null"`
	CharacterRating *float64  `gorm:"column:character_rating"`
	PlotRating      *float64  `gorm:"column:plot_rating"`
	Timestamp       time.Time `gorm:"column:time_stamp;not null"`
}

type SQLDiaryEntry struct {
	EntryId         int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	UserId          int64     `gorm:"column:user_id;index;not null"`
	BookId          int64     `gorm:"column:book_id;index;not null"`
	OverallRating   float64   `gorm:"column:overall_rating;not null"`
	CharacterRating *float64  `gorm:"column:character_rating"`
	PlotRating      *float64  `gorm:"column:plot_rating"`
	Timestamp       time.Time `gorm:"column:time_stamp;not null"`
}

type SQLReadingListName struct {
	ListId   int64  `gorm:"column:list_id;primaryKey;autoIncrement"`
	UserId   int64  `gorm:"column:user_id;uniqueIndex:idx_user_list;not null"`
	ListName string `gorm:"column:list_name;type:varchar(256);uniqueIndex:idx_user_list;not null"`
}

type SQLReadingList struct {
	ListId    int64     `gorm:"column:list_id;primaryKey;autoIncrement:false"`
	BookId    int64     `gorm:"column:book_id;primaryKey;autoIncrement:false"`
	Timestamp time.Time `gorm:"column:time_stamp;not null"`
}

type SQLAuthorFollower struct {
	UserId   int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	AuthorId int64 `gorm:"column:author_id;primaryKey;autoIncrement:false"`
}

type SQLInitialPreference struct {
	UserId   int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	AuthorId int64 `gorm:"column:author_id;primaryKey;autoIncrement:false"`
}

type SQLBadRecommendation struct {
	RecommendationId int64     `gorm:"column:recommendation_id;primaryKey;autoIncrement"`
	UserId           int64     `gorm:"column:user_id;index;not null"`
	BookId           int64     `gorm:"column:book_id;not null"`
	Timestamp        time.Time `gorm:"column:time_stamp;not null"`
}

// SQLDatabase use MySQL, Postgres or SQLite as data storage.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
}

func (d *SQLDatabase) models() []any {
	return []any{
		&SQLUser{}, &SQLAuthor{}, &SQLBook{}, &SQLGenre{}, &SQLBookGenre{},
		&SQLReview{}, &SQLDiaryEntry{}, &SQLReadingListName{}, &SQLReadingList{},
		&SQLAuthorFollower{}, &SQLInitialPreference{}, &SQLBadRecommendation{},
	}
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(d.models()...))
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

// Close the connection.
func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

// Purge deletes all rows.
func (d *SQLDatabase) Purge() error {
	for _, model := range d.models() {
		if err := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) pluckIds(ctx context.Context, model any, column string) ([]int64, error) {
	var ids []int64
	if err := d.gormDB.WithContext(ctx).Model(model).Order(column).Pluck(column, &ids).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

func (d *SQLDatabase) ListUsers(ctx context.Context) ([]int64, error) {
	return d.pluckIds(ctx, &SQLUser{}, "user_id")
}

func (d *SQLDatabase) ListBooks(ctx context.Context) ([]int64, error) {
	return d.pluckIds(ctx, &SQLBook{}, "book_id")
}

func (d *SQLDatabase) ListGenres(ctx context.Context) ([]int64, error) {
	return d.pluckIds(ctx, &SQLGenre{}, "genre_id")
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId int64) (User, error) {
	var user SQLUser
	err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, errors.Annotatef(ErrUserNotExist, "user_id=%d", userId)
	} else if err != nil {
		return User{}, errors.Trace(err)
	}
	return User{UserId: user.UserId, PreferencesSet: user.PreferencesSet}, nil
}

func (d *SQLDatabase) SetPreferencesSet(ctx context.Context, userId int64, preferencesSet bool) error {
	if _, err := d.GetUser(ctx, userId); err != nil {
		return err
	}
	err := d.gormDB.WithContext(ctx).Model(&SQLUser{}).
		Where("user_id = ?", userId).
		Update("preferences_set", preferencesSet).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetAuthors(ctx context.Context, authorIds []int64) ([]Author, error) {
	if len(authorIds) == 0 {
		return nil, nil
	}
	var rows []SQLAuthor
	if err := d.gormDB.WithContext(ctx).Where("author_id IN ?", authorIds).Order("author_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLAuthor, _ int) Author {
		return Author{AuthorId: row.AuthorId, FirstName: row.FirstName, Surname: row.Surname, Alias: row.Alias}
	}), nil
}

func (d *SQLDatabase) GetGenres(ctx context.Context) ([]Genre, error) {
	var rows []SQLGenre
	if err := d.gormDB.WithContext(ctx).Order("genre_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLGenre, _ int) Genre {
		return Genre{GenreId: row.GenreId, Name: row.Name}
	}), nil
}

func (d *SQLDatabase) BatchGetBooks(ctx context.Context, bookIds []int64) ([]Book, error) {
	if len(bookIds) == 0 {
		return nil, nil
	}
	var rows []SQLBook
	if err := d.gormDB.WithContext(ctx).Where("book_id IN ?", bookIds).Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLBook, _ int) Book {
		return Book{BookId: row.BookId, AuthorId: row.AuthorId, Title: row.Title, CoverImage: row.CoverImage, Synopsis: row.Synopsis}
	}), nil
}

func (d *SQLDatabase) GetAuthorBooks(ctx context.Context, authorIds []int64) ([]int64, error) {
	if len(authorIds) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := d.gormDB.WithContext(ctx).Model(&SQLBook{}).
		Where("author_id IN ?", authorIds).
		Order("book_id").
		Pluck("book_id", &ids).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

func (d *SQLDatabase) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	rows := lo.Map(users, func(user User, _ int) SQLUser {
		return SQLUser{UserId: user.UserId, PreferencesSet: user.PreferencesSet}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertAuthors(ctx context.Context, authors []Author) error {
	if len(authors) == 0 {
		return nil
	}
	rows := lo.Map(authors, func(author Author, _ int) SQLAuthor {
		return SQLAuthor{AuthorId: author.AuthorId, FirstName: author.FirstName, Surname: author.Surname, Alias: author.Alias}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertBooks(ctx context.Context, books []Book) error {
	if len(books) == 0 {
		return nil
	}
	rows := lo.Map(books, func(book Book, _ int) SQLBook {
		return SQLBook{BookId: book.BookId, AuthorId: book.AuthorId, Title: book.Title, CoverImage: book.CoverImage, Synopsis: book.Synopsis}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertGenres(ctx context.Context, genres []Genre) error {
	if len(genres) == 0 {
		return nil
	}
	rows := lo.Map(genres, func(genre Genre, _ int) SQLGenre {
		return SQLGenre{GenreId: genre.GenreId, Name: genre.Name}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return errors.Trace(err)
}

// LoadExplicitRatings aggregates reviews into one row per (user, book).
func (d *SQLDatabase) LoadExplicitRatings(ctx context.Context) ([]Review, error) {
	rows, err := d.gormDB.WithContext(ctx).Model(&SQLReview{}).
		Select("user_id, book_id, AVG(overall_rating), AVG(COALESCE(character_rating, overall_rating)), AVG(COALESCE(plot_rating, overall_rating)), COUNT(*)").
		Group("user_id, book_id").
		Order("user_id, book_id").
		Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var reviews []Review
	for rows.Next() {
		var review Review
		var character, plot float64
		if err = rows.Scan(&review.UserId, &review.BookId, &review.Overall, &character, &plot, &review.Count); err != nil {
			return nil, errors.Trace(err)
		}
		review.Character = lo.ToPtr(character)
		review.Plot = lo.ToPtr(plot)
		reviews = append(reviews, review)
	}
	return reviews, errors.Trace(rows.Err())
}

// GetBookRatings returns the mean overall rating and the number of reviews of books.
// Books without reviews are omitted.
func (d *SQLDatabase) GetBookRatings(ctx context.Context, bookIds []int64) ([]BookRating, error) {
	if len(bookIds) == 0 {
		return nil, nil
	}
	rows, err := d.gormDB.WithContext(ctx).Table(d.ReviewsTable()).
		Select("book_id, AVG(overall_rating), COUNT(overall_rating)").
		Where("book_id IN ?", bookIds).
		Group("book_id").
		Order("book_id").
		Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var ratings []BookRating
	for rows.Next() {
		var rating BookRating
		if err = rows.Scan(&rating.BookId, &rating.AverageRating, &rating.NumRatings); err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, rating)
	}
	return ratings, errors.Trace(rows.Err())
}

func (d *SQLDatabase) LoadDiaryEntries(ctx context.Context) ([]Reading, error) {
	var rows []SQLDiaryEntry
	if err := d.gormDB.WithContext(ctx).Order("user_id, book_id, entry_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLDiaryEntry, _ int) Reading {
		return Reading{
			UserId: row.UserId,
			BookId: row.BookId,
			Rating: Rating{
				Overall:   row.OverallRating,
				Character: row.CharacterRating,
				Plot:      row.PlotRating,
			},
			Timestamp: row.Timestamp,
		}
	}), nil
}

func (d *SQLDatabase) LoadListMemberships(ctx context.Context) ([]ListEntry, error) {
	rows, err := d.gormDB.WithContext(ctx).
		Table(d.ReadingListsTable()+" AS l").
		Select("n.user_id, l.book_id, n.list_name").
		Joins("JOIN "+d.ReadingListNamesTable()+" AS n ON n.list_id = l.list_id").
		Order("n.user_id, l.book_id").
		Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var entries []ListEntry
	for rows.Next() {
		var entry ListEntry
		if err = rows.Scan(&entry.UserId, &entry.BookId, &entry.ListName); err != nil {
			return nil, errors.Trace(err)
		}
		entries = append(entries, entry)
	}
	return entries, errors.Trace(rows.Err())
}

func (d *SQLDatabase) LoadFollowedAuthorBooks(ctx context.Context) ([]UserBook, error) {
	rows, err := d.gormDB.WithContext(ctx).
		Table(d.AuthorFollowersTable()+" AS f").
		Select("f.user_id, b.book_id").
		Joins("JOIN "+d.BooksTable()+" AS b ON b.author_id = f.author_id").
		Order("f.user_id, b.book_id").
		Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var pairs []UserBook
	for rows.Next() {
		var pair UserBook
		if err = rows.Scan(&pair.UserId, &pair.BookId); err != nil {
			return nil, errors.Trace(err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, errors.Trace(rows.Err())
}

// GetUserListBooks returns distinct books on any of the user's lists.
func (d *SQLDatabase) GetUserListBooks(ctx context.Context, userId int64) ([]int64, error) {
	var ids []int64
	err := d.gormDB.WithContext(ctx).
		Table(d.ReadingListsTable()+" AS l").
		Distinct("l.book_id").
		Joins("JOIN "+d.ReadingListNamesTable()+" AS n ON n.list_id = l.list_id").
		Where("n.user_id = ?", userId).
		Order("l.book_id").
		Pluck("l.book_id", &ids).Error
	return ids, errors.Trace(err)
}

func toSQLReviews(reviews []Reading) []SQLReview {
	return lo.Map(reviews, func(r Reading, _ int) SQLReview {
		return SQLReview{
			UserId:          r.UserId,
			BookId:          r.BookId,
			OverallRating:   r.Overall,
			CharacterRating: r.Character,
			PlotRating:      r.Plot,
			Timestamp:       r.Timestamp.UTC(),
		}
	})
}

func (d *SQLDatabase) BatchInsertReviews(ctx context.Context, reviews []Reading) error {
	if len(reviews) == 0 {
		return nil
	}
	rows := toSQLReviews(reviews)
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&rows).Error)
}

func (d *SQLDatabase) BatchInsertDiaryEntries(ctx context.Context, entries []Reading) error {
	if len(entries) == 0 {
		return nil
	}
	rows := lo.Map(entries, func(r Reading, _ int) SQLDiaryEntry {
		return SQLDiaryEntry{
			UserId:          r.UserId,
			BookId:          r.BookId,
			OverallRating:   r.Overall,
			CharacterRating: r.Character,
			PlotRating:      r.Plot,
			Timestamp:       r.Timestamp.UTC(),
		}
	})
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&rows).Error)
}

// InsertListEntry puts a book on a named list, creating the list if it does not exist.
func (d *SQLDatabase) InsertListEntry(ctx context.Context, entry ListEntry) error {
	return d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list := SQLReadingListName{UserId: entry.UserId, ListName: entry.ListName}
		if err := tx.Where(SQLReadingListName{UserId: entry.UserId, ListName: entry.ListName}).
			FirstOrCreate(&list).Error; err != nil {
			return errors.Trace(err)
		}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&SQLReadingList{
			ListId:    list.ListId,
			BookId:    entry.BookId,
			Timestamp: time.Now().UTC(),
		}).Error
		return errors.Trace(err)
	})
}

// DeleteListEntry removes a book from every list of the user.
func (d *SQLDatabase) DeleteListEntry(ctx context.Context, userId, bookId int64) error {
	lists := d.gormDB.Model(&SQLReadingListName{}).Select("list_id").Where("user_id = ?", userId)
	err := d.gormDB.WithContext(ctx).
		Where("book_id = ? AND list_id IN (?)", bookId, lists).
		Delete(&SQLReadingList{}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) FollowAuthor(ctx context.Context, userId, authorId int64) error {
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&SQLAuthorFollower{UserId: userId, AuthorId: authorId}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) LoadInitialPreferences(ctx context.Context, userId int64) ([]int64, error) {
	var ids []int64
	err := d.gormDB.WithContext(ctx).Model(&SQLInitialPreference{}).
		Where("user_id = ?", userId).
		Order("author_id").
		Pluck("author_id", &ids).Error
	return ids, errors.Trace(err)
}

func (d *SQLDatabase) InsertInitialPreferences(ctx context.Context, userId int64, authorIds []int64) error {
	if len(authorIds) == 0 {
		return nil
	}
	rows := lo.Map(lo.Uniq(authorIds), func(authorId int64, _ int) SQLInitialPreference {
		return SQLInitialPreference{UserId: userId, AuthorId: authorId}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) PurgeInitialPreferences(ctx context.Context, userId int64) error {
	err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).Delete(&SQLInitialPreference{}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) LoadBadRecommendations(ctx context.Context, userId int64) ([]BadRecommendation, error) {
	var rows []SQLBadRecommendation
	if err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).Order("recommendation_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLBadRecommendation, _ int) BadRecommendation {
		return BadRecommendation{
			RecommendationId: row.RecommendationId,
			UserId:           row.UserId,
			BookId:           row.BookId,
			Timestamp:        row.Timestamp,
		}
	}), nil
}

func (d *SQLDatabase) InsertBadRecommendation(ctx context.Context, userId, bookId int64, timestamp time.Time) error {
	err := d.gormDB.WithContext(ctx).Create(&SQLBadRecommendation{
		UserId:    userId,
		BookId:    bookId,
		Timestamp: timestamp.UTC(),
	}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) DeleteBadRecommendations(ctx context.Context, recommendationIds []int64) error {
	if len(recommendationIds) == 0 {
		return nil
	}
	err := d.gormDB.WithContext(ctx).Where("recommendation_id IN ?", recommendationIds).Delete(&SQLBadRecommendation{}).Error
	return errors.Trace(err)
}

func toGenreAffinities(rows []SQLBookGenre) []GenreAffinity {
	return lo.Map(rows, func(row SQLBookGenre, _ int) GenreAffinity {
		return GenreAffinity{BookId: row.BookId, GenreId: row.GenreId, MatchStrength: row.MatchStrength}
	})
}

func (d *SQLDatabase) LoadGenreAffinities(ctx context.Context) ([]GenreAffinity, error) {
	var rows []SQLBookGenre
	if err := d.gormDB.WithContext(ctx).Order("book_id, genre_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return toGenreAffinities(rows), nil
}

func (d *SQLDatabase) GetBookGenreAffinities(ctx context.Context, bookIds []int64) ([]GenreAffinity, error) {
	if len(bookIds) == 0 {
		return nil, nil
	}
	var rows []SQLBookGenre
	if err := d.gormDB.WithContext(ctx).Where("book_id IN ?", bookIds).Order("book_id, genre_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return toGenreAffinities(rows), nil
}

// SaveGenreAffinities replaces every genre affinity. Non-positive strengths are not stored.
func (d *SQLDatabase) SaveGenreAffinities(ctx context.Context, affinities []GenreAffinity) error {
	rows := lo.FilterMap(affinities, func(a GenreAffinity, _ int) (SQLBookGenre, bool) {
		return SQLBookGenre{BookId: a.BookId, GenreId: a.GenreId, MatchStrength: a.MatchStrength}, a.MatchStrength > 0
	})
	return d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SQLBookGenre{}).Error; err != nil {
			return errors.Trace(err)
		}
		if len(rows) == 0 {
			return nil
		}
		return errors.Trace(tx.CreateInBatches(&rows, 1000).Error)
	})
}
