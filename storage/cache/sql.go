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

package cache

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
	_ "modernc.org/sqlite"
)

type SQLRecommendation struct {
	UserId    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	BookId    int64     `gorm:"column:book_id;primaryKey;autoIncrement:false"`
	Certainty float64   `gorm:"column:certainty;not null"`
	Timestamp time.Time `gorm:"column:time_stamp;index;not null"`
}

type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
}

func (db *SQLDatabase) Init() error {
	return errors.Trace(db.gormDB.AutoMigrate(&SQLRecommendation{}))
}

func (db *SQLDatabase) Ping() error {
	return db.client.Ping()
}

func (db *SQLDatabase) Close() error {
	return db.client.Close()
}

func (db *SQLDatabase) Purge() error {
	err := db.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SQLRecommendation{}).Error
	return errors.Trace(err)
}

func (db *SQLDatabase) SetRecommendations(ctx context.Context, userId int64, recommendations []Recommendation) error {
	rows := lo.Map(recommendations, func(r Recommendation, _ int) SQLRecommendation {
		return SQLRecommendation{UserId: userId, BookId: r.BookId, Certainty: r.Certainty, Timestamp: r.Timestamp.UTC()}
	})
	rows = lo.UniqBy(rows, func(r SQLRecommendation) int64 { return r.BookId })
	return db.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userId).Delete(&SQLRecommendation{}).Error; err != nil {
			return errors.Trace(err)
		}
		if len(rows) == 0 {
			return nil
		}
		return errors.Trace(tx.Create(&rows).Error)
	})
}

func (db *SQLDatabase) GetRecommendations(ctx context.Context, userId int64) ([]Recommendation, error) {
	var rows []SQLRecommendation
	if err := db.gormDB.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("certainty DESC, book_id").
		Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLRecommendation, _ int) Recommendation {
		return Recommendation{UserId: row.UserId, BookId: row.BookId, Certainty: row.Certainty, Timestamp: row.Timestamp}
	}), nil
}

func (db *SQLDatabase) DeleteRecommendation(ctx context.Context, userId, bookId int64) error {
	err := db.gormDB.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userId, bookId).
		Delete(&SQLRecommendation{}).Error
	return errors.Trace(err)
}

func (db *SQLDatabase) DeleteStaleRecommendations(ctx context.Context, before time.Time) (int, error) {
	result := db.gormDB.WithContext(ctx).Where("time_stamp < ?", before.UTC()).Delete(&SQLRecommendation{})
	if result.Error != nil {
		return 0, errors.Trace(result.Error)
	}
	return int(result.RowsAffected), nil
}
