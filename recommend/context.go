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

	"github.com/gorse-io/shelf/base"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
)

// RunContext holds the entity snapshot of a single run. It is built at the start of every
// run and must not be reused by the next one.
type RunContext struct {
	Users  *base.Index
	Books  *base.Index
	Genres *base.Index
	Now    time.Time
}

// NewRunContext lists the current users, books and genres.
func NewRunContext(ctx context.Context, database data.Database, now time.Time) (*RunContext, error) {
	users, err := database.ListUsers(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	books, err := database.ListBooks(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	genres, err := database.ListGenres(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &RunContext{
		Users:  base.NewMapIndexFrom(users),
		Books:  base.NewMapIndexFrom(books),
		Genres: base.NewMapIndexFrom(genres),
		Now:    now,
	}, nil
}

func (rc *RunContext) UserIndex(userId int64) int {
	return rc.Users.MustToNumber(userId)
}

func (rc *RunContext) BookIndex(bookId int64) int {
	return rc.Books.MustToNumber(bookId)
}

func (rc *RunContext) GenreIndex(genreId int64) int {
	return rc.Genres.MustToNumber(genreId)
}

func (rc *RunContext) UserId(index int) int64 {
	return rc.Users.MustToName(index)
}

func (rc *RunContext) BookId(index int) int64 {
	return rc.Books.MustToName(index)
}

func (rc *RunContext) GenreId(index int) int64 {
	return rc.Genres.MustToName(index)
}

// recoverUnknownIdentifier turns a failed index lookup into the returned error of the
// current operation. Other panics are propagated.
func recoverUnknownIdentifier(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok && errors.Is(e, base.ErrUnknownIdentifier) {
			*err = e
			return
		}
		panic(r)
	}
}
