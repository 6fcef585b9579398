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

package base

import (
	"fmt"

	"github.com/juju/errors"
)

// ErrUnknownIdentifier is raised when an identifier is absent from an index snapshot.
var ErrUnknownIdentifier = errors.NotFoundf("identifier")

// Index manages the map between sparse identifiers and dense indices. A sparse ID is
// a user ID, book ID or genre ID taken from the data store. The dense index is the
// row or column used in matrices built for a single run.
type Index struct {
	Numbers map[int64]int // sparse ID -> dense index
	Names   []int64       // dense index -> sparse ID
}

// NewMapIndexFrom creates an Index and adds ids in order.
func NewMapIndexFrom(ids []int64) *Index {
	idx := &Index{
		Numbers: make(map[int64]int, len(ids)),
		Names:   make([]int64, 0, len(ids)),
	}
	for _, id := range ids {
		idx.Add(id)
	}
	return idx
}

// Len returns the number of indexed Names.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Names)
}

// Add adds a new ID to the indexer.
func (idx *Index) Add(name int64) {
	if _, exist := idx.Numbers[name]; !exist {
		idx.Numbers[name] = len(idx.Names)
		idx.Names = append(idx.Names, name)
	}
}

// Contains reports whether a sparse ID is indexed.
func (idx *Index) Contains(name int64) bool {
	_, exist := idx.Numbers[name]
	return exist
}

// MustToNumber converts a sparse ID to a dense index. It panics with
// ErrUnknownIdentifier if the ID is not indexed.
func (idx *Index) MustToNumber(name int64) int {
	if denseId, exist := idx.Numbers[name]; exist {
		return denseId
	}
	panic(errors.Annotate(ErrUnknownIdentifier, fmt.Sprintf("id %d", name)))
}

// MustToName converts a dense index to a sparse ID. It panics with
// ErrUnknownIdentifier if the index is out of range.
func (idx *Index) MustToName(index int) int64 {
	if index < 0 || index >= len(idx.Names) {
		panic(errors.Annotate(ErrUnknownIdentifier, fmt.Sprintf("index %d", index)))
	}
	return idx.Names[index]
}
