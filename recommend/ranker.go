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
	"container/heap"

	mapset "github.com/deckarep/golang-set/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Scored is a ranked book.
type Scored struct {
	BookId    int64
	Score     float64
	Certainty float64
}

// Certainty is the cosine similarity of two vectors clamped to [0, 1]. It is zero if either
// vector has zero magnitude.
func Certainty(a, b []float64) float64 {
	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	similarity := floats.Dot(a, b) / (normA * normB)
	if similarity > 1 {
		return 1
	} else if similarity < 0 {
		return 0
	}
	return similarity
}

// topK keeps the k best candidates with the worst on top. Ties keep the lower index.
type topK struct {
	elems []Scored
	index []int
	k     int
}

func (h *topK) Len() int { return len(h.elems) }

func (h *topK) Less(i, j int) bool {
	if h.elems[i].Score != h.elems[j].Score {
		return h.elems[i].Score < h.elems[j].Score
	}
	return h.index[i] > h.index[j]
}

func (h *topK) Swap(i, j int) {
	h.elems[i], h.elems[j] = h.elems[j], h.elems[i]
	h.index[i], h.index[j] = h.index[j], h.index[i]
}

func (h *topK) Push(x any) {
	e := x.(topKElem)
	h.elems = append(h.elems, e.Scored)
	h.index = append(h.index, e.index)
}

func (h *topK) Pop() any {
	n := len(h.elems) - 1
	e := topKElem{Scored: h.elems[n], index: h.index[n]}
	h.elems, h.index = h.elems[:n], h.index[:n]
	return e
}

type topKElem struct {
	Scored
	index int
}

func (h *topK) push(s Scored, index int) {
	heap.Push(h, topKElem{Scored: s, index: index})
	if h.Len() > h.k {
		heap.Pop(h)
	}
}

// popAll drains the heap best first.
func (h *topK) popAll() []Scored {
	result := make([]Scored, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(topKElem).Scored
	}
	return result
}

// Rank scores every book by the dot product of its factor and the query vector, drops
// excluded books and returns the top n with their certainty.
func Rank(rc *RunContext, query []float64, bookFactor *mat.Dense, excluded mapset.Set[int64], n int) []Scored {
	if n <= 0 {
		return []Scored{}
	}
	nBooks, _ := bookFactor.Dims()
	filter := &topK{k: n}
	for i := 0; i < nBooks; i++ {
		bookId := rc.BookId(i)
		if excluded != nil && excluded.Contains(bookId) {
			continue
		}
		filter.push(Scored{
			BookId: bookId,
			Score:  floats.Dot(query, bookFactor.RawRowView(i)),
		}, i)
	}
	candidates := filter.popAll()
	for i := range candidates {
		candidates[i].Certainty = Certainty(query, bookFactor.RawRowView(rc.BookIndex(candidates[i].BookId)))
	}
	return candidates
}
