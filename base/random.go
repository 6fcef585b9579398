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
	"math/rand"
	"time"
)

// RandomGenerator is the random generator for shelf.
type RandomGenerator struct {
	*rand.Rand
}

// NewRandomGenerator creates a RandomGenerator. A zero seed draws the seed from the clock,
// so runs are not reproducible unless a seed is configured.
func NewRandomGenerator(seed int64) RandomGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return RandomGenerator{rand.New(rand.NewSource(seed))}
}

// UniformVector makes a vec filled with uniform random floats.
func (rng RandomGenerator) UniformVector(size int, low, high float64) []float64 {
	ret := make([]float64, size)
	scale := high - low
	for i := 0; i < len(ret); i++ {
		ret[i] = rng.Float64()*scale + low
	}
	return ret
}

// Choice draws n values from candidates with replacement.
func (rng RandomGenerator) Choice(candidates []int, n int) []int {
	if len(candidates) == 0 {
		return nil
	}
	sampled := make([]int, n)
	for i := range sampled {
		sampled[i] = candidates[rng.Intn(len(candidates))]
	}
	return sampled
}
