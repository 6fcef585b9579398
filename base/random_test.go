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
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func TestRandomGenerator_UniformVector(t *testing.T) {
	rng := NewRandomGenerator(1)
	vec := rng.UniformVector(1000, 1, 2)
	assert.False(t, floats.Min(vec) < 1)
	assert.False(t, floats.Max(vec) > 2)
}

func TestRandomGenerator_Seed(t *testing.T) {
	a := NewRandomGenerator(42).UniformVector(10, 0, 1)
	b := NewRandomGenerator(42).UniformVector(10, 0, 1)
	assert.Equal(t, a, b)
}

func TestRandomGenerator_Choice(t *testing.T) {
	rng := NewRandomGenerator(1)
	candidates := []int{3, 5, 7}
	sampled := rng.Choice(candidates, 20)
	assert.Len(t, sampled, 20)
	for _, v := range sampled {
		assert.True(t, lo.Contains(candidates, v))
	}
	assert.Nil(t, rng.Choice(nil, 3))
}
