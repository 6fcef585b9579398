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

package master

import (
	"testing"
	"time"

	"github.com/gorse-io/shelf/recommend"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestUpdateMetrics(t *testing.T) {
	UpdateMetrics(recommend.MaintenanceReport{
		NumUsers:                   7,
		NumBooks:                   11,
		NumGenres:                  3,
		NumRecommendedUsers:        5,
		NumStaleRecommendations:    2,
		FitTime:                    1500 * time.Millisecond,
		GenerateRecommendationTime: 250 * time.Millisecond,
	})
	assert.Equal(t, 7.0, testutil.ToFloat64(NumUsers))
	assert.Equal(t, 11.0, testutil.ToFloat64(NumBooks))
	assert.Equal(t, 3.0, testutil.ToFloat64(NumGenres))
	assert.Equal(t, 5.0, testutil.ToFloat64(RecommendedUsersTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(StaleRecommendationsTotal))
	assert.Equal(t, 1.5, testutil.ToFloat64(MaintenanceStepSecondsVec.WithLabelValues("fit")))
	assert.Equal(t, 0.25, testutil.ToFloat64(MaintenanceStepSecondsVec.WithLabelValues("generate_recommendations")))
}
