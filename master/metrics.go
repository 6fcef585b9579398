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
	"github.com/gorse-io/shelf/recommend"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LabelStep = "step"

var (
	NumUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "num_users",
	})
	NumBooks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "num_books",
	})
	NumGenres = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "num_genres",
	})
	RecommendedUsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "recommended_users_total",
	})
	StaleRecommendationsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "stale_recommendations_total",
	})
	MaintenanceStepSecondsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "maintenance_step_seconds",
	}, []string{LabelStep})
	MaintenanceFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelf",
		Subsystem: "master",
		Name:      "maintenance_failures_total",
	})
)

// UpdateMetrics publishes a maintenance report.
func UpdateMetrics(report recommend.MaintenanceReport) {
	NumUsers.Set(float64(report.NumUsers))
	NumBooks.Set(float64(report.NumBooks))
	NumGenres.Set(float64(report.NumGenres))
	RecommendedUsersTotal.Set(float64(report.NumRecommendedUsers))
	StaleRecommendationsTotal.Set(float64(report.NumStaleRecommendations))
	MaintenanceStepSecondsVec.WithLabelValues("fit").Set(report.FitTime.Seconds())
	MaintenanceStepSecondsVec.WithLabelValues("generate_recommendations").Set(report.GenerateRecommendationTime.Seconds())
}
