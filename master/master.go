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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/config"
	"github.com/gorse-io/shelf/recommend"
	"github.com/gorse-io/shelf/storage/cache"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Master runs the periodic maintenance of the recommender and serves its metrics.
type Master struct {
	Config     *config.Config
	DataStore  data.Database
	CacheStore cache.Database
	Engine     *recommend.Engine
	HttpServer *http.Server

	ticker    *time.Ticker
	scheduled chan struct{}
	cancel    context.CancelFunc

	reportMutex sync.RWMutex
	lastReport  *recommend.MaintenanceReport
	lastError   error
}

func NewMaster(cfg *config.Config) *Master {
	return &Master{
		Config:    cfg,
		ticker:    time.NewTicker(cfg.Master.MaintenancePeriod),
		scheduled: make(chan struct{}, 1),
	}
}

// Connect opens both stores and creates their tables. Transient failures are retried
// until the connect timeout elapses.
func (m *Master) Connect(ctx context.Context) error {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("failed to connect database, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	}
	if m.Config.Master.ConnectTimeout > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(m.Config.Master.ConnectTimeout))
	}
	var err error
	m.DataStore, err = backoff.Retry(ctx, func() (data.Database, error) {
		database, err := data.Open(m.Config.Database.DataStore, m.Config.Database.DataTablePrefix)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err = database.Init(); err != nil {
			_ = database.Close()
			return nil, err
		}
		return database, nil
	}, opts...)
	if err != nil {
		return errors.Annotatef(err, "data store %s", log.RedactDBURL(m.Config.Database.DataStore))
	}
	m.CacheStore, err = backoff.Retry(ctx, func() (cache.Database, error) {
		database, err := cache.Open(m.Config.Database.CacheStore, m.Config.Database.CacheTablePrefix)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err = database.Init(); err != nil {
			_ = database.Close()
			return nil, err
		}
		return database, nil
	}, opts...)
	if err != nil {
		return errors.Annotatef(err, "cache store %s", log.RedactDBURL(m.Config.Database.CacheStore))
	}
	m.Engine = recommend.NewEngine(m.DataStore, m.CacheStore, m.Config.Recommend)
	return nil
}

// Serve connects the stores, starts the HTTP server and runs the maintenance loop.
func (m *Master) Serve() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if err := m.Connect(ctx); err != nil {
		log.Logger().Fatal("failed to connect database", zap.Error(err))
	}
	log.Logger().Info("connect data store",
		zap.String("database", log.RedactDBURL(m.Config.Database.DataStore)))
	log.Logger().Info("connect cache store",
		zap.String("database", log.RedactDBURL(m.Config.Database.CacheStore)))

	go m.StartHttpServer()
	m.RunTasksLoop(ctx)
}

func (m *Master) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	// stop http server
	if m.HttpServer != nil {
		if err := m.HttpServer.Shutdown(context.TODO()); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
		}
	}
	m.ticker.Stop()
	if m.DataStore != nil {
		if err := m.DataStore.Close(); err != nil {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
	}
	if m.CacheStore != nil {
		if err := m.CacheStore.Close(); err != nil {
			log.Logger().Error("failed to close cache store", zap.Error(err))
		}
	}
}

// Schedule requests a maintenance run without waiting for the next tick.
func (m *Master) Schedule() {
	select {
	case m.scheduled <- struct{}{}:
	default:
	}
}

// RunTasksLoop runs maintenance once at startup and then on every tick until the
// context is cancelled.
func (m *Master) RunTasksLoop(ctx context.Context) {
	m.Schedule()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ticker.C:
		case <-m.scheduled:
		}
		if _, err := m.RunMaintenance(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Logger().Error("failed to run maintenance", zap.Error(err))
		}
	}
}

// RunMaintenance runs one maintenance pass and publishes its report.
func (m *Master) RunMaintenance(ctx context.Context) (recommend.MaintenanceReport, error) {
	report, err := m.Engine.RunMaintenance(ctx)
	m.reportMutex.Lock()
	defer m.reportMutex.Unlock()
	m.lastError = err
	if err != nil {
		MaintenanceFailuresTotal.Inc()
		return report, errors.Trace(err)
	}
	m.lastReport = &report
	UpdateMetrics(report)
	return report, nil
}

func (m *Master) StartHttpServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/health/live", m.checkLive)
	mux.HandleFunc("/api/admin/schedule", m.scheduleHandler)
	m.HttpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", m.Config.Master.HttpHost, m.Config.Master.HttpPort),
		Handler: mux,
	}
	log.Logger().Info("start http server", zap.String("address", m.HttpServer.Addr))
	if err := m.HttpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Logger().Fatal("failed to start http server", zap.Error(err))
	}
}

type healthStatus struct {
	Ready      bool   `json:"ready"`
	LastError  string `json:"last_error,omitempty"`
	NumUsers   int    `json:"num_users"`
	NumBooks   int    `json:"num_books"`
	NumGenres  int    `json:"num_genres"`
	Recommends int    `json:"recommended_users"`
}

func (m *Master) health() healthStatus {
	m.reportMutex.RLock()
	defer m.reportMutex.RUnlock()
	var status healthStatus
	if m.lastReport != nil {
		status.Ready = true
		status.NumUsers = m.lastReport.NumUsers
		status.NumBooks = m.lastReport.NumBooks
		status.NumGenres = m.lastReport.NumGenres
		status.Recommends = m.lastReport.NumRecommendedUsers
	}
	if m.lastError != nil {
		status.LastError = m.lastError.Error()
	}
	return status
}

func (m *Master) checkLive(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(m.health()); err != nil {
		log.Logger().Error("failed to write health status", zap.Error(err))
	}
}

func (m *Master) scheduleHandler(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.Schedule()
	writer.WriteHeader(http.StatusAccepted)
}
