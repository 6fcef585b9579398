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

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/shelf/storage"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the engine.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Master    MasterConfig    `mapstructure:"master"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	DataStore        string `mapstructure:"data_store" validate:"required,data_store"`
	CacheStore       string `mapstructure:"cache_store" validate:"required,cache_store"`
	DataTablePrefix  string `mapstructure:"data_table_prefix"`
	CacheTablePrefix string `mapstructure:"cache_table_prefix"`
}

// MasterConfig is the configuration for the maintenance scheduler.
type MasterConfig struct {
	HttpHost          string        `mapstructure:"http_host"`
	HttpPort          int           `mapstructure:"http_port" validate:"gte=0"`
	MaintenancePeriod time.Duration `mapstructure:"maintenance_period" validate:"gt=0"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
}

// RecommendConfig is the configuration of the recommendation engine.
type RecommendConfig struct {
	N                    int                 `mapstructure:"n" validate:"gt=0"`
	DisplayGenres        int                 `mapstructure:"display_genres" validate:"gte=0"`
	CacheTTL             time.Duration       `mapstructure:"cache_ttl" validate:"gte=0"`
	Cooldown             time.Duration       `mapstructure:"cooldown" validate:"gte=0"`
	BadRecommendationTTL time.Duration       `mapstructure:"bad_recommendation_ttl" validate:"gt=0"`
	Signal               SignalConfig        `mapstructure:"signal"`
	Factorization        FactorizationConfig `mapstructure:"factorization"`
}

// SignalConfig controls how behavioural signals are fused into the interaction matrix.
type SignalConfig struct {
	SeedValue        float64 `mapstructure:"seed_value" validate:"gt=0"`
	ReadingListBoost float64 `mapstructure:"reading_list_boost" validate:"gte=0"`
	FollowBoost      float64 `mapstructure:"follow_boost" validate:"gte=0"`
	SuppressedValue  float64 `mapstructure:"suppressed_value" validate:"gt=0,ltfield=SeedValue"`
	MinReviews       int     `mapstructure:"min_reviews" validate:"gte=0"`
}

// FactorizationConfig controls the alternating least squares solver.
type FactorizationConfig struct {
	NEpochs      int     `mapstructure:"n_epochs" validate:"gt=0"`
	Reg          float64 `mapstructure:"reg" validate:"gt=0"`
	HoldoutRatio float64 `mapstructure:"holdout_ratio" validate:"gte=0,lt=1"`
	InitLow      float64 `mapstructure:"init_low"`
	InitHigh     float64 `mapstructure:"init_high" validate:"gtfield=InitLow"`
	Seed         int64   `mapstructure:"seed"`
}

// GetDefaultConfig returns the default configuration. Stores are left empty.
func GetDefaultConfig() *Config {
	return &Config{
		Master: MasterConfig{
			HttpHost:          "0.0.0.0",
			HttpPort:          8088,
			MaintenancePeriod: 24 * time.Hour,
			ConnectTimeout:    time.Minute,
		},
		Recommend: RecommendConfig{
			N:                    10,
			DisplayGenres:        5,
			CacheTTL:             48 * time.Hour,
			Cooldown:             48 * time.Hour,
			BadRecommendationTTL: 10 * 7 * 24 * time.Hour,
			Signal: SignalConfig{
				SeedValue:        2.5,
				ReadingListBoost: 0.1,
				FollowBoost:      0.1,
				SuppressedValue:  0.01,
				MinReviews:       5,
			},
			Factorization: FactorizationConfig{
				NEpochs:      20,
				Reg:          0.1,
				HoldoutRatio: 0.2,
				InitLow:      0,
				InitHigh:     1,
				Seed:         0,
			},
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [master]
	v.SetDefault("master.http_host", defaultConfig.Master.HttpHost)
	v.SetDefault("master.http_port", defaultConfig.Master.HttpPort)
	v.SetDefault("master.maintenance_period", defaultConfig.Master.MaintenancePeriod)
	v.SetDefault("master.connect_timeout", defaultConfig.Master.ConnectTimeout)
	// [recommend]
	v.SetDefault("recommend.n", defaultConfig.Recommend.N)
	v.SetDefault("recommend.display_genres", defaultConfig.Recommend.DisplayGenres)
	v.SetDefault("recommend.cache_ttl", defaultConfig.Recommend.CacheTTL)
	v.SetDefault("recommend.cooldown", defaultConfig.Recommend.Cooldown)
	v.SetDefault("recommend.bad_recommendation_ttl", defaultConfig.Recommend.BadRecommendationTTL)
	// [recommend.signal]
	v.SetDefault("recommend.signal.seed_value", defaultConfig.Recommend.Signal.SeedValue)
	v.SetDefault("recommend.signal.reading_list_boost", defaultConfig.Recommend.Signal.ReadingListBoost)
	v.SetDefault("recommend.signal.follow_boost", defaultConfig.Recommend.Signal.FollowBoost)
	v.SetDefault("recommend.signal.suppressed_value", defaultConfig.Recommend.Signal.SuppressedValue)
	v.SetDefault("recommend.signal.min_reviews", defaultConfig.Recommend.Signal.MinReviews)
	// [recommend.factorization]
	v.SetDefault("recommend.factorization.n_epochs", defaultConfig.Recommend.Factorization.NEpochs)
	v.SetDefault("recommend.factorization.reg", defaultConfig.Recommend.Factorization.Reg)
	v.SetDefault("recommend.factorization.holdout_ratio", defaultConfig.Recommend.Factorization.HoldoutRatio)
	v.SetDefault("recommend.factorization.init_low", defaultConfig.Recommend.Factorization.InitLow)
	v.SetDefault("recommend.factorization.init_high", defaultConfig.Recommend.Factorization.InitHigh)
	v.SetDefault("recommend.factorization.seed", defaultConfig.Recommend.Factorization.Seed)
}

type environmentVariable struct {
	key string
	env string
}

var bindings = []environmentVariable{
	{"database.data_store", "SHELF_DATA_STORE"},
	{"database.cache_store", "SHELF_CACHE_STORE"},
	{"database.data_table_prefix", "SHELF_DATA_TABLE_PREFIX"},
	{"database.cache_table_prefix", "SHELF_CACHE_TABLE_PREFIX"},
	{"master.http_host", "SHELF_MASTER_HTTP_HOST"},
	{"master.http_port", "SHELF_MASTER_HTTP_PORT"},
	{"master.maintenance_period", "SHELF_MAINTENANCE_PERIOD"},
	{"recommend.factorization.seed", "SHELF_RANDOM_SEED"},
}

// LoadConfig loads configuration from toml file. An empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetConfigType("toml")
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the configuration.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		return hasAnyPrefix(fl.Field().String(), dataStorePrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("cache_store", func(fl validator.FieldLevel) bool {
		return hasAnyPrefix(fl.Field().String(), cacheStorePrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	return validate.Struct(config)
}

var (
	dataStorePrefixes = []string{
		storage.MySQLPrefix,
		storage.PostgresPrefix,
		storage.PostgreSQLPrefix,
		storage.SQLitePrefix,
	}
	cacheStorePrefixes = append([]string{
		storage.RedisPrefix,
		storage.RedissPrefix,
	}, dataStorePrefixes...)
)

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
