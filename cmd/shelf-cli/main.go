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

package main

import (
	"fmt"

	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/cmd/version"
	"github.com/gorse-io/shelf/config"
	"github.com/gorse-io/shelf/recommend"
	"github.com/gorse-io/shelf/storage/cache"
	"github.com/gorse-io/shelf/storage/data"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cliCommand = &cobra.Command{
	Use:   "shelf-cli",
	Short: "CLI for the shelf book recommender",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the version of shelf",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(cliCommand.PersistentFlags())
	cliCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	cliCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	cliCommand.AddCommand(versionCommand)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return config.LoadConfig(configPath)
}

// openDataStore opens the data store and creates missing tables.
func openDataStore(cfg *config.Config) (data.Database, error) {
	database, err := data.Open(cfg.Database.DataStore, cfg.Database.DataTablePrefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = database.Init(); err != nil {
		return nil, errors.Trace(err)
	}
	return database, nil
}

// openEngine opens both stores. The returned function closes them.
func openEngine(cmd *cobra.Command) (*recommend.Engine, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	dataStore, err := openDataStore(cfg)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "data store %s", log.RedactDBURL(cfg.Database.DataStore))
	}
	cacheStore, err := cache.Open(cfg.Database.CacheStore, cfg.Database.CacheTablePrefix)
	if err == nil {
		err = cacheStore.Init()
	}
	if err != nil {
		_ = dataStore.Close()
		return nil, nil, errors.Annotatef(err, "cache store %s", log.RedactDBURL(cfg.Database.CacheStore))
	}
	closeFunc := func() {
		if err := dataStore.Close(); err != nil {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
		if err := cacheStore.Close(); err != nil {
			log.Logger().Error("failed to close cache store", zap.Error(err))
		}
	}
	return recommend.NewEngine(dataStore, cacheStore, cfg.Recommend), closeFunc, nil
}

func main() {
	if err := cliCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
