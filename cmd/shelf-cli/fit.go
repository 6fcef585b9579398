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
	"io"
	"os"

	"github.com/gorse-io/shelf/base/log"
	"github.com/gorse-io/shelf/model/als"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fitCommand = &cobra.Command{
	Use:   "fit",
	Short: "Fit genre affinities and regenerate recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeFunc, err := openEngine(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		defer closeFunc()
		if skip, _ := cmd.Flags().GetBool("skip-recommend"); skip {
			result, err := engine.Fit(cmd.Context())
			if err != nil {
				return errors.Trace(err)
			}
			log.Logger().Info("fit complete",
				zap.Int("n_users", result.RunContext.Users.Len()),
				zap.Int("n_books", result.RunContext.Books.Len()),
				zap.Int("n_genres", result.RunContext.Genres.Len()))
			return nil
		}
		_, err = engine.RunMaintenance(cmd.Context())
		return errors.Trace(err)
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Print the learning curve of the factorizer on a held-out split",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeFunc, err := openEngine(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		defer closeFunc()
		scores, err := engine.Evaluate(cmd.Context())
		if err != nil {
			return errors.Trace(err)
		}
		return renderScores(os.Stdout, scores)
	},
}

func renderScores(w io.Writer, scores []als.Score) error {
	table := tablewriter.NewWriter(w)
	table.Header("Epoch", "Train MSE", "Test MSE")
	for _, score := range scores {
		if err := table.Append([]string{
			fmt.Sprint(score.Epoch),
			fmt.Sprintf("%f", score.TrainMSE),
			fmt.Sprintf("%f", score.TestMSE),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func init() {
	fitCommand.Flags().Bool("skip-recommend", false, "only persist genre affinities")
	cliCommand.AddCommand(fitCommand)
	cliCommand.AddCommand(evaluateCommand)
}
