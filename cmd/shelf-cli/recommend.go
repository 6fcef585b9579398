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
	"strconv"
	"strings"

	"github.com/gorse-io/shelf/recommend"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func parseIds(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, errors.NotValidf("identifier %q", arg)
		}
		ids[i] = id
	}
	return ids, nil
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user_id>",
	Short: "List the recommendations of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIds(args)
		if err != nil {
			return errors.Trace(err)
		}
		engine, closeFunc, err := openEngine(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		defer closeFunc()
		recommendations, err := engine.GetRecommendations(cmd.Context(), ids[0])
		if errors.Is(err, recommend.ErrNoPreferences) {
			fmt.Printf("user %d has no recommendations, run onboard first\n", ids[0])
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		return renderRecommendations(os.Stdout, recommendations)
	},
}

func renderRecommendations(w io.Writer, recommendations []recommend.BookRecommendation) error {
	table := tablewriter.NewWriter(w)
	table.Header("Book", "Title", "Author", "Genres", "Rating", "Certainty")
	for _, r := range recommendations {
		if err := table.Append([]string{
			strconv.FormatInt(r.BookId, 10),
			r.Title,
			r.AuthorName,
			strings.Join(r.Genres, ", "),
			fmt.Sprintf("%.2f (%d)", r.AverageRating, r.NumRatings),
			fmt.Sprintf("%.4f", r.Certainty),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

var onboardCommand = &cobra.Command{
	Use:   "onboard <user_id> <author_id>...",
	Short: "Store the favourite authors of a user and bootstrap recommendations",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIds(args)
		if err != nil {
			return errors.Trace(err)
		}
		engine, closeFunc, err := openEngine(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		defer closeFunc()
		ranked, err := engine.AddUser(cmd.Context(), ids[0], ids[1:])
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("recommended %v\n", lo.Map(ranked, func(s recommend.Scored, _ int) int64 { return s.BookId }))
		return nil
	},
}

var dismissCommand = &cobra.Command{
	Use:   "dismiss <user_id> <book_id>",
	Short: "Mark a recommendation as bad",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIds(args)
		if err != nil {
			return errors.Trace(err)
		}
		engine, closeFunc, err := openEngine(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		defer closeFunc()
		if accept, _ := cmd.Flags().GetBool("accept"); accept {
			return errors.Trace(engine.RemoveRecommendation(cmd.Context(), ids[0], ids[1]))
		}
		return errors.Trace(engine.MarkBadRecommendation(cmd.Context(), ids[0], ids[1]))
	},
}

func init() {
	dismissCommand.Flags().Bool("accept", false, "remove the recommendation without marking it bad")
	cliCommand.AddCommand(recommendCommand)
	cliCommand.AddCommand(onboardCommand)
	cliCommand.AddCommand(dismissCommand)
}
