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

// Package als factorizes a dense user-book interaction matrix with alternating least
// squares. The latent dimension is the number of genres, so every learned book factor
// doubles as the genre-affinity vector of that book.
package als

import (
	"context"
	"math"

	"github.com/gorse-io/shelf/base"
	"github.com/gorse-io/shelf/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Config holds the hyper-parameters of the solver.
type Config struct {
	NEpochs      int
	Reg          float64
	HoldoutRatio float64
	InitLow      float64
	InitHigh     float64
	Seed         int64
}

// Score is the masked mean squared error after an epoch.
type Score struct {
	Epoch    int
	TrainMSE float64
	TestMSE  float64
}

// Model stores the factors learned by a fit.
type Model struct {
	UserFactor *mat.Dense // users x factors
	ItemFactor *mat.Dense // books x factors
}

// Predict returns the dot product of a user factor and a book factor.
func (m *Model) Predict(userIndex, itemIndex int) float64 {
	return mat.Dot(m.UserFactor.RowView(userIndex), m.ItemFactor.RowView(itemIndex))
}

// Predictions returns the full predicted matrix.
func (m *Model) Predictions() *mat.Dense {
	var p mat.Dense
	p.Mul(m.UserFactor, m.ItemFactor.T())
	return &p
}

// Split holds out cells from the ratings. For every user, round(ratio * nonzero) cells are
// drawn with replacement from the user's nonzero cells and moved to the test matrix. The
// draw is repeated while it leaves the ratings unchanged, unless no user has enough
// cells to hold out anything.
func Split(ratings *mat.Dense, ratio float64, rng base.RandomGenerator) (train, test *mat.Dense) {
	nUsers, nItems := ratings.Dims()
	nonzero := make([][]int, nUsers)
	splittable := false
	for u := 0; u < nUsers; u++ {
		for i := 0; i < nItems; i++ {
			if ratings.At(u, i) != 0 {
				nonzero[u] = append(nonzero[u], i)
			}
		}
		if int(math.Round(float64(len(nonzero[u]))*ratio)) > 0 {
			splittable = true
		}
	}
	for {
		train = mat.DenseCopyOf(ratings)
		test = mat.NewDense(nUsers, nItems, nil)
		for u := 0; u < nUsers; u++ {
			n := int(math.Round(float64(len(nonzero[u])) * ratio))
			for _, i := range rng.Choice(nonzero[u], n) {
				test.Set(u, i, ratings.At(u, i))
				train.Set(u, i, 0)
			}
		}
		if !splittable {
			log.Logger().Warn("interaction matrix is too sparse to hold out test cells",
				zap.Int("n_users", nUsers), zap.Int("n_books", nItems))
			return
		}
		if !mat.Equal(train, ratings) {
			return
		}
		log.Logger().Debug("train split reproduced the interaction matrix, retrying")
	}
}

// MaskedMSE is the mean squared error over the nonzero cells of truth.
func MaskedMSE(truth, prediction mat.Matrix) float64 {
	rows, cols := truth.Dims()
	var sum float64
	var count int
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if t := truth.At(r, c); t != 0 {
				d := t - prediction.At(r, c)
				sum += d * d
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Fit factorizes the train partition of the ratings.
func Fit(ctx context.Context, ratings *mat.Dense, nFactors int, cfg Config) (*Model, error) {
	model, _, err := fit(ctx, ratings, nFactors, cfg, false)
	return model, err
}

// Evaluate factorizes the train partition of the ratings and records the masked error on
// both partitions after every epoch.
func Evaluate(ctx context.Context, ratings *mat.Dense, nFactors int, cfg Config) (*Model, []Score, error) {
	return fit(ctx, ratings, nFactors, cfg, true)
}

func fit(ctx context.Context, ratings *mat.Dense, nFactors int, cfg Config, evaluate bool) (*Model, []Score, error) {
	nUsers, nItems := ratings.Dims()
	if nUsers == 0 || nItems == 0 || nFactors == 0 {
		return nil, nil, errors.NotValidf("interaction matrix %dx%d with %d factors", nUsers, nItems, nFactors)
	}
	if cfg.NEpochs <= 0 {
		return nil, nil, errors.NotValidf("n_epochs %d", cfg.NEpochs)
	}
	rng := base.NewRandomGenerator(cfg.Seed)
	train, test := Split(ratings, cfg.HoldoutRatio, rng)
	model := &Model{
		UserFactor: mat.NewDense(nUsers, nFactors, rng.UniformVector(nUsers*nFactors, cfg.InitLow, cfg.InitHigh)),
		ItemFactor: mat.NewDense(nItems, nFactors, rng.UniformVector(nItems*nFactors, cfg.InitLow, cfg.InitHigh)),
	}
	log.Logger().Info("fit ALS",
		zap.Int("n_users", nUsers),
		zap.Int("n_books", nItems),
		zap.Int("n_factors", nFactors),
		zap.Int("n_epochs", cfg.NEpochs),
		zap.Float64("reg", cfg.Reg))
	// Create regularization matrix
	regs := make([]float64, nFactors)
	for i := range regs {
		regs[i] = cfg.Reg
	}
	regI := mat.NewDiagDense(nFactors, regs)
	var scores []Score
	for ep := 1; ep <= cfg.NEpochs; ep++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.Trace(err)
		}
		// U = R I (I^T I + \lambda I)^{-1}
		if err := solve(model.UserFactor, train, model.ItemFactor, regI); err != nil {
			return nil, nil, errors.Trace(err)
		}
		// I = R^T U (U^T U + \lambda I)^{-1}
		if err := solve(model.ItemFactor, train.T(), model.UserFactor, regI); err != nil {
			return nil, nil, errors.Trace(err)
		}
		if evaluate {
			prediction := model.Predictions()
			score := Score{
				Epoch:    ep,
				TrainMSE: MaskedMSE(train, prediction),
				TestMSE:  MaskedMSE(test, prediction),
			}
			scores = append(scores, score)
			log.Logger().Debug("fit ALS epoch complete",
				zap.Int("epoch", ep),
				zap.Float64("train_mse", score.TrainMSE),
				zap.Float64("test_mse", score.TestMSE))
		}
	}
	return model, scores, nil
}

// solve sets dst to ratings * fixed * (fixed^T fixed + regI)^{-1}.
func solve(dst *mat.Dense, ratings mat.Matrix, fixed *mat.Dense, regI *mat.DiagDense) error {
	_, k := fixed.Dims()
	var gram, inverse mat.Dense
	gram.Mul(fixed.T(), fixed)
	gram.Add(&gram, regI)
	if err := inverse.Inverse(&gram); err != nil {
		var condition mat.Condition
		if !errors.As(err, &condition) {
			return errors.Trace(err)
		}
		log.Logger().Warn("ill-conditioned normal equations", zap.Error(err), zap.Int("n_factors", k))
	}
	var projected mat.Dense
	projected.Mul(ratings, fixed)
	dst.Mul(&projected, &inverse)
	return nil
}
