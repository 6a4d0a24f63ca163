package model_selection

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// ParamGrid maps snake_case hyperparameter names to candidate values.
type ParamGrid map[string][]interface{}

// Expand enumerates every combination. Keys are visited in sorted order and
// later keys vary fastest, so the expansion order is deterministic.
func (g ParamGrid) Expand() []map[string]interface{} {
	keys := make([]string, 0, len(g))
	for key := range g {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	combos := []map[string]interface{}{{}}
	for _, key := range keys {
		values := g[key]
		next := make([]map[string]interface{}, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, value := range values {
				combo := make(map[string]interface{}, len(base)+1)
				for k, v := range base {
					combo[k] = v
				}
				combo[key] = value
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

// CandidateResult records the cross-validation outcome of one parameter set.
type CandidateResult struct {
	Params    map[string]interface{}
	MeanScore float64
	StdScore  float64
}

// GridSearchCV exhaustively cross-validates every combination in the grid,
// then refits the best one on the full data.
type GridSearchCV struct {
	New      func() Estimator
	Grid     ParamGrid
	Splitter KFoldSplitter
	Scorer   Scorer

	BestParams    map[string]interface{}
	BestScore     float64
	BestEstimator Estimator
	Results       []CandidateResult
}

// NewGridSearchCV creates a grid search over the given estimator factory.
func NewGridSearchCV(newEstimator func() Estimator, grid ParamGrid,
	splitter KFoldSplitter, scorer Scorer) *GridSearchCV {
	return &GridSearchCV{
		New:      newEstimator,
		Grid:     grid,
		Splitter: splitter,
		Scorer:   scorer,
	}
}

// Fit evaluates every candidate and keeps the best by mean CV test score.
func (gs *GridSearchCV) Fit(X, y mat.Matrix) error {
	return gs.fitCandidates(X, y, gs.Grid.Expand())
}

func (gs *GridSearchCV) fitCandidates(X, y mat.Matrix, candidates []map[string]interface{}) error {
	if gs.New == nil {
		return kiterrors.NewValueError("GridSearchCV.Fit", "estimator factory must not be nil")
	}
	if len(candidates) == 0 {
		return kiterrors.NewValueError("GridSearchCV.Fit", "no parameter candidates to evaluate")
	}

	gs.Results = make([]CandidateResult, 0, len(candidates))
	bestIdx := -1

	for i, params := range candidates {
		// Surface bad values before spending folds on them
		if err := gs.New().SetParams(params); err != nil {
			return kiterrors.Wrapf(err, "candidate %v rejected", params)
		}

		cv, err := CrossValidate(func() Estimator {
			est := gs.New()
			// params already vetted against a probe estimator
			_ = est.SetParams(params)
			return est
		}, X, y, gs.Splitter, gs.Scorer)
		if err != nil {
			return kiterrors.Wrapf(err, "candidate %v failed", params)
		}

		gs.Results = append(gs.Results, CandidateResult{
			Params:    params,
			MeanScore: cv.GetMeanScore(),
			StdScore:  cv.GetStdScore(),
		})

		if bestIdx < 0 || gs.Scorer.Better(cv.GetMeanScore(), gs.BestScore) {
			bestIdx = i
			gs.BestScore = cv.GetMeanScore()
			gs.BestParams = params
		}
	}

	// Refit the winner on all rows
	best := gs.New()
	if err := best.SetParams(gs.BestParams); err != nil {
		return kiterrors.Wrapf(err, "refitting with %v", gs.BestParams)
	}
	if err := best.Fit(X, y); err != nil {
		return kiterrors.Wrapf(err, "refitting with %v", gs.BestParams)
	}
	gs.BestEstimator = best
	return nil
}

// String summarizes the search outcome.
func (gs *GridSearchCV) String() string {
	return fmt.Sprintf("GridSearchCV(candidates=%d, best_score=%.4f)", len(gs.Results), gs.BestScore)
}

// RandomizedSearchCV cross-validates NIter parameter sets drawn without
// replacement from the grid expansion.
type RandomizedSearchCV struct {
	GridSearchCV
	NIter      int
	RandomSeed int
}

// NewRandomizedSearchCV creates a randomized search over the given factory.
func NewRandomizedSearchCV(newEstimator func() Estimator, grid ParamGrid,
	splitter KFoldSplitter, scorer Scorer, nIter, randomSeed int) *RandomizedSearchCV {
	if nIter < 1 {
		nIter = 10
	}
	return &RandomizedSearchCV{
		GridSearchCV: GridSearchCV{
			New:      newEstimator,
			Grid:     grid,
			Splitter: splitter,
			Scorer:   scorer,
		},
		NIter:      nIter,
		RandomSeed: randomSeed,
	}
}

// Fit draws the candidates and evaluates them like a grid search.
func (rs *RandomizedSearchCV) Fit(X, y mat.Matrix) error {
	candidates := rs.Grid.Expand()
	if rs.NIter < len(candidates) {
		r := rand.New(rand.NewPCG(uint64(rs.RandomSeed), uint64(rs.RandomSeed)))
		perm := r.Perm(len(candidates))
		drawn := make([]map[string]interface{}, rs.NIter)
		for i := 0; i < rs.NIter; i++ {
			drawn[i] = candidates[perm[i]]
		}
		candidates = drawn
	}
	return rs.fitCandidates(X, y, candidates)
}

// String summarizes the search outcome.
func (rs *RandomizedSearchCV) String() string {
	return fmt.Sprintf("RandomizedSearchCV(n_iter=%d, candidates=%d, best_score=%.4f)",
		rs.NIter, len(rs.Results), rs.BestScore)
}
