// Package churn wires the library into the end-to-end telco churn
// workflow: load and validate the canonical dataset, preprocess it
// with a fitted recipe, train and evaluate a classifier on a
// stratified split, tune hyperparameters with cross-validation, and
// score single customers for serving. Everything a scoring process
// needs travels in one Artifact file.
package churn

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/dataset"
	"github.com/YuminosukeSato/churnkit/ensemble"
	"github.com/YuminosukeSato/churnkit/linear_model"
	"github.com/YuminosukeSato/churnkit/metrics"
	"github.com/YuminosukeSato/churnkit/model_selection"
	"github.com/YuminosukeSato/churnkit/neighbors"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/pkg/log"
	"github.com/YuminosukeSato/churnkit/preprocessing"
	"github.com/YuminosukeSato/churnkit/resample"
	"github.com/YuminosukeSato/churnkit/tree"
)

// Supported estimators. ENet is logistic regression under an elastic
// net penalty, kept as its own name because the course treats it as a
// separate model with its own tuning grid.
const (
	AlgorithmLogReg = "logreg"
	AlgorithmKNN    = "knn"
	AlgorithmTree   = "tree"
	AlgorithmForest = "forest"
	AlgorithmENet   = "enet"
)

// Training-split rebalancing modes.
const (
	ResampleNone = "none"
	ResampleUp   = "up"
	ResampleDown = "down"
)

// Algorithms lists the estimators Train and Tune accept.
func Algorithms() []string {
	return []string{AlgorithmLogReg, AlgorithmKNN, AlgorithmTree, AlgorithmForest, AlgorithmENet}
}

// TrainConfig drives a single training run.
type TrainConfig struct {
	// DataPath points at the churn CSV in the canonical schema.
	DataPath string

	// Algorithm selects the estimator; see Algorithms. Default logreg.
	Algorithm string

	// Params overrides estimator hyperparameters. Keys are the
	// estimator's snake_case parameter names, values their textual
	// form ("C" -> "0.5", "max_depth" -> "10").
	Params map[string]string

	// TestSize is the held-out fraction of rows. Default 0.25.
	TestSize float64

	// Seed drives the split, the resampling draw and the estimator.
	Seed int64

	// Resampling rebalances the training split: none, up or down.
	Resampling string

	// PlotDir, when set, receives roc.png and pr.png rendered from
	// the held-out predictions.
	PlotDir string
}

func (cfg *TrainConfig) normalize() error {
	if cfg.DataPath == "" {
		return kiterrors.NewValueError("Train", "DataPath is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmLogReg
	}
	if _, err := NewClassifier(cfg.Algorithm, cfg.Seed); err != nil {
		return err
	}
	if cfg.TestSize == 0 {
		cfg.TestSize = 0.25
	}
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		return kiterrors.NewValueError("Train", "TestSize must be in (0, 1)")
	}
	switch cfg.Resampling {
	case "", ResampleNone:
		cfg.Resampling = ResampleNone
	case ResampleUp, ResampleDown:
	default:
		return kiterrors.NewValueError("Train",
			"unknown resampling "+strconv.Quote(cfg.Resampling)+" (want none, up or down)")
	}
	return nil
}

// Train runs the full offline workflow: split the data, fit the
// preprocessing recipe on the training rows only, optionally rebalance
// them, fit the estimator, and evaluate on the held-out rows. The
// returned artifact is ready to Save and serve.
func Train(ctx context.Context, cfg TrainConfig) (*Artifact, error) {
	start := time.Now()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	data, err := loadTrainingData(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	logger := log.Component("workflow")
	logger.Info().
		Str(log.AlgorithmKey, cfg.Algorithm).
		Int(log.SamplesKey, data.tbl.NumRows()).
		Float64(log.PositiveRateKey, data.baseRate).
		Int64(log.RandomSeedKey, cfg.Seed).
		Msg("training started")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainTbl, testTbl, err := splitTable(data.tbl, cfg.TestSize, cfg.Seed)
	if err != nil {
		return nil, err
	}

	recipe := DefaultRecipe()
	if err := recipe.Fit(trainTbl); err != nil {
		return nil, err
	}
	XTrain, yTrain, err := transformSplit(recipe, trainTbl)
	if err != nil {
		return nil, err
	}
	XTest, yTest, err := transformSplit(recipe, testTbl)
	if err != nil {
		return nil, err
	}

	Xfit, yfit, err := rebalance(cfg.Resampling, XTrain, yTrain, cfg.Seed)
	if err != nil {
		return nil, err
	}

	clf, err := NewClassifier(cfg.Algorithm, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if len(cfg.Params) > 0 {
		params, err := CoerceParams(cfg.Algorithm, cfg.Params)
		if err != nil {
			return nil, err
		}
		if err := clf.(model.ParameterSetter).SetParams(params); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fitStart := time.Now()
	if err := clf.Fit(Xfit, yfit); err != nil {
		return nil, kiterrors.Wrapf(err, "fitting %s", cfg.Algorithm)
	}
	rows, _ := Xfit.Dims()
	logger.Info().
		Str(log.AlgorithmKey, cfg.Algorithm).
		Int(log.SamplesKey, rows).
		Int(log.FeaturesKey, len(recipe.FeatureNames())).
		Int64(log.DurationMsKey, time.Since(fitStart).Milliseconds()).
		Msg("model fitted")

	scores, preds, err := predictVectors(clf, XTest)
	if err != nil {
		return nil, err
	}
	eval, err := evaluatePredictions(yTest, scores, preds)
	if err != nil {
		return nil, err
	}
	if cfg.PlotDir != "" {
		if err := renderPlots(cfg.PlotDir, yTest, scores); err != nil {
			return nil, err
		}
	}

	meta := Metadata{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Algorithm:       cfg.Algorithm,
		Hyperparams:     formatParams(clf.(model.ParameterGetter).GetParams()),
		DataPath:        cfg.DataPath,
		DataFingerprint: data.fingerprint,
		NRows:           data.tbl.NumRows(),
		NFeatures:       len(recipe.FeatureNames()),
		BaseRate:        data.baseRate,
		PositiveLabel:   recipe.PositiveLabel(),
		Seed:            cfg.Seed,
		Resampling:      cfg.Resampling,
		Metrics:         eval,
	}

	logger.Info().
		Str(log.ArtifactIDKey, meta.ID).
		Float64(log.AccuracyKey, eval.Accuracy).
		Float64(log.AUCKey, eval.AUROC).
		Int64(log.DurationMsKey, time.Since(start).Milliseconds()).
		Msg("training finished")

	return &Artifact{
		Version: ArtifactVersion,
		Recipe:  recipe,
		Model:   clf,
		Meta:    meta,
	}, nil
}

// TuneConfig drives a hyperparameter search run.
type TuneConfig struct {
	// DataPath points at the churn CSV in the canonical schema.
	DataPath string

	// Algorithm selects the estimator; see Algorithms. Default logreg.
	Algorithm string

	// Grid holds the candidate values per hyperparameter. Nil selects
	// DefaultGrid for the algorithm.
	Grid model_selection.ParamGrid

	// Metric names the scorer driving candidate selection: accuracy,
	// f1, log_loss or roc_auc. Default roc_auc.
	Metric string

	// NFolds is the stratified fold count on the training split.
	// Default 5.
	NFolds int

	// NIter > 0 samples that many candidates at random instead of
	// sweeping the full grid.
	NIter int

	// TestSize is the held-out fraction of rows. Default 0.25.
	TestSize float64

	// Seed drives the split, the fold shuffle, the candidate draw and
	// the estimator.
	Seed int64

	// PlotDir, when set, receives roc.png and pr.png rendered from
	// the held-out predictions of the refitted best model.
	PlotDir string
}

func (cfg *TuneConfig) normalize() error {
	if cfg.DataPath == "" {
		return kiterrors.NewValueError("Tune", "DataPath is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmLogReg
	}
	if _, err := NewClassifier(cfg.Algorithm, cfg.Seed); err != nil {
		return err
	}
	if cfg.Grid == nil {
		cfg.Grid = DefaultGrid(cfg.Algorithm)
	}
	if cfg.Metric == "" {
		cfg.Metric = "roc_auc"
	}
	if cfg.NFolds == 0 {
		cfg.NFolds = 5
	}
	if cfg.NFolds < 2 {
		return kiterrors.NewValueError("Tune", "NFolds must be at least 2")
	}
	if cfg.TestSize == 0 {
		cfg.TestSize = 0.25
	}
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		return kiterrors.NewValueError("Tune", "TestSize must be in (0, 1)")
	}
	return nil
}

// Tune searches the hyperparameter grid with stratified k-fold
// cross-validation on the training split, refits the best candidate on
// the whole training split, and evaluates it on the held-out rows.
// The returned artifact records both the cross-validated score and the
// held-out metrics; the candidate slice lists every parameter set that
// was tried, ordered best first by the chosen metric.
func Tune(ctx context.Context, cfg TuneConfig) (*Artifact, []model_selection.CandidateResult, error) {
	start := time.Now()
	if err := cfg.normalize(); err != nil {
		return nil, nil, err
	}

	scorer, err := model_selection.ScorerByName(cfg.Metric)
	if err != nil {
		return nil, nil, err
	}

	data, err := loadTrainingData(cfg.DataPath)
	if err != nil {
		return nil, nil, err
	}

	logger := log.Component("workflow")
	logger.Info().
		Str(log.AlgorithmKey, cfg.Algorithm).
		Int(log.SamplesKey, data.tbl.NumRows()).
		Str("metric", cfg.Metric).
		Int("n_folds", cfg.NFolds).
		Int64(log.RandomSeedKey, cfg.Seed).
		Msg("tuning started")

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	trainTbl, testTbl, err := splitTable(data.tbl, cfg.TestSize, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}

	recipe := DefaultRecipe()
	if err := recipe.Fit(trainTbl); err != nil {
		return nil, nil, err
	}
	XTrain, yTrain, err := transformSplit(recipe, trainTbl)
	if err != nil {
		return nil, nil, err
	}
	XTest, yTest, err := transformSplit(recipe, testTbl)
	if err != nil {
		return nil, nil, err
	}

	factory := func() model_selection.Estimator {
		clf, ferr := NewClassifier(cfg.Algorithm, cfg.Seed)
		if ferr != nil {
			return nil
		}
		est, _ := clf.(model_selection.Estimator)
		return est
	}
	splitter := model_selection.NewStratifiedKFold(cfg.NFolds, true, int(cfg.Seed))

	var search *model_selection.GridSearchCV
	if cfg.NIter > 0 {
		rs := model_selection.NewRandomizedSearchCV(factory, cfg.Grid, splitter, scorer, cfg.NIter, int(cfg.Seed))
		if err := rs.Fit(XTrain, yTrain); err != nil {
			return nil, nil, err
		}
		search = &rs.GridSearchCV
	} else {
		search = model_selection.NewGridSearchCV(factory, cfg.Grid, splitter, scorer)
		if err := search.Fit(XTrain, yTrain); err != nil {
			return nil, nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	best, ok := search.BestEstimator.(model.Classifier)
	if !ok {
		return nil, nil, kiterrors.NewValueError("Tune", "best estimator is not a classifier")
	}

	scores, preds, err := predictVectors(best, XTest)
	if err != nil {
		return nil, nil, err
	}
	eval, err := evaluatePredictions(yTest, scores, preds)
	if err != nil {
		return nil, nil, err
	}
	if cfg.PlotDir != "" {
		if err := renderPlots(cfg.PlotDir, yTest, scores); err != nil {
			return nil, nil, err
		}
	}

	meta := Metadata{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Algorithm:       cfg.Algorithm,
		Hyperparams:     formatParams(best.(model.ParameterGetter).GetParams()),
		DataPath:        cfg.DataPath,
		DataFingerprint: data.fingerprint,
		NRows:           data.tbl.NumRows(),
		NFeatures:       len(recipe.FeatureNames()),
		BaseRate:        data.baseRate,
		PositiveLabel:   recipe.PositiveLabel(),
		Seed:            cfg.Seed,
		CVMetric:        cfg.Metric,
		CVScore:         search.BestScore,
		Metrics:         eval,
	}

	logger.Info().
		Str(log.ArtifactIDKey, meta.ID).
		Int("n_candidates", len(search.Results)).
		Float64("best_cv_score", search.BestScore).
		Float64(log.AccuracyKey, eval.Accuracy).
		Float64(log.AUCKey, eval.AUROC).
		Int64(log.DurationMsKey, time.Since(start).Milliseconds()).
		Msg("tuning finished")

	ranked := make([]model_selection.CandidateResult, len(search.Results))
	copy(ranked, search.Results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scorer.Better(ranked[i].MeanScore, ranked[j].MeanScore)
	})

	return &Artifact{
		Version: ArtifactVersion,
		Recipe:  recipe,
		Model:   best,
		Meta:    meta,
	}, ranked, nil
}

// Evaluate scores an artifact against a labeled table in the canonical
// schema, using the artifact's own recipe for preprocessing.
func Evaluate(ctx context.Context, a *Artifact, tbl *dataset.Table) (*Evaluation, error) {
	if a == nil {
		return nil, kiterrors.NewValueError("Evaluate", "artifact is nil")
	}
	if err := a.check("Evaluate"); err != nil {
		return nil, err
	}
	if err := ValidateTable(tbl); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	X, y, err := transformSplit(a.Recipe, tbl)
	if err != nil {
		return nil, err
	}
	scores, preds, err := predictVectors(a.Model, X)
	if err != nil {
		return nil, err
	}
	return evaluatePredictions(y, scores, preds)
}

// Prediction is the scored outcome for one customer.
type Prediction struct {
	// Label is the predicted raw class name, e.g. "Yes".
	Label string `json:"label"`
	// LabelCode is the predicted encoded class, 0 or 1.
	LabelCode int `json:"label_code"`
	// Probability is the estimated probability of the positive class,
	// regardless of which label was predicted.
	Probability float64 `json:"probability"`
	// PositiveLabel names the class Probability refers to.
	PositiveLabel string `json:"positive_label"`
	// ModelID identifies the artifact that produced the score.
	ModelID string `json:"model_id"`
}

// PredictRow validates and scores a single customer with a loaded
// artifact.
func PredictRow(a *Artifact, in *CustomerInput) (*Prediction, error) {
	if a == nil {
		return nil, kiterrors.NewValueError("PredictRow", "artifact is nil")
	}
	if err := a.check("PredictRow"); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, kiterrors.NewValueError("PredictRow", "input is nil")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	x, err := a.Recipe.TransformRow(in.Fields())
	if err != nil {
		return nil, err
	}
	pred, err := a.Model.Predict(x)
	if err != nil {
		return nil, err
	}
	proba, err := a.Model.PredictProba(x)
	if err != nil {
		return nil, err
	}

	code := int(pred.At(0, 0))
	label := ""
	if classes := a.Recipe.TargetClasses(); code >= 0 && code < len(classes) {
		label = classes[code]
	}
	return &Prediction{
		Label:         label,
		LabelCode:     code,
		Probability:   proba.At(0, positiveColumn(a.Model.Classes())),
		PositiveLabel: a.Meta.PositiveLabel,
		ModelID:       a.Meta.ID,
	}, nil
}

// DefaultRecipe is the preprocessing pipeline of the workflow: drop
// the identifier, impute missing numerics with the training median,
// standardize numerics, and one-hot encode the categoricals with the
// first level dropped. Levels that never appeared in the training
// split encode as zeros instead of failing, so serving keeps working
// when a rare but schema-valid category shows up live.
func DefaultRecipe() *preprocessing.Recipe {
	return preprocessing.NewRecipe(TargetColumn).
		Drop(IDColumn).
		ImputeNumeric("median").
		Normalize().
		EncodeCategorical(
			preprocessing.WithDropFirst(true),
			preprocessing.WithHandleUnknown(preprocessing.HandleUnknownIgnore))
}

// NewClassifier constructs an unfitted estimator for the named
// algorithm with its stock hyperparameters.
func NewClassifier(algorithm string, seed int64) (model.Classifier, error) {
	switch algorithm {
	case AlgorithmLogReg:
		return linear_model.NewLogisticRegression(
			linear_model.WithLRMaxIter(1000),
			linear_model.WithLRRandomState(seed)), nil
	case AlgorithmKNN:
		return neighbors.NewKNeighborsClassifier(), nil
	case AlgorithmTree:
		return tree.NewDecisionTreeClassifier(tree.WithTreeRandomState(seed)), nil
	case AlgorithmForest:
		return ensemble.NewRandomForestClassifier(ensemble.WithForestRandomState(seed)), nil
	case AlgorithmENet:
		return linear_model.NewLogisticRegression(
			linear_model.WithLRPenalty("elasticnet"),
			linear_model.WithLRL1Ratio(0.5),
			linear_model.WithLRMaxIter(1000),
			linear_model.WithLRRandomState(seed)), nil
	default:
		return nil, kiterrors.NewValueError("NewClassifier",
			"unknown algorithm "+strconv.Quote(algorithm)+" (want logreg, knn, tree, forest or enet)")
	}
}

// DefaultGrid returns the stock search space for an algorithm. Values
// carry the exact types the estimator's SetParams expects.
func DefaultGrid(algorithm string) model_selection.ParamGrid {
	switch algorithm {
	case AlgorithmLogReg:
		return model_selection.ParamGrid{
			"C":       []interface{}{0.01, 0.1, 1.0, 10.0},
			"penalty": []interface{}{"l2", "l1"},
		}
	case AlgorithmKNN:
		return model_selection.ParamGrid{
			"n_neighbors": []interface{}{5, 11, 21, 41},
			"weights":     []interface{}{"uniform", "distance"},
		}
	case AlgorithmTree:
		return model_selection.ParamGrid{
			"max_depth":        []interface{}{3, 5, 10, -1},
			"min_samples_leaf": []interface{}{1, 5, 20},
		}
	case AlgorithmForest:
		return model_selection.ParamGrid{
			"n_estimators":     []interface{}{100, 200},
			"max_features":     []interface{}{ensemble.MaxFeaturesSqrt, ensemble.MaxFeaturesLog2},
			"min_samples_leaf": []interface{}{1, 5},
		}
	case AlgorithmENet:
		// penalty strength and mixture, the glmnet pair.
		return model_selection.ParamGrid{
			"C":        []interface{}{0.01, 0.1, 1.0, 10.0},
			"l1_ratio": []interface{}{0.25, 0.5, 0.75},
		}
	default:
		return nil
	}
}

type paramKind int

const (
	paramString paramKind = iota
	paramInt
	paramInt64
	paramFloat
	paramBool
)

var paramKinds = map[string]map[string]paramKind{
	AlgorithmLogReg: {
		"penalty":       paramString,
		"C":             paramFloat,
		"fit_intercept": paramBool,
		"class_weight":  paramString,
		"random_state":  paramInt64,
		"max_iter":      paramInt,
		"l1_ratio":      paramFloat,
		"tol":           paramFloat,
	},
	AlgorithmKNN: {
		"n_neighbors": paramInt,
		"weights":     paramString,
		"metric":      paramString,
		"n_jobs":      paramInt,
	},
	AlgorithmTree: {
		"criterion":         paramString,
		"max_depth":         paramInt,
		"min_samples_split": paramInt,
		"min_samples_leaf":  paramInt,
		"max_features":      paramInt,
		"random_state":      paramInt64,
	},
	AlgorithmForest: {
		"n_estimators":      paramInt,
		"criterion":         paramString,
		"max_depth":         paramInt,
		"min_samples_split": paramInt,
		"min_samples_leaf":  paramInt,
		"max_features":      paramString,
		"bootstrap":         paramBool,
		"oob_score":         paramBool,
		"random_state":      paramInt64,
		"n_jobs":            paramInt,
	},
	// The logreg surface minus penalty; setting a different penalty
	// would silently turn enet back into plain logistic regression.
	AlgorithmENet: {
		"C":             paramFloat,
		"l1_ratio":      paramFloat,
		"fit_intercept": paramBool,
		"class_weight":  paramString,
		"random_state":  paramInt64,
		"max_iter":      paramInt,
		"tol":           paramFloat,
	},
}

// CoerceParams converts textual hyperparameter overrides into the
// exact types the algorithm's SetParams expects. Unknown names and
// unparseable values are rejected.
func CoerceParams(algorithm string, raw map[string]string) (map[string]interface{}, error) {
	kinds, ok := paramKinds[algorithm]
	if !ok {
		return nil, kiterrors.NewValueError("CoerceParams",
			"unknown algorithm "+strconv.Quote(algorithm))
	}
	params := make(map[string]interface{}, len(raw))
	for key, text := range raw {
		kind, known := kinds[key]
		if !known {
			return nil, kiterrors.NewValidationError(key,
				"is not a hyperparameter of "+algorithm, text)
		}
		switch kind {
		case paramString:
			params[key] = text
		case paramInt:
			v, err := strconv.Atoi(text)
			if err != nil {
				return nil, kiterrors.NewValidationError(key, "must be an integer", text)
			}
			params[key] = v
		case paramInt64:
			v, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return nil, kiterrors.NewValidationError(key, "must be an integer", text)
			}
			params[key] = v
		case paramFloat:
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, kiterrors.NewValidationError(key, "must be a number", text)
			}
			params[key] = v
		case paramBool:
			v, err := strconv.ParseBool(text)
			if err != nil {
				return nil, kiterrors.NewValidationError(key, "must be true or false", text)
			}
			params[key] = v
		}
	}
	return params, nil
}

type loadedData struct {
	tbl         *dataset.Table
	fingerprint string
	baseRate    float64
}

// loadTrainingData reads the CSV once, fingerprints the raw bytes and
// parses them against the canonical schema.
func loadTrainingData(path string) (*loadedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kiterrors.Wrapf(err, "reading %s", path)
	}
	tbl, err := dataset.ReadCSV(bytes.NewReader(raw), dataset.WithKinds(Kinds()))
	if err != nil {
		return nil, kiterrors.Wrapf(err, "parsing %s", path)
	}
	if err := ValidateTable(tbl); err != nil {
		return nil, err
	}
	rate, err := positiveRate(tbl)
	if err != nil {
		return nil, err
	}
	return &loadedData{tbl: tbl, fingerprint: Fingerprint(raw), baseRate: rate}, nil
}

// positiveRate is the share of churned customers over the whole table,
// the base rate the serving monitor is anchored to.
func positiveRate(tbl *dataset.Table) (float64, error) {
	y, err := targetLabels(tbl)
	if err != nil {
		return 0, err
	}
	n, _ := y.Dims()
	pos := 0.0
	for i := 0; i < n; i++ {
		pos += y.At(i, 0)
	}
	return pos / float64(n), nil
}

// targetLabels encodes the raw target column as a 0/1 column matrix,
// without consulting a recipe. Used for stratification and the base
// rate before any preprocessing is fitted.
func targetLabels(tbl *dataset.Table) (*mat.Dense, error) {
	col := tbl.Column(TargetColumn)
	if col == nil || col.Kind != dataset.Categorical {
		return nil, kiterrors.NewValueError("targetLabels",
			"table has no categorical "+TargetColumn+" column")
	}
	y := mat.NewDense(len(col.Strings), 1, nil)
	for i, v := range col.Strings {
		switch v {
		case "Yes":
			y.Set(i, 0, 1)
		case "No":
		default:
			return nil, kiterrors.NewValueError("targetLabels",
				"row "+strconv.Itoa(i+2)+": target must be Yes or No, got "+strconv.Quote(v))
		}
	}
	return y, nil
}

// splitTable splits a table into stratified train and test tables by
// routing row indices through TrainTestSplit.
func splitTable(tbl *dataset.Table, testSize float64, seed int64) (*dataset.Table, *dataset.Table, error) {
	n := tbl.NumRows()
	idx := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		idx.Set(i, 0, float64(i))
	}
	y, err := targetLabels(tbl)
	if err != nil {
		return nil, nil, err
	}

	idxTrain, idxTest, _, _, err := model_selection.TrainTestSplit(idx, y,
		model_selection.WithTestSize(testSize),
		model_selection.WithStratify(),
		model_selection.WithSeed(int(seed)))
	if err != nil {
		return nil, nil, err
	}

	trainTbl, err := tbl.Subset(matrixRows(idxTrain))
	if err != nil {
		return nil, nil, err
	}
	testTbl, err := tbl.Subset(matrixRows(idxTest))
	if err != nil {
		return nil, nil, err
	}
	return trainTbl, testTbl, nil
}

func matrixRows(m *mat.Dense) []int {
	n, _ := m.Dims()
	rows := make([]int, n)
	for i := range rows {
		rows[i] = int(m.At(i, 0))
	}
	return rows
}

// transformSplit runs a fitted recipe over one table, producing the
// feature matrix and encoded target.
func transformSplit(recipe *preprocessing.Recipe, tbl *dataset.Table) (*mat.Dense, *mat.VecDense, error) {
	X, err := recipe.Transform(tbl)
	if err != nil {
		return nil, nil, err
	}
	y, err := recipe.TransformTarget(tbl)
	if err != nil {
		return nil, nil, err
	}
	return X, y, nil
}

// rebalance applies the configured resampling to the training matrix.
func rebalance(mode string, X *mat.Dense, y *mat.VecDense, seed int64) (mat.Matrix, mat.Matrix, error) {
	switch mode {
	case ResampleUp:
		Xr, yr, _, err := resample.UpSample(X, y, resample.WithSeed(uint64(seed)))
		return Xr, yr, err
	case ResampleDown:
		Xr, yr, _, err := resample.DownSample(X, y, resample.WithSeed(uint64(seed)))
		return Xr, yr, err
	default:
		return X, y, nil
	}
}

// predictVectors runs a fitted classifier over X and returns the
// positive-class scores and the hard predictions as vectors.
func predictVectors(clf model.Classifier, X mat.Matrix) (scores, preds *mat.VecDense, err error) {
	pred, err := clf.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	proba, err := clf.PredictProba(X)
	if err != nil {
		return nil, nil, err
	}

	n, _ := pred.Dims()
	posCol := positiveColumn(clf.Classes())
	scores = mat.NewVecDense(n, nil)
	preds = mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		scores.SetVec(i, proba.At(i, posCol))
		preds.SetVec(i, pred.At(i, 0))
	}
	return scores, preds, nil
}

// positiveColumn locates class 1 in a fitted classifier's class order.
func positiveColumn(classes []int) int {
	for i, c := range classes {
		if c == 1 {
			return i
		}
	}
	return len(classes) - 1
}

// evaluatePredictions computes the full held-out metric set.
func evaluatePredictions(yTrue, scores, preds *mat.VecDense) (*Evaluation, error) {
	acc, err := metrics.Accuracy(yTrue, preds)
	if err != nil {
		return nil, err
	}
	precision, err := metrics.Precision(yTrue, preds)
	if err != nil {
		return nil, err
	}
	recall, err := metrics.Recall(yTrue, preds)
	if err != nil {
		return nil, err
	}
	f1, err := metrics.F1Score(yTrue, preds)
	if err != nil {
		return nil, err
	}
	logLoss, err := metrics.BinaryLogLoss(yTrue, scores)
	if err != nil {
		return nil, err
	}
	auroc, err := metrics.AUC(yTrue, scores)
	if err != nil {
		return nil, err
	}
	auprc, err := metrics.AveragePrecision(yTrue, scores)
	if err != nil {
		return nil, err
	}
	cm, err := metrics.NewConfusionMatrix(yTrue, preds)
	if err != nil {
		return nil, err
	}

	return &Evaluation{
		Accuracy:  acc,
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		LogLoss:   logLoss,
		AUROC:     auroc,
		AUPRC:     auprc,
		Confusion: *cm,
		NTest:     yTrue.Len(),
	}, nil
}

// renderPlots writes the ROC and precision-recall curves of the
// held-out predictions as PNGs.
func renderPlots(dir string, yTrue, scores *mat.VecDense) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kiterrors.Wrapf(err, "creating plot dir %s", dir)
	}
	if err := metrics.SaveROCPlot(filepath.Join(dir, "roc.png"), yTrue, scores); err != nil {
		return err
	}
	return metrics.SavePRPlot(filepath.Join(dir, "pr.png"), yTrue, scores)
}
