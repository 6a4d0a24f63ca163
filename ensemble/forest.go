// Package ensemble provides estimators that combine many base models.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	"github.com/YuminosukeSato/churnkit/core/parallel"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/tree"
)

// Feature subsampling modes per split.
const (
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesLog2 = "log2"
	MaxFeaturesAll  = "all"
)

// RandomForestClassifier is a bagging ensemble of decorrelated CART trees.
// Compatible with scikit-learn's RandomForestClassifier: bootstrap samples,
// per-split feature subsampling, soft-vote aggregation, and an optional
// out-of-bag estimate of the generalization accuracy.
type RandomForestClassifier struct {
	state *model.StateManager

	// Hyperparameters
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	oobScore        bool
	randomState     int64
	nJobs           int

	// Learned parameters
	trees_     []*tree.DecisionTreeClassifier
	classes_   []int
	nClasses_  int
	nFeatures_ int
	oobScore_  float64

	rand *rand.Rand
}

// RandomForestOption is a functional option for RandomForestClassifier
type RandomForestOption func(*RandomForestClassifier)

// NewRandomForestClassifier creates a new RandomForestClassifier
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     MaxFeaturesSqrt,
		bootstrap:       true,
		oobScore:        false,
		randomState:     -1,
		nJobs:           -1,
	}

	for _, opt := range opts {
		opt(rf)
	}

	if rf.randomState >= 0 {
		rf.rand = rand.New(rand.NewSource(rf.randomState))
	} else {
		rf.rand = rand.New(rand.NewSource(rand.Int63()))
	}

	return rf
}

// WithForestTrees sets the number of trees
func WithForestTrees(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nEstimators = n
	}
}

// WithForestCriterion sets the split criterion ("gini" or "entropy")
func WithForestCriterion(criterion string) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.criterion = criterion
	}
}

// WithForestMaxDepth sets the maximum depth of each tree
func WithForestMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxDepth = depth
	}
}

// WithForestMinSamplesSplit sets the minimum samples required to split
func WithForestMinSamplesSplit(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.minSamplesSplit = n
	}
}

// WithForestMinSamplesLeaf sets the minimum samples required in each leaf
func WithForestMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.minSamplesLeaf = n
	}
}

// WithForestMaxFeatures sets the per-split feature budget ("sqrt", "log2", "all")
func WithForestMaxFeatures(mode string) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxFeatures = mode
	}
}

// WithForestBootstrap sets whether trees train on bootstrap samples
func WithForestBootstrap(bootstrap bool) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.bootstrap = bootstrap
	}
}

// WithForestOOBScore enables the out-of-bag accuracy estimate
func WithForestOOBScore(enabled bool) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.oobScore = enabled
	}
}

// WithForestRandomState sets the random seed
func WithForestRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.randomState = seed
		if seed >= 0 {
			rf.rand = rand.New(rand.NewSource(seed))
		}
	}
}

// WithForestJobs caps the number of workers used to grow trees
func WithForestJobs(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nJobs = n
	}
}

// Fit grows the forest. Trees are trained in parallel; the per-tree seeds
// and bootstrap draws are taken from the forest seed first so the result
// does not depend on worker scheduling.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return kiterrors.NewModelError("RandomForestClassifier.Fit", "empty data", kiterrors.ErrEmptyData)
	}
	if nSamples != yRows {
		return kiterrors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return kiterrors.NewValueError("RandomForestClassifier.Fit",
			fmt.Sprintf("y must be a column vector, got shape (%d, %d)", yRows, yCols))
	}
	if rf.nEstimators < 1 {
		return kiterrors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}
	if rf.oobScore && !rf.bootstrap {
		return kiterrors.NewValidationError("oob_score", "requires bootstrap sampling", rf.oobScore)
	}
	featuresPerSplit, err := rf.resolveMaxFeatures(nFeatures)
	if err != nil {
		return err
	}

	rf.nFeatures_ = nFeatures
	rf.extractClasses(y)

	// Draw all randomness up front, then grow trees concurrently
	treeSeeds := make([]int64, rf.nEstimators)
	bootstraps := make([][]int, rf.nEstimators)
	for b := 0; b < rf.nEstimators; b++ {
		treeSeeds[b] = rf.rand.Int63()
		idx := make([]int, nSamples)
		if rf.bootstrap {
			for i := range idx {
				idx[i] = rf.rand.Intn(nSamples)
			}
		} else {
			for i := range idx {
				idx[i] = i
			}
		}
		bootstraps[b] = idx
	}

	rf.trees_ = make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	errs := make([]error, rf.nEstimators)

	parallel.ParallelizeWithWorkers(rf.nEstimators, rf.nJobs, func(start, end int) {
		for b := start; b < end; b++ {
			XBoot, yBoot := takeRows(X, y, bootstraps[b])
			t := tree.NewDecisionTreeClassifier(
				tree.WithCriterion(rf.criterion),
				tree.WithMaxDepth(rf.maxDepth),
				tree.WithMinSamplesSplit(rf.minSamplesSplit),
				tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
				tree.WithMaxFeatures(featuresPerSplit),
				tree.WithTreeRandomState(treeSeeds[b]),
			)
			if err := t.Fit(XBoot, yBoot); err != nil {
				errs[b] = err
				continue
			}
			rf.trees_[b] = t
		}
	})

	for b, err := range errs {
		if err != nil {
			return kiterrors.Wrapf(err, "growing tree %d", b)
		}
	}

	rf.state.SetDimensions(nFeatures, nSamples)
	rf.state.SetFitted()

	if rf.oobScore {
		if err := rf.computeOOBScore(X, y, bootstraps); err != nil {
			return err
		}
	}
	return nil
}

// extractClasses identifies unique class labels over the full training set,
// so trees that miss a class in their bootstrap still vote in a shared space.
func (rf *RandomForestClassifier) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[int]bool)
	for i := 0; i < rows; i++ {
		classMap[int(y.At(i, 0))] = true
	}

	rf.classes_ = make([]int, 0, len(classMap))
	for class := range classMap {
		rf.classes_ = append(rf.classes_, class)
	}
	sort.Ints(rf.classes_)
	rf.nClasses_ = len(rf.classes_)
}

func (rf *RandomForestClassifier) resolveMaxFeatures(nFeatures int) (int, error) {
	switch rf.maxFeatures {
	case MaxFeaturesSqrt:
		n := int(math.Sqrt(float64(nFeatures)))
		if n < 1 {
			n = 1
		}
		return n, nil
	case MaxFeaturesLog2:
		n := int(math.Log2(float64(nFeatures)))
		if n < 1 {
			n = 1
		}
		return n, nil
	case MaxFeaturesAll:
		return nFeatures, nil
	default:
		return 0, kiterrors.NewValidationError("max_features",
			"must be sqrt, log2 or all", rf.maxFeatures)
	}
}

// takeRows materializes a row subset of X and y.
func takeRows(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, c := X.Dims()
	XOut := mat.NewDense(len(indices), c, nil)
	yOut := mat.NewDense(len(indices), 1, nil)
	for out, in := range indices {
		for j := 0; j < c; j++ {
			XOut.Set(out, j, X.At(in, j))
		}
		yOut.Set(out, 0, y.At(in, 0))
	}
	return XOut, yOut
}

// computeOOBScore estimates accuracy from the samples each tree never saw.
func (rf *RandomForestClassifier) computeOOBScore(X, y mat.Matrix, bootstraps [][]int) error {
	nSamples, _ := X.Dims()

	votes := make([][]float64, nSamples)
	for i := range votes {
		votes[i] = make([]float64, rf.nClasses_)
	}
	covered := make([]bool, nSamples)

	classIndex := make(map[int]int, rf.nClasses_)
	for i, c := range rf.classes_ {
		classIndex[c] = i
	}

	for b, t := range rf.trees_ {
		inBag := make([]bool, nSamples)
		for _, i := range bootstraps[b] {
			inBag[i] = true
		}

		oob := make([]int, 0, nSamples)
		for i := 0; i < nSamples; i++ {
			if !inBag[i] {
				oob = append(oob, i)
			}
		}
		if len(oob) == 0 {
			continue
		}

		XOob, _ := takeRows(X, y, oob)
		probas, err := t.PredictProba(XOob)
		if err != nil {
			return kiterrors.Wrapf(err, "out-of-bag predictions for tree %d", b)
		}

		treeClasses := t.Classes()
		for row, i := range oob {
			for col, class := range treeClasses {
				votes[i][classIndex[class]] += probas.At(row, col)
			}
			covered[i] = true
		}
	}

	correct, total := 0, 0
	for i := 0; i < nSamples; i++ {
		if !covered[i] {
			continue
		}
		total++
		best := 0
		for c := 1; c < rf.nClasses_; c++ {
			if votes[i][c] > votes[i][best] {
				best = c
			}
		}
		if rf.classes_[best] == int(y.At(i, 0)) {
			correct++
		}
	}

	if total == 0 {
		kiterrors.Warn(kiterrors.NewUndefinedMetricWarning("oob_score",
			"no sample was ever out of bag; grow more trees", 0))
		rf.oobScore_ = 0
		return nil
	}
	rf.oobScore_ = float64(correct) / float64(total)
	return nil
}

// Predict returns the soft-vote class for each row of X.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		best := 0
		for c := 1; c < rf.nClasses_; c++ {
			if probas.At(i, c) > probas.At(i, best) {
				best = c
			}
		}
		predictions.Set(i, 0, float64(rf.classes_[best]))
	}
	return predictions, nil
}

// PredictProba returns class probabilities averaged over all trees,
// one column per class in Classes() order.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}

	nSamples, nFeatures := X.Dims()
	if nFeatures != rf.nFeatures_ {
		return nil, kiterrors.NewDimensionError("RandomForestClassifier.PredictProba", rf.nFeatures_, nFeatures, 1)
	}

	classIndex := make(map[int]int, rf.nClasses_)
	for i, c := range rf.classes_ {
		classIndex[c] = i
	}

	// Collect per-tree probabilities in parallel, then average
	perTree := make([]mat.Matrix, len(rf.trees_))
	errs := make([]error, len(rf.trees_))
	parallel.ParallelizeWithWorkers(len(rf.trees_), rf.nJobs, func(start, end int) {
		for b := start; b < end; b++ {
			perTree[b], errs[b] = rf.trees_[b].PredictProba(X)
		}
	})
	for b, err := range errs {
		if err != nil {
			return nil, kiterrors.Wrapf(err, "predictions from tree %d", b)
		}
	}

	probas := mat.NewDense(nSamples, rf.nClasses_, nil)
	for b, treeProbas := range perTree {
		treeClasses := rf.trees_[b].Classes()
		for i := 0; i < nSamples; i++ {
			for col, class := range treeClasses {
				j := classIndex[class]
				probas.Set(i, j, probas.At(i, j)+treeProbas.At(i, col))
			}
		}
	}

	scale := 1.0 / float64(len(rf.trees_))
	probas.Scale(scale, probas)
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels.
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}

	nSamples, _ := X.Dims()
	yRows, _ := y.Dims()
	if yRows != nSamples {
		return 0, kiterrors.NewDimensionError("RandomForestClassifier.Score", nSamples, yRows, 0)
	}

	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples), nil
}

// OOBScore returns the out-of-bag accuracy estimate.
func (rf *RandomForestClassifier) OOBScore() (float64, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "OOBScore"); err != nil {
		return 0, err
	}
	if !rf.oobScore {
		return 0, kiterrors.NewValueError("RandomForestClassifier.OOBScore",
			"oob_score was not enabled before fitting")
	}
	return rf.oobScore_, nil
}

// GetFeatureImportances returns impurity-decrease importances averaged over
// the forest. The values sum to 1 when any tree split.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	importances := make([]float64, rf.nFeatures_)
	if len(rf.trees_) == 0 {
		return importances
	}

	for _, t := range rf.trees_ {
		for j, imp := range t.GetFeatureImportances() {
			importances[j] += imp
		}
	}

	sum := 0.0
	for _, imp := range importances {
		sum += imp
	}
	if sum > 0 {
		for j := range importances {
			importances[j] /= sum
		}
	}
	return importances
}

// IsFitted returns whether the model has been fitted.
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// Classes returns the class labels in prediction order.
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// NEstimators returns the number of fitted trees.
func (rf *RandomForestClassifier) NEstimators() int {
	return len(rf.trees_)
}

// GetParams returns the model hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"oob_score":         rf.oobScore,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams sets the model hyperparameters
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "n_estimators":
			rf.nEstimators = value.(int)
		case "criterion":
			rf.criterion = value.(string)
		case "max_depth":
			rf.maxDepth = value.(int)
		case "min_samples_split":
			rf.minSamplesSplit = value.(int)
		case "min_samples_leaf":
			rf.minSamplesLeaf = value.(int)
		case "max_features":
			rf.maxFeatures = value.(string)
		case "bootstrap":
			rf.bootstrap = value.(bool)
		case "oob_score":
			rf.oobScore = value.(bool)
		case "random_state":
			rf.randomState = value.(int64)
			if rf.randomState >= 0 {
				rf.rand = rand.New(rand.NewSource(rf.randomState))
			}
		case "n_jobs":
			rf.nJobs = value.(int)
		default:
			return kiterrors.NewValueError("RandomForestClassifier.SetParams",
				"unknown parameter: "+key)
		}
	}
	return nil
}

// forestGobState mirrors the unexported fields for gob serialization.
type forestGobState struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	OOBEnabled      bool
	RandomState     int64
	NJobs           int

	Trees     []*tree.DecisionTreeClassifier
	Classes   []int
	NFeatures int
	OOBScore  float64
	Fitted    bool
}

// GobEncode serializes the forest including every fitted tree.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	state := forestGobState{
		NEstimators:     rf.nEstimators,
		Criterion:       rf.criterion,
		MaxDepth:        rf.maxDepth,
		MinSamplesSplit: rf.minSamplesSplit,
		MinSamplesLeaf:  rf.minSamplesLeaf,
		MaxFeatures:     rf.maxFeatures,
		Bootstrap:       rf.bootstrap,
		OOBEnabled:      rf.oobScore,
		RandomState:     rf.randomState,
		NJobs:           rf.nJobs,
		Trees:           rf.trees_,
		Classes:         rf.classes_,
		NFeatures:       rf.nFeatures_,
		OOBScore:        rf.oobScore_,
		Fitted:          rf.state.IsFitted(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, kiterrors.Wrap(err, "RandomForestClassifier.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a forest serialized by GobEncode.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var state forestGobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return kiterrors.Wrap(err, "RandomForestClassifier.GobDecode")
	}

	rf.nEstimators = state.NEstimators
	rf.criterion = state.Criterion
	rf.maxDepth = state.MaxDepth
	rf.minSamplesSplit = state.MinSamplesSplit
	rf.minSamplesLeaf = state.MinSamplesLeaf
	rf.maxFeatures = state.MaxFeatures
	rf.bootstrap = state.Bootstrap
	rf.oobScore = state.OOBEnabled
	rf.randomState = state.RandomState
	rf.nJobs = state.NJobs
	rf.trees_ = state.Trees
	rf.classes_ = state.Classes
	rf.nClasses_ = len(state.Classes)
	rf.nFeatures_ = state.NFeatures
	rf.oobScore_ = state.OOBScore

	rf.state = model.NewStateManager()
	if state.Fitted {
		rf.state.SetFitted()
	}
	if rf.randomState >= 0 {
		rf.rand = rand.New(rand.NewSource(rf.randomState))
	} else {
		rf.rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return nil
}

// String returns the string representation of the model
func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_features=%s, fitted=%t)",
		rf.nEstimators, rf.maxFeatures, rf.state.IsFitted())
}
