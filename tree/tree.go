// Package tree provides decision tree based estimators.
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/core/model"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Splits with an impurity decrease below this are not worth taking.
const minImpurityDecrease = 1e-7

// DecisionTreeClassifier implements a CART classification tree.
// Compatible with scikit-learn's DecisionTreeClassifier: exhaustive search
// over midpoint thresholds, gini or entropy impurity, pre-pruning through
// max_depth and the min_samples constraints.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // Maximum tree depth, <= 0 means unlimited
	minSamplesSplit int    // Minimum samples required to split a node
	minSamplesLeaf  int    // Minimum samples required in each leaf
	maxFeatures     int    // Features considered per split, <= 0 means all
	randomState     int64  // Seed for the feature subsampling

	// Learned parameters
	root         *treeNode
	classes_     []int
	nClasses_    int
	nFeatures_   int
	importances_ []float64

	rand *rand.Rand
}

// treeNode is one node of the fitted tree. Fields are exported so the whole
// tree survives a gob round trip.
type treeNode struct {
	Feature   int       // Split feature index, -1 for leaves
	Threshold float64   // Split threshold, samples with x <= threshold go left
	Left      *treeNode
	Right     *treeNode
	Counts    []float64 // Class histogram of the training samples in this node
	Samples   int
	Leaf      bool
}

// DecisionTreeOption is a functional option for DecisionTreeClassifier
type DecisionTreeOption func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...DecisionTreeOption) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     0,
		randomState:     -1,
	}

	for _, opt := range opts {
		opt(dt)
	}

	if dt.randomState >= 0 {
		dt.rand = rand.New(rand.NewSource(dt.randomState))
	} else {
		dt.rand = rand.New(rand.NewSource(rand.Int63()))
	}

	return dt
}

// WithCriterion sets the impurity criterion ("gini" or "entropy")
func WithCriterion(criterion string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth sets the maximum depth of the tree
func WithMaxDepth(depth int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum samples required to split a node
func WithMinSamplesSplit(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf
func WithMinSamplesLeaf(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures caps the number of features considered per split.
// Random forests use this for decorrelated trees; 0 means all features.
func WithMaxFeatures(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = n
	}
}

// WithTreeRandomState sets the seed for feature subsampling
func WithTreeRandomState(seed int64) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
		if seed >= 0 {
			dt.rand = rand.New(rand.NewSource(seed))
		}
	}
}

// Fit grows the tree on the training data.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return kiterrors.NewModelError("DecisionTreeClassifier.Fit", "empty data", kiterrors.ErrEmptyData)
	}
	if nSamples != yRows {
		return kiterrors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return kiterrors.NewValueError("DecisionTreeClassifier.Fit",
			fmt.Sprintf("y must be a column vector, got shape (%d, %d)", yRows, yCols))
	}
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return kiterrors.NewValidationError("criterion", "must be gini or entropy", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return kiterrors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return kiterrors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}

	// Map labels onto contiguous class indices
	classMap := make(map[int]bool)
	for i := 0; i < nSamples; i++ {
		classMap[int(y.At(i, 0))] = true
	}
	dt.classes_ = make([]int, 0, len(classMap))
	for class := range classMap {
		dt.classes_ = append(dt.classes_, class)
	}
	sort.Ints(dt.classes_)
	dt.nClasses_ = len(dt.classes_)
	dt.nFeatures_ = nFeatures

	classIndex := make(map[int]int, dt.nClasses_)
	for i, c := range dt.classes_ {
		classIndex[c] = i
	}
	labels := make([]int, nSamples)
	for i := 0; i < nSamples; i++ {
		labels[i] = classIndex[int(y.At(i, 0))]
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}

	dt.importances_ = make([]float64, nFeatures)
	dt.root = dt.grow(X, labels, indices, 0, nSamples)
	dt.normalizeImportances()

	dt.state.SetDimensions(nFeatures, nSamples)
	dt.state.SetFitted()
	return nil
}

// grow builds the subtree for the given sample indices.
func (dt *DecisionTreeClassifier) grow(X mat.Matrix, labels, indices []int, depth, nTotal int) *treeNode {
	counts := make([]float64, dt.nClasses_)
	for _, i := range indices {
		counts[labels[i]]++
	}

	node := &treeNode{
		Feature: -1,
		Counts:  counts,
		Samples: len(indices),
		Leaf:    true,
	}

	impurity := dt.impurity(counts, float64(len(indices)))
	if impurity == 0 {
		return node
	}
	if len(indices) < dt.minSamplesSplit {
		return node
	}
	if dt.maxDepth > 0 && depth >= dt.maxDepth {
		return node
	}

	feature, threshold, gain, ok := dt.bestSplit(X, labels, indices, impurity)
	if !ok {
		return node
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if X.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	// Weighted impurity decrease, normalized later
	dt.importances_[feature] += float64(len(indices)) / float64(nTotal) * gain

	node.Feature = feature
	node.Threshold = threshold
	node.Leaf = false
	node.Left = dt.grow(X, labels, left, depth+1, nTotal)
	node.Right = dt.grow(X, labels, right, depth+1, nTotal)
	return node
}

// bestSplit searches midpoint thresholds over the candidate features and
// returns the split with the largest impurity decrease.
func (dt *DecisionTreeClassifier) bestSplit(X mat.Matrix, labels, indices []int, parentImpurity float64) (int, float64, float64, bool) {
	n := float64(len(indices))

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	for _, feature := range dt.candidateFeatures() {
		// Sort the node samples by this feature
		order := make([]int, len(indices))
		copy(order, indices)
		sort.Slice(order, func(a, b int) bool {
			return X.At(order[a], feature) < X.At(order[b], feature)
		})

		leftCounts := make([]float64, dt.nClasses_)
		rightCounts := make([]float64, dt.nClasses_)
		for _, i := range order {
			rightCounts[labels[i]]++
		}

		for pos := 1; pos < len(order); pos++ {
			moved := labels[order[pos-1]]
			leftCounts[moved]++
			rightCounts[moved]--

			prev := X.At(order[pos-1], feature)
			cur := X.At(order[pos], feature)
			if prev == cur {
				continue
			}
			if pos < dt.minSamplesLeaf || len(order)-pos < dt.minSamplesLeaf {
				continue
			}

			nLeft := float64(pos)
			nRight := n - nLeft
			weighted := nLeft/n*dt.impurity(leftCounts, nLeft) +
				nRight/n*dt.impurity(rightCounts, nRight)
			gain := parentImpurity - weighted

			// Ties keep the first split found
			if gain > bestGain+minImpurityDecrease {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (prev + cur) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

// candidateFeatures returns the feature indices searched at one split.
func (dt *DecisionTreeClassifier) candidateFeatures() []int {
	if dt.maxFeatures <= 0 || dt.maxFeatures >= dt.nFeatures_ {
		features := make([]int, dt.nFeatures_)
		for i := range features {
			features[i] = i
		}
		return features
	}

	// Partial Fisher-Yates draw without replacement
	perm := dt.rand.Perm(dt.nFeatures_)
	features := perm[:dt.maxFeatures]
	sort.Ints(features)
	return features
}

// impurity computes the configured criterion for a class histogram.
func (dt *DecisionTreeClassifier) impurity(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	if dt.criterion == "entropy" {
		entropy := 0.0
		for _, c := range counts {
			if c == 0 {
				continue
			}
			p := c / total
			entropy -= p * math.Log2(p)
		}
		return entropy
	}

	gini := 1.0
	for _, c := range counts {
		p := c / total
		gini -= p * p
	}
	return gini
}

func (dt *DecisionTreeClassifier) normalizeImportances() {
	sum := 0.0
	for _, imp := range dt.importances_ {
		sum += imp
	}
	if sum == 0 {
		return
	}
	for i := range dt.importances_ {
		dt.importances_[i] /= sum
	}
}

// Predict returns the majority class of the leaf each sample lands in.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "Predict"); err != nil {
		return nil, err
	}
	if err := dt.checkWidth("Predict", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		leaf := dt.traverse(X, i)
		best := 0
		for c := 1; c < dt.nClasses_; c++ {
			if leaf.Counts[c] > leaf.Counts[best] {
				best = c
			}
		}
		predictions.Set(i, 0, float64(dt.classes_[best]))
	}
	return predictions, nil
}

// PredictProba returns the training class distribution of the leaf each
// sample lands in, one column per class in Classes() order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	if err := dt.checkWidth("PredictProba", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	probas := mat.NewDense(nSamples, dt.nClasses_, nil)
	for i := 0; i < nSamples; i++ {
		leaf := dt.traverse(X, i)
		total := float64(leaf.Samples)
		for c := 0; c < dt.nClasses_; c++ {
			probas.Set(i, c, leaf.Counts[c]/total)
		}
	}
	return probas, nil
}

// traverse walks sample i down to its leaf.
func (dt *DecisionTreeClassifier) traverse(X mat.Matrix, i int) *treeNode {
	node := dt.root
	for !node.Leaf {
		if X.At(i, node.Feature) <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node
}

func (dt *DecisionTreeClassifier) checkWidth(method string, X mat.Matrix) error {
	_, c := X.Dims()
	if c != dt.nFeatures_ {
		return kiterrors.NewDimensionError("DecisionTreeClassifier."+method, dt.nFeatures_, c, 1)
	}
	return nil
}

// Score returns the mean accuracy on the given test data and labels.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}

	nSamples, _ := X.Dims()
	yRows, _ := y.Dims()
	if yRows != nSamples {
		return 0, kiterrors.NewDimensionError("DecisionTreeClassifier.Score", nSamples, yRows, 0)
	}

	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples), nil
}

// IsFitted returns whether the model has been fitted.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// Classes returns the class labels in prediction order.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// GetDepth returns the depth of the fitted tree. A lone root counts as 0.
func (dt *DecisionTreeClassifier) GetDepth() int {
	return nodeDepth(dt.root)
}

func nodeDepth(node *treeNode) int {
	if node == nil || node.Leaf {
		return 0
	}
	left := nodeDepth(node.Left)
	right := nodeDepth(node.Right)
	if left > right {
		return left + 1
	}
	return right + 1
}

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	return countLeaves(dt.root)
}

func countLeaves(node *treeNode) int {
	if node == nil {
		return 0
	}
	if node.Leaf {
		return 1
	}
	return countLeaves(node.Left) + countLeaves(node.Right)
}

// GetFeatureImportances returns the normalized impurity-decrease importance
// of each feature. The values sum to 1 when any split was taken.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.importances_...)
}

// GetParams returns the model hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the model hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "criterion":
			dt.criterion = value.(string)
		case "max_depth":
			dt.maxDepth = value.(int)
		case "min_samples_split":
			dt.minSamplesSplit = value.(int)
		case "min_samples_leaf":
			dt.minSamplesLeaf = value.(int)
		case "max_features":
			dt.maxFeatures = value.(int)
		case "random_state":
			dt.randomState = value.(int64)
			if dt.randomState >= 0 {
				dt.rand = rand.New(rand.NewSource(dt.randomState))
			}
		default:
			return kiterrors.NewValueError("DecisionTreeClassifier.SetParams",
				"unknown parameter: "+key)
		}
	}
	return nil
}

// treeGobState mirrors the unexported fields for gob serialization.
type treeGobState struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     int64

	Root        *treeNode
	Classes     []int
	NFeatures   int
	Importances []float64
	Fitted      bool
}

// GobEncode serializes the classifier including the fitted tree.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	state := treeGobState{
		Criterion:       dt.criterion,
		MaxDepth:        dt.maxDepth,
		MinSamplesSplit: dt.minSamplesSplit,
		MinSamplesLeaf:  dt.minSamplesLeaf,
		MaxFeatures:     dt.maxFeatures,
		RandomState:     dt.randomState,
		Root:            dt.root,
		Classes:         dt.classes_,
		NFeatures:       dt.nFeatures_,
		Importances:     dt.importances_,
		Fitted:          dt.state.IsFitted(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, kiterrors.Wrap(err, "DecisionTreeClassifier.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a classifier serialized by GobEncode.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var state treeGobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return kiterrors.Wrap(err, "DecisionTreeClassifier.GobDecode")
	}

	dt.criterion = state.Criterion
	dt.maxDepth = state.MaxDepth
	dt.minSamplesSplit = state.MinSamplesSplit
	dt.minSamplesLeaf = state.MinSamplesLeaf
	dt.maxFeatures = state.MaxFeatures
	dt.randomState = state.RandomState
	dt.root = state.Root
	dt.classes_ = state.Classes
	dt.nClasses_ = len(state.Classes)
	dt.nFeatures_ = state.NFeatures
	dt.importances_ = state.Importances

	dt.state = model.NewStateManager()
	if state.Fitted {
		dt.state.SetFitted()
	}
	if dt.randomState >= 0 {
		dt.rand = rand.New(rand.NewSource(dt.randomState))
	} else {
		dt.rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return nil
}

// String returns the string representation of the model
func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, fitted=%t)",
		dt.criterion, dt.maxDepth, dt.state.IsFitted())
}
