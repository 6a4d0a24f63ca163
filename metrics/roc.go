package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/pkg/errors"
)

// ROCCurve computes the receiver operating characteristic of a binary
// scorer. Points are ordered by descending threshold and start at
// (fpr, tpr) = (0, 0); thresholds[0] is +Inf so that the first point
// predicts nothing positive.
func ROCCurve(yTrue, yScore *mat.VecDense) (fpr, tpr, thresholds []float64, err error) {
	n, err := checkPair("ROCCurve", yTrue, yScore)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkBinaryLabels("ROCCurve", yTrue); err != nil {
		return nil, nil, nil, err
	}

	nPos, nNeg := 0, 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return nil, nil, nil, errors.NewValueError("ROCCurve",
			"both classes must be present in y_true")
	}

	idx := sortedByScoreDesc(yScore)

	fpr = []float64{0}
	tpr = []float64{0}
	thresholds = []float64{math.Inf(1)}

	tp, fp := 0, 0
	for i := 0; i < n; {
		// advance over the tie group so tied scores yield one point
		threshold := yScore.AtVec(idx[i])
		for i < n && yScore.AtVec(idx[i]) == threshold {
			if yTrue.AtVec(idx[i]) == 1 {
				tp++
			} else {
				fp++
			}
			i++
		}
		fpr = append(fpr, float64(fp)/float64(nNeg))
		tpr = append(tpr, float64(tp)/float64(nPos))
		thresholds = append(thresholds, threshold)
	}
	return fpr, tpr, thresholds, nil
}

// PRCurve computes precision-recall pairs by descending threshold. The
// final point is (precision, recall) = (1, 0), mirroring sklearn's
// precision_recall_curve.
func PRCurve(yTrue, yScore *mat.VecDense) (precision, recall, thresholds []float64, err error) {
	n, err := checkPair("PRCurve", yTrue, yScore)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkBinaryLabels("PRCurve", yTrue); err != nil {
		return nil, nil, nil, err
	}

	nPos := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
		}
	}
	if nPos == 0 {
		return nil, nil, nil, errors.NewValueError("PRCurve",
			"no positive samples in y_true")
	}

	idx := sortedByScoreDesc(yScore)

	tp, predicted := 0, 0
	for i := 0; i < n; {
		threshold := yScore.AtVec(idx[i])
		for i < n && yScore.AtVec(idx[i]) == threshold {
			if yTrue.AtVec(idx[i]) == 1 {
				tp++
			}
			predicted++
			i++
		}
		precision = append(precision, float64(tp)/float64(predicted))
		recall = append(recall, float64(tp)/float64(nPos))
		thresholds = append(thresholds, threshold)
	}

	// terminal point: nothing predicted positive
	precision = append(precision, 1)
	recall = append(recall, 0)
	return precision, recall, thresholds, nil
}

// AveragePrecision computes the area under the precision-recall curve as
// the mean precision at each relevant hit, the usual summary for ranked
// retrieval and for imbalanced classifiers.
func AveragePrecision(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AveragePrecision", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("AveragePrecision", yTrue); err != nil {
		return 0, err
	}

	idx := sortedByScoreDesc(yScore)

	tp := 0
	sum := 0.0
	for k := 0; k < n; k++ {
		if yTrue.AtVec(idx[k]) == 1 {
			tp++
			sum += float64(tp) / float64(k+1)
		}
	}
	if tp == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(
			"average_precision", "no positive samples in y_true", 0))
		return 0, nil
	}
	return sum / float64(tp), nil
}

// MeanAveragePrecision averages AveragePrecision over several label/score
// pairs, one per query or evaluation split.
func MeanAveragePrecision(yTrueList, yScoreList []*mat.VecDense) (float64, error) {
	if len(yTrueList) == 0 {
		return 0, errors.NewValueError("MeanAveragePrecision", "empty list")
	}
	if len(yTrueList) != len(yScoreList) {
		return 0, errors.NewDimensionError("MeanAveragePrecision",
			len(yTrueList), len(yScoreList), 0)
	}

	sum := 0.0
	for i := range yTrueList {
		ap, err := AveragePrecision(yTrueList[i], yScoreList[i])
		if err != nil {
			return 0, err
		}
		sum += ap
	}
	return sum / float64(len(yTrueList)), nil
}

// TrapezoidAUC integrates y over x with the trapezoid rule. The x values
// must be monotonic in either direction; ROC integration passes fpr/tpr.
func TrapezoidAUC(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, errors.NewDimensionError("TrapezoidAUC", len(x), len(y), 0)
	}
	if len(x) < 2 {
		return 0, errors.NewValueError("TrapezoidAUC", "need at least two points")
	}

	area := 0.0
	for i := 1; i < len(x); i++ {
		area += math.Abs(x[i]-x[i-1]) * (y[i] + y[i-1]) / 2
	}
	return area, nil
}

// sortedByScoreDesc returns indices ordered by descending score, ties
// broken by original position.
func sortedByScoreDesc(score *mat.VecDense) []int {
	idx := make([]int, score.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return score.AtVec(idx[a]) > score.AtVec(idx[b])
	})
	return idx
}
