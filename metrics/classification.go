package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/pkg/errors"
)

// logLossEpsilon は確率クリッピングの下限 (log(0)を避ける)
const logLossEpsilon = 1e-15

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率 (1 - Accuracy) を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// Precision は陽性クラス(ラベル1)の適合率を計算する
// TP+FP が0の場合は0を返し、UndefinedMetricWarningを発行する
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.Precision(), nil
}

// Recall は陽性クラス(ラベル1)の再現率を計算する
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.Recall(), nil
}

// F1Score は適合率と再現率の調和平均を計算する
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.F1(), nil
}

// BinaryLogLoss は二値分類の交差エントロピー損失を計算する
// 予測確率は [eps, 1-eps] にクリッピングされる
func BinaryLogLoss(yTrue, yProba *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProba)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		p := yProba.AtVec(i)
		if p < logLossEpsilon {
			p = logLossEpsilon
		} else if p > 1-logLossEpsilon {
			p = 1 - logLossEpsilon
		}
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// AUC はROC曲線下面積をMann-Whitney統計量で計算する
// 同点スコアは中央順位(midrank)で扱うため、全スコア同値なら0.5になる
// 片方のクラスしか存在しない場合は0.5を返し、警告を発行する
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("AUC", yTrue); err != nil {
		return 0, err
	}

	nPos := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
		}
	}
	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(
			"roc_auc", "only one class present in y_true", 0.5))
		return 0.5, nil
	}

	// スコア昇順の順位を計算 (同点は midrank)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b])
	})

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && yScore.AtVec(idx[j]) == yScore.AtVec(idx[i]) {
			j++
		}
		// i..j-1 が同点グループ: 順位は平均
		midrank := float64(i+j+1) / 2.0 // 1始まりの順位 (i+1 + j) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = midrank
		}
		i = j
	}

	sumRanksPos := 0.0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			sumRanksPos += ranks[i]
		}
	}

	u := sumRanksPos - float64(nPos)*float64(nPos+1)/2.0
	return u / (float64(nPos) * float64(nNeg)), nil
}

// AUCMatrix は行列形式の入力(先頭列を使用)に対してAUCを計算する
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	yTrueVec, err := firstColumn("AUCMatrix", yTrue)
	if err != nil {
		return 0, err
	}
	yScoreVec, err := firstColumn("AUCMatrix", yScore)
	if err != nil {
		return 0, err
	}
	return AUC(yTrueVec, yScoreVec)
}

// ConfusionMatrix は二値分類の混同行列
// 陽性クラスはラベル1
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// NewConfusionMatrix はラベルベクトルから混同行列を構築する
func NewConfusionMatrix(yTrue, yPred *mat.VecDense) (*ConfusionMatrix, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if err := checkBinaryLabels("ConfusionMatrix", yTrue); err != nil {
		return nil, err
	}
	if err := checkBinaryLabels("ConfusionMatrix", yPred); err != nil {
		return nil, err
	}

	cm := &ConfusionMatrix{}
	for i := 0; i < n; i++ {
		switch {
		case yTrue.AtVec(i) == 1 && yPred.AtVec(i) == 1:
			cm.TP++
		case yTrue.AtVec(i) == 0 && yPred.AtVec(i) == 1:
			cm.FP++
		case yTrue.AtVec(i) == 1 && yPred.AtVec(i) == 0:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// Total は観測数を返す
func (cm *ConfusionMatrix) Total() int {
	return cm.TP + cm.FP + cm.TN + cm.FN
}

// Accuracy は正解率を返す
func (cm *ConfusionMatrix) Accuracy() float64 {
	total := cm.Total()
	if total == 0 {
		return 0
	}
	return float64(cm.TP+cm.TN) / float64(total)
}

// Precision は適合率 TP/(TP+FP) を返す
// 分母が0の場合は0を返し、警告を発行する
func (cm *ConfusionMatrix) Precision() float64 {
	if cm.TP+cm.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(
			"precision", "no predicted positives", 0))
		return 0
	}
	return float64(cm.TP) / float64(cm.TP+cm.FP)
}

// Recall は再現率 TP/(TP+FN) を返す
func (cm *ConfusionMatrix) Recall() float64 {
	if cm.TP+cm.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(
			"recall", "no true positives in y_true", 0))
		return 0
	}
	return float64(cm.TP) / float64(cm.TP+cm.FN)
}

// Specificity は特異度 TN/(TN+FP) を返す
func (cm *ConfusionMatrix) Specificity() float64 {
	if cm.TN+cm.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(
			"specificity", "no true negatives in y_true", 0))
		return 0
	}
	return float64(cm.TN) / float64(cm.TN+cm.FP)
}

// F1 はF1スコアを返す
func (cm *ConfusionMatrix) F1() float64 {
	p := cm.Precision()
	r := cm.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// String は混同行列をテキスト表として整形する
func (cm *ConfusionMatrix) String() string {
	return fmt.Sprintf(
		"            predicted 0  predicted 1\n"+
			"actual 0    %11d  %11d\n"+
			"actual 1    %11d  %11d",
		cm.TN, cm.FP, cm.FN, cm.TP)
}

// checkPair は二つのベクトルの長さを検証し、共通の長さを返す
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// checkBinaryLabels はラベルが0/1のみであることを検証する
func checkBinaryLabels(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		v := y.AtVec(i)
		if v != 0 && v != 1 {
			return errors.NewValueError(op,
				fmt.Sprintf("labels must be binary (0/1), got %v", v))
		}
	}
	return nil
}

// firstColumn は行列の先頭列をベクトルとして取り出す
func firstColumn(op string, m mat.Matrix) (*mat.VecDense, error) {
	if m == nil {
		return nil, errors.NewValueError(op, "nil matrix")
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewValueError(op, "empty matrix")
	}

	vec := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		vec.SetVec(i, m.At(i, 0))
	}
	return vec, nil
}
