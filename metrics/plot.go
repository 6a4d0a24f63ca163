package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/churnkit/pkg/errors"
)

// SaveROCPlot renders the ROC curve of a binary scorer to a PNG file,
// with the chance diagonal for reference and the AUC in the title.
func SaveROCPlot(path string, yTrue, yScore *mat.VecDense) error {
	fpr, tpr, _, err := ROCCurve(yTrue, yScore)
	if err != nil {
		return err
	}
	auc, err := AUC(yTrue, yScore)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("ROC curve (AUC = %.3f)", auc)
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	curve, err := plotter.NewLine(toXYs(fpr, tpr))
	if err != nil {
		return errors.Wrap(err, "SaveROCPlot: building curve")
	}
	p.Add(curve)
	p.Legend.Add("model", curve)

	diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "SaveROCPlot: building diagonal")
	}
	diagonal.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(diagonal)
	p.Legend.Add("chance", diagonal)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "SaveROCPlot: writing %s", path)
	}
	return nil
}

// SavePRPlot renders the precision-recall curve to a PNG file with the
// average precision in the title.
func SavePRPlot(path string, yTrue, yScore *mat.VecDense) error {
	precision, recall, _, err := PRCurve(yTrue, yScore)
	if err != nil {
		return err
	}
	ap, err := AveragePrecision(yTrue, yScore)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Precision-recall curve (AP = %.3f)", ap)
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Precision"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	curve, err := plotter.NewLine(toXYs(recall, precision))
	if err != nil {
		return errors.Wrap(err, "SavePRPlot: building curve")
	}
	p.Add(curve)
	p.Legend.Add("model", curve)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "SavePRPlot: writing %s", path)
	}
	return nil
}

func toXYs(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}
