// Package churnkit implements the customer churn modeling workflow end
// to end: loading and inspecting the canonical telco customer dataset,
// preprocessing it into model-ready matrices, training and tuning
// classifiers, evaluating them on held-out data, and serving a trained
// model over HTTP.
//
// The estimators follow a scikit-learn-like API, so anyone with
// fit/predict muscle memory from Python can read the training code
// without a glossary.
//
// # Quick Start
//
// Train a model on a labeled churn CSV and save the artifact:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/churnkit/churn"
//	)
//
//	func main() {
//	    a, err := churn.Train(context.Background(), churn.TrainConfig{
//	        DataPath:  "telco.csv",
//	        Algorithm: churn.AlgorithmForest,
//	        Seed:      42,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(a.Meta.Metrics)
//
//	    if err := a.Save("churnkit.gob"); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// The same workflow is available on the command line:
//
//	churnkit train --data telco.csv --algorithm forest --out churnkit.gob
//	churnkit tune --data telco.csv --algorithm enet --metric roc_auc
//	churnkit serve --config churnkit.yaml
//
// # Packages
//
// The library is organized into several packages:
//
//   - churn: the applied workflow (schema, train, tune, evaluate, predict, artifacts)
//   - dataset: column-typed tables, CSV loading, summaries
//   - preprocessing: scalers, imputers, encoders, and the fitted Recipe pipeline
//   - linear_model: logistic regression, linear regression, elastic net
//   - neighbors: k-nearest-neighbor classification
//   - tree: decision tree classification
//   - ensemble: random forest classification
//   - metrics: accuracy, precision/recall/F1, log loss, ROC/PR curves and plots
//   - model_selection: splitters, cross-validation, grid and randomized search
//   - resample: up- and down-sampling for class imbalance
//   - drift: positive-rate monitoring for served models
//   - core/model, core/parallel: estimator contracts, persistence, worker pools
//
// # Estimator API
//
// Every estimator fits from gonum matrices and reports errors explicitly:
//
//	clf := ensemble.NewRandomForestClassifier(
//	    ensemble.WithForestTrees(300),
//	    ensemble.WithForestRandomState(42),
//	)
//	if err := clf.Fit(X, y); err != nil {
//	    log.Fatal(err)
//	}
//	proba, err := clf.PredictProba(XTest)
//
// Fitted estimators round-trip through encoding/gob, which is how a
// trained artifact (recipe, model and provenance) becomes one
// deployable file.
//
// # Serving
//
// The serve command exposes a trained artifact as a JSON API under
// /api/v1, an HTML scoring form, Prometheus metrics and health checks.
// The artifact hot-reloads when its file is replaced on disk, served
// predictions are audit-logged to SQLite, and a drift monitor compares
// the live positive rate against the training base rate.
package churnkit
