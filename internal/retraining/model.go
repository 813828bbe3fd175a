package retraining

import (
	"encoding/json"
	"math"

	"github.com/kg90-eg/alloc-sentinel/internal/features"
	"github.com/kg90-eg/alloc-sentinel/internal/modelstore"
)

// LinearModel is a logistic-regression predictor: a weight vector over
// FeatureOrder plus a bias term, trained by batch gradient descent. This is
// the "candidate predictor" the retraining service trains, validates, and
// (if it passes the promotion predicate) serializes into a model artifact.
type LinearModel struct {
	Weights []float64
	Bias    float64

	// Mean/StdDev are the training-set standardization parameters, applied
	// to every input vector at prediction time so train and serve see the
	// same feature distribution.
	Mean   []float64
	StdDev []float64
}

const (
	trainIterations  = 500
	trainLearnRate   = 0.1
	trainL2Penalty   = 0.001
)

// Train fits a LinearModel to examples via standardized batch gradient
// descent. Deterministic: identical input always yields identical weights.
func Train(examples []Example) *LinearModel {
	n := len(examples)
	if n == 0 {
		return &LinearModel{}
	}
	dims := len(examples[0].X)

	mean := make([]float64, dims)
	std := make([]float64, dims)
	for _, ex := range examples {
		for j, v := range ex.X {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for _, ex := range examples {
		for j, v := range ex.X {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(n))
		if std[j] == 0 {
			std[j] = 1
		}
	}

	standardized := make([][]float64, n)
	labels := make([]float64, n)
	for i, ex := range examples {
		row := make([]float64, dims)
		for j, v := range ex.X {
			row[j] = (v - mean[j]) / std[j]
		}
		standardized[i] = row
		labels[i] = ex.Y
	}

	weights := make([]float64, dims)
	bias := 0.0

	for iter := 0; iter < trainIterations; iter++ {
		gradW := make([]float64, dims)
		gradB := 0.0

		for i, row := range standardized {
			pred := sigmoid(dot(weights, row) + bias)
			errTerm := pred - labels[i]
			for j, v := range row {
				gradW[j] += errTerm * v
			}
			gradB += errTerm
		}

		for j := range weights {
			weights[j] -= trainLearnRate * (gradW[j]/float64(n) + trainL2Penalty*weights[j])
		}
		bias -= trainLearnRate * gradB / float64(n)
	}

	return &LinearModel{Weights: weights, Bias: bias, Mean: mean, StdDev: std}
}

// Predict returns the model's predicted probability of the positive class.
func (m *LinearModel) Predict(x []float64) float64 {
	if len(m.Weights) == 0 {
		return 0.5
	}
	row := make([]float64, len(x))
	for j, v := range x {
		row[j] = (v - m.Mean[j]) / m.StdDev[j]
	}
	return sigmoid(dot(m.Weights, row) + m.Bias)
}

// Predict decodes the LinearModel serialized inside a model artifact and
// scores a single feature row, defaulting to a neutral 0.5 probability if
// the artifact's payload can't be decoded (e.g. an empty bootstrap artifact).
func Predict(artifact *modelstore.Artifact, row features.Row) float64 {
	var model LinearModel
	if err := json.Unmarshal(artifact.Weights, &model); err != nil {
		return 0.5
	}
	return model.Predict(Vectorize(row))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
