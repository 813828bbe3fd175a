package retraining

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics holds the held-out validation metrics for one trained candidate.
type Metrics struct {
	F1        float64
	Accuracy  float64
	Precision float64
	Recall    float64
	ROCAUC    float64
}

// PredictionThreshold classifies a predicted probability as positive.
const PredictionThreshold = 0.5

// CrossValidate runs forward-chained (expanding-window) time-series cross
// validation over examples, which must already be in ascending date order.
// folds controls how many forward splits are
// evaluated; each split trains on every example before the split point and
// validates on the next contiguous block.
func CrossValidate(examples []Example, folds int) Metrics {
	if folds < 2 {
		folds = 5
	}
	n := len(examples)
	if n < folds*2 {
		folds = 2
	}
	if n < 4 {
		return Metrics{}
	}

	blockSize := n / (folds + 1)
	if blockSize == 0 {
		blockSize = 1
	}

	var allPreds, allLabels []float64

	for fold := 1; fold <= folds; fold++ {
		trainEnd := blockSize * fold
		validEnd := trainEnd + blockSize
		if fold == folds {
			validEnd = n
		}
		if trainEnd >= n || trainEnd >= validEnd {
			continue
		}

		trainSet := examples[:trainEnd]
		validSet := examples[trainEnd:validEnd]

		model := Train(trainSet)
		for _, ex := range validSet {
			allPreds = append(allPreds, model.Predict(ex.X))
			allLabels = append(allLabels, ex.Y)
		}
	}

	return computeMetrics(allPreds, allLabels)
}

func computeMetrics(preds, labels []float64) Metrics {
	if len(preds) == 0 {
		return Metrics{}
	}

	var tp, fp, tn, fn float64
	for i, p := range preds {
		predicted := p >= PredictionThreshold
		actual := labels[i] >= PredictionThreshold
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	total := tp + fp + tn + fn
	accuracy := 0.0
	if total > 0 {
		accuracy = (tp + tn) / total
	}

	precision := 0.0
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}

	recall := 0.0
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}

	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return Metrics{
		F1:        f1,
		Accuracy:  accuracy,
		Precision: precision,
		Recall:    recall,
		ROCAUC:    rocAUC(preds, labels),
	}
}

// rocAUC computes the area under the ROC curve via the Mann-Whitney U
// statistic over ranked prediction scores: AUC = (sum of positive ranks -
// nPos*(nPos+1)/2) / (nPos*nNeg). gonum/stat.Mean is used to sanity-check
// for the degenerate single-class case.
func rocAUC(preds, labels []float64) float64 {
	n := len(preds)
	if n == 0 {
		return 0.5
	}
	meanLabel := stat.Mean(labels, nil)
	if meanLabel == 0 || meanLabel == 1 {
		return 0.5 // single-class validation fold; AUC undefined, report neutral
	}

	type pl struct {
		pred  float64
		label float64
	}
	pairs := make([]pl, n)
	for i := range preds {
		pairs[i] = pl{preds[i], labels[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pred < pairs[j].pred })

	ranks := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j < n && pairs[j].pred == pairs[i].pred {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // 1-indexed average rank for ties
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var sumPosRanks, nPos, nNeg float64
	for i, p := range pairs {
		if p.label >= PredictionThreshold {
			sumPosRanks += ranks[i]
			nPos++
		} else {
			nNeg++
		}
	}

	if nPos == 0 || nNeg == 0 {
		return 0.5
	}

	return (sumPosRanks - nPos*(nPos+1)/2) / (nPos * nNeg)
}
