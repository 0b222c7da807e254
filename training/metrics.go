package training

import (
	"fmt"
)

// LabelMetrics holds precision, recall, F1 and support for one label or for
// one of the averaged summary rows.
type LabelMetrics struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassificationReport summarizes evaluation over a dataset: accuracy,
// per-label metrics in id order, and micro/macro/weighted averages. The
// MacroAvg row is what early stopping and checkpoint naming track.
type ClassificationReport struct {
	Accuracy    float64
	Labels      []LabelMetrics
	MicroAvg    LabelMetrics
	MacroAvg    LabelMetrics
	WeightedAvg LabelMetrics
}

// labelCounts accumulates true/false positives and false negatives per label.
type labelCounts struct {
	tp, fp, fn []int
}

func newLabelCounts(numLabels int) *labelCounts {
	return &labelCounts{
		tp: make([]int, numLabels),
		fp: make([]int, numLabels),
		fn: make([]int, numLabels),
	}
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func f1Score(precision, recall float64) float64 {
	return safeDiv(2*precision*recall, precision+recall)
}

// BuildSingleLabelReport computes a report from parallel slices of true and
// predicted class ids.
func BuildSingleLabelReport(trueLabels, predLabels []int, labelNames []string) (*ClassificationReport, error) {
	if len(trueLabels) != len(predLabels) {
		return nil, fmt.Errorf("label count mismatch: %d true vs %d predicted", len(trueLabels), len(predLabels))
	}
	if len(trueLabels) == 0 {
		return nil, fmt.Errorf("cannot build a report from zero examples")
	}

	numLabels := len(labelNames)
	counts := newLabelCounts(numLabels)
	correct := 0
	for i := range trueLabels {
		y, p := trueLabels[i], predLabels[i]
		if y < 0 || y >= numLabels || p < 0 || p >= numLabels {
			return nil, fmt.Errorf("class id out of range [0, %d)", numLabels)
		}
		if y == p {
			correct++
			counts.tp[y]++
		} else {
			counts.fn[y]++
			counts.fp[p]++
		}
	}

	report := buildReport(counts, labelNames)
	report.Accuracy = float64(correct) / float64(len(trueLabels))
	return report, nil
}

// BuildMultiLabelReport computes a report from parallel multi-hot true and
// predicted label vectors. Accuracy is exact-match: an example counts as
// correct only when every label decision matches.
func BuildMultiLabelReport(trueHot, predHot [][]int, labelNames []string) (*ClassificationReport, error) {
	if len(trueHot) != len(predHot) {
		return nil, fmt.Errorf("example count mismatch: %d true vs %d predicted", len(trueHot), len(predHot))
	}
	if len(trueHot) == 0 {
		return nil, fmt.Errorf("cannot build a report from zero examples")
	}

	numLabels := len(labelNames)
	counts := newLabelCounts(numLabels)
	exact := 0
	for i := range trueHot {
		if len(trueHot[i]) != numLabels || len(predHot[i]) != numLabels {
			return nil, fmt.Errorf("multi-hot vector length does not match %d labels", numLabels)
		}
		match := true
		for j := 0; j < numLabels; j++ {
			y, p := trueHot[i][j], predHot[i][j]
			switch {
			case y == 1 && p == 1:
				counts.tp[j]++
			case y == 1 && p == 0:
				counts.fn[j]++
				match = false
			case y == 0 && p == 1:
				counts.fp[j]++
				match = false
			}
		}
		if match {
			exact++
		}
	}

	report := buildReport(counts, labelNames)
	report.Accuracy = float64(exact) / float64(len(trueHot))
	return report, nil
}

// buildReport derives per-label and averaged metrics from raw counts.
func buildReport(counts *labelCounts, labelNames []string) *ClassificationReport {
	numLabels := len(labelNames)
	report := &ClassificationReport{
		Labels: make([]LabelMetrics, numLabels),
	}

	var tpSum, fpSum, fnSum, supportSum int
	var macroP, macroR, macroF float64
	var weightedP, weightedR, weightedF float64

	for j := 0; j < numLabels; j++ {
		tp, fp, fn := counts.tp[j], counts.fp[j], counts.fn[j]
		support := tp + fn
		precision := safeDiv(float64(tp), float64(tp+fp))
		recall := safeDiv(float64(tp), float64(tp+fn))
		f1 := f1Score(precision, recall)

		report.Labels[j] = LabelMetrics{
			Name:      labelNames[j],
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support,
		}

		tpSum += tp
		fpSum += fp
		fnSum += fn
		supportSum += support
		macroP += precision
		macroR += recall
		macroF += f1
		weightedP += precision * float64(support)
		weightedR += recall * float64(support)
		weightedF += f1 * float64(support)
	}

	microP := safeDiv(float64(tpSum), float64(tpSum+fpSum))
	microR := safeDiv(float64(tpSum), float64(tpSum+fnSum))
	report.MicroAvg = LabelMetrics{
		Name:      "micro avg",
		Precision: microP,
		Recall:    microR,
		F1:        f1Score(microP, microR),
		Support:   supportSum,
	}
	report.MacroAvg = LabelMetrics{
		Name:      "macro avg",
		Precision: macroP / float64(numLabels),
		Recall:    macroR / float64(numLabels),
		F1:        macroF / float64(numLabels),
		Support:   supportSum,
	}
	report.WeightedAvg = LabelMetrics{
		Name:      "weighted avg",
		Precision: safeDiv(weightedP, float64(supportSum)),
		Recall:    safeDiv(weightedR, float64(supportSum)),
		F1:        safeDiv(weightedF, float64(supportSum)),
		Support:   supportSum,
	}
	return report
}
