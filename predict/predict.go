// Package predict evaluates saved checkpoints on the test set and writes
// per-checkpoint classification reports and per-example prediction files.
package predict

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"

	"github.com/tsawler/go-textclass/checkpoints"
	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/dataset"
	"github.com/tsawler/go-textclass/model"
	"github.com/tsawler/go-textclass/tensor"
	"github.com/tsawler/go-textclass/tokenizer"
	"github.com/tsawler/go-textclass/training"
)

// ReportRow is one line of the classification report CSV. Metric columns are
// pre-formatted percentages.
type ReportRow struct {
	Label     string `csv:"label"`
	Precision string `csv:"precision"`
	Recall    string `csv:"recall"`
	F1        string `csv:"f1-score"`
	Support   int    `csv:"support"`
}

// ResultRow is one per-example line of the prediction results CSV.
type ResultRow struct {
	Sentence  string `csv:"sentence"`
	TrueLabel string `csv:"true_label"`
	PredLabel string `csv:"pred_label"`
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", 100*v)
}

// RunTest evaluates every checkpoint in the output directory on the test set
// and logs its accuracy, macro recall and macro F1.
func RunTest(
	cfg *config.Config,
	m *model.SequenceClassifier,
	testSet *dataset.Dataset,
	tok *tokenizer.Tokenizer,
	vocab *dataset.LabelVocabulary,
) error {
	files, err := checkpoints.ListWeightFiles(cfg.OutputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no checkpoints found in %s", cfg.OutputDir)
	}

	loader, err := dataset.NewDataLoader(testSet, tok, vocab, cfg.ProblemType, cfg.BatchSize, false, false)
	if err != nil {
		return err
	}
	labelNames := labelNamesInOrder(vocab)

	for _, name := range files {
		if err := loadCheckpoint(cfg.OutputDir, name, m); err != nil {
			return err
		}
		report, err := training.Evaluate(m, loader, cfg.ProblemType, cfg.LossType, labelNames)
		if err != nil {
			return errors.Wrapf(err, "evaluation failed for %s", name)
		}
		log.Printf("%s: accuracy %.2f%%, recall %.2f%%, F1 %.2f%%",
			name, 100*report.Accuracy, 100*report.MacroAvg.Recall, 100*report.MacroAvg.F1)
	}
	return nil
}

// RunPredict evaluates every checkpoint on the test set and writes two CSV
// files per checkpoint: a classification report and per-example results with
// the decided label names.
func RunPredict(
	cfg *config.Config,
	m *model.SequenceClassifier,
	testSet *dataset.Dataset,
	tok *tokenizer.Tokenizer,
	vocab *dataset.LabelVocabulary,
) error {
	files, err := checkpoints.ListWeightFiles(cfg.OutputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no checkpoints found in %s", cfg.OutputDir)
	}

	labelNames := labelNamesInOrder(vocab)

	for _, name := range files {
		if err := loadCheckpoint(cfg.OutputDir, name, m); err != nil {
			return err
		}
		report, results, err := sweepCheckpoint(cfg, m, testSet, tok, vocab, labelNames)
		if err != nil {
			return errors.Wrapf(err, "prediction failed for %s", name)
		}

		reportPath := filepath.Join(cfg.OutputDir, name+"_classification_report.csv")
		if err := writeReportCSV(reportPath, report, cfg.ProblemType); err != nil {
			return err
		}
		resultsPath := filepath.Join(cfg.OutputDir, name+"_model_results.csv")
		if err := writeResultsCSV(resultsPath, results); err != nil {
			return err
		}
		log.Printf("%s: wrote %s and %s", name, reportPath, resultsPath)
	}
	return nil
}

func loadCheckpoint(dir, name string, m *model.SequenceClassifier) error {
	ckpt, err := checkpoints.LoadWeights(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	return checkpoints.LoadWeightsInto(ckpt, m.NamedParameters())
}

// sweepCheckpoint runs the model over the test set without gradients,
// reconstructing label names for every example.
func sweepCheckpoint(
	cfg *config.Config,
	m *model.SequenceClassifier,
	testSet *dataset.Dataset,
	tok *tokenizer.Tokenizer,
	vocab *dataset.LabelVocabulary,
	labelNames []string,
) (*training.ClassificationReport, []*ResultRow, error) {
	m.Eval()
	prev := tensor.SetGradEnabled(false)
	defer tensor.SetGradEnabled(prev)

	loader, err := dataset.NewDataLoader(testSet, tok, vocab, cfg.ProblemType, cfg.BatchSize, false, true)
	if err != nil {
		return nil, nil, err
	}

	var truesSingle, predsSingle []int
	var truesHot, predsHot [][]int
	var results []*ResultRow
	var sweepErr error

	err = tqdm.With(iterators.Interval(0, loader.Len()), "Predicting", func(c interface{}) (brk bool) {
		batch, err := loader.Next()
		if err != nil || batch == nil {
			sweepErr = err
			return true
		}
		batch, err = batch.To(m.Device())
		if err != nil {
			sweepErr = err
			return true
		}

		logits, err := m.Forward(batch.Inputs)
		if err != nil {
			sweepErr = err
			return true
		}
		preds, err := training.Decide(logits, cfg.ProblemType, cfg.LossType)
		if err != nil {
			sweepErr = err
			return true
		}

		switch cfg.ProblemType {
		case config.SingleLabel:
			labels, err := batch.Labels.GetInt32Data()
			if err != nil {
				sweepErr = err
				return true
			}
			for i := 0; i < batch.Size; i++ {
				y, p := int(labels[i]), preds.Classes[i]
				truesSingle = append(truesSingle, y)
				predsSingle = append(predsSingle, p)
				results = append(results, &ResultRow{
					Sentence:  batch.Sentences[i],
					TrueLabel: labelNames[y],
					PredLabel: labelNames[p],
				})
			}
		case config.MultiLabel:
			labels, err := batch.Labels.GetFloat32Data()
			if err != nil {
				sweepErr = err
				return true
			}
			numLabels := len(labelNames)
			for i := 0; i < batch.Size; i++ {
				row := make([]int, numLabels)
				for j := 0; j < numLabels; j++ {
					if labels[i*numLabels+j] > 0 {
						row[j] = 1
					}
				}
				truesHot = append(truesHot, row)
				predsHot = append(predsHot, preds.MultiHot[i])
				results = append(results, &ResultRow{
					Sentence:  batch.Sentences[i],
					TrueLabel: joinHotNames(row, labelNames),
					PredLabel: joinHotNames(preds.MultiHot[i], labelNames),
				})
			}
		default:
			sweepErr = errors.Errorf("unknown problem type %q", cfg.ProblemType)
			return true
		}
		return false
	})
	if sweepErr != nil {
		return nil, nil, sweepErr
	}
	if err != nil {
		return nil, nil, err
	}

	var report *training.ClassificationReport
	if cfg.ProblemType == config.SingleLabel {
		report, err = training.BuildSingleLabelReport(truesSingle, predsSingle, labelNames)
	} else {
		report, err = training.BuildMultiLabelReport(truesHot, predsHot, labelNames)
	}
	if err != nil {
		return nil, nil, err
	}
	return report, results, nil
}

// joinHotNames renders a multi-hot vector as a comma-separated label list.
func joinHotNames(hot []int, labelNames []string) string {
	var names []string
	for j, v := range hot {
		if v == 1 {
			names = append(names, labelNames[j])
		}
	}
	return strings.Join(names, ",")
}

// writeReportCSV lays the report out like sklearn's classification_report:
// per-label rows in id order, then the summary rows. Single-label reports
// carry an accuracy row; multi-label reports a micro average instead.
func writeReportCSV(path string, report *training.ClassificationReport, problem config.ProblemType) error {
	rows := make([]*ReportRow, 0, len(report.Labels)+3)
	for _, lm := range report.Labels {
		rows = append(rows, metricsRow(lm))
	}
	if problem == config.SingleLabel {
		rows = append(rows, &ReportRow{
			Label:   "accuracy",
			F1:      percent(report.Accuracy),
			Support: report.MacroAvg.Support,
		})
	} else {
		rows = append(rows, metricsRow(report.MicroAvg))
	}
	rows = append(rows, metricsRow(report.MacroAvg))
	rows = append(rows, metricsRow(report.WeightedAvg))

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func metricsRow(lm training.LabelMetrics) *ReportRow {
	return &ReportRow{
		Label:     lm.Name,
		Precision: percent(lm.Precision),
		Recall:    percent(lm.Recall),
		F1:        percent(lm.F1),
		Support:   lm.Support,
	}
}

func writeResultsCSV(path string, results []*ResultRow) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&results, f); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func labelNamesInOrder(vocab *dataset.LabelVocabulary) []string {
	names := make([]string, vocab.Size())
	for i := range names {
		name, _ := vocab.Name(i)
		names[i] = name
	}
	return names
}
