package training

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"

	"github.com/tsawler/go-textclass/checkpoints"
	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/dataset"
	"github.com/tsawler/go-textclass/model"
	"github.com/tsawler/go-textclass/tensor"
	"github.com/tsawler/go-textclass/tokenizer"
)

// TrainEpoch runs one pass over the training loader. The loss shown and
// returned is a running average across the whole run so far, not just this
// epoch: totalLoss carries the sum from previous epochs and finishSteps the
// number of steps that produced it.
func TrainEpoch(
	m *model.SequenceClassifier,
	loader *dataset.DataLoader,
	opt Optimizer,
	sched LRScheduler,
	baseLR float64,
	epoch int,
	finishSteps int,
	totalLoss float64,
) (float64, error) {
	m.Train()
	loader.Reset()

	bar := NewProgressBar(fmt.Sprintf("Epoch %d", epoch), loader.Len())
	step := 0
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return totalLoss, fmt.Errorf("failed to load batch at step %d: %v", step+1, err)
		}
		if batch == nil {
			break
		}
		step++

		batch, err = batch.To(m.Device())
		if err != nil {
			return totalLoss, fmt.Errorf("failed to move batch at step %d: %v", step, err)
		}

		opt.SetLR(sched.GetLR(finishSteps+step, baseLR))

		logits, err := m.Forward(batch.Inputs)
		if err != nil {
			return totalLoss, fmt.Errorf("forward pass failed at step %d: %v", step, err)
		}
		loss, err := m.ComputeLoss(logits, batch.Labels)
		if err != nil {
			return totalLoss, fmt.Errorf("loss computation failed at step %d: %v", step, err)
		}
		lossValue, err := loss.Float32Item()
		if err != nil {
			return totalLoss, err
		}
		totalLoss += float64(lossValue)

		opt.ZeroGrad()
		if err := loss.Backward(); err != nil {
			return totalLoss, fmt.Errorf("backward pass failed at step %d: %v", step, err)
		}
		if err := opt.Step(); err != nil {
			return totalLoss, fmt.Errorf("optimizer step failed at step %d: %v", step, err)
		}

		bar.Update(step, map[string]float64{
			"loss": totalLoss / float64(finishSteps+step),
		})
	}
	bar.Finish()
	return totalLoss, nil
}

// Evaluate sweeps the loader without tracking gradients and builds a
// classification report from the decided labels.
func Evaluate(
	m *model.SequenceClassifier,
	loader *dataset.DataLoader,
	problem config.ProblemType,
	lossType config.LossType,
	labelNames []string,
) (*ClassificationReport, error) {
	m.Eval()
	prev := tensor.SetGradEnabled(false)
	defer tensor.SetGradEnabled(prev)

	loader.Reset()

	var truesSingle, predsSingle []int
	var truesHot, predsHot [][]int
	var sweepErr error

	err := tqdm.With(iterators.Interval(0, loader.Len()), "Evaluating", func(c interface{}) (brk bool) {
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
		preds, err := Decide(logits, problem, lossType)
		if err != nil {
			sweepErr = err
			return true
		}

		switch problem {
		case config.SingleLabel:
			labels, err := batch.Labels.GetInt32Data()
			if err != nil {
				sweepErr = err
				return true
			}
			for i, y := range labels {
				truesSingle = append(truesSingle, int(y))
				predsSingle = append(predsSingle, preds.Classes[i])
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
			}
		}
		return false
	})
	if sweepErr != nil {
		return nil, sweepErr
	}
	if err != nil {
		return nil, err
	}

	if problem == config.SingleLabel {
		return BuildSingleLabelReport(truesSingle, predsSingle, labelNames)
	}
	return BuildMultiLabelReport(truesHot, predsHot, labelNames)
}

// Trainer runs the full fine-tuning schedule and writes checkpoints to the
// output directory.
type Trainer struct {
	cfg   *config.Config
	model *model.SequenceClassifier
	vocab *dataset.LabelVocabulary
}

// checkpointGate applies the early-stop policy across epochs. While the
// budget is positive every epoch's weights are saved; a dev F1 that fails to
// strictly beat the best seen so far spends one unit of budget. Once the
// budget reaches zero no further epoch is saved.
type checkpointGate struct {
	best   float64
	budget int
}

// observe records one epoch's dev F1. It reports whether the epoch's weights
// should be saved and whether the score improved on the best so far.
func (g *checkpointGate) observe(f1 float64) (save, improved bool) {
	if g.budget <= 0 {
		return false, false
	}
	if f1 > g.best {
		g.best = f1
		return true, true
	}
	g.budget--
	return true, false
}

// NewTrainer creates a trainer for the given model and label vocabulary.
func NewTrainer(cfg *config.Config, m *model.SequenceClassifier, vocab *dataset.LabelVocabulary) *Trainer {
	return &Trainer{cfg: cfg, model: m, vocab: vocab}
}

// Run trains for the configured number of epochs, evaluating on the dev set
// after each one. While the early-stop budget is positive every epoch's
// weights are saved alongside a config snapshot. A dev macro-F1 that fails
// to beat the best seen so far spends one unit of the budget. Run returns
// the best dev macro-F1.
func (t *Trainer) Run(trainSet, devSet *dataset.Dataset, tok *tokenizer.Tokenizer) (float64, error) {
	cfg := t.cfg

	// R-Drop needs the same shuffle order across the paired passes, so
	// shuffling is disabled when it is on.
	shuffle := !cfg.UseRDrop
	trainLoader, err := dataset.NewDataLoader(trainSet, tok, t.vocab, cfg.ProblemType, cfg.BatchSize, shuffle, false)
	if err != nil {
		return 0, err
	}
	devLoader, err := dataset.NewDataLoader(devSet, tok, t.vocab, cfg.ProblemType, cfg.BatchSize, false, false)
	if err != nil {
		return 0, err
	}

	totalSteps := cfg.NumEpochs * trainLoader.Len()
	warmupSteps := int(float64(totalSteps) * cfg.WarmupProportion)
	sched := NewLinearWarmupDecayScheduler(warmupSteps, totalSteps)

	groups := BuildParameterGroups(t.model.NamedParameters(), cfg.WeightDecay)
	opt, err := NewAdamW(groups, cfg.LearningRate, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEpsilon)
	if err != nil {
		return 0, err
	}

	if err := writeArgsFile(cfg); err != nil {
		return 0, err
	}

	labelNames := labelNamesInOrder(t.vocab)
	log.Printf("training on %d examples, validating on %d, %d steps total (%d warmup)",
		trainLoader.NumExamples(), devLoader.NumExamples(), totalSteps, warmupSteps)

	gate := &checkpointGate{budget: cfg.EarlyStop}
	totalLoss := 0.0
	finishSteps := 0

	for epoch := 1; epoch <= cfg.NumEpochs; epoch++ {
		log.Printf("Epoch %d/%d", epoch, cfg.NumEpochs)

		totalLoss, err = TrainEpoch(t.model, trainLoader, opt, sched, cfg.LearningRate, epoch, finishSteps, totalLoss)
		if err != nil {
			return gate.best, err
		}
		finishSteps += trainLoader.Len()

		report, err := Evaluate(t.model, devLoader, cfg.ProblemType, cfg.LossType, labelNames)
		if err != nil {
			return gate.best, err
		}
		f1 := report.MacroAvg.F1
		log.Printf("dev accuracy: %.2f%%, macro F1: %.2f%%", 100*report.Accuracy, 100*f1)

		save, improved := gate.observe(f1)
		if improved {
			log.Printf("saving new weights...")
		} else if save {
			log.Printf("no improvement over best F1 %.2f%%, early-stop budget now %d", 100*gate.best, gate.budget)
		}
		if save {
			name := checkpoints.WeightFileName(epoch, f1)
			if err := checkpoints.SaveWeights(filepath.Join(cfg.OutputDir, name), t.model.NamedParameters()); err != nil {
				return gate.best, err
			}
			snapshot := cfg.Snapshot(t.vocab.NameToID(), t.vocab.IDToName())
			if err := checkpoints.SaveConfigSnapshot(cfg.OutputDir, snapshot); err != nil {
				return gate.best, err
			}
		}
	}

	log.Printf("training finished, best dev macro F1: %.2f%%", 100*gate.best)
	return gate.best, nil
}

// labelNamesInOrder returns the vocabulary's label names indexed by id.
func labelNamesInOrder(vocab *dataset.LabelVocabulary) []string {
	names := make([]string, vocab.Size())
	for i := range names {
		name, _ := vocab.Name(i)
		names[i] = name
	}
	return names
}

// writeArgsFile dumps the effective configuration to args.txt in the output
// directory for later reference.
func writeArgsFile(cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal training arguments: %v", err)
	}
	path := filepath.Join(cfg.OutputDir, "args.txt")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	return nil
}
