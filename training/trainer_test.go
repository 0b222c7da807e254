package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-textclass/checkpoints"
	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/dataset"
	"github.com/tsawler/go-textclass/model"
	"github.com/tsawler/go-textclass/tensor"
	"github.com/tsawler/go-textclass/tokenizer"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func trainerFixtures(t *testing.T) (*config.Config, *model.SequenceClassifier, *dataset.LabelVocabulary, *dataset.Dataset, *dataset.Dataset, *tokenizer.Tokenizer) {
	t.Helper()
	dir := t.TempDir()

	labelPath := writeTestFile(t, dir, "labels.json", `{"pos": 0, "neg": 1}`)
	vocabPath := writeTestFile(t, dir, "vocab.txt", "[PAD]\n[UNK]\n[CLS]\n[SEP]\ngood\nbad\nfine\nawful\n")
	trainPath := writeTestFile(t, dir, "train.json",
		`{"sentence": "good fine", "label": "pos"}
{"sentence": "bad awful", "label": "neg"}
{"sentence": "good good", "label": "pos"}
{"sentence": "awful bad", "label": "neg"}
`)
	devPath := writeTestFile(t, dir, "dev.json",
		`{"sentence": "fine good", "label": "pos"}
{"sentence": "bad bad", "label": "neg"}
`)

	vocab, err := dataset.LoadLabelVocabulary(labelPath)
	if err != nil {
		t.Fatalf("LoadLabelVocabulary failed: %v", err)
	}
	tok, err := tokenizer.Load(vocabPath, 6)
	if err != nil {
		t.Fatalf("tokenizer.Load failed: %v", err)
	}
	trainSet, err := dataset.Load(trainPath)
	if err != nil {
		t.Fatalf("dataset.Load failed: %v", err)
	}
	devSet, err := dataset.Load(devPath)
	if err != nil {
		t.Fatalf("dataset.Load failed: %v", err)
	}

	cfg := &config.Config{
		OutputDir:         filepath.Join(dir, "out"),
		ModelKind:         config.KindStandard,
		ProblemType:       config.SingleLabel,
		LossType:          config.BCE,
		BatchSize:         2,
		MaxLength:         6,
		HiddenSize:        8,
		NumEpochs:         2,
		LearningRate:      0.05,
		AdamBeta1:         0.9,
		AdamBeta2:         0.999,
		AdamEpsilon:       1e-8,
		WeightDecay:       0.01,
		WarmupProportion:  0.1,
		ClassifierDropout: 0,
		EarlyStop:         5,
		Seed:              11,
		NumLabels:         vocab.Size(),
		Device:            tensor.CPU,
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	tensor.SetRandomSeed(cfg.Seed)
	m, err := model.NewSequenceClassifier(cfg, tok.VocabSize())
	if err != nil {
		t.Fatalf("NewSequenceClassifier failed: %v", err)
	}
	return cfg, m, vocab, trainSet, devSet, tok
}

func TestTrainerRunSavesEveryEpoch(t *testing.T) {
	cfg, m, vocab, trainSet, devSet, tok := trainerFixtures(t)

	trainer := NewTrainer(cfg, m, vocab)
	if _, err := trainer.Run(trainSet, devSet, tok); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	weights, err := checkpoints.ListWeightFiles(cfg.OutputDir)
	if err != nil {
		t.Fatalf("ListWeightFiles failed: %v", err)
	}
	if len(weights) != cfg.NumEpochs {
		t.Errorf("Expected one checkpoint per epoch (%d), got %d: %v", cfg.NumEpochs, len(weights), weights)
	}

	for _, file := range []string{"args.txt", "config.json"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, file)); err != nil {
			t.Errorf("Expected %s to exist: %v", file, err)
		}
	}
}

func TestTrainerRunWithZeroBudgetSavesNothing(t *testing.T) {
	cfg, m, vocab, trainSet, devSet, tok := trainerFixtures(t)
	cfg.EarlyStop = 0

	trainer := NewTrainer(cfg, m, vocab)
	if _, err := trainer.Run(trainSet, devSet, tok); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	weights, err := checkpoints.ListWeightFiles(cfg.OutputDir)
	if err != nil {
		t.Fatalf("ListWeightFiles failed: %v", err)
	}
	if len(weights) != 0 {
		t.Errorf("Expected no checkpoints with a zero early-stop budget, got %v", weights)
	}
}

func TestCheckpointGateFlatF1SpendsBudget(t *testing.T) {
	gate := &checkpointGate{budget: 1}

	// Epoch 1 improves on the initial best of zero.
	save, improved := gate.observe(0.5)
	if !save || !improved {
		t.Errorf("First epoch should save and improve, got save=%v improved=%v", save, improved)
	}

	// Epoch 2 only matches the best: strict improvement fails, the budget
	// is spent, but the epoch's weights are still saved.
	save, improved = gate.observe(0.5)
	if !save {
		t.Error("Epoch spending the last budget unit should still save")
	}
	if improved {
		t.Error("An equal dev F1 is not an improvement")
	}
	if gate.budget != 0 {
		t.Errorf("Expected budget 0 after a flat epoch, got %d", gate.budget)
	}

	// Epoch 3 arrives after the budget is exhausted; even a higher score
	// neither saves nor moves the best.
	save, _ = gate.observe(0.9)
	if save {
		t.Error("No epoch should save once the budget is exhausted")
	}
	if gate.best != 0.5 {
		t.Errorf("Best should stay 0.5 once the budget is exhausted, got %f", gate.best)
	}
}

func TestCheckpointGateImprovementKeepsBudget(t *testing.T) {
	gate := &checkpointGate{budget: 2}

	for _, f1 := range []float64{0.3, 0.5, 0.8} {
		save, improved := gate.observe(f1)
		if !save || !improved {
			t.Errorf("Strictly increasing F1 %f should save and improve", f1)
		}
	}
	if gate.budget != 2 {
		t.Errorf("Improving epochs should not spend budget, got %d", gate.budget)
	}
	if gate.best != 0.8 {
		t.Errorf("Expected best 0.8, got %f", gate.best)
	}
}

func TestEvaluateProducesReport(t *testing.T) {
	cfg, m, vocab, _, devSet, tok := trainerFixtures(t)

	loader, err := dataset.NewDataLoader(devSet, tok, vocab, cfg.ProblemType, cfg.BatchSize, false, false)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	report, err := Evaluate(m, loader, cfg.ProblemType, cfg.LossType, labelNamesInOrder(vocab))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Labels) != 2 {
		t.Errorf("Expected 2 label rows, got %d", len(report.Labels))
	}
	if report.Accuracy < 0 || report.Accuracy > 1 {
		t.Errorf("Accuracy out of range: %f", report.Accuracy)
	}
	if !tensor.GradEnabled() {
		t.Error("Evaluate should restore gradient tracking")
	}
}
