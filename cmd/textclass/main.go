// Command textclass fine-tunes, evaluates and runs inference for a text
// classifier over JSON-lines datasets.
package main

import (
	"log"
	"os"

	arg "github.com/alexflint/go-arg"

	"github.com/tsawler/go-textclass/checkpoints"
	"github.com/tsawler/go-textclass/config"
	"github.com/tsawler/go-textclass/dataset"
	"github.com/tsawler/go-textclass/model"
	"github.com/tsawler/go-textclass/predict"
	"github.com/tsawler/go-textclass/tensor"
	"github.com/tsawler/go-textclass/tokenizer"
	"github.com/tsawler/go-textclass/training"
)

func noErr(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	args := struct {
		TrainFile      string `arg:"--train-file" help:"JSON-lines training set"`
		DevFile        string `arg:"--dev-file" help:"JSON-lines validation set"`
		TestFile       string `arg:"--test-file" help:"JSON-lines test set"`
		LabelFile      string `arg:"--label-file,required" help:"JSON map of label name to id"`
		TrainCountFile string `arg:"--train-count-file" help:"JSON per-label training counts for cost weighting"`
		VocabFile      string `arg:"--vocab-file,required" help:"token vocabulary, one token per line"`
		Pretrained     string `arg:"--pretrained" help:"checkpoint to initialize weights from"`
		OutputDir      string `arg:"--output-dir,required" help:"directory for checkpoints and reports"`

		ModelKind   string `arg:"--model-kind" default:"standard" help:"standard, cost_weighted or correlation"`
		ProblemType string `arg:"--problem-type" default:"single_label_classification" help:"single_label_classification or multi_label_classification"`
		LossType    string `arg:"--loss-type" default:"BCE" help:"multi-label loss, BCE or ZLPR"`

		BatchSize         int     `arg:"--batch-size" default:"32"`
		MaxLength         int     `arg:"--max-length" default:"128"`
		HiddenSize        int     `arg:"--hidden-size" default:"256"`
		NumEpochs         int     `arg:"--num-epochs" default:"3"`
		LearningRate      float64 `arg:"--learning-rate" default:"1e-3"`
		AdamBeta1         float64 `arg:"--adam-beta1" default:"0.9"`
		AdamBeta2         float64 `arg:"--adam-beta2" default:"0.999"`
		AdamEpsilon       float64 `arg:"--adam-epsilon" default:"1e-8"`
		WeightDecay       float64 `arg:"--weight-decay" default:"0.01"`
		WarmupProportion  float64 `arg:"--warmup-proportion" default:"0.1"`
		ClassifierDropout float64 `arg:"--classifier-dropout" default:"0.1"`
		EarlyStop         int     `arg:"--early-stop" default:"5"`
		Seed              int64   `arg:"--seed" default:"42"`
		UseRDrop          bool    `arg:"--use-r-drop" help:"fix shuffle order for R-Drop style paired passes"`

		DoTrain   bool `arg:"--do-train" help:"fine-tune on the training set"`
		DoTest    bool `arg:"--do-test" help:"evaluate saved checkpoints on the test set"`
		DoPredict bool `arg:"--do-predict" help:"write per-checkpoint prediction CSVs"`
	}{}
	arg.MustParse(&args)

	kind, err := config.ParseModelKind(args.ModelKind)
	noErr(err)

	cfg := &config.Config{
		TrainFile:      args.TrainFile,
		DevFile:        args.DevFile,
		TestFile:       args.TestFile,
		LabelFile:      args.LabelFile,
		TrainCountFile: args.TrainCountFile,
		VocabFile:      args.VocabFile,
		Pretrained:     args.Pretrained,
		OutputDir:      args.OutputDir,

		ModelKind:   kind,
		ProblemType: config.ProblemType(args.ProblemType),
		LossType:    config.LossType(args.LossType),

		BatchSize:         args.BatchSize,
		MaxLength:         args.MaxLength,
		HiddenSize:        args.HiddenSize,
		NumEpochs:         args.NumEpochs,
		LearningRate:      args.LearningRate,
		AdamBeta1:         args.AdamBeta1,
		AdamBeta2:         args.AdamBeta2,
		AdamEpsilon:       args.AdamEpsilon,
		WeightDecay:       args.WeightDecay,
		WarmupProportion:  args.WarmupProportion,
		ClassifierDropout: args.ClassifierDropout,
		EarlyStop:         args.EarlyStop,
		Seed:              args.Seed,
		UseRDrop:          args.UseRDrop,
	}
	noErr(cfg.Validate())

	noErr(os.MkdirAll(cfg.OutputDir, 0755))

	tensor.SetRandomSeed(cfg.Seed)
	cfg.Device = tensor.Resolve()
	log.Printf("using device: %s", cfg.Device)

	vocab, err := dataset.LoadLabelVocabulary(cfg.LabelFile)
	noErr(err)
	cfg.NumLabels = vocab.Size()

	tok, err := tokenizer.Load(cfg.VocabFile, cfg.MaxLength)
	noErr(err)

	if cfg.ModelKind == config.KindCostWeighted {
		if cfg.TrainCountFile == "" {
			log.Fatal("cost_weighted model requires --train-count-file")
		}
		weights, err := dataset.LoadLabelWeights(cfg.TrainCountFile, vocab)
		noErr(err)
		cfg.LabelWeights = weights
	}

	m, err := model.NewSequenceClassifier(cfg, tok.VocabSize())
	noErr(err)

	if cfg.Pretrained != "" {
		ckpt, err := checkpoints.LoadWeights(cfg.Pretrained)
		noErr(err)
		noErr(checkpoints.LoadWeightsInto(ckpt, m.NamedParameters()))
		log.Printf("loaded pretrained weights from %s", cfg.Pretrained)
	}

	if args.DoTrain {
		trainSet, err := dataset.Load(cfg.TrainFile)
		noErr(err)
		devSet, err := dataset.Load(cfg.DevFile)
		noErr(err)

		trainer := training.NewTrainer(cfg, m, vocab)
		_, err = trainer.Run(trainSet, devSet, tok)
		noErr(err)
	}

	if args.DoTest {
		testSet, err := dataset.Load(cfg.TestFile)
		noErr(err)
		noErr(predict.RunTest(cfg, m, testSet, tok, vocab))
	}

	if args.DoPredict {
		testSet, err := dataset.Load(cfg.TestFile)
		noErr(err)
		noErr(predict.RunPredict(cfg, m, testSet, tok, vocab))
	}
}
