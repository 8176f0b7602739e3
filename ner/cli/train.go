package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	ner "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/config"
	"github.com/PurestEarth/nertrain/ner/corpus"
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/features"
	"github.com/PurestEarth/nertrain/ner/model"
	"github.com/PurestEarth/nertrain/ner/runctx"
	"github.com/PurestEarth/nertrain/ner/train"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a tagger on an annotated corpus",
	RunE:  runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.String("input", "", "training corpus directory")
	f.String("valid", "", "validation corpus directory")
	f.String("output", "", "fresh output directory for checkpoints")
	f.String("model", "BERT", "model architecture: LSTM, Reformer or BERT")
	f.String("embedding", "", "word-embedding file for the LSTM tagger")
	f.String("pretrained", "", "pretrained weight directory for BERT")
	f.Int64("seed", 44, "random seed")
	f.Int("max_seq_length", 128, "maximum sub-word sequence length")
	f.Int("epochs", 3, "number of training epochs")
	f.Int("train_batch_size", 32, "training batch size before accumulation split")
	f.Int("eval_batch_size", 32, "validation batch size")
	f.Int("gradient_accumulation_steps", 1, "batches per optimizer step")
	f.Float64("learning_rate", 5e-5, "peak learning rate")
	f.Float64("weight_decay", 0.01, "decoupled weight decay")
	f.Float64("warmup_proportion", 0.1, "fraction of steps spent warming up")
	f.Float64("adam_epsilon", 1e-8, "Adam denominator epsilon")
	f.Float64("max_grad_norm", 1.0, "global gradient-norm clip bound")
	f.Float64("dropout", 0.3, "dropout probability")
	f.Int("hidden_size", 0, "hidden size, 0 derives it from the pretrained path")
	f.Int("num_layers", 4, "transformer layer count")
	f.Int("num_heads", 4, "attention head count")
	f.Int("attention_window", 32, "attention window for the Reformer variant, 0 for full")
	f.Int("max_docs", 0, "cap on documents loaded per directory, 0 for all")
	f.Bool("epoch_save_model", false, "also snapshot every epoch under eNNN/")
	f.String("device", "cpu", "compute device")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Input == "" || cfg.Valid == "" || cfg.Output == "" {
		return errors.New("input, valid and output directories are required")
	}

	rc, err := runctx.New(ner.NewLogger(), cfg.Seed, cfg.Device)
	if err != nil {
		return err
	}
	kind, err := model.ParseKind(cfg.Model)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	loader := corpus.NewLoader(rc, cfg.MaxDocs)
	trainTokens, trainLabels, err := loader.LoadDir(ctx, cfg.Input)
	if err != nil {
		return fmt.Errorf("loading training corpus: %w", err)
	}
	validTokens, validLabels, err := loader.LoadDir(ctx, cfg.Valid)
	if err != nil {
		return fmt.Errorf("loading validation corpus: %w", err)
	}

	trainExamples, labelList := corpus.BuildExamples(trainTokens, trainLabels, "train")
	validExamples, _ := corpus.BuildExamples(validTokens, validLabels, "valid")

	// label vocabulary comes from the training set only; validation is
	// encoded against the same map
	labelMap := features.NewLabelMap(labelList)

	m, err := model.New(rc, kind, model.Config{
		NumLabels:       labelMap.NumLabels(),
		HiddenSize:      cfg.ResolveHiddenSize(),
		Dropout:         cfg.Dropout,
		MaxSeqLen:       cfg.MaxSeqLength,
		NumLayers:       cfg.NumLayers,
		NumHeads:        cfg.NumHeads,
		AttentionWindow: cfg.AttentionWindow,
		EmbeddingPath:   cfg.Embedding,
		PretrainedPath:  cfg.Pretrained,
	})
	if err != nil {
		return err
	}

	trainData, err := buildDataset(kind, trainExamples, labelMap, cfg.MaxSeqLength, m)
	if err != nil {
		return fmt.Errorf("building training features: %w", err)
	}
	validData, err := buildDataset(kind, validExamples, labelMap, cfg.MaxSeqLength, m)
	if err != nil {
		return fmt.Errorf("building validation features: %w", err)
	}

	trainer := train.New(rc, cfg, labelMap)
	return trainer.Train(m, trainData, validData, labelMap)
}

// buildDataset runs the feature strategy matching the model family and
// wraps the records for batching.
func buildDataset(kind model.Kind, examples []corpus.Example, labelMap *features.LabelMap,
	maxSeqLen int, enc features.WordEncoder) (*dataset.Dataset, error) {

	var (
		records []features.Record
		err     error
	)
	if kind.Family() == dataset.FamilyRecurrent {
		records, err = features.BuildRecurrent(examples, labelMap, maxSeqLen, enc)
	} else {
		records, err = features.BuildPacked(examples, labelMap, maxSeqLen, enc)
	}
	if err != nil {
		return nil, err
	}
	return dataset.New(records, kind.Family(), maxSeqLen)
}
