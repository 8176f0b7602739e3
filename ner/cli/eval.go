package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	ner "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/config"
	"github.com/PurestEarth/nertrain/ner/corpus"
	"github.com/PurestEarth/nertrain/ner/model"
	"github.com/PurestEarth/nertrain/ner/runctx"
	"github.com/PurestEarth/nertrain/ner/train"
)

var evalModelDir string

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a trained checkpoint on a held-out corpus",
	Long: `Rebuilds a tagger from a checkpoint directory (model.pt plus
params.json), scores it on a held-out corpus and writes eval_results.txt
next to the checkpoint.`,
	RunE: runEval,
}

func init() {
	f := evalCmd.Flags()
	f.String("input", "", "held-out corpus directory")
	f.String("model", "BERT", "model architecture: LSTM, Reformer or BERT")
	f.String("embedding", "", "word-embedding file for the LSTM tagger")
	f.String("pretrained", "", "pretrained weight directory for BERT")
	f.Int("max_seq_length", 128, "maximum sub-word sequence length")
	f.Int("eval_batch_size", 32, "evaluation batch size")
	f.Int("hidden_size", 0, "hidden size, 0 derives it from the pretrained path")
	f.Int("num_layers", 4, "transformer layer count")
	f.Int("num_heads", 4, "attention head count")
	f.Int("attention_window", 32, "attention window for the Reformer variant, 0 for full")
	f.Int("max_docs", 0, "cap on documents loaded per directory, 0 for all")
	f.Int64("seed", 44, "random seed")
	f.String("device", "cpu", "compute device")
	f.StringVar(&evalModelDir, "model_dir", "", "checkpoint directory to evaluate")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Input == "" || evalModelDir == "" {
		return errors.New("input and model_dir are required")
	}

	rc, err := runctx.New(ner.NewLogger(), cfg.Seed, cfg.Device)
	if err != nil {
		return err
	}
	kind, err := model.ParseKind(cfg.Model)
	if err != nil {
		return err
	}

	m, labelMap, err := train.LoadCheckpoint(rc, evalModelDir, kind, model.Config{
		HiddenSize:      cfg.ResolveHiddenSize(),
		MaxSeqLen:       cfg.MaxSeqLength,
		NumLayers:       cfg.NumLayers,
		NumHeads:        cfg.NumHeads,
		AttentionWindow: cfg.AttentionWindow,
		EmbeddingPath:   cfg.Embedding,
		PretrainedPath:  cfg.Pretrained,
	})
	if err != nil {
		return fmt.Errorf("loading checkpoint %s: %w", evalModelDir, err)
	}

	loader := corpus.NewLoader(rc, cfg.MaxDocs)
	tokens, labels, err := loader.LoadDir(cmd.Context(), cfg.Input)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	examples, _ := corpus.BuildExamples(tokens, labels, "test")

	data, err := buildDataset(kind, examples, labelMap, cfg.MaxSeqLength, m)
	if err != nil {
		return fmt.Errorf("building features: %w", err)
	}

	evaluator := train.NewEvaluator(labelMap, cfg.EvalBatchSize)
	f1, report, err := evaluator.Evaluate(m, data)
	if err != nil {
		return err
	}
	rc.Log.Info().Float64("f1", f1).Msg("evaluation done")
	fmt.Println(report)
	return train.WriteEvalResults(evalModelDir, f1, report)
}
