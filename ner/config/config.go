// Package config holds the training run configuration.
// Values are read by viper from an optional config file or environment
// variables; CLI flags bind over them in cmd/nertrain.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	internal "github.com/PurestEarth/nertrain/ner"
)

// TrainConfig stores every knob of a training invocation.
type TrainConfig struct {
	// Paths
	Input      string `mapstructure:"input"`      // training corpus directory
	Valid      string `mapstructure:"valid"`      // validation corpus directory
	Output     string `mapstructure:"output"`     // checkpoint directory, must be fresh
	Embedding  string `mapstructure:"embedding"`  // word-embedding file (recurrent tagger)
	Pretrained string `mapstructure:"pretrained"` // pretrained weight directory (transformer)

	// Model
	Model           string  `mapstructure:"model"` // LSTM | Reformer | BERT
	HiddenSize      int     `mapstructure:"hidden_size"`
	Dropout         float64 `mapstructure:"dropout"`
	NumLayers       int     `mapstructure:"num_layers"`
	NumHeads        int     `mapstructure:"num_heads"`
	AttentionWindow int     `mapstructure:"attention_window"`

	// Training loop
	Seed                      int64   `mapstructure:"seed"`
	MaxSeqLength              int     `mapstructure:"max_seq_length"`
	Epochs                    int     `mapstructure:"epochs"`
	TrainBatchSize            int     `mapstructure:"train_batch_size"`
	EvalBatchSize             int     `mapstructure:"eval_batch_size"`
	GradientAccumulationSteps int     `mapstructure:"gradient_accumulation_steps"`
	LearningRate              float64 `mapstructure:"learning_rate"`
	WeightDecay               float64 `mapstructure:"weight_decay"`
	WarmupProportion          float64 `mapstructure:"warmup_proportion"`
	AdamEpsilon               float64 `mapstructure:"adam_epsilon"`
	MaxGradNorm               float64 `mapstructure:"max_grad_norm"`
	EpochSaveModel            bool    `mapstructure:"epoch_save_model"`

	// Corpus
	// MaxDocs bounds how many documents the loader reads per directory.
	// Zero means unlimited; a positive value is an explicit debugging cap,
	// never an implicit default.
	MaxDocs int `mapstructure:"max_docs"`

	Device string `mapstructure:"device"`
}

// Load reads configuration from an optional file plus environment variables
// and returns it with defaults applied. A non-nil flag set binds over the
// file, so explicitly set flags always win.
func Load(configPath string, flags *pflag.FlagSet) (*TrainConfig, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(internal.DefaultAppName)
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file is fine, defaults and flags cover everything
	}

	var cfg TrainConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", "BERT")
	v.SetDefault("dropout", 0.3)
	v.SetDefault("num_layers", 4)
	v.SetDefault("num_heads", 4)
	v.SetDefault("attention_window", 32)
	v.SetDefault("seed", 44)
	v.SetDefault("max_seq_length", 128)
	v.SetDefault("epochs", 3)
	v.SetDefault("train_batch_size", 32)
	v.SetDefault("eval_batch_size", 32)
	v.SetDefault("gradient_accumulation_steps", 1)
	v.SetDefault("learning_rate", 5e-5)
	v.SetDefault("weight_decay", 0.01)
	v.SetDefault("warmup_proportion", 0.1)
	v.SetDefault("adam_epsilon", 1e-8)
	v.SetDefault("max_grad_norm", 1.0)
	v.SetDefault("device", "cpu")
}

// Validate rejects configuration errors before any work starts.
func (c *TrainConfig) Validate() error {
	if c.GradientAccumulationSteps < 1 {
		return fmt.Errorf("invalid gradient accumulation steps %d, should be >= 1", c.GradientAccumulationSteps)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("invalid epoch count %d, should be >= 1", c.Epochs)
	}
	if c.MaxSeqLength < 4 {
		return fmt.Errorf("invalid max sequence length %d, needs room for sentence markers", c.MaxSeqLength)
	}
	if c.TrainBatchSize < 1 || c.EvalBatchSize < 1 {
		return fmt.Errorf("batch sizes must be >= 1, got train=%d eval=%d", c.TrainBatchSize, c.EvalBatchSize)
	}
	if c.TrainBatchSize < c.GradientAccumulationSteps {
		return fmt.Errorf("train batch size %d smaller than accumulation steps %d", c.TrainBatchSize, c.GradientAccumulationSteps)
	}
	if c.MaxDocs < 0 {
		return fmt.Errorf("max_docs must be >= 0, got %d", c.MaxDocs)
	}
	switch strings.ToUpper(c.Model) {
	case "LSTM", "REFORMER", "BERT":
	default:
		return fmt.Errorf("unknown model %q, expected LSTM, Reformer or BERT", c.Model)
	}
	return nil
}

// ResolveHiddenSize mirrors the pretrained-size convention: 300 without
// pretrained weights, 768 for a base checkpoint, 1024 for a large one.
// An explicit hiddenSize wins over the heuristic.
func (c *TrainConfig) ResolveHiddenSize() int {
	if c.HiddenSize > 0 {
		return c.HiddenSize
	}
	if c.Pretrained == "" {
		return 300
	}
	if strings.Contains(c.Pretrained, "base") {
		return 768
	}
	return 1024
}
