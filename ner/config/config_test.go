package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "BERT", cfg.Model)
	assert.Equal(t, int64(44), cfg.Seed)
	assert.Equal(t, 128, cfg.MaxSeqLength)
	assert.Equal(t, 1, cfg.GradientAccumulationSteps)
	assert.Equal(t, 5e-5, cfg.LearningRate)
	assert.Equal(t, 0.01, cfg.WeightDecay)
	assert.Equal(t, 0.1, cfg.WarmupProportion)
	assert.Equal(t, 1e-8, cfg.AdamEpsilon)
	assert.Equal(t, 1.0, cfg.MaxGradNorm)
	assert.Equal(t, 0.3, cfg.Dropout)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 0, cfg.MaxDocs, "document cap is off unless explicitly set")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "model: LSTM\nmax_seq_length: 64\ninput: /data/train\nmax_docs: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "LSTM", cfg.Model)
	assert.Equal(t, 64, cfg.MaxSeqLength)
	assert.Equal(t, "/data/train", cfg.Input)
	assert.Equal(t, 100, cfg.MaxDocs)
	// untouched keys keep their defaults
	assert.Equal(t, 32, cfg.TrainBatchSize)
}

func TestValidate(t *testing.T) {
	valid := func() *TrainConfig {
		cfg, err := Load("", nil)
		require.NoError(t, err)
		return cfg
	}

	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects zero accumulation steps", func(t *testing.T) {
		cfg := valid()
		cfg.GradientAccumulationSteps = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects epochs below one", func(t *testing.T) {
		cfg := valid()
		cfg.Epochs = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects sequences too short for markers", func(t *testing.T) {
		cfg := valid()
		cfg.MaxSeqLength = 3
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects batch smaller than accumulation split", func(t *testing.T) {
		cfg := valid()
		cfg.TrainBatchSize = 2
		cfg.GradientAccumulationSteps = 4
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative document cap", func(t *testing.T) {
		cfg := valid()
		cfg.MaxDocs = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown architectures", func(t *testing.T) {
		cfg := valid()
		cfg.Model = "GPT"
		assert.Error(t, cfg.Validate())
	})
}

func TestResolveHiddenSize(t *testing.T) {
	cfg := &TrainConfig{}
	assert.Equal(t, 300, cfg.ResolveHiddenSize(), "no pretrained weights means word-vector width")

	cfg.Pretrained = "/models/herbert-base-cased"
	assert.Equal(t, 768, cfg.ResolveHiddenSize())

	cfg.Pretrained = "/models/herbert-large-cased"
	assert.Equal(t, 1024, cfg.ResolveHiddenSize())

	cfg.HiddenSize = 512
	assert.Equal(t, 512, cfg.ResolveHiddenSize(), "an explicit size wins over the heuristic")
}
