package model

import (
	"fmt"
	"path/filepath"

	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// pretrainedTransformer fine-tunes externally trained transformer weights
// with full attention and a WordPiece sub-word encoder. The pretrained
// directory must hold model.pt and vocab.txt; either missing is fatal.
type pretrainedTransformer struct {
	core *transformerCore
	enc  *wordpieceEncoder
}

func newPretrainedTransformer(rc *runctx.RunContext, cfg Config) (Model, error) {
	if cfg.PretrainedPath == "" {
		return nil, fmt.Errorf("pretrained model requires a pretrained path")
	}
	enc, err := newWordpieceEncoder(cfg.PretrainedPath)
	if err != nil {
		return nil, err
	}
	core, err := newTransformerCore(rc, cfg, enc.vocabSize, 0)
	if err != nil {
		return nil, err
	}
	weightFile := filepath.Join(cfg.PretrainedPath, "model.pt")
	if err := LoadWeights(weightFile, core.params, false); err != nil {
		return nil, fmt.Errorf("loading pretrained weights: %w", err)
	}
	rc.Log.Info().Str("path", weightFile).Msg("pretrained weights loaded")
	return &pretrainedTransformer{core: core, enc: enc}, nil
}

func (m *pretrainedTransformer) Kind() Kind { return KindPretrained }

func (m *pretrainedTransformer) Parameters() []*Parameter { return m.core.params }

func (m *pretrainedTransformer) SetTraining(train bool) { m.core.train = train }

func (m *pretrainedTransformer) EncodeWord(word string) ([]int64, error) {
	return m.enc.EncodeWord(word)
}

func (m *pretrainedTransformer) Loss(batch dataset.Batch, scale float64) (float64, error) {
	return m.core.loss(batch, scale)
}

func (m *pretrainedTransformer) Predict(inputIDs, mask [][]int64) ([][]int64, error) {
	return m.core.predict(inputIDs)
}
