package model

import (
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// byteVocabSize covers the reserved BOS/PAD/EOS/UNK ids plus one id per
// byte value.
const byteVocabSize = 4 + 256

// sparseTransformer trains from scratch with attention restricted to a
// local window, which keeps score rows sparse at long sequence lengths.
// Words are encoded at the byte level, so no external vocabulary is
// needed.
type sparseTransformer struct {
	core *transformerCore
}

func newSparseTransformer(rc *runctx.RunContext, cfg Config) (Model, error) {
	window := cfg.AttentionWindow
	if window <= 0 {
		window = 32
	}
	core, err := newTransformerCore(rc, cfg, byteVocabSize, window)
	if err != nil {
		return nil, err
	}
	return &sparseTransformer{core: core}, nil
}

func (m *sparseTransformer) Kind() Kind { return KindSparse }

func (m *sparseTransformer) Parameters() []*Parameter { return m.core.params }

func (m *sparseTransformer) SetTraining(train bool) { m.core.train = train }

// EncodeWord yields one id per byte, offset past the reserved ids.
func (m *sparseTransformer) EncodeWord(word string) ([]int64, error) {
	if word == "" {
		return []int64{3}, nil // unknown
	}
	ids := make([]int64, len(word))
	for i := 0; i < len(word); i++ {
		ids[i] = 4 + int64(word[i])
	}
	return ids, nil
}

func (m *sparseTransformer) Loss(batch dataset.Batch, scale float64) (float64, error) {
	return m.core.loss(batch, scale)
}

func (m *sparseTransformer) Predict(inputIDs, mask [][]int64) ([][]int64, error) {
	return m.core.predict(inputIDs)
}
