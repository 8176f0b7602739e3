package model

import (
	"fmt"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

const (
	// defaultWordVocabCap bounds the dynamically-grown word vocabulary
	// when no embedding file is supplied.
	defaultWordVocabCap = 50000
	// defaultWordEmbedDim matches the usual dimensionality of the
	// pretrained word vectors the tagger is trained with.
	defaultWordEmbedDim = 300
)

// recurrentTagger is word embedding -> BiLSTM -> linear emissions -> CRF.
// It consumes one id per word; sub-word alignment never happens on this
// path.
type recurrentTagger struct {
	rc    *runctx.RunContext
	cfg   Config
	train bool

	// vocab maps words to embedding rows. Row 0 is padding, the last row
	// the unknown word. With a pretrained embedding file the vocabulary
	// is frozen and unseen words map to unknown; otherwise it grows on
	// demand up to the table capacity.
	vocab  map[string]int64
	frozen bool
	unkID  int64

	emb    *embedding
	drop   dropout
	lstm   *biLSTM
	proj   *linear
	out    *crf
	params []*Parameter
}

func newRecurrentTagger(rc *runctx.RunContext, cfg Config) (Model, error) {
	m := &recurrentTagger{
		rc:    rc,
		cfg:   cfg,
		vocab: make(map[string]int64),
		drop:  dropout{p: cfg.Dropout, rng: rc.Rand},
	}

	embedDim := defaultWordEmbedDim
	vocabRows := defaultWordVocabCap
	if cfg.EmbeddingPath != "" {
		pretrained, err := loadWordEmbeddings(cfg.EmbeddingPath)
		if err != nil {
			return nil, err
		}
		embedDim = pretrained.dim
		vocabRows = len(pretrained.vectors) + 2 // padding + unknown
		m.emb = newEmbedding("word_embeddings", vocabRows, embedDim, rc.Rand)
		for word, row := range pretrained.vocab {
			m.vocab[word] = row + 1
			copy(m.emb.table.Value.RawRowView(int(row)+1), pretrained.vectors[row])
		}
		m.frozen = true
	} else {
		m.emb = newEmbedding("word_embeddings", vocabRows, embedDim, rc.Rand)
	}
	m.unkID = int64(vocabRows - 1)

	m.lstm = newBiLSTM("encoder", embedDim, cfg.HiddenSize, rc.Rand)
	m.proj = newLinear("emissions", 2*cfg.HiddenSize, cfg.NumLabels, rc.Rand)
	m.out = newCRF("crf", cfg.NumLabels)

	m.params = append(m.params, m.emb.table)
	m.params = append(m.params, m.lstm.parameters()...)
	m.params = append(m.params, m.proj.parameters()...)
	m.params = append(m.params, m.out.parameters()...)
	return m, nil
}

func (m *recurrentTagger) Kind() Kind { return KindRecurrent }

func (m *recurrentTagger) Parameters() []*Parameter { return m.params }

func (m *recurrentTagger) SetTraining(train bool) { m.train = train }

// EncodeWord yields exactly one id per word.
func (m *recurrentTagger) EncodeWord(word string) ([]int64, error) {
	if id, ok := m.vocab[word]; ok {
		return []int64{id}, nil
	}
	if m.frozen {
		return []int64{m.unkID}, nil
	}
	next := int64(len(m.vocab) + 1)
	if next >= m.unkID {
		return []int64{m.unkID}, nil
	}
	m.vocab[word] = next
	return []int64{next}, nil
}

// rowLength counts the loss-carrying prefix of one record; the recurrent
// strategy marks exactly the real word positions there.
func rowLength(mask []int64) int {
	n := 0
	for _, v := range mask {
		if v == 1 {
			n++
		}
	}
	return n
}

func (m *recurrentTagger) Loss(batch dataset.Batch, scale float64) (float64, error) {
	if len(batch.InputIDs) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	rowScale := scale / float64(len(batch.InputIDs))
	var total float64
	for row := range batch.InputIDs {
		length := rowLength(batch.LabelMask[row])
		if length == 0 {
			continue
		}
		if length > len(batch.InputIDs[row]) {
			length = len(batch.InputIDs[row])
		}
		ids := batch.InputIDs[row][:length]
		labels := batch.LabelIDs[row][:length]

		x := m.emb.forward(ids)
		dropped, dropMask := m.drop.forward(x, m.train)
		hidden, lstmCache := m.lstm.forward(dropped)
		emissions := m.proj.forward(hidden)

		loss, dEmissions := m.out.nll(emissions, labels, rowScale)
		total += loss

		dHidden := m.proj.backward(hidden, dEmissions)
		dDropped := m.lstm.backward(lstmCache, dHidden)
		dX := m.drop.backward(dropMask, dDropped)
		m.emb.backward(ids, dX)
	}
	return total, nil
}

func (m *recurrentTagger) Predict(inputIDs, mask [][]int64) ([][]int64, error) {
	out := make([][]int64, len(inputIDs))
	for row := range inputIDs {
		predicted := make([]int64, len(inputIDs[row]))
		for i := range predicted {
			predicted[i] = internal.IgnoreLabelID
		}
		length := rowLength(mask[row])
		if length > len(inputIDs[row]) {
			length = len(inputIDs[row])
		}
		if length > 0 {
			x := m.emb.forward(inputIDs[row][:length])
			hidden, _ := m.lstm.forward(x)
			emissions := m.proj.forward(hidden)
			copy(predicted, m.out.viterbi(emissions))
		}
		out[row] = predicted
	}
	return out, nil
}
