package model

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

func testRunContext(t *testing.T) *runctx.RunContext {
	t.Helper()
	rc, err := runctx.New(zerolog.Nop(), 44, "cpu")
	require.NoError(t, err)
	return rc
}

func TestClipGradNorm(t *testing.T) {
	p := NewParameter("w", 1, 2)
	p.Grad.Set(0, 0, 3)
	p.Grad.Set(0, 1, 4)

	norm := ClipGradNorm([]*Parameter{p}, 1.0)

	assert.InDelta(t, 5.0, norm, 1e-9, "pre-clip norm is the 3-4-5 triangle")
	assert.InDelta(t, 0.6, p.Grad.At(0, 0), 1e-9)
	assert.InDelta(t, 0.8, p.Grad.At(0, 1), 1e-9)

	// a norm already under the bound is left alone
	ClipGradNorm([]*Parameter{p}, 10.0)
	assert.InDelta(t, 0.6, p.Grad.At(0, 0), 1e-9)
}

func TestStateDictRoundTrip(t *testing.T) {
	a := NewParameter("w", 2, 2)
	a.Value.Set(0, 1, 1.5)
	b := NewParameter("b", 1, 2)
	b.Value.Set(0, 0, -2.0)

	sd := NewStateDict([]*Parameter{a, b})

	a2 := NewParameter("w", 2, 2)
	b2 := NewParameter("b", 1, 2)
	require.NoError(t, sd.Apply([]*Parameter{a2, b2}))
	assert.Equal(t, 1.5, a2.Value.At(0, 1))
	assert.Equal(t, -2.0, b2.Value.At(0, 0))
}

func TestSaveLoadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.pt")

	w := NewParameter("encoder.w", 2, 3)
	w.Value.Set(1, 2, 0.25)
	head := NewParameter("classifier.w", 3, 2)
	head.Value.Set(0, 0, 7.0)
	require.NoError(t, SaveWeights(path, []*Parameter{w, head}))

	t.Run("strict load restores everything", func(t *testing.T) {
		w2 := NewParameter("encoder.w", 2, 3)
		head2 := NewParameter("classifier.w", 3, 2)
		require.NoError(t, LoadWeights(path, []*Parameter{w2, head2}, true))
		assert.Equal(t, 0.25, w2.Value.At(1, 2))
		assert.Equal(t, 7.0, head2.Value.At(0, 0))
	})

	t.Run("strict load fails on a missing parameter", func(t *testing.T) {
		w2 := NewParameter("encoder.w", 2, 3)
		extra := NewParameter("extra.w", 1, 1)
		assert.Error(t, LoadWeights(path, []*Parameter{w2, extra}, true))
	})

	t.Run("non-strict load skips absent names", func(t *testing.T) {
		// a fresh classifier head with a new shape survives reload
		w2 := NewParameter("encoder.w", 2, 3)
		fresh := NewParameter("classifier.fresh", 3, 5)
		require.NoError(t, LoadWeights(path, []*Parameter{w2, fresh}, false))
		assert.Equal(t, 0.25, w2.Value.At(1, 2))
		assert.Equal(t, 0.0, fresh.Value.At(0, 0))
	})
}

func TestMaskedCrossEntropy(t *testing.T) {
	t.Run("uniform logits cost ln C per masked position", func(t *testing.T) {
		logits := mat.NewDense(3, 4, nil)
		labels := []int64{1, 2, 3}
		mask := []int64{1, 1, 0}

		loss, dLogits := maskedCrossEntropy(logits, labels, mask, 1.0)

		assert.InDelta(t, math.Log(4), loss, 1e-9)
		// masked-out rows carry zero gradient
		for j := 0; j < 4; j++ {
			assert.Equal(t, 0.0, dLogits.At(2, j))
		}
	})

	t.Run("scale multiplies loss and gradient", func(t *testing.T) {
		logits := mat.NewDense(1, 2, []float64{0.3, -0.7})
		labels := []int64{0}
		mask := []int64{1}

		lossFull, dFull := maskedCrossEntropy(logits, labels, mask, 1.0)
		lossHalf, dHalf := maskedCrossEntropy(logits, labels, mask, 0.5)

		assert.InDelta(t, lossFull*0.5, lossHalf, 1e-9)
		assert.InDelta(t, dFull.At(0, 0)*0.5, dHalf.At(0, 0), 1e-9)
	})

	t.Run("all-masked input is zero loss", func(t *testing.T) {
		logits := mat.NewDense(2, 3, nil)
		loss, _ := maskedCrossEntropy(logits, []int64{0, 0}, []int64{0, 0}, 1.0)
		assert.Equal(t, 0.0, loss)
	})
}

func TestCRF(t *testing.T) {
	c := newCRF("crf", 3)

	t.Run("viterbi follows dominant emissions under zero transitions", func(t *testing.T) {
		emissions := mat.NewDense(3, 3, []float64{
			0, 10, 0,
			0, 0, 10,
			10, 0, 0,
		})
		assert.Equal(t, []int64{1, 2, 0}, c.viterbi(emissions))
	})

	t.Run("nll is lower for the dominant path", func(t *testing.T) {
		emissions := mat.NewDense(2, 3, []float64{
			0, 5, 0,
			0, 5, 0,
		})
		goldLoss, _ := c.nll(emissions, []int64{1, 1}, 1.0)
		offLoss, _ := c.nll(emissions, []int64{2, 2}, 1.0)
		assert.Less(t, goldLoss, offLoss)
		assert.Greater(t, goldLoss, 0.0, "nll is a negative log-probability")
	})

	t.Run("gradient shape matches emissions", func(t *testing.T) {
		emissions := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 0})
		_, dEmissions := c.nll(emissions, []int64{0, 1}, 1.0)
		r, cols := dEmissions.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 3, cols)
	})
}

func TestSparseTransformerEncodeWord(t *testing.T) {
	rc := testRunContext(t)
	m, err := New(rc, KindSparse, Config{
		NumLabels: 3, HiddenSize: 8, MaxSeqLen: 8, NumLayers: 1, NumHeads: 2,
	})
	require.NoError(t, err)

	ids, err := m.EncodeWord("ab")
	require.NoError(t, err)
	assert.Equal(t, []int64{4 + int64('a'), 4 + int64('b')}, ids,
		"byte-level ids sit above the four reserved ids")

	ids, err = m.EncodeWord("")
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids, "empty word maps to the unknown id")
}

func TestSparseTransformerLossAndPredict(t *testing.T) {
	rc := testRunContext(t)
	m, err := New(rc, KindSparse, Config{
		NumLabels: 3, HiddenSize: 8, MaxSeqLen: 8, NumLayers: 1, NumHeads: 2,
		AttentionWindow: 2,
	})
	require.NoError(t, err)

	batch := dataset.Batch{
		InputIDs:  [][]int64{{0, 70, 71, 72, 2, 1, 1, 1}},
		LabelIDs:  [][]int64{{0, 1, 2, 1, 0, 0, 0, 0}},
		LabelMask: [][]int64{{0, 1, 1, 1, 0, 0, 0, 0}},
		ValidMask: [][]int64{{0, 1, 1, 1, 0, 0, 0, 0}},
	}

	m.SetTraining(true)
	loss, err := m.Loss(batch, 1.0)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.Greater(t, loss, 0.0)

	var gradNonzero bool
	for _, p := range m.Parameters() {
		if mat.Norm(p.Grad, 2) > 0 {
			gradNonzero = true
			break
		}
	}
	assert.True(t, gradNonzero, "backward pass must accumulate gradients")

	m.SetTraining(false)
	preds, err := m.Predict(batch.InputIDs, [][]int64{{1, 1, 1, 1, 1, 0, 0, 0}})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	require.Len(t, preds[0], 8)
	for i := 0; i < 5; i++ {
		assert.NotEqual(t, internal.IgnoreLabelID, preds[0][i],
			"real positions never decode to IGNORE")
	}
}

func TestRecurrentTagger(t *testing.T) {
	rc := testRunContext(t)

	embFile := filepath.Join(t.TempDir(), "vectors.txt")
	body := "3 4\nJan 0.1 0.2 0.3 0.4\nKowalski 0.5 0.6 0.7 0.8\npracuje -0.1 -0.2 -0.3 -0.4\n"
	require.NoError(t, os.WriteFile(embFile, []byte(body), 0o644))

	m, err := New(rc, KindRecurrent, Config{
		NumLabels: 3, HiddenSize: 4, MaxSeqLen: 6, EmbeddingPath: embFile,
	})
	require.NoError(t, err)

	t.Run("known words map to stable single ids", func(t *testing.T) {
		a, err := m.EncodeWord("Jan")
		require.NoError(t, err)
		require.Len(t, a, 1)
		b, err := m.EncodeWord("Jan")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("unseen words map to the unknown id with a frozen vocabulary", func(t *testing.T) {
		u1, err := m.EncodeWord("nieznane")
		require.NoError(t, err)
		u2, err := m.EncodeWord("inne")
		require.NoError(t, err)
		assert.Equal(t, u1, u2)
	})

	t.Run("loss and prediction run end to end", func(t *testing.T) {
		jan, _ := m.EncodeWord("Jan")
		kow, _ := m.EncodeWord("Kowalski")
		prac, _ := m.EncodeWord("pracuje")

		batch := dataset.Batch{
			InputIDs:  [][]int64{{jan[0], kow[0], prac[0], 0, 0, 0}},
			LabelIDs:  [][]int64{{2, 2, 1, 0, 0, 0}},
			LabelMask: [][]int64{{1, 1, 1, 0, 0, 0}},
			ValidMask: [][]int64{{1, 1, 1, 0, 0, 0}},
		}

		m.SetTraining(true)
		loss, err := m.Loss(batch, 1.0)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(loss))
		assert.Greater(t, loss, 0.0)

		m.SetTraining(false)
		preds, err := m.Predict(batch.InputIDs, batch.ValidMask)
		require.NoError(t, err)
		require.Len(t, preds, 1)
		require.Len(t, preds[0], 6)
		for i := 3; i < 6; i++ {
			assert.Equal(t, internal.IgnoreLabelID, preds[0][i],
				"padding positions decode to IGNORE")
		}
	})
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{
		"LSTM": KindRecurrent, "lstm": KindRecurrent,
		"Reformer": KindSparse, "BERT": KindPretrained,
	} {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("GPT")
	assert.Error(t, err)
}
