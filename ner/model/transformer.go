package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	internal "github.com/PurestEarth/nertrain/ner"
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// transformerCore is the sub-word embedding -> attention blocks -> token
// classification head shared by the sparse and pretrained variants. The
// sparse variant restricts attention to a local window; window 0 means
// full attention.
type transformerCore struct {
	rc    *runctx.RunContext
	cfg   Config
	train bool

	vocab  int
	dim    int
	heads  int
	window int

	tokEmb  *embedding
	posEmb  *Parameter
	blocks  []*attnBlock
	finalLN *layerNorm
	head    *linear
	drop    dropout

	params []*Parameter
}

// attnBlock is one post-norm transformer block: multi-head attention with
// a residual, then a GELU feed-forward with a residual.
type attnBlock struct {
	wq, wk, wv, wo *linear
	ln1, ln2       *layerNorm
	ff1, ff2       *linear
}

func newAttnBlock(name string, dim int, rc *runctx.RunContext) *attnBlock {
	return &attnBlock{
		wq:  newLinear(name+".attention.query", dim, dim, rc.Rand),
		wk:  newLinear(name+".attention.key", dim, dim, rc.Rand),
		wv:  newLinear(name+".attention.value", dim, dim, rc.Rand),
		wo:  newLinear(name+".attention.output", dim, dim, rc.Rand),
		ln1: newLayerNorm(name+".attention.norm", dim),
		ln2: newLayerNorm(name+".ffn.norm", dim),
		ff1: newLinear(name+".ffn.intermediate", dim, 4*dim, rc.Rand),
		ff2: newLinear(name+".ffn.output", 4*dim, dim, rc.Rand),
	}
}

func (b *attnBlock) parameters() []*Parameter {
	var params []*Parameter
	for _, l := range []*linear{b.wq, b.wk, b.wv, b.wo, b.ff1, b.ff2} {
		params = append(params, l.parameters()...)
	}
	params = append(params, b.ln1.parameters()...)
	params = append(params, b.ln2.parameters()...)
	return params
}

func newTransformerCore(rc *runctx.RunContext, cfg Config, vocab, window int) (*transformerCore, error) {
	if cfg.HiddenSize%cfg.NumHeads != 0 {
		return nil, fmt.Errorf("hidden size %d not divisible by %d heads", cfg.HiddenSize, cfg.NumHeads)
	}
	core := &transformerCore{
		rc:      rc,
		cfg:     cfg,
		vocab:   vocab,
		dim:     cfg.HiddenSize,
		heads:   cfg.NumHeads,
		window:  window,
		tokEmb:  newEmbedding("token_embeddings", vocab, cfg.HiddenSize, rc.Rand),
		posEmb:  NewXavierParameter("position_embeddings", cfg.MaxSeqLen, cfg.HiddenSize, rc.Rand),
		finalLN: newLayerNorm("final_layer_norm", cfg.HiddenSize),
		drop:    dropout{p: cfg.Dropout, rng: rc.Rand},
	}
	for i := 0; i < cfg.NumLayers; i++ {
		core.blocks = append(core.blocks, newAttnBlock(fmt.Sprintf("layer.%d", i), cfg.HiddenSize, rc))
	}
	core.head = newLinear("classifier", cfg.HiddenSize, cfg.NumLabels, rc.Rand)

	core.params = append(core.params, core.tokEmb.table, core.posEmb)
	for _, block := range core.blocks {
		core.params = append(core.params, block.parameters()...)
	}
	core.params = append(core.params, core.finalLN.parameters()...)
	core.params = append(core.params, core.head.parameters()...)
	return core, nil
}

// copyCols writes src (T x w) into dst columns [col0, col0+w).
func copyCols(dst *mat.Dense, col0 int, src *mat.Dense) {
	t, w := src.Dims()
	for i := 0; i < t; i++ {
		copy(dst.RawRowView(i)[col0:col0+w], src.RawRowView(i))
	}
}

// addCols adds src (T x w) into dst columns [col0, col0+w).
func addCols(dst *mat.Dense, col0 int, src *mat.Dense) {
	t, w := src.Dims()
	for i := 0; i < t; i++ {
		floats.Add(dst.RawRowView(i)[col0:col0+w], src.RawRowView(i))
	}
}

func sliceCols(x *mat.Dense, col0, w int) *mat.Dense {
	t, _ := x.Dims()
	out := mat.NewDense(t, w, nil)
	for i := 0; i < t; i++ {
		copy(out.RawRowView(i), x.RawRowView(i)[col0:col0+w])
	}
	return out
}

// attentionMask builds the additive (T x T) score mask: 0 where attending
// is allowed, a large negative where the key is padding or outside the
// local window.
func (c *transformerCore) attentionMask(ids []int64) *mat.Dense {
	t := len(ids)
	mask := mat.NewDense(t, t, nil)
	const blocked = -1e9
	for i := 0; i < t; i++ {
		row := mask.RawRowView(i)
		for j := 0; j < t; j++ {
			if ids[j] == internal.PadTokenID {
				row[j] = blocked
				continue
			}
			if c.window > 0 && abs(i-j) > c.window {
				row[j] = blocked
			}
		}
	}
	return mask
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type blockCache struct {
	x         *mat.Dense
	q, k, v   *mat.Dense
	attn      []*mat.Dense // per-head softmax weights
	concat    *mat.Dense
	attnMask1 *mat.Dense // dropout mask after attention
	res1      *mat.Dense
	ln1       layerNormCache
	h1        *mat.Dense
	ffnMid    *mat.Dense
	act       *mat.Dense
	ffnMask   *mat.Dense
	res2      *mat.Dense
	ln2       layerNormCache
}

func (c *transformerCore) blockForward(b *attnBlock, x, addMask *mat.Dense) (*mat.Dense, blockCache) {
	t, _ := x.Dims()
	dh := c.dim / c.heads
	cache := blockCache{x: x}

	cache.q = b.wq.forward(x)
	cache.k = b.wk.forward(x)
	cache.v = b.wv.forward(x)

	cache.concat = mat.NewDense(t, c.dim, nil)
	invSqrt := 1 / math.Sqrt(float64(dh))
	for h := 0; h < c.heads; h++ {
		qh := sliceCols(cache.q, h*dh, dh)
		kh := sliceCols(cache.k, h*dh, dh)
		vh := sliceCols(cache.v, h*dh, dh)

		scores := mat.NewDense(t, t, nil)
		scores.Mul(qh, kh.T())
		scores.Scale(invSqrt, scores)
		scores.Add(scores, addMask)
		for i := 0; i < t; i++ {
			softmaxRow(scores.RawRowView(i))
		}
		cache.attn = append(cache.attn, scores)

		oh := mat.NewDense(t, dh, nil)
		oh.Mul(scores, vh)
		copyCols(cache.concat, h*dh, oh)
	}

	attnOut := b.wo.forward(cache.concat)
	attnDropped, m1 := c.drop.forward(attnOut, c.train)
	cache.attnMask1 = m1

	cache.res1 = mat.NewDense(t, c.dim, nil)
	cache.res1.Add(x, attnDropped)
	h1, ln1Cache := b.ln1.forward(cache.res1)
	cache.h1, cache.ln1 = h1, ln1Cache

	cache.ffnMid = b.ff1.forward(h1)
	cache.act = geluForward(cache.ffnMid)
	ffnOut := b.ff2.forward(cache.act)
	ffnDropped, m2 := c.drop.forward(ffnOut, c.train)
	cache.ffnMask = m2

	cache.res2 = mat.NewDense(t, c.dim, nil)
	cache.res2.Add(h1, ffnDropped)
	out, ln2Cache := b.ln2.forward(cache.res2)
	cache.ln2 = ln2Cache
	return out, cache
}

func (c *transformerCore) blockBackward(b *attnBlock, cache blockCache, dOut *mat.Dense) *mat.Dense {
	t, _ := dOut.Dims()
	dh := c.dim / c.heads
	invSqrt := 1 / math.Sqrt(float64(dh))

	dRes2 := b.ln2.backward(cache.ln2, dOut)
	dH1 := mat.NewDense(t, c.dim, nil)
	dH1.Copy(dRes2) // residual branch

	dFfnOut := c.drop.backward(cache.ffnMask, dRes2)
	dAct := b.ff2.backward(cache.act, dFfnOut)
	dFfnMid := geluBackward(cache.ffnMid, dAct)
	dH1.Add(dH1, b.ff1.backward(cache.h1, dFfnMid))

	dRes1 := b.ln1.backward(cache.ln1, dH1)
	dX := mat.NewDense(t, c.dim, nil)
	dX.Copy(dRes1) // residual branch

	dAttnOut := c.drop.backward(cache.attnMask1, dRes1)
	dConcat := b.wo.backward(cache.concat, dAttnOut)

	dQ := mat.NewDense(t, c.dim, nil)
	dK := mat.NewDense(t, c.dim, nil)
	dV := mat.NewDense(t, c.dim, nil)
	for h := 0; h < c.heads; h++ {
		attn := cache.attn[h]
		dOh := sliceCols(dConcat, h*dh, dh)
		vh := sliceCols(cache.v, h*dh, dh)
		qh := sliceCols(cache.q, h*dh, dh)
		kh := sliceCols(cache.k, h*dh, dh)

		dAttn := mat.NewDense(t, t, nil)
		dAttn.Mul(dOh, vh.T())
		dVh := mat.NewDense(t, dh, nil)
		dVh.Mul(attn.T(), dOh)

		// softmax backward row by row
		dScores := mat.NewDense(t, t, nil)
		for i := 0; i < t; i++ {
			aRow := attn.RawRowView(i)
			dARow := dAttn.RawRowView(i)
			var dot float64
			for j := 0; j < t; j++ {
				dot += aRow[j] * dARow[j]
			}
			dSRow := dScores.RawRowView(i)
			for j := 0; j < t; j++ {
				dSRow[j] = aRow[j] * (dARow[j] - dot)
			}
		}
		dScores.Scale(invSqrt, dScores)

		dQh := mat.NewDense(t, dh, nil)
		dQh.Mul(dScores, kh)
		dKh := mat.NewDense(t, dh, nil)
		dKh.Mul(dScores.T(), qh)

		copyCols(dQ, h*dh, dQh)
		copyCols(dK, h*dh, dKh)
		copyCols(dV, h*dh, dVh)
	}

	dX.Add(dX, b.wq.backward(cache.x, dQ))
	dX.Add(dX, b.wk.backward(cache.x, dK))
	dX.Add(dX, b.wv.backward(cache.x, dV))
	return dX
}

type coreCache struct {
	ids      []int64
	embMask  *mat.Dense
	embedded *mat.Dense
	blocks   []blockCache
	lnIn     *mat.Dense
	ln       layerNormCache
	normed   *mat.Dense
}

func (c *transformerCore) forward(ids []int64) (*mat.Dense, coreCache) {
	cache := coreCache{ids: ids}
	x := c.tokEmb.forward(ids)
	for t := range ids {
		floats.Add(x.RawRowView(t), c.posEmb.Value.RawRowView(t))
	}
	dropped, embMask := c.drop.forward(x, c.train)
	cache.embedded, cache.embMask = x, embMask

	addMask := c.attentionMask(ids)
	h := dropped
	for _, block := range c.blocks {
		var bc blockCache
		h, bc = c.blockForward(block, h, addMask)
		cache.blocks = append(cache.blocks, bc)
	}
	cache.lnIn = h
	normed, lnCache := c.finalLN.forward(h)
	cache.normed, cache.ln = normed, lnCache
	return c.head.forward(normed), cache
}

func (c *transformerCore) backward(cache coreCache, dLogits *mat.Dense) {
	dNormed := c.head.backward(cache.normed, dLogits)
	dH := c.finalLN.backward(cache.ln, dNormed)
	for i := len(c.blocks) - 1; i >= 0; i-- {
		dH = c.blockBackward(c.blocks[i], cache.blocks[i], dH)
	}
	dEmbedded := c.drop.backward(cache.embMask, dH)
	for t := range cache.ids {
		floats.Add(c.posEmb.Grad.RawRowView(t), dEmbedded.RawRowView(t))
	}
	c.tokEmb.backward(cache.ids, dEmbedded)
}

func (c *transformerCore) loss(batch dataset.Batch, scale float64) (float64, error) {
	if len(batch.InputIDs) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	rowScale := scale / float64(len(batch.InputIDs))
	var total float64
	for row := range batch.InputIDs {
		logits, cache := c.forward(batch.InputIDs[row])
		loss, dLogits := maskedCrossEntropy(logits, batch.LabelIDs[row], batch.LabelMask[row], rowScale)
		total += loss
		c.backward(cache, dLogits)
	}
	return total, nil
}

// predict takes the argmax over real labels at every position; the caller
// projects validity-marked positions back to words.
func (c *transformerCore) predict(inputIDs [][]int64) ([][]int64, error) {
	out := make([][]int64, len(inputIDs))
	for row := range inputIDs {
		logits, _ := c.forward(inputIDs[row])
		t, labels := logits.Dims()
		predicted := make([]int64, t)
		for i := 0; i < t; i++ {
			logitRow := logits.RawRowView(i)
			best, bestLabel := math.Inf(-1), int(internal.IgnoreLabelID)
			for j := 1; j < labels; j++ { // never decode IGNORE
				if logitRow[j] > best {
					best, bestLabel = logitRow[j], j
				}
			}
			predicted[i] = int64(bestLabel)
		}
		out[row] = predicted
	}
	return out, nil
}
