package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// The layers in this file operate on one sequence at a time as (T x D)
// matrices. Forward passes return whatever caches the matching backward
// pass needs; backward passes accumulate parameter gradients and return
// the gradient w.r.t. their input.

// embedding is a lookup table over token ids.
type embedding struct {
	table *Parameter
}

func newEmbedding(name string, vocab, dim int, rng *rand.Rand) *embedding {
	return &embedding{table: NewXavierParameter(name, vocab, dim, rng)}
}

func (e *embedding) dims() (int, int) {
	return e.table.Value.Dims()
}

// forward gathers one row per id. Ids outside the table are clamped to the
// last row, which the unknown-word id maps to.
func (e *embedding) forward(ids []int64) *mat.Dense {
	vocab, dim := e.table.Value.Dims()
	out := mat.NewDense(len(ids), dim, nil)
	for t, id := range ids {
		row := int(id)
		if row < 0 || row >= vocab {
			row = vocab - 1
		}
		copy(out.RawRowView(t), e.table.Value.RawRowView(row))
	}
	return out
}

func (e *embedding) backward(ids []int64, dOut *mat.Dense) {
	vocab := e.table.Value.RawMatrix().Rows
	for t, id := range ids {
		row := int(id)
		if row < 0 || row >= vocab {
			row = vocab - 1
		}
		floats.Add(e.table.Grad.RawRowView(row), dOut.RawRowView(t))
	}
}

// linear is a fully connected layer Y = XW + b.
type linear struct {
	w *Parameter
	b *Parameter
}

func newLinear(name string, in, out int, rng *rand.Rand) *linear {
	return &linear{
		w: NewXavierParameter(name+".weight", in, out, rng),
		b: NewParameter(name+".bias", 1, out),
	}
}

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	t, _ := x.Dims()
	_, out := l.w.Value.Dims()
	y := mat.NewDense(t, out, nil)
	y.Mul(x, l.w.Value)
	for i := 0; i < t; i++ {
		floats.Add(y.RawRowView(i), l.b.Value.RawRowView(0))
	}
	return y
}

// backward accumulates dW and db and returns dX.
func (l *linear) backward(x, dY *mat.Dense) *mat.Dense {
	in, out := l.w.Value.Dims()
	t, _ := x.Dims()

	dW := mat.NewDense(in, out, nil)
	dW.Mul(x.T(), dY)
	l.w.Grad.Add(l.w.Grad, dW)

	for i := 0; i < t; i++ {
		floats.Add(l.b.Grad.RawRowView(0), dY.RawRowView(i))
	}

	dX := mat.NewDense(t, in, nil)
	dX.Mul(dY, l.w.Value.T())
	return dX
}

func (l *linear) parameters() []*Parameter {
	return []*Parameter{l.w, l.b}
}

// layerNorm normalizes each row to zero mean and unit variance, then
// applies a learned affine transform.
type layerNorm struct {
	gamma *Parameter
	beta  *Parameter
	eps   float64
}

func newLayerNorm(name string, dim int) *layerNorm {
	ln := &layerNorm{
		gamma: NewParameter(name+".weight", 1, dim),
		beta:  NewParameter(name+".bias", 1, dim),
		eps:   1e-5,
	}
	for j := range ln.gamma.Value.RawRowView(0) {
		ln.gamma.Value.RawRowView(0)[j] = 1
	}
	return ln
}

type layerNormCache struct {
	xhat   *mat.Dense
	invStd []float64
}

func (ln *layerNorm) forward(x *mat.Dense) (*mat.Dense, layerNormCache) {
	t, d := x.Dims()
	out := mat.NewDense(t, d, nil)
	cache := layerNormCache{
		xhat:   mat.NewDense(t, d, nil),
		invStd: make([]float64, t),
	}
	gamma := ln.gamma.Value.RawRowView(0)
	beta := ln.beta.Value.RawRowView(0)
	for i := 0; i < t; i++ {
		row := x.RawRowView(i)
		mean := floats.Sum(row) / float64(d)
		var variance float64
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(d)
		invStd := 1 / math.Sqrt(variance+ln.eps)
		cache.invStd[i] = invStd
		xhat := cache.xhat.RawRowView(i)
		outRow := out.RawRowView(i)
		for j, v := range row {
			xhat[j] = (v - mean) * invStd
			outRow[j] = xhat[j]*gamma[j] + beta[j]
		}
	}
	return out, cache
}

func (ln *layerNorm) backward(cache layerNormCache, dOut *mat.Dense) *mat.Dense {
	t, d := dOut.Dims()
	dX := mat.NewDense(t, d, nil)
	gamma := ln.gamma.Value.RawRowView(0)
	gGrad := ln.gamma.Grad.RawRowView(0)
	bGrad := ln.beta.Grad.RawRowView(0)
	for i := 0; i < t; i++ {
		dOutRow := dOut.RawRowView(i)
		xhat := cache.xhat.RawRowView(i)
		dxhat := make([]float64, d)
		var sumDxhat, sumDxhatXhat float64
		for j := 0; j < d; j++ {
			gGrad[j] += dOutRow[j] * xhat[j]
			bGrad[j] += dOutRow[j]
			dxhat[j] = dOutRow[j] * gamma[j]
			sumDxhat += dxhat[j]
			sumDxhatXhat += dxhat[j] * xhat[j]
		}
		dXRow := dX.RawRowView(i)
		n := float64(d)
		for j := 0; j < d; j++ {
			dXRow[j] = cache.invStd[i] * (dxhat[j] - sumDxhat/n - xhat[j]*sumDxhatXhat/n)
		}
	}
	return dX
}

func (ln *layerNorm) parameters() []*Parameter {
	return []*Parameter{ln.gamma, ln.beta}
}

// dropout implements inverted dropout; at eval time it is the identity.
type dropout struct {
	p   float64
	rng *rand.Rand
}

func (d *dropout) forward(x *mat.Dense, train bool) (*mat.Dense, *mat.Dense) {
	if !train || d.p <= 0 {
		return x, nil
	}
	t, dim := x.Dims()
	keep := 1 - d.p
	mask := mat.NewDense(t, dim, nil)
	out := mat.NewDense(t, dim, nil)
	for i := 0; i < t; i++ {
		maskRow := mask.RawRowView(i)
		outRow := out.RawRowView(i)
		xRow := x.RawRowView(i)
		for j := range maskRow {
			if d.rng.Float64() < keep {
				maskRow[j] = 1 / keep
			}
			outRow[j] = xRow[j] * maskRow[j]
		}
	}
	return out, mask
}

func (d *dropout) backward(mask, dOut *mat.Dense) *mat.Dense {
	if mask == nil {
		return dOut
	}
	t, dim := dOut.Dims()
	dX := mat.NewDense(t, dim, nil)
	dX.MulElem(dOut, mask)
	return dX
}

// geluForward applies the tanh approximation of GELU element-wise.
func geluForward(x *mat.Dense) *mat.Dense {
	t, d := x.Dims()
	out := mat.NewDense(t, d, nil)
	for i := 0; i < t; i++ {
		xRow := x.RawRowView(i)
		outRow := out.RawRowView(i)
		for j, v := range xRow {
			outRow[j] = 0.5 * v * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(v+0.044715*v*v*v)))
		}
	}
	return out
}

func geluBackward(x, dOut *mat.Dense) *mat.Dense {
	t, d := x.Dims()
	dX := mat.NewDense(t, d, nil)
	c := math.Sqrt(2 / math.Pi)
	for i := 0; i < t; i++ {
		xRow := x.RawRowView(i)
		dOutRow := dOut.RawRowView(i)
		dXRow := dX.RawRowView(i)
		for j, v := range xRow {
			inner := c * (v + 0.044715*v*v*v)
			tanh := math.Tanh(inner)
			sech2 := 1 - tanh*tanh
			deriv := 0.5*(1+tanh) + 0.5*v*sech2*c*(1+3*0.044715*v*v)
			dXRow[j] = dOutRow[j] * deriv
		}
	}
	return dX
}

// softmaxRow normalizes one logit row in place into probabilities.
func softmaxRow(row []float64) {
	max := floats.Max(row)
	var sum float64
	for j, v := range row {
		row[j] = math.Exp(v - max)
		sum += row[j]
	}
	floats.Scale(1/sum, row)
}

// maskedCrossEntropy computes mean token-level cross-entropy over positions
// with mask=1 and returns the (already scaled) loss plus dLogits. Positions
// with mask=0 contribute nothing to either.
func maskedCrossEntropy(logits *mat.Dense, labels, mask []int64, scale float64) (float64, *mat.Dense) {
	t, c := logits.Dims()
	dLogits := mat.NewDense(t, c, nil)
	var count int
	for _, m := range mask {
		if m == 1 {
			count++
		}
	}
	if count == 0 {
		return 0, dLogits
	}
	var loss float64
	for i := 0; i < t; i++ {
		if mask[i] != 1 {
			continue
		}
		probs := append([]float64(nil), logits.RawRowView(i)...)
		softmaxRow(probs)
		gold := int(labels[i])
		loss -= math.Log(math.Max(probs[gold], 1e-12))
		dRow := dLogits.RawRowView(i)
		for j := 0; j < c; j++ {
			dRow[j] = probs[j] * scale / float64(count)
		}
		dRow[gold] -= scale / float64(count)
	}
	return loss / float64(count) * scale, dLogits
}
