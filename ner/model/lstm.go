package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// lstmCell is a single-direction LSTM. Gate pre-activations are stored as
// one (1 x 4H) row per step with column layout [input | forget | cell | output].
type lstmCell struct {
	wx *Parameter // D x 4H
	wh *Parameter // H x 4H
	b  *Parameter // 1 x 4H
	in int
	h  int
}

func newLSTMCell(name string, in, hidden int, rng *rand.Rand) *lstmCell {
	return &lstmCell{
		wx: NewXavierParameter(name+".wx", in, 4*hidden, rng),
		wh: NewXavierParameter(name+".wh", hidden, 4*hidden, rng),
		b:  NewParameter(name+".bias", 1, 4*hidden),
		in: in,
		h:  hidden,
	}
}

func (c *lstmCell) parameters() []*Parameter {
	return []*Parameter{c.wx, c.wh, c.b}
}

type lstmStepCache struct {
	x     []float64
	hPrev []float64
	cPrev []float64
	i     []float64
	f     []float64
	g     []float64
	o     []float64
	tanhC []float64
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// forward runs the cell over the sequence in the given visit order and
// writes hidden states into out rows at the visited indices.
func (c *lstmCell) forward(x *mat.Dense, order []int, out *mat.Dense, outCol int) []lstmStepCache {
	h := c.h
	caches := make([]lstmStepCache, len(order))
	hPrev := make([]float64, h)
	cPrev := make([]float64, h)
	for step, t := range order {
		xRow := x.RawRowView(t)
		pre := make([]float64, 4*h)
		for k := range pre {
			var sum float64
			for d, xv := range xRow {
				sum += xv * c.wx.Value.At(d, k)
			}
			for d, hv := range hPrev {
				sum += hv * c.wh.Value.At(d, k)
			}
			pre[k] = sum + c.b.Value.At(0, k)
		}
		cache := lstmStepCache{
			x:     append([]float64(nil), xRow...),
			hPrev: append([]float64(nil), hPrev...),
			cPrev: append([]float64(nil), cPrev...),
			i:     make([]float64, h),
			f:     make([]float64, h),
			g:     make([]float64, h),
			o:     make([]float64, h),
			tanhC: make([]float64, h),
		}
		hNext := make([]float64, h)
		cNext := make([]float64, h)
		for j := 0; j < h; j++ {
			cache.i[j] = sigmoid(pre[j])
			cache.f[j] = sigmoid(pre[h+j])
			cache.g[j] = math.Tanh(pre[2*h+j])
			cache.o[j] = sigmoid(pre[3*h+j])
			cNext[j] = cache.f[j]*cPrev[j] + cache.i[j]*cache.g[j]
			cache.tanhC[j] = math.Tanh(cNext[j])
			hNext[j] = cache.o[j] * cache.tanhC[j]
		}
		caches[step] = cache
		copy(out.RawRowView(t)[outCol:outCol+h], hNext)
		hPrev, cPrev = hNext, cNext
	}
	return caches
}

// backward runs BPTT in reverse visit order. dOut carries the gradient of
// the hidden states; dX accumulates input gradients at the visited rows.
func (c *lstmCell) backward(caches []lstmStepCache, order []int, dOut *mat.Dense, outCol int, dX *mat.Dense) {
	h := c.h
	dhNext := make([]float64, h)
	dcNext := make([]float64, h)
	for step := len(order) - 1; step >= 0; step-- {
		t := order[step]
		cache := caches[step]
		dh := append([]float64(nil), dOut.RawRowView(t)[outCol:outCol+h]...)
		for j := 0; j < h; j++ {
			dh[j] += dhNext[j]
		}
		dpre := make([]float64, 4*h)
		dhPrev := make([]float64, h)
		dcPrev := make([]float64, h)
		for j := 0; j < h; j++ {
			do := dh[j] * cache.tanhC[j]
			dc := dcNext[j] + dh[j]*cache.o[j]*(1-cache.tanhC[j]*cache.tanhC[j])
			di := dc * cache.g[j]
			dg := dc * cache.i[j]
			df := dc * cache.cPrev[j]
			dcPrev[j] = dc * cache.f[j]

			dpre[j] = di * cache.i[j] * (1 - cache.i[j])
			dpre[h+j] = df * cache.f[j] * (1 - cache.f[j])
			dpre[2*h+j] = dg * (1 - cache.g[j]*cache.g[j])
			dpre[3*h+j] = do * cache.o[j] * (1 - cache.o[j])
		}
		for k, dv := range dpre {
			if dv == 0 {
				continue
			}
			for d, xv := range cache.x {
				c.wx.Grad.Set(d, k, c.wx.Grad.At(d, k)+xv*dv)
			}
			for d, hv := range cache.hPrev {
				c.wh.Grad.Set(d, k, c.wh.Grad.At(d, k)+hv*dv)
			}
			c.b.Grad.Set(0, k, c.b.Grad.At(0, k)+dv)
		}
		dxRow := dX.RawRowView(t)
		for d := range dxRow {
			var sum float64
			for k, dv := range dpre {
				sum += dv * c.wx.Value.At(d, k)
			}
			dxRow[d] += sum
		}
		for d := range dhPrev {
			var sum float64
			for k, dv := range dpre {
				sum += dv * c.wh.Value.At(d, k)
			}
			dhPrev[d] = sum
		}
		dhNext, dcNext = dhPrev, dcPrev
	}
}

// biLSTM runs one forward and one backward cell over the sequence and
// concatenates their hidden states to (T x 2H).
type biLSTM struct {
	fwd *lstmCell
	bwd *lstmCell
	h   int
}

func newBiLSTM(name string, in, hidden int, rng *rand.Rand) *biLSTM {
	return &biLSTM{
		fwd: newLSTMCell(name+".fwd", in, hidden, rng),
		bwd: newLSTMCell(name+".bwd", in, hidden, rng),
		h:   hidden,
	}
}

func (b *biLSTM) parameters() []*Parameter {
	return append(b.fwd.parameters(), b.bwd.parameters()...)
}

type biLSTMCache struct {
	fwd   []lstmStepCache
	bwd   []lstmStepCache
	order []int
}

func (b *biLSTM) forward(x *mat.Dense) (*mat.Dense, biLSTMCache) {
	t, _ := x.Dims()
	out := mat.NewDense(t, 2*b.h, nil)
	order := make([]int, t)
	reverse := make([]int, t)
	for i := 0; i < t; i++ {
		order[i] = i
		reverse[i] = t - 1 - i
	}
	cache := biLSTMCache{order: order}
	cache.fwd = b.fwd.forward(x, order, out, 0)
	cache.bwd = b.bwd.forward(x, reverse, out, b.h)
	return out, cache
}

func (b *biLSTM) backward(cache biLSTMCache, dOut *mat.Dense) *mat.Dense {
	t, _ := dOut.Dims()
	dX := mat.NewDense(t, b.fwd.in, nil)
	reverse := make([]int, t)
	for i := 0; i < t; i++ {
		reverse[i] = t - 1 - i
	}
	b.fwd.backward(cache.fwd, cache.order, dOut, 0, dX)
	b.bwd.backward(cache.bwd, reverse, dOut, b.h, dX)
	return dX
}
