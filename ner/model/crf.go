package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// crf is a linear-chain structured output layer. It scores a label
// sequence as start[y0] + sum emissions[t][yt] + sum trans[yt][yt+1] +
// end[yT-1] and trains on the negative log-likelihood of the gold path.
type crf struct {
	trans  *Parameter // L x L
	start  *Parameter // 1 x L
	end    *Parameter // 1 x L
	labels int
}

func newCRF(name string, labels int) *crf {
	return &crf{
		trans:  NewParameter(name+".transitions", labels, labels),
		start:  NewParameter(name+".start", 1, labels),
		end:    NewParameter(name+".end", 1, labels),
		labels: labels,
	}
}

func (c *crf) parameters() []*Parameter {
	return []*Parameter{c.trans, c.start, c.end}
}

// logSumExp over a slice.
func logSumExp(values []float64) float64 {
	max := floats.Max(values)
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, v := range values {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

// nll computes the sequence negative log-likelihood and its gradient via
// forward-backward marginals. dEmissions is scaled by scale; transition,
// start and end gradients are accumulated in place with the same scale.
func (c *crf) nll(emissions *mat.Dense, labels []int64, scale float64) (float64, *mat.Dense) {
	T, L := emissions.Dims()
	dEmissions := mat.NewDense(T, L, nil)
	if T == 0 {
		return 0, dEmissions
	}

	// forward pass in log space
	alpha := mat.NewDense(T, L, nil)
	for y := 0; y < L; y++ {
		alpha.Set(0, y, c.start.Value.At(0, y)+emissions.At(0, y))
	}
	scratch := make([]float64, L)
	for t := 1; t < T; t++ {
		for y := 0; y < L; y++ {
			for yp := 0; yp < L; yp++ {
				scratch[yp] = alpha.At(t-1, yp) + c.trans.Value.At(yp, y)
			}
			alpha.Set(t, y, logSumExp(scratch)+emissions.At(t, y))
		}
	}
	final := make([]float64, L)
	for y := 0; y < L; y++ {
		final[y] = alpha.At(T-1, y) + c.end.Value.At(0, y)
	}
	logZ := logSumExp(final)

	// gold path score
	gold := c.start.Value.At(0, int(labels[0]))
	for t := 0; t < T; t++ {
		gold += emissions.At(t, int(labels[t]))
		if t > 0 {
			gold += c.trans.Value.At(int(labels[t-1]), int(labels[t]))
		}
	}
	gold += c.end.Value.At(0, int(labels[T-1]))
	loss := logZ - gold

	// backward pass
	beta := mat.NewDense(T, L, nil)
	for y := 0; y < L; y++ {
		beta.Set(T-1, y, c.end.Value.At(0, y))
	}
	for t := T - 2; t >= 0; t-- {
		for y := 0; y < L; y++ {
			for yn := 0; yn < L; yn++ {
				scratch[yn] = c.trans.Value.At(y, yn) + emissions.At(t+1, yn) + beta.At(t+1, yn)
			}
			beta.Set(t, y, logSumExp(scratch))
		}
	}

	// unary marginals -> emission, start and end gradients
	for t := 0; t < T; t++ {
		dRow := dEmissions.RawRowView(t)
		for y := 0; y < L; y++ {
			p := math.Exp(alpha.At(t, y) + beta.At(t, y) - logZ)
			grad := p
			if int64(y) == labels[t] {
				grad -= 1
			}
			dRow[y] = grad * scale
			if t == 0 {
				c.start.Grad.Set(0, y, c.start.Grad.At(0, y)+grad*scale)
			}
			if t == T-1 {
				c.end.Grad.Set(0, y, c.end.Grad.At(0, y)+grad*scale)
			}
		}
	}

	// pairwise marginals -> transition gradients
	for t := 0; t < T-1; t++ {
		for i := 0; i < L; i++ {
			for j := 0; j < L; j++ {
				p := math.Exp(alpha.At(t, i) + c.trans.Value.At(i, j) +
					emissions.At(t+1, j) + beta.At(t+1, j) - logZ)
				grad := p
				if int64(i) == labels[t] && int64(j) == labels[t+1] {
					grad -= 1
				}
				c.trans.Grad.Set(i, j, c.trans.Grad.At(i, j)+grad*scale)
			}
		}
	}

	return loss * scale, dEmissions
}

// viterbi returns the highest-scoring label sequence.
func (c *crf) viterbi(emissions *mat.Dense) []int64 {
	T, L := emissions.Dims()
	if T == 0 {
		return nil
	}
	score := mat.NewDense(T, L, nil)
	backptr := make([][]int, T)
	for y := 0; y < L; y++ {
		score.Set(0, y, c.start.Value.At(0, y)+emissions.At(0, y))
	}
	for t := 1; t < T; t++ {
		backptr[t] = make([]int, L)
		for y := 0; y < L; y++ {
			best, bestPrev := math.Inf(-1), 0
			for yp := 0; yp < L; yp++ {
				s := score.At(t-1, yp) + c.trans.Value.At(yp, y)
				if s > best {
					best, bestPrev = s, yp
				}
			}
			score.Set(t, y, best+emissions.At(t, y))
			backptr[t][y] = bestPrev
		}
	}
	best, bestLast := math.Inf(-1), 0
	for y := 0; y < L; y++ {
		s := score.At(T-1, y) + c.end.Value.At(0, y)
		if s > best {
			best, bestLast = s, y
		}
	}
	path := make([]int64, T)
	path[T-1] = int64(bestLast)
	for t := T - 1; t > 0; t-- {
		path[t-1] = int64(backptr[t][path[t]])
	}
	return path
}
