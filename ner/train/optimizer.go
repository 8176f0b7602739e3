package train

import (
	"math"
	"strings"

	"github.com/PurestEarth/nertrain/ner/model"
)

// noDecayFragments marks parameters excluded from weight decay.
var noDecayFragments = []string{"bias", "final_layer_norm.weight"}

// AdamW is Adam with decoupled weight decay. Parameters whose name matches
// a no-decay fragment are updated without the decay term.
type AdamW struct {
	params  []*model.Parameter
	lr      float64
	beta1   float64
	beta2   float64
	eps     float64
	decay   float64
	noDecay []bool
	step    int
	m       [][]float64
	v       [][]float64
}

// NewAdamW builds the optimizer over the model's parameters.
func NewAdamW(params []*model.Parameter, lr, eps, weightDecay float64) *AdamW {
	o := &AdamW{
		params: params,
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    eps,
		decay:  weightDecay,
	}
	for _, p := range params {
		size := len(p.Value.RawMatrix().Data)
		o.m = append(o.m, make([]float64, size))
		o.v = append(o.v, make([]float64, size))
		noDecay := false
		for _, fragment := range noDecayFragments {
			if strings.Contains(p.Name, fragment) {
				noDecay = true
				break
			}
		}
		o.noDecay = append(o.noDecay, noDecay)
	}
	return o
}

// Step applies one update with the learning rate scaled by lrScale
// (the warmup schedule factor). Gradients are left untouched; the caller
// zeroes them afterwards.
func (o *AdamW) Step(lrScale float64) {
	o.step++
	lr := o.lr * lrScale
	bc1 := 1 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.beta2, float64(o.step))
	for i, p := range o.params {
		values := p.Value.RawMatrix().Data
		grads := p.Grad.RawMatrix().Data
		m, v := o.m[i], o.v[i]
		for j, g := range grads {
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			update := (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + o.eps)
			if !o.noDecay[i] {
				update += o.decay * values[j]
			}
			values[j] -= lr * update
		}
	}
}

// WarmupLinearSchedule scales the learning rate linearly up during warmup
// and linearly down to zero afterwards.
type WarmupLinearSchedule struct {
	WarmupSteps int
	TotalSteps  int
	step        int
}

// NewWarmupLinearSchedule derives warmup from a proportion of the total.
func NewWarmupLinearSchedule(totalSteps int, warmupProportion float64) *WarmupLinearSchedule {
	return &WarmupLinearSchedule{
		WarmupSteps: int(warmupProportion * float64(totalSteps)),
		TotalSteps:  totalSteps,
	}
}

// Factor returns the current multiplier without advancing.
func (s *WarmupLinearSchedule) Factor() float64 {
	if s.TotalSteps <= 0 {
		return 1
	}
	if s.step < s.WarmupSteps {
		return float64(s.step) / float64(maxInt(1, s.WarmupSteps))
	}
	remaining := float64(s.TotalSteps-s.step) / float64(maxInt(1, s.TotalSteps-s.WarmupSteps))
	return math.Max(0, remaining)
}

// Advance moves the schedule one optimizer step forward.
func (s *WarmupLinearSchedule) Advance() {
	s.step++
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
