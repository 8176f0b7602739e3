package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Parameter is one learnable weight matrix with its accumulated gradient.
// Gradients add up across mini-batches until the trainer steps the
// optimizer, which is what makes gradient accumulation work.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter allocates a zero-initialized parameter.
func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// NewXavierParameter draws initial weights uniformly from
// [-sqrt(6/(in+out)), +sqrt(6/(in+out))].
func NewXavierParameter(name string, rows, cols int, rng *rand.Rand) *Parameter {
	p := NewParameter(name, rows, cols)
	bound := math.Sqrt(6.0 / float64(rows+cols))
	for i := 0; i < rows; i++ {
		row := p.Value.RawRowView(i)
		for j := range row {
			row[j] = (rng.Float64()*2 - 1) * bound
		}
	}
	return p
}

// ZeroGrad clears accumulated gradients.
func ZeroGrad(params []*Parameter) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// GradNorm returns the global L2 norm over all gradients.
func GradNorm(params []*Parameter) float64 {
	var sum float64
	for _, p := range params {
		for _, v := range p.Grad.RawMatrix().Data {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm scales all gradients down so their global norm does not
// exceed maxNorm. Returns the pre-clip norm.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	norm := GradNorm(params)
	if norm > maxNorm && norm > 0 {
		factor := maxNorm / norm
		for _, p := range params {
			p.Grad.Scale(factor, p.Grad)
		}
	}
	return norm
}

// StateDict flattens parameters into a serializable snapshot keyed by name.
type StateDict struct {
	Names  []string
	Shapes [][2]int
	Values [][]float64
}

// NewStateDict snapshots parameter values in declaration order.
func NewStateDict(params []*Parameter) StateDict {
	sd := StateDict{}
	for _, p := range params {
		r, c := p.Value.Dims()
		values := make([]float64, r*c)
		copy(values, p.Value.RawMatrix().Data)
		sd.Names = append(sd.Names, p.Name)
		sd.Shapes = append(sd.Shapes, [2]int{r, c})
		sd.Values = append(sd.Values, values)
	}
	return sd
}

// Apply copies snapshot values back into matching parameters. Every
// parameter must be present with an identical shape.
func (sd StateDict) Apply(params []*Parameter) error {
	byName := make(map[string]int, len(sd.Names))
	for i, name := range sd.Names {
		byName[name] = i
	}
	for _, p := range params {
		i, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("state dict is missing parameter %q", p.Name)
		}
		r, c := p.Value.Dims()
		if sd.Shapes[i][0] != r || sd.Shapes[i][1] != c {
			return fmt.Errorf("parameter %q has shape %dx%d, state dict has %dx%d",
				p.Name, r, c, sd.Shapes[i][0], sd.Shapes[i][1])
		}
		copy(p.Value.RawMatrix().Data, sd.Values[i])
	}
	return nil
}
