package agent

import "gonum.org/v1/gonum/mat"

// Param is one learnable tensor together with its gradient accumulator.
// Data and Grad are row-major; Cols is 1 for bias vectors.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float64
	Grad []float64
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Grad: make([]float64, rows*cols),
	}
}

// Matrix returns a dense view sharing the parameter's backing array.
func (p *Param) Matrix() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Data)
}

// GradMatrix returns a dense view sharing the gradient's backing array.
func (p *Param) GradMatrix() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Grad)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears the gradients of all params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
