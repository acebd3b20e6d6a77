package agent

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MLP is a fully connected stack. Every layer but the last is followed by
// tanh; FinalTanh turns the last activation on as well. Rows are samples.
type MLP struct {
	Ws        []*Param
	Bs        []*Param
	FinalTanh bool
}

// Cache holds the per-layer activations of one forward pass so the matching
// backward pass can run later. Caches are independent values, which keeps
// two forward passes over the same network (current and next observations)
// from clobbering each other.
type Cache struct {
	xs []*mat.Dense // input to layer i
	hs []*mat.Dense // activated output of layer i, nil when the layer is linear
}

// NewMLP builds a stack with the given layer dims and per-layer orthogonal
// init gains. dims has one more entry than gains.
func NewMLP(rng *rand.Rand, name string, dims []int, gains []float64, finalTanh bool) *MLP {
	if len(gains) != len(dims)-1 {
		panic(fmt.Sprintf("agent: %s wants %d gains, got %d", name, len(dims)-1, len(gains)))
	}
	n := &MLP{FinalTanh: finalTanh}
	for i := 0; i < len(dims)-1; i++ {
		w := newParam(fmt.Sprintf("%s.w%d", name, i), dims[i], dims[i+1])
		orthogonalInit(rng, w, gains[i])
		n.Ws = append(n.Ws, w)
		n.Bs = append(n.Bs, newParam(fmt.Sprintf("%s.b%d", name, i), dims[i+1], 1))
	}
	return n
}

// Params returns the learnable tensors in a stable order.
func (n *MLP) Params() []*Param {
	out := make([]*Param, 0, 2*len(n.Ws))
	for i := range n.Ws {
		out = append(out, n.Ws[i], n.Bs[i])
	}
	return out
}

// Forward runs the stack on a batch and returns the output with the cache
// needed for Backward.
func (n *MLP) Forward(x *mat.Dense) (*mat.Dense, *Cache) {
	b, _ := x.Dims()
	c := &Cache{
		xs: make([]*mat.Dense, len(n.Ws)),
		hs: make([]*mat.Dense, len(n.Ws)),
	}
	h := x
	for i, w := range n.Ws {
		c.xs[i] = h
		y := mat.NewDense(b, w.Cols, nil)
		y.Mul(h, w.Matrix())
		bias := n.Bs[i].Data
		for r := 0; r < b; r++ {
			floats.Add(y.RawRowView(r), bias)
		}
		if i < len(n.Ws)-1 || n.FinalTanh {
			tanhInPlace(y)
			c.hs[i] = y
		}
		h = y
	}
	return h, c
}

// Backward accumulates parameter gradients for the pass recorded in c given
// the gradient of the loss with respect to the output. It returns the
// gradient with respect to the input batch.
func (n *MLP) Backward(c *Cache, dOut *mat.Dense) *mat.Dense {
	g := dOut
	for i := len(n.Ws) - 1; i >= 0; i-- {
		if h := c.hs[i]; h != nil {
			g = tanhBackward(g, h)
		}

		var dw mat.Dense
		dw.Mul(c.xs[i].T(), g)
		floats.Add(n.Ws[i].Grad, dw.RawMatrix().Data)

		gb := n.Bs[i].Grad
		rows, _ := g.Dims()
		for r := 0; r < rows; r++ {
			floats.Add(gb, g.RawRowView(r))
		}

		var dx mat.Dense
		dx.Mul(g, n.Ws[i].Matrix().T())
		g = &dx
	}
	return g
}

func tanhInPlace(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j, v := range row {
			row[j] = math.Tanh(v)
		}
	}
}

// tanhBackward maps an output gradient back through tanh given the
// activated output h.
func tanhBackward(g, h *mat.Dense) *mat.Dense {
	r, c := g.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		gr := g.RawRowView(i)
		hr := h.RawRowView(i)
		or := out.RawRowView(i)
		for j := range or {
			or[j] = gr[j] * (1 - hr[j]*hr[j])
		}
	}
	return out
}

// orthogonalInit fills p with a semi-orthogonal matrix scaled by gain, so
// the rows or columns (whichever are fewer) are orthonormal up to the gain.
func orthogonalInit(rng *rand.Rand, p *Param, gain float64) {
	rows, cols := p.Rows, p.Cols
	n, m := rows, cols
	flipped := rows < cols
	if flipped {
		n, m = cols, rows
	}

	a := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		row := a.RawRowView(i)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	q := mat.NewDense(n, n, nil)
	qr.QTo(q)
	var r mat.Dense
	qr.RTo(&r)

	// Sign-correct each column by the diagonal of R so the factorization
	// is unique, then scale by the gain.
	dst := p.Matrix()
	for j := 0; j < m; j++ {
		s := gain
		if r.At(j, j) < 0 {
			s = -s
		}
		for i := 0; i < n; i++ {
			v := q.At(i, j) * s
			if flipped {
				dst.Set(j, i, v)
			} else {
				dst.Set(i, j, v)
			}
		}
	}
}
