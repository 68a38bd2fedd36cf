package agent

import (
	"math"
	"math/rand"
)

// network is a two-layer MLP action-value estimator: state -> relu hidden ->
// one Q value per action. All math is plain float64; the decision loop
// contract does not depend on any particular numeric backend.
type network struct {
	inDim  int
	hidden int
	outDim int

	w1 [][]float64 // hidden x in
	b1 []float64
	w2 [][]float64 // out x hidden
	b2 []float64
}

func newNetwork(inDim, hidden, outDim int, rng *rand.Rand) *network {
	n := &network{
		inDim:  inDim,
		hidden: hidden,
		outDim: outDim,
		w1:     make([][]float64, hidden),
		b1:     make([]float64, hidden),
		w2:     make([][]float64, outDim),
		b2:     make([]float64, outDim),
	}
	scale1 := math.Sqrt(2.0 / float64(inDim))
	for j := range n.w1 {
		n.w1[j] = make([]float64, inDim)
		for i := range n.w1[j] {
			n.w1[j][i] = rng.NormFloat64() * scale1
		}
	}
	scale2 := math.Sqrt(2.0 / float64(hidden))
	for a := range n.w2 {
		n.w2[a] = make([]float64, hidden)
		for j := range n.w2[a] {
			n.w2[a][j] = rng.NormFloat64() * scale2
		}
	}
	return n
}

// forward computes Q values plus the hidden pre-activations needed for a
// gradient step.
func (n *network) forward(x []float64) (q, hidden, pre []float64) {
	pre = make([]float64, n.hidden)
	hidden = make([]float64, n.hidden)
	for j := 0; j < n.hidden; j++ {
		sum := n.b1[j]
		row := n.w1[j]
		for i := 0; i < n.inDim; i++ {
			sum += row[i] * x[i]
		}
		pre[j] = sum
		if sum > 0 {
			hidden[j] = sum
		}
	}
	q = make([]float64, n.outDim)
	for a := 0; a < n.outDim; a++ {
		sum := n.b2[a]
		row := n.w2[a]
		for j := 0; j < n.hidden; j++ {
			sum += row[j] * hidden[j]
		}
		q[a] = sum
	}
	return q, hidden, pre
}

// qValues computes just the action values.
func (n *network) qValues(x []float64) []float64 {
	q, _, _ := n.forward(x)
	return q
}

func (n *network) clone() *network {
	c := &network{
		inDim:  n.inDim,
		hidden: n.hidden,
		outDim: n.outDim,
		w1:     make([][]float64, n.hidden),
		b1:     append([]float64(nil), n.b1...),
		w2:     make([][]float64, n.outDim),
		b2:     append([]float64(nil), n.b2...),
	}
	for j := range n.w1 {
		c.w1[j] = append([]float64(nil), n.w1[j]...)
	}
	for a := range n.w2 {
		c.w2[a] = append([]float64(nil), n.w2[a]...)
	}
	return c
}

// copyFrom overwrites this network's parameters with src's.
func (n *network) copyFrom(src *network) {
	for j := range n.w1 {
		copy(n.w1[j], src.w1[j])
	}
	copy(n.b1, src.b1)
	for a := range n.w2 {
		copy(n.w2[a], src.w2[a])
	}
	copy(n.b2, src.b2)
}

// grads accumulates parameter gradients for one mini-batch.
type grads struct {
	w1 [][]float64
	b1 []float64
	w2 [][]float64
	b2 []float64
}

func newGrads(n *network) *grads {
	g := &grads{
		w1: make([][]float64, n.hidden),
		b1: make([]float64, n.hidden),
		w2: make([][]float64, n.outDim),
		b2: make([]float64, n.outDim),
	}
	for j := range g.w1 {
		g.w1[j] = make([]float64, n.inDim)
	}
	for a := range g.w2 {
		g.w2[a] = make([]float64, n.hidden)
	}
	return g
}

// accumulate adds the gradient contribution of one transition: squared error
// on the taken action's Q value against the bootstrapped target.
func (g *grads) accumulate(n *network, x []float64, action int, target float64) {
	q, hidden, pre := n.forward(x)
	dq := 2 * (q[action] - target)

	row := n.w2[action]
	for j := 0; j < n.hidden; j++ {
		g.w2[action][j] += dq * hidden[j]
		if pre[j] > 0 {
			dpre := dq * row[j]
			g.b1[j] += dpre
			grow := g.w1[j]
			for i := 0; i < n.inDim; i++ {
				grow[i] += dpre * x[i]
			}
		}
	}
	g.b2[action] += dq
}

// norm returns the global L2 norm of all gradients.
func (g *grads) norm() float64 {
	var sum float64
	for j := range g.w1 {
		for _, v := range g.w1[j] {
			sum += v * v
		}
	}
	for _, v := range g.b1 {
		sum += v * v
	}
	for a := range g.w2 {
		for _, v := range g.w2[a] {
			sum += v * v
		}
	}
	for _, v := range g.b2 {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// scale multiplies all gradients by f.
func (g *grads) scale(f float64) {
	for j := range g.w1 {
		for i := range g.w1[j] {
			g.w1[j][i] *= f
		}
	}
	for j := range g.b1 {
		g.b1[j] *= f
	}
	for a := range g.w2 {
		for j := range g.w2[a] {
			g.w2[a][j] *= f
		}
	}
	for a := range g.b2 {
		g.b2[a] *= f
	}
}

// apply performs one SGD step.
func (n *network) apply(g *grads, lr float64) {
	for j := range n.w1 {
		for i := range n.w1[j] {
			n.w1[j][i] -= lr * g.w1[j][i]
		}
		n.b1[j] -= lr * g.b1[j]
	}
	for a := range n.w2 {
		for j := range n.w2[a] {
			n.w2[a][j] -= lr * g.w2[a][j]
		}
		n.b2[a] -= lr * g.b2[a]
	}
}

func finite(vs []float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
