// Package agent implements the per-robot actor-critic networks: a
// deterministic policy (actor) and an action-value critic, each with a
// Polyak-averaged target copy, trained the DDPG way.
//
// Grounded on the GoLearn nonlinear actor-critic agents (vanillaac.VAC and
// deepq.DeepQ: separate behaviour/train/target networks, a G.Grad-derived
// gradient per network, a G.Solver per network, and explicit hard-copy /
// Polyak synchronization between train and target weights), rebuilt
// directly on gorgonia primitives since those agents' own network
// abstraction layer is not part of this module's dependency set.
package agent

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// outputKind selects a network's final-layer activation.
type outputKind int

const (
	outputTanh outputKind = iota
	outputLinear
)

// hiddenWidth and hiddenDepth match the three hidden layers of width 180
// used by every actor and critic network.
const (
	hiddenWidth = 180
	hiddenDepth = 3
	leakySlope  = 0.1
)

// mlp is a fully connected feed-forward network of fixed batch size, built
// on one gorgonia.ExprGraph so its output can be wired directly into a
// downstream graph (the critic consuming the actor's output, when building
// the actor loss).
type mlp struct {
	g       *G.ExprGraph
	input   *G.Node // shape (batch, inDim)
	weights []*G.Node
	biases  []*G.Node
	output  *G.Node // shape (batch, outDim)
}

// newMLP appends a hiddenDepth-deep, hiddenWidth-wide network to g, reading
// from input (which the caller may itself be the output of another network,
// to chain graphs together) and returns the new mlp.
func newMLP(g *G.ExprGraph, input *G.Node, batch, inDim, outDim int, kind outputKind, name string) (*mlp, error) {
	dims := make([]int, 0, hiddenDepth+2)
	dims = append(dims, inDim)
	for i := 0; i < hiddenDepth; i++ {
		dims = append(dims, hiddenWidth)
	}
	dims = append(dims, outDim)

	m := &mlp{g: g, input: input}
	x := input

	for l := 0; l < len(dims)-1; l++ {
		w := G.NewMatrix(g, tensor.Float64,
			G.WithShape(dims[l], dims[l+1]),
			G.WithName(fmt.Sprintf("%s_w%d", name, l)),
			G.WithInit(G.GlorotN(1.0)))
		b := G.NewVector(g, tensor.Float64,
			G.WithShape(dims[l+1]),
			G.WithName(fmt.Sprintf("%s_b%d", name, l)),
			G.WithInit(G.Zeroes()))

		lin, err := G.Mul(x, w)
		if err != nil {
			return nil, fmt.Errorf("agent: %s layer %d matmul: %w", name, l, err)
		}
		lin, err = G.BroadcastAdd(lin, b, nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("agent: %s layer %d bias add: %w", name, l, err)
		}

		last := l == len(dims)-2
		switch {
		case last && kind == outputTanh:
			x, err = G.Tanh(lin)
		case last:
			x = lin
		default:
			x, err = G.LeakyRelu(lin, leakySlope)
		}
		if err != nil {
			return nil, fmt.Errorf("agent: %s layer %d activation: %w", name, l, err)
		}

		m.weights = append(m.weights, w)
		m.biases = append(m.biases, b)
	}

	m.output = x
	_ = batch
	return m, nil
}

// learnables returns every weight and bias node, in a stable order matched
// by hardCopy and polyakUpdate between a train network and its target.
func (m *mlp) learnables() G.Nodes {
	out := make(G.Nodes, 0, 2*len(m.weights))
	out = append(out, m.weights...)
	out = append(out, m.biases...)
	return out
}

// hardCopy overwrites dst's parameter values with src's, layer for layer.
// Used at construction to initialize the eval actor and both target
// networks identically to their train networks, and after every Update to
// re-sync the eval actor with the train actor.
func hardCopy(dst, src *mlp) error {
	return zipParams(dst, src, func(d, s []float64) { copy(d, s) })
}

// polyakUpdate blends src's parameters into dst with weight tau, the
// standard target-network soft update: dst <- tau*src + (1-tau)*dst.
func polyakUpdate(dst, src *mlp, tau float64) error {
	return zipParams(dst, src, func(d, s []float64) {
		for i := range d {
			d[i] = tau*s[i] + (1-tau)*d[i]
		}
	})
}

func zipParams(dst, src *mlp, blend func(d, s []float64)) error {
	dstParams, srcParams := dst.learnables(), src.learnables()
	if len(dstParams) != len(srcParams) {
		return fmt.Errorf("agent: target/train parameter count mismatch: %d vs %d", len(dstParams), len(srcParams))
	}
	for i := range dstParams {
		sv, ok := srcParams[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("agent: parameter %q has no dense value yet", srcParams[i].Name())
		}
		dv, ok := dstParams[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("agent: parameter %q has no dense value yet", dstParams[i].Name())
		}

		sData, sOk := sv.Data().([]float64)
		dData, dOk := dv.Data().([]float64)
		if !sOk || !dOk {
			return fmt.Errorf("agent: parameter %q is not float64-backed", srcParams[i].Name())
		}

		blended := make([]float64, len(dData))
		copy(blended, dData)
		blend(blended, sData)

		next := tensor.New(tensor.WithShape(dv.Shape()...), tensor.WithBacking(blended))
		if err := G.Let(dstParams[i], next); err != nil {
			return fmt.Errorf("agent: setting blended parameter %q: %w", dstParams[i].Name(), err)
		}
	}
	return nil
}
