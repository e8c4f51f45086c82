package agent

import (
	"fmt"
	"math/rand"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/miry41/lamarl-playground/internal/replay"
)

// Hyperparams holds one agent's fixed learning configuration, matching the
// actor/critic topology and learning rates every robot shares.
type Hyperparams struct {
	ObsDim     int
	ActionDim  int // fixed at 2 (force x, y)
	BatchSize  int
	Warmup     int // minimum transitions every agent's buffer must hold before any update runs
	LRActor    float64
	LRCritic   float64
	Gamma      float64
	Tau        float64
	Sigma      float64 // exploration noise stddev
	PriorBeta  float64 // blend weight toward the prior policy's action, in [0,1]
	AlphaPrior float64 // prior-regularization loss weight
}

// DefaultHyperparams returns the topology's standard learning configuration.
func DefaultHyperparams(obsDim int) Hyperparams {
	return Hyperparams{
		ObsDim:     obsDim,
		ActionDim:  2,
		BatchSize:  128,
		Warmup:     1000,
		LRActor:    1e-4,
		LRCritic:   1e-3,
		Gamma:      0.99,
		Tau:        0.005,
		Sigma:      0.1,
		PriorBeta:  0.0,
		AlphaPrior: 0.0,
	}
}

// Agent is one robot's deterministic actor-critic pair: an eval-time actor
// (batch size 1, used by Act), a batch-size training actor and critic (used
// by Update, sharing one graph so the critic can score the actor's own
// output), and Polyak-averaged target copies of both.
type Agent struct {
	cfg Hyperparams

	// Eval-time actor: separate single-example graph for fast action
	// selection, kept in sync with actorTrain after every Update.
	evalGraph *G.ExprGraph
	evalInput *G.Node
	evalActor *mlp
	evalVM    G.VM

	// Training graph: holds the train actor, the train critic evaluated on
	// both the replayed action and the actor's own output (for the actor
	// loss), and the critic/actor loss nodes.
	trainGraph *G.ExprGraph

	obsInput        *G.Node // (batch, obsDim)
	actionInput     *G.Node // (batch, actionDim), the replayed action
	targetInput     *G.Node // (batch, 1), the TD target y
	priorActionNode *G.Node // (batch, actionDim), zero when no prior is active

	actorTrain  *mlp // obs -> action
	criticTrain *mlp // concat(obs, actionInput) -> Q(s,a), used for the critic loss
	criticOnPi  *mlp // concat(obs, actorTrain.output) -> Q(s,pi(s)), used for the actor loss

	criticLoss *G.Node
	actorLoss  *G.Node

	trainVM      G.VM
	actorSolver  G.Solver
	criticSolver G.Solver

	// Target networks: separate graph, Polyak-blended from the train
	// networks after every Update.
	targetGraph  *G.ExprGraph
	targetObs    *G.Node
	targetAction *G.Node
	actorTarget  *mlp
	criticTarget *mlp
	targetVM     G.VM

	rng *rand.Rand
}

// New constructs an Agent for the given observation dimension, with target
// networks hard-copied from the freshly initialized train networks.
func New(cfg Hyperparams, seed int64) (*Agent, error) {
	a := &Agent{cfg: cfg, rng: rand.New(rand.NewSource(seed))}

	if err := a.buildEvalGraph(); err != nil {
		return nil, err
	}
	if err := a.buildTrainGraph(); err != nil {
		return nil, err
	}
	if err := a.buildTargetGraph(); err != nil {
		return nil, err
	}

	if err := hardCopy(a.evalActor, a.actorTrain); err != nil {
		return nil, fmt.Errorf("agent: initializing eval actor: %w", err)
	}
	if err := hardCopy(a.actorTarget, a.actorTrain); err != nil {
		return nil, fmt.Errorf("agent: initializing actor target: %w", err)
	}
	if err := hardCopy(a.criticTarget, a.criticTrain); err != nil {
		return nil, fmt.Errorf("agent: initializing critic target: %w", err)
	}

	a.actorSolver = G.NewAdamSolver(G.WithLearnRate(cfg.LRActor))
	a.criticSolver = G.NewAdamSolver(G.WithLearnRate(cfg.LRCritic))

	return a, nil
}

func (a *Agent) buildEvalGraph() error {
	a.evalGraph = G.NewGraph()
	a.evalInput = G.NewMatrix(a.evalGraph, tensor.Float64,
		G.WithShape(1, a.cfg.ObsDim), G.WithName("eval_obs"))

	actor, err := newMLP(a.evalGraph, a.evalInput, 1, a.cfg.ObsDim, a.cfg.ActionDim, outputTanh, "eval_actor")
	if err != nil {
		return err
	}
	a.evalActor = actor
	a.evalVM = G.NewTapeMachine(a.evalGraph)
	return nil
}

func (a *Agent) buildTrainGraph() error {
	g := G.NewGraph()
	a.trainGraph = g
	batch := a.cfg.BatchSize

	a.obsInput = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, a.cfg.ObsDim), G.WithName("train_obs"))
	a.actionInput = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, a.cfg.ActionDim), G.WithName("train_action"))
	a.targetInput = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1), G.WithName("train_target_y"))
	a.priorActionNode = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, a.cfg.ActionDim), G.WithName("train_prior_action"))

	actorTrain, err := newMLP(g, a.obsInput, batch, a.cfg.ObsDim, a.cfg.ActionDim, outputTanh, "actor")
	if err != nil {
		return err
	}
	a.actorTrain = actorTrain

	obsAction, err := G.Concat(1, a.obsInput, a.actionInput)
	if err != nil {
		return fmt.Errorf("agent: concat obs/action for critic: %w", err)
	}
	criticTrain, err := newMLP(g, obsAction, batch, a.cfg.ObsDim+a.cfg.ActionDim, 1, outputLinear, "critic")
	if err != nil {
		return err
	}
	a.criticTrain = criticTrain

	obsPi, err := G.Concat(1, a.obsInput, actorTrain.output)
	if err != nil {
		return fmt.Errorf("agent: concat obs/actor-output for critic-on-pi: %w", err)
	}
	criticOnPi, err := reuseMLP(g, obsPi, criticTrain, "critic_on_pi")
	if err != nil {
		return err
	}
	a.criticOnPi = criticOnPi

	// Critic loss: MSE(Q(s,a), y).
	diff, err := G.Sub(a.criticTrain.output, a.targetInput)
	if err != nil {
		return fmt.Errorf("agent: critic loss diff: %w", err)
	}
	sq, err := G.Square(diff)
	if err != nil {
		return fmt.Errorf("agent: critic loss square: %w", err)
	}
	a.criticLoss, err = G.Mean(sq)
	if err != nil {
		return fmt.Errorf("agent: critic loss mean: %w", err)
	}

	// Actor loss: -mean(Q(s, pi(s))) + alphaPrior * mean((pi(s)-priorAction)^2).
	negQ, err := G.Mean(a.criticOnPi.output)
	if err != nil {
		return fmt.Errorf("agent: actor loss mean-Q: %w", err)
	}
	negQ, err = G.Neg(negQ)
	if err != nil {
		return fmt.Errorf("agent: actor loss negate: %w", err)
	}
	priorDiff, err := G.Sub(actorTrain.output, a.priorActionNode)
	if err != nil {
		return fmt.Errorf("agent: actor prior diff: %w", err)
	}
	priorSq, err := G.Square(priorDiff)
	if err != nil {
		return fmt.Errorf("agent: actor prior square: %w", err)
	}
	priorLoss, err := G.Mean(priorSq)
	if err != nil {
		return fmt.Errorf("agent: actor prior mean: %w", err)
	}
	scaledPrior, err := G.Mul(priorLoss, G.NewConstant(a.cfg.AlphaPrior))
	if err != nil {
		return fmt.Errorf("agent: actor prior scale: %w", err)
	}
	a.actorLoss, err = G.Add(negQ, scaledPrior)
	if err != nil {
		return fmt.Errorf("agent: actor loss sum: %w", err)
	}

	if _, err := G.Grad(a.criticLoss, a.criticTrain.learnables()...); err != nil {
		return fmt.Errorf("agent: critic gradient: %w", err)
	}
	if _, err := G.Grad(a.actorLoss, a.actorTrain.learnables()...); err != nil {
		return fmt.Errorf("agent: actor gradient: %w", err)
	}

	learnables := append(G.Nodes{}, a.actorTrain.learnables()...)
	learnables = append(learnables, a.criticTrain.learnables()...)
	a.trainVM = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	return nil
}

// reuseMLP builds a forward pass through an already-constructed network's
// weights and biases, but reading from a different input node. This is how
// criticOnPi shares the critic's trained weights while consuming the
// actor's live output instead of the replayed action.
func reuseMLP(g *G.ExprGraph, input *G.Node, template *mlp, name string) (*mlp, error) {
	m := &mlp{g: g, input: input, weights: template.weights, biases: template.biases}
	x := input
	for l := range template.weights {
		lin, err := G.Mul(x, template.weights[l])
		if err != nil {
			return nil, fmt.Errorf("agent: %s layer %d matmul: %w", name, l, err)
		}
		lin, err = G.BroadcastAdd(lin, template.biases[l], nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("agent: %s layer %d bias add: %w", name, l, err)
		}
		last := l == len(template.weights)-1
		switch {
		case last:
			x = lin
		default:
			x, err = G.LeakyRelu(lin, leakySlope)
			if err != nil {
				return nil, fmt.Errorf("agent: %s layer %d activation: %w", name, l, err)
			}
		}
	}
	m.output = x
	return m, nil
}

func (a *Agent) buildTargetGraph() error {
	g := G.NewGraph()
	a.targetGraph = g
	batch := a.cfg.BatchSize

	a.targetObs = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, a.cfg.ObsDim), G.WithName("target_obs"))

	actorTarget, err := newMLP(g, a.targetObs, batch, a.cfg.ObsDim, a.cfg.ActionDim, outputTanh, "actor_target")
	if err != nil {
		return err
	}
	a.actorTarget = actorTarget

	obsAction, err := G.Concat(1, a.targetObs, actorTarget.output)
	if err != nil {
		return fmt.Errorf("agent: concat obs/actor-target for critic target: %w", err)
	}
	criticTarget, err := newMLP(g, obsAction, batch, a.cfg.ObsDim+a.cfg.ActionDim, 1, outputLinear, "critic_target")
	if err != nil {
		return err
	}
	a.criticTarget = criticTarget

	a.targetVM = G.NewTapeMachine(g)
	return nil
}

// Act returns the agent's action for a single observation: the tanh-bounded
// policy output, optionally blended toward a prior-policy action, plus
// Gaussian exploration noise when explore is true. The result is clipped to
// [-1, 1] to match the environment's expected action range.
func (a *Agent) Act(obs []float64, priorAction [2]float64, explore bool) ([2]float64, error) {
	if len(obs) != a.cfg.ObsDim {
		return [2]float64{}, fmt.Errorf("agent: Act: expected %d-dim observation, got %d", a.cfg.ObsDim, len(obs))
	}

	in := tensor.New(tensor.WithShape(1, a.cfg.ObsDim), tensor.WithBacking(append([]float64{}, obs...)))
	if err := G.Let(a.evalInput, in); err != nil {
		return [2]float64{}, fmt.Errorf("agent: Act: setting input: %w", err)
	}
	if err := a.evalVM.RunAll(); err != nil {
		return [2]float64{}, fmt.Errorf("agent: Act: running network: %w", err)
	}
	defer a.evalVM.Reset()

	raw, ok := a.evalActor.output.Value().(*tensor.Dense)
	if !ok {
		return [2]float64{}, fmt.Errorf("agent: Act: unexpected output type")
	}
	data := raw.Data().([]float64)

	beta := a.cfg.PriorBeta
	var out [2]float64
	for i := 0; i < 2; i++ {
		blended := (1-beta)*data[i] + beta*priorAction[i]
		if explore {
			blended += a.rng.NormFloat64() * a.cfg.Sigma
		}
		out[i] = clip(blended, -1, 1)
	}
	return out, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Update trains the actor and critic networks from a batch of sampled
// transitions, and returns the critic and actor losses for telemetry.
// priorActions, when non-nil, supplies one prior-policy action per
// transition for the prior-regularization term; a nil slice is treated as
// the all-zero prior (inert, per the alpha_prior design note).
func (a *Agent) Update(batch []replay.Transition, priorActions [][2]float64) (criticLoss, actorLoss float64, err error) {
	n := len(batch)
	if n != a.cfg.BatchSize {
		return 0, 0, fmt.Errorf("agent: Update: expected batch size %d, got %d", a.cfg.BatchSize, n)
	}

	obs := make([]float64, 0, n*a.cfg.ObsDim)
	actions := make([]float64, 0, n*a.cfg.ActionDim)
	nextObs := make([]float64, 0, n*a.cfg.ObsDim)
	prior := make([]float64, 0, n*a.cfg.ActionDim)
	for i, t := range batch {
		obs = append(obs, t.Obs...)
		actions = append(actions, t.Action...)
		nextObs = append(nextObs, t.NextObs...)
		if priorActions != nil {
			prior = append(prior, priorActions[i][0], priorActions[i][1])
		} else {
			prior = append(prior, 0, 0)
		}
	}

	// Target Q(s', mu_target(s')) for the TD target y = r + gamma*(1-d)*Q'.
	nextObsTensor := tensor.New(tensor.WithShape(n, a.cfg.ObsDim), tensor.WithBacking(nextObs))
	if err := G.Let(a.targetObs, nextObsTensor); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: setting target obs: %w", err)
	}
	if err := a.targetVM.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: running target network: %w", err)
	}
	targetQ := a.criticTarget.output.Value().(*tensor.Dense).Data().([]float64)
	a.targetVM.Reset()

	y := make([]float64, n)
	for i, t := range batch {
		done := 0.0
		if t.Done != 0 {
			done = 1.0
		}
		y[i] = t.Reward + a.cfg.Gamma*(1-done)*targetQ[i]
	}

	if err := G.Let(a.obsInput, tensor.New(tensor.WithShape(n, a.cfg.ObsDim), tensor.WithBacking(obs))); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: setting obs: %w", err)
	}
	if err := G.Let(a.actionInput, tensor.New(tensor.WithShape(n, a.cfg.ActionDim), tensor.WithBacking(actions))); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: setting action: %w", err)
	}
	if err := G.Let(a.targetInput, tensor.New(tensor.WithShape(n, 1), tensor.WithBacking(y))); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: setting TD target: %w", err)
	}
	if err := G.Let(a.priorActionNode, tensor.New(tensor.WithShape(n, a.cfg.ActionDim), tensor.WithBacking(prior))); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: setting prior action: %w", err)
	}

	if err := a.trainVM.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: running train graph: %w", err)
	}

	if err := a.criticSolver.Step(a.criticTrain.learnables()); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: critic solver step: %w", err)
	}
	if err := a.actorSolver.Step(a.actorTrain.learnables()); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: actor solver step: %w", err)
	}

	criticLoss = extractScalar(a.criticLoss)
	actorLoss = extractScalar(a.actorLoss)
	a.trainVM.Reset()

	if err := hardCopy(a.evalActor, a.actorTrain); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: syncing eval actor: %w", err)
	}
	if err := polyakUpdate(a.actorTarget, a.actorTrain, a.cfg.Tau); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: soft-updating actor target: %w", err)
	}
	if err := polyakUpdate(a.criticTarget, a.criticTrain, a.cfg.Tau); err != nil {
		return 0, 0, fmt.Errorf("agent: Update: soft-updating critic target: %w", err)
	}

	return criticLoss, actorLoss, nil
}

func extractScalar(n *G.Node) float64 {
	v, ok := n.Value().(*tensor.Dense)
	if !ok {
		return 0
	}
	switch data := v.Data().(type) {
	case []float64:
		if len(data) > 0 {
			return data[0]
		}
	case float64:
		return data
	}
	return 0
}
