// Package marl coordinates one actor-critic agent.Agent per robot: parallel
// action selection, parallel learning updates, and the pluggable prior
// policy / reward function each robot's update consults.
//
// Grounded on fastview.client[T]'s errgroup.WithContext fan-out (parallel
// goroutines joined by one group, any failure aborting the rest) rather
// than the teacher's RL package itself, since the teacher trains a single
// tabular agent and has no multi-agent dispatch to generalize from.
package marl

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/miry41/lamarl-playground/internal/agent"
	"github.com/miry41/lamarl-playground/internal/atomicfloat"
	"github.com/miry41/lamarl-playground/internal/replay"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

// PriorFunc maps one robot's state to a prior-policy action. It is consulted
// by System.Act for prior/policy blending, and supplied as the target for
// the actor's prior-regularization loss during Update.
type PriorFunc func(swarmenv.RobotStateDict) [2]float64

// RewardFunc scores one step for one robot, given the environment-wide
// metrics and that robot's collision count this step.
type RewardFunc func(coverage, uniformity float64, collisions int) float64

// System owns one agent.Agent and one replay.Buffer per robot, and
// dispatches Act/Update across all robots concurrently.
type System struct {
	agents     []*agent.Agent
	buffers    []*replay.Buffer
	sampleRngs []*rand.Rand
	prior      PriorFunc
	reward     RewardFunc

	// cumulativeCriticLoss/cumulativeActorLoss accumulate every robot's
	// loss across every StepUpdate call, written concurrently by each
	// robot's update goroutine; a mutex here would serialize the very
	// fan-out StepUpdate exists to parallelize.
	cumulativeCriticLoss *atomicfloat.Float64
	cumulativeActorLoss  *atomicfloat.Float64

	// warmup is the minimum transition count every agent's buffer must
	// hold before any agent updates, checked against the smallest buffer
	// across the whole system rather than per-agent.
	warmup int
}

// New constructs a System of n identically-configured agents, each seeded
// deterministically from base plus its index so that multi-robot runs stay
// reproducible under a fixed top-level seed.
func New(n int, cfg agent.Hyperparams, bufferCapacity int, base int64) (*System, error) {
	s := &System{
		agents:               make([]*agent.Agent, n),
		buffers:              make([]*replay.Buffer, n),
		sampleRngs:           make([]*rand.Rand, n),
		cumulativeCriticLoss: atomicfloat.New(0),
		cumulativeActorLoss:  atomicfloat.New(0),
		warmup:               cfg.Warmup,
	}
	for i := 0; i < n; i++ {
		a, err := agent.New(cfg, base+int64(i))
		if err != nil {
			return nil, fmt.Errorf("marl: constructing agent %d: %w", i, err)
		}
		s.agents[i] = a
		s.buffers[i] = replay.New(bufferCapacity)
		s.sampleRngs[i] = rand.New(rand.NewSource(base + int64(i) + 1))
	}
	return s, nil
}

// SetPrior installs (or, passed nil, clears) the prior policy function
// consulted by Act and Update.
func (s *System) SetPrior(fn PriorFunc) { s.prior = fn }

// SetReward installs (or, passed nil, clears) the reward function that
// Reward evaluates. The training loop does not call Reward: it scores every
// step with its own fixed collision penalty.
func (s *System) SetReward(fn RewardFunc) { s.reward = fn }

// NumAgents returns the number of robots under management.
func (s *System) NumAgents() int { return len(s.agents) }

// Reward scores one step using the installed reward function, or 0 when
// none is installed.
func (s *System) Reward(coverage, uniformity float64, collisions int) float64 {
	if s.reward == nil {
		return 0
	}
	return s.reward(coverage, uniformity, collisions)
}

// HasReward reports whether a reward function is installed.
func (s *System) HasReward() bool { return s.reward != nil }

// HasPrior reports whether a prior policy function is installed.
func (s *System) HasPrior() bool { return s.prior != nil }

// CumulativeLosses returns the running total critic and actor loss summed
// across every robot's every StepUpdate call, for training-run telemetry.
func (s *System) CumulativeLosses() (criticLoss, actorLoss float64) {
	return s.cumulativeCriticLoss.Load(), s.cumulativeActorLoss.Load()
}

// Act selects one action per robot in parallel, given the environment's
// current per-robot observations and state dicts (state dicts are nil when
// no prior is installed, since they are otherwise wasted work).
func (s *System) Act(ctx context.Context, obs [][]float64, stateDicts []swarmenv.RobotStateDict, explore bool) ([][2]float64, error) {
	n := len(s.agents)
	if len(obs) != n {
		return nil, fmt.Errorf("marl: Act: expected %d observations, got %d", n, len(obs))
	}

	actions := make([][2]float64, n)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var prior [2]float64
			if s.prior != nil && stateDicts != nil {
				prior = s.prior(stateDicts[i])
			}
			a, err := s.agents[i].Act(obs[i], prior, explore)
			if err != nil {
				return fmt.Errorf("marl: agent %d: %w", i, err)
			}
			actions[i] = a
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return actions, nil
}

// Remember stores one transition per robot into that robot's own buffer.
func (s *System) Remember(obs [][]float64, actions [][2]float64, rewards []float64, nextObs [][]float64, done bool) {
	d := 0.0
	if done {
		d = 1.0
	}
	for i := range s.agents {
		s.buffers[i].Push(replay.Transition{
			Obs:     obs[i],
			Action:  actions[i][:],
			Reward:  rewards[i],
			NextObs: nextObs[i],
			Done:    d,
		})
	}
}

// UpdateResult carries one robot's learning-step telemetry.
type UpdateResult struct {
	CriticLoss float64
	ActorLoss  float64
	Skipped    bool // true before warmup is reached, or when that robot's buffer does not hold a full batch
}

// StepUpdate runs one learning step per robot concurrently, sampling a
// batch from each robot's own buffer. No agent updates until every buffer
// holds at least System.warmup transitions, gated on the smallest buffer
// across the whole system rather than per-agent, so learning only starts
// once every robot has accumulated a real history. A robot whose buffer is
// still underfilled relative to batchSize (which should not happen once
// warmup has passed, since warmup exceeds any sane batch size) is skipped
// rather than erroring.
func (s *System) StepUpdate(ctx context.Context, batchSize int, stateDicts []swarmenv.RobotStateDict) ([]UpdateResult, error) {
	n := len(s.agents)
	results := make([]UpdateResult, n)

	minBuffered := s.buffers[0].Size()
	for _, b := range s.buffers[1:] {
		if sz := b.Size(); sz < minBuffered {
			minBuffered = sz
		}
	}
	if minBuffered < s.warmup {
		for i := range results {
			results[i] = UpdateResult{Skipped: true}
		}
		return results, nil
	}

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			batch, err := s.buffers[i].Sample(batchSize, s.sampleRngs[i])
			if err != nil {
				results[i] = UpdateResult{Skipped: true}
				return nil
			}

			var priorActions [][2]float64
			if s.prior != nil && stateDicts != nil {
				priorActions = make([][2]float64, len(batch))
				for k := range batch {
					priorActions[k] = s.prior(stateDicts[i])
				}
			}

			criticLoss, actorLoss, err := s.agents[i].Update(batch, priorActions)
			if err != nil {
				return fmt.Errorf("marl: updating agent %d: %w", i, err)
			}
			s.cumulativeCriticLoss.Add(criticLoss)
			s.cumulativeActorLoss.Add(actorLoss)
			results[i] = UpdateResult{CriticLoss: criticLoss, ActorLoss: actorLoss}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
