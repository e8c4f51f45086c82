// Package trainloop drives one episode's training run: act, step, score,
// remember, learn, and emit telemetry, repeated for every step of every
// requested episode, checking the stop flag and yielding control between
// steps the way the teacher's agents cooperate with a single training
// goroutine rather than pure preemption.
package trainloop

import (
	"context"
	"math/rand"
	"runtime"

	"github.com/miry41/lamarl-playground/internal/episode"
	"github.com/miry41/lamarl-playground/internal/marl"
	"github.com/miry41/lamarl-playground/internal/metrics"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

// batchSize matches agent.DefaultHyperparams' BatchSize; duplicated here
// as a plain constant so StepUpdate call sites don't need an agent import.
const batchSize = 128

// stepUpdateEvery/tickEvery match the original's perf-motivated cadence:
// learning updates and state-dict rebuilds happen every 5th step, and
// telemetry ticks are emitted every 20th step.
const (
	stepUpdateEvery = 5
	tickEvery       = 20
)

// yieldEvery is the number of global (cross-episode) steps between
// cooperative yields, so a long training run never starves other
// goroutines on the same OS thread even though it isn't itself blocking.
const yieldEvery = 50

// Request describes one training run.
type Request struct {
	EpisodeID       string
	NumEpisodes     int
	EpisodeLen      int
	UseLLM          bool
	TaskDescription string
	Model           string
}

// Loop runs training requests against episodes in a Store.
type Loop struct {
	store *episode.Store
}

// New returns a Loop backed by store.
func New(store *episode.Store) *Loop {
	return &Loop{store: store}
}

// Start looks up the named episode, clears its stop flag, and runs the
// request in a new goroutine; the episode's existing timeline is kept. It returns once the
// episode is found and the goroutine has been launched, not once training
// completes.
func (l *Loop) Start(ctx context.Context, req Request) error {
	ep, err := l.store.Get(req.EpisodeID)
	if err != nil {
		return err
	}
	ep.Stop.Set(false)

	go l.run(ctx, ep, req)
	return nil
}

// StopEpisode sets the named episode's stop flag, causing its training
// goroutine (if any) to return at its next step or episode boundary.
func (l *Loop) StopEpisode(episodeID string) error {
	ep, err := l.store.Get(episodeID)
	if err != nil {
		return err
	}
	ep.Stop.Set(true)
	return nil
}

func (l *Loop) run(ctx context.Context, ep *episode.Episode, req Request) {
	ep.AppendEvent("env_config", map[string]interface{}{
		"shape":      ep.Config.Shape,
		"gridSize":   ep.Config.GridSize,
		"numRobots":  ep.Config.NumRobots,
		"numCells":   ep.Config.NumCells,
		"episodeLen": req.EpisodeLen,
		"useLLM":     req.UseLLM,
	})

	metricsRng := rand.New(rand.NewSource(ep.Config.Seed + 1))
	globalStep := 0

	for epIdx := 0; epIdx < req.NumEpisodes; epIdx++ {
		if ep.Stop.IsSet() {
			return
		}

		obs := ep.Env.Reset()

		for step := 0; step < req.EpisodeLen; step++ {
			if ctx.Err() != nil || ep.Stop.IsSet() {
				return
			}

			// State dicts are only needed on the same cadence the prior is
			// actually consulted for learning (step_update below); rebuilding
			// them every step is wasted work the original avoids too.
			var stateDicts []swarmenv.RobotStateDict
			if ep.System.HasPrior() && step%stepUpdateEvery == 0 {
				stateDicts = ep.Env.StateDicts()
			}

			actions, err := ep.System.Act(ctx, obs, stateDicts, true)
			if err != nil {
				ep.AppendEvent("error", map[string]string{"message": err.Error()})
				return
			}

			nextObs, collisions := ep.Env.Step(actions)

			coverage := metrics.Coverage(ep.Env.Mask(), ep.Env.Positions(), ep.Config.RAvoid)
			uniformity := metrics.Uniformity(ep.Env.Mask(), ep.Env.Positions(), metricsRng)
			reward := -0.01 * float64(len(collisions))

			rewards := make([]float64, ep.Config.NumRobots)
			for i := range rewards {
				rewards[i] = reward
			}

			// Episodes never early-terminate in this mode: done is always 0.
			ep.System.Remember(obs, actions, rewards, nextObs, false)

			var results []marl.UpdateResult
			if step%stepUpdateEvery == 0 {
				results, err = ep.System.StepUpdate(ctx, batchSize, stateDicts)
				if err != nil {
					ep.AppendEvent("error", map[string]string{"message": err.Error()})
					return
				}
			}

			if step%tickEvery == 0 {
				ep.AppendEvent("tick", tickPayload{
					Episode:     epIdx,
					Step:        step,
					Coverage:    coverage,
					Uniformity:  uniformity,
					Collisions:  len(collisions),
					Reward:      reward,
					Positions:   ep.Env.Positions(),
					UpdateStats: results,
				})
			}

			obs = nextObs
			globalStep++
			if globalStep%yieldEvery == 0 {
				runtime.Gosched()
			}
		}

		cumulativeCriticLoss, cumulativeActorLoss := ep.System.CumulativeLosses()
		ep.AppendEvent("episode_end", map[string]interface{}{
			"episode":              epIdx,
			"cumulativeCriticLoss": cumulativeCriticLoss,
			"cumulativeActorLoss":  cumulativeActorLoss,
		})
		runtime.Gosched()
	}

	ep.AppendEvent("training_complete", map[string]interface{}{"episodes": req.NumEpisodes})
}

type tickPayload struct {
	Episode     int                `json:"episode"`
	Step        int                `json:"step"`
	Coverage    float64            `json:"coverage"`
	Uniformity  float64            `json:"uniformity"`
	Collisions  int                `json:"collisions"`
	Reward      float64            `json:"reward"`
	Positions   []metrics.Position `json:"positions"`
	UpdateStats interface{}        `json:"updateStats"`
}
