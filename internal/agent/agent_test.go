package agent

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/miry41/lamarl-playground/internal/replay"
)

func TestAgentAct(t *testing.T) {
	Convey("Given a freshly constructed Agent", t, func() {
		cfg := DefaultHyperparams(10)
		a, err := New(cfg, 3)
		So(err, ShouldBeNil)

		obs := make([]float64, cfg.ObsDim)
		for i := range obs {
			obs[i] = 0.1 * float64(i)
		}

		Convey("Act without exploration returns a clipped 2-vector", func() {
			action, err := a.Act(obs, [2]float64{}, false)
			So(err, ShouldBeNil)
			So(action[0], ShouldBeBetween, -1.0001, 1.0001)
			So(action[1], ShouldBeBetween, -1.0001, 1.0001)
		})

		Convey("Act rejects an observation of the wrong dimension", func() {
			_, err := a.Act([]float64{1, 2, 3}, [2]float64{}, false)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestAgentUpdate(t *testing.T) {
	Convey("Given an Agent with a batch of transitions", t, func() {
		cfg := DefaultHyperparams(8)
		cfg.BatchSize = 4
		a, err := New(cfg, 11)
		So(err, ShouldBeNil)

		batch := make([]replay.Transition, cfg.BatchSize)
		for i := range batch {
			batch[i] = replay.Transition{
				Obs:     make([]float64, cfg.ObsDim),
				Action:  []float64{0.1, -0.1},
				Reward:  1.0,
				NextObs: make([]float64, cfg.ObsDim),
				Done:    0,
			}
		}

		Convey("Update returns finite critic and actor losses", func() {
			criticLoss, actorLoss, err := a.Update(batch, nil)
			So(err, ShouldBeNil)
			So(math.IsNaN(criticLoss) || math.IsInf(criticLoss, 0), ShouldBeFalse)
			So(math.IsNaN(actorLoss) || math.IsInf(actorLoss, 0), ShouldBeFalse)
		})

		Convey("Update rejects a batch of the wrong size", func() {
			_, _, err := a.Update(batch[:1], nil)
			So(err, ShouldNotBeNil)
		})
	})
}
