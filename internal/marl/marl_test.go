package marl

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/miry41/lamarl-playground/internal/agent"
)

func testSystem(t *testing.T) *System {
	cfg := agent.DefaultHyperparams(8)
	cfg.BatchSize = 4
	cfg.Warmup = 0
	s, err := New(3, cfg, 16, 5)
	if err != nil {
		t.Fatalf("marl.New: %v", err)
	}
	return s
}

func TestSystemAct(t *testing.T) {
	Convey("Given a System of 3 agents", t, func() {
		s := testSystem(t)

		obs := make([][]float64, s.NumAgents())
		for i := range obs {
			obs[i] = make([]float64, 8)
		}

		Convey("Act returns one action per agent", func() {
			actions, err := s.Act(context.Background(), obs, nil, false)
			So(err, ShouldBeNil)
			So(len(actions), ShouldEqual, s.NumAgents())
		})

		Convey("Act rejects a mismatched observation count", func() {
			_, err := s.Act(context.Background(), obs[:1], nil, false)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSystemRememberAndUpdate(t *testing.T) {
	Convey("Given a System with transitions pushed into every buffer", t, func() {
		s := testSystem(t)
		n := s.NumAgents()

		obs := make([][]float64, n)
		nextObs := make([][]float64, n)
		actions := make([][2]float64, n)
		rewards := make([]float64, n)
		for i := 0; i < n; i++ {
			obs[i] = make([]float64, 8)
			nextObs[i] = make([]float64, 8)
			actions[i] = [2]float64{0.1, -0.1}
			rewards[i] = 1.0
		}

		for k := 0; k < 4; k++ {
			s.Remember(obs, actions, rewards, nextObs, false)
		}

		Convey("StepUpdate runs a learning step for every agent", func() {
			results, err := s.StepUpdate(context.Background(), 4, nil)
			So(err, ShouldBeNil)
			So(len(results), ShouldEqual, n)
			for _, r := range results {
				So(r.Skipped, ShouldBeFalse)
			}
		})

		Convey("StepUpdate accumulates cumulative loss telemetry across agents", func() {
			startCritic, startActor := s.CumulativeLosses()
			So(startCritic, ShouldEqual, 0)
			So(startActor, ShouldEqual, 0)

			_, err := s.StepUpdate(context.Background(), 4, nil)
			So(err, ShouldBeNil)

			criticLoss, _ := s.CumulativeLosses()
			So(criticLoss, ShouldNotEqual, 0)
		})
	})
}

func TestSystemWarmupGate(t *testing.T) {
	Convey("Given a System with a nonzero warmup and a few transitions pushed", t, func() {
		cfg := agent.DefaultHyperparams(8)
		cfg.BatchSize = 4
		cfg.Warmup = 10
		s, err := New(3, cfg, 16, 5)
		So(err, ShouldBeNil)
		n := s.NumAgents()

		obs := make([][]float64, n)
		nextObs := make([][]float64, n)
		actions := make([][2]float64, n)
		rewards := make([]float64, n)
		for i := 0; i < n; i++ {
			obs[i] = make([]float64, 8)
			nextObs[i] = make([]float64, 8)
			actions[i] = [2]float64{0.1, -0.1}
			rewards[i] = 1.0
		}
		for k := 0; k < 4; k++ {
			s.Remember(obs, actions, rewards, nextObs, false)
		}

		Convey("StepUpdate skips every agent before warmup is reached, even with a full batch", func() {
			results, err := s.StepUpdate(context.Background(), 4, nil)
			So(err, ShouldBeNil)
			for _, r := range results {
				So(r.Skipped, ShouldBeTrue)
			}

			startCritic, _ := s.CumulativeLosses()
			So(startCritic, ShouldEqual, 0)
		})

		Convey("StepUpdate runs once every buffer reaches warmup", func() {
			for k := 0; k < 6; k++ {
				s.Remember(obs, actions, rewards, nextObs, false)
			}
			results, err := s.StepUpdate(context.Background(), 4, nil)
			So(err, ShouldBeNil)
			for _, r := range results {
				So(r.Skipped, ShouldBeFalse)
			}
		})
	})
}

func TestSystemRewardDefault(t *testing.T) {
	Convey("Given a System with no reward function installed", t, func() {
		s := testSystem(t)

		Convey("HasReward is false and Reward returns 0", func() {
			So(s.HasReward(), ShouldBeFalse)
			So(s.Reward(0.5, 0.2, 1), ShouldEqual, 0.0)
		})

		Convey("Installing a reward function takes effect", func() {
			s.SetReward(func(coverage, uniformity float64, collisions int) float64 {
				return coverage - uniformity - float64(collisions)
			})
			So(s.HasReward(), ShouldBeTrue)
			So(s.Reward(0.8, 0.1, 0), ShouldEqual, 0.7)
		})
	})
}
