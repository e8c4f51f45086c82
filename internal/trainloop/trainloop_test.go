package trainloop

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/miry41/lamarl-playground/internal/episode"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

func smallConfig() swarmenv.Config {
	return swarmenv.Config{
		Shape:       "circle",
		GridSize:    16,
		NumRobots:   2,
		RSense:      1.0,
		RAvoid:      0.1,
		NumNeighbor: 1,
		NumCells:    2,
		LCell:       1.0,
		Seed:        1,
	}
}

func TestLoopStartAndStop(t *testing.T) {
	Convey("Given an episode registered in a Store", t, func() {
		store := episode.NewStore(0)
		ep, err := store.Create(smallConfig())
		So(err, ShouldBeNil)

		loop := New(store)

		Convey("Start launches training and StopEpisode halts it", func() {
			req := Request{EpisodeID: ep.ID, NumEpisodes: 1000, EpisodeLen: 1000}
			err := loop.Start(context.Background(), req)
			So(err, ShouldBeNil)

			time.Sleep(20 * time.Millisecond)
			So(loop.StopEpisode(ep.ID), ShouldBeNil)
			time.Sleep(20 * time.Millisecond)

			timeline := ep.Timeline()
			So(len(timeline), ShouldBeGreaterThan, 0)
		})

		Convey("Start on an unknown episode id returns an error", func() {
			err := loop.Start(context.Background(), Request{EpisodeID: "ep-nope"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestTickCadence(t *testing.T) {
	Convey("Given a single 50-step episode run synchronously", t, func() {
		store := episode.NewStore(0)
		ep, err := store.Create(smallConfig())
		So(err, ShouldBeNil)

		loop := New(store)
		loop.run(context.Background(), ep, Request{EpisodeID: ep.ID, NumEpisodes: 1, EpisodeLen: 50})

		ticks := 0
		for _, ev := range ep.Timeline() {
			if ev.Type == "tick" {
				ticks++
			}
		}

		Convey("exactly ceil(50/20)=3 tick events are emitted", func() {
			So(ticks, ShouldEqual, 3)
		})
	})
}
