package replay

import (
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBuffer(t *testing.T) {
	Convey("Given a buffer of capacity 4", t, func() {
		b := New(4)
		rng := rand.New(rand.NewSource(7))

		Convey("Size never exceeds capacity after overflow", func() {
			for i := 0; i < 10; i++ {
				b.Push(Transition{Reward: float64(i)})
			}
			So(b.Size(), ShouldEqual, 4)
		})

		Convey("Overflow drops the oldest transitions first", func() {
			for i := 0; i < 6; i++ {
				b.Push(Transition{Reward: float64(i)})
			}
			samples, err := b.Sample(4, rng)
			So(err, ShouldBeNil)
			rewards := make(map[float64]bool)
			for _, s := range samples {
				rewards[s.Reward] = true
			}
			So(rewards[0.0], ShouldBeFalse)
			So(rewards[1.0], ShouldBeFalse)
			So(rewards[5.0], ShouldBeTrue)
		})

		Convey("Sampling more than available is an error", func() {
			b.Push(Transition{Reward: 1})
			_, err := b.Sample(2, rng)
			So(err, ShouldNotBeNil)
		})

		Convey("Sampling returns distinct items within one call", func() {
			for i := 0; i < 4; i++ {
				b.Push(Transition{Reward: float64(i)})
			}
			samples, err := b.Sample(4, rng)
			So(err, ShouldBeNil)
			seen := make(map[float64]bool)
			for _, s := range samples {
				So(seen[s.Reward], ShouldBeFalse)
				seen[s.Reward] = true
			}
		})
	})
}
