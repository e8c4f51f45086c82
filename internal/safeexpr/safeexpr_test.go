package safeexpr

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCompile(t *testing.T) {
	Convey("Given a formula over whitelisted names", t, func() {
		Convey("It compiles and evaluates correctly", func() {
			c, err := Compile("coverage - uniformity - 0.1*collisions")
			So(err, ShouldBeNil)

			v, err := c.Eval(Inputs{Coverage: 0.9, Uniformity: 0.2, Collisions: 2})
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 0.9-0.2-0.2)
		})

		Convey("Whitelisted functions are usable", func() {
			c, err := Compile("clamp(coverage, 0, 1) - abs(uniformity) + min(collisions, 1.0)")
			So(err, ShouldBeNil)

			v, err := c.Eval(Inputs{Coverage: 1.5, Uniformity: -0.3, Collisions: 4})
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 1.0-0.3+1.0)
		})

		Convey("An unknown identifier is rejected at compile time", func() {
			_, err := Compile("coverage + forbidden_name")
			So(err, ShouldNotBeNil)
		})

		Convey("A non-numeric expression is rejected at compile time", func() {
			_, err := Compile(`"not a number"`)
			So(err, ShouldNotBeNil)
		})
	})
}
