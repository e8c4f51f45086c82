package priordsl

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/miry41/lamarl-playground/internal/metrics"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

func TestCompile(t *testing.T) {
	Convey("Given a document with an unrecognized op", t, func() {
		doc := Document{
			Terms: []Term{{Op: "teleport", Weight: 1.0}},
			Clamp: Clamp{MaxSpeed: 1.0},
		}

		Convey("Compile rejects it", func() {
			_, err := Compile(doc)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a document with no terms", t, func() {
		doc := Document{Clamp: Clamp{MaxSpeed: 1.0}}

		Convey("Compile rejects it", func() {
			_, err := Compile(doc)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a document with a non-positive max speed", t, func() {
		doc := Document{
			Terms: []Term{{Op: OpMoveToShapeCenter, Weight: 1.0}},
			Clamp: Clamp{MaxSpeed: 0},
		}

		Convey("Compile rejects it", func() {
			_, err := Compile(doc)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a move_to_shape_center document", t, func() {
		doc := Document{
			Terms: []Term{{Op: OpMoveToShapeCenter, Weight: 1.0}},
			Clamp: Clamp{MaxSpeed: 1.0},
		}
		policy, err := Compile(doc)
		So(err, ShouldBeNil)

		Convey("It steers toward the target center, clamped to max speed", func() {
			sd := swarmenv.RobotStateDict{
				Position:     metrics.Position{X: 0, Y: 0},
				TargetCenter: metrics.Position{X: 10, Y: 0},
			}
			action := policy(sd)
			So(action[0], ShouldBeGreaterThan, 0)
			So(action[1], ShouldAlmostEqual, 0, 0.0001)
			So(action[0], ShouldBeLessThanOrEqualTo, 1.0001)
		})
	})

	Convey("Given an avoid_neighbors document and a nearby neighbor", t, func() {
		doc := Document{
			Terms: []Term{{Op: OpAvoidNeighbors, Weight: 1.0, Radius: 2.0}},
			Clamp: Clamp{MaxSpeed: 5.0},
		}
		policy, err := Compile(doc)
		So(err, ShouldBeNil)

		Convey("It pushes away from the neighbor", func() {
			sd := swarmenv.RobotStateDict{
				Neighbors: []swarmenv.NeighborState{
					{Position: metrics.Position{X: 1, Y: 0}},
				},
			}
			action := policy(sd)
			So(action[0], ShouldBeLessThan, 0)
		})

		Convey("A neighbor outside radius contributes nothing", func() {
			sd := swarmenv.RobotStateDict{
				Neighbors: []swarmenv.NeighborState{
					{Position: metrics.Position{X: 3, Y: 0}},
				},
			}
			action := policy(sd)
			So(action[0], ShouldEqual, 0)
			So(action[1], ShouldEqual, 0)
		})
	})
}

func TestAvoidNeighborsFormula(t *testing.T) {
	Convey("avoidNeighbors matches (p_self-p_nbr)/(d^2+1e-6) summed over neighbors", t, func() {
		sd := swarmenv.RobotStateDict{
			Neighbors: []swarmenv.NeighborState{
				{Position: metrics.Position{X: 1, Y: 0}},
			},
		}
		fx, fy := avoidNeighbors(sd, 2.0)
		So(fx, ShouldAlmostEqual, -1.0, 1e-5)
		So(fy, ShouldAlmostEqual, 0.0, 1e-5)
	})
}

func TestKeepGridUniformityFormula(t *testing.T) {
	Convey("keepGridUniformity returns 0.1 times the mean neighbor offset", t, func() {
		sd := swarmenv.RobotStateDict{
			Neighbors: []swarmenv.NeighborState{
				{Position: metrics.Position{X: 2, Y: 0}},
				{Position: metrics.Position{X: 0, Y: 4}},
			},
		}
		fx, fy := keepGridUniformity(sd, 99.0)
		So(fx, ShouldAlmostEqual, 0.1, 1e-9)
		So(fy, ShouldAlmostEqual, 0.2, 1e-9)
	})

	Convey("keepGridUniformity is zero with no neighbors regardless of cell_size", t, func() {
		fx, fy := keepGridUniformity(swarmenv.RobotStateDict{}, 5.0)
		So(fx, ShouldEqual, 0)
		So(fy, ShouldEqual, 0)
	})
}

func TestExploreEmptyCellsFormula(t *testing.T) {
	Convey("exploreEmptyCells steers toward the first unoccupied cell in list order", t, func() {
		sd := swarmenv.RobotStateDict{
			NearbyCells: []swarmenv.CellState{
				{Position: metrics.Position{X: 5, Y: 0}, Occupied: true},
				{Position: metrics.Position{X: 0, Y: 3}, Occupied: false},
				{Position: metrics.Position{X: -1, Y: -1}, Occupied: false},
			},
		}
		fx, fy := exploreEmptyCells(sd)
		So(fx, ShouldAlmostEqual, 0.0, 1e-9)
		So(fy, ShouldAlmostEqual, 1.0, 1e-9)
	})

	Convey("exploreEmptyCells returns zero when every candidate is occupied", t, func() {
		sd := swarmenv.RobotStateDict{
			NearbyCells: []swarmenv.CellState{
				{Position: metrics.Position{X: 5, Y: 0}, Occupied: true},
			},
		}
		fx, fy := exploreEmptyCells(sd)
		So(fx, ShouldEqual, 0)
		So(fy, ShouldEqual, 0)
	})
}
