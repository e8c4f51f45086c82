// Package priordsl compiles an LLM- or user-authored prior-policy document
// into a state-to-action closure, without ever executing LLM-generated
// code: only a fixed, whitelisted set of named operations is recognized,
// each carrying a weight and, where meaningful, a radius or cell size.
//
// Grounded on the Python original's intent (backend/app/llm/dsl_runtime.py:
// "JSON-DSL to executable function, whitelist-only"), but compiled against
// the concrete swarmenv.RobotStateDict struct rather than a dynamic dict,
// per the design note in SPEC_FULL.md section 9.
package priordsl

import (
	"fmt"
	"math"

	"github.com/miry41/lamarl-playground/internal/lamarlerr"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

// Op names the recognized prior-policy operations.
type Op string

const (
	OpMoveToShapeCenter   Op = "move_to_shape_center"
	OpAvoidNeighbors      Op = "avoid_neighbors"
	OpKeepGridUniformity  Op = "keep_grid_uniformity"
	OpSynchronizeVelocity Op = "synchronize_velocity"
	OpExploreEmptyCells   Op = "explore_empty_cells"
)

var whitelist = map[Op]bool{
	OpMoveToShapeCenter:   true,
	OpAvoidNeighbors:      true,
	OpKeepGridUniformity:  true,
	OpSynchronizeVelocity: true,
	OpExploreEmptyCells:   true,
}

// Term is one weighted operation in a prior document.
type Term struct {
	Op       Op      `json:"op"`
	Weight   float64 `json:"weight"`
	Radius   float64 `json:"radius,omitempty"`
	CellSize float64 `json:"cell_size,omitempty"`
}

// Clamp bounds the compiled policy's output magnitude.
type Clamp struct {
	MaxSpeed float64 `json:"max_speed"`
}

// Document is a complete prior policy: an ordered sum of weighted terms,
// clamped to a maximum output magnitude.
type Document struct {
	Terms []Term `json:"terms"`
	Clamp Clamp  `json:"clamp"`
}

// Policy is a compiled prior policy, a pure function of robot state.
type Policy func(swarmenv.RobotStateDict) [2]float64

// Compile validates doc against the whitelisted schema and returns a Policy
// closure summing every term's contribution, clamped to doc.Clamp.MaxSpeed.
// An unrecognized op, non-finite weight, or non-positive max speed is
// rejected with lamarlerr.ErrSchemaViolation.
func Compile(doc Document) (Policy, error) {
	if len(doc.Terms) == 0 {
		return nil, fmt.Errorf("priordsl: document has no terms: %w", lamarlerr.ErrSchemaViolation)
	}
	if doc.Clamp.MaxSpeed <= 0 || math.IsNaN(doc.Clamp.MaxSpeed) || math.IsInf(doc.Clamp.MaxSpeed, 0) {
		return nil, fmt.Errorf("priordsl: max_speed must be positive and finite: %w", lamarlerr.ErrSchemaViolation)
	}

	for i, t := range doc.Terms {
		if !whitelist[t.Op] {
			return nil, fmt.Errorf("priordsl: term %d: unrecognized op %q: %w", i, t.Op, lamarlerr.ErrSchemaViolation)
		}
		if math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
			return nil, fmt.Errorf("priordsl: term %d: weight is not finite: %w", i, lamarlerr.ErrSchemaViolation)
		}
	}

	terms := append([]Term{}, doc.Terms...)
	maxSpeed := doc.Clamp.MaxSpeed

	return func(sd swarmenv.RobotStateDict) [2]float64 {
		var fx, fy float64
		for _, t := range terms {
			dx, dy := evalTerm(t, sd)
			fx += t.Weight * dx
			fy += t.Weight * dy
		}
		return clampVector(fx, fy, maxSpeed)
	}, nil
}

func evalTerm(t Term, sd swarmenv.RobotStateDict) (float64, float64) {
	switch t.Op {
	case OpMoveToShapeCenter:
		return unit(sd.TargetCenter.X-sd.Position.X, sd.TargetCenter.Y-sd.Position.Y)
	case OpAvoidNeighbors:
		return avoidNeighbors(sd, t.Radius)
	case OpKeepGridUniformity:
		return keepGridUniformity(sd, t.CellSize)
	case OpSynchronizeVelocity:
		return synchronizeVelocity(sd)
	case OpExploreEmptyCells:
		return exploreEmptyCells(sd)
	default:
		return 0, 0
	}
}

// avoidNeighbors sums (p_self - p_nbr)/(||p_self - p_nbr||^2 + 1e-6) over
// every neighbor within radius: an inverse-square-like repulsion that grows
// sharply as a neighbor closes in, rather than a linear spring.
func avoidNeighbors(sd swarmenv.RobotStateDict, radius float64) (float64, float64) {
	var fx, fy float64
	for _, nb := range sd.Neighbors {
		// nb.Position is already p_nbr - p_self, so p_self - p_nbr is its
		// negation.
		d := math.Hypot(nb.Position.X, nb.Position.Y)
		if d > radius {
			continue
		}
		denom := d*d + 1e-6
		fx += -nb.Position.X / denom
		fy += -nb.Position.Y / denom
	}
	return fx, fy
}

// keepGridUniformity steers 0.1 of the way toward the mean neighbor
// position when neighbors exist, and returns zero otherwise. cellSize is
// accepted for schema symmetry with the other radius/cell_size-bearing ops
// but does not alter this op's semantics.
func keepGridUniformity(sd swarmenv.RobotStateDict, cellSize float64) (float64, float64) {
	_ = cellSize
	if len(sd.Neighbors) == 0 {
		return 0, 0
	}
	var sx, sy float64
	for _, nb := range sd.Neighbors {
		sx += nb.Position.X
		sy += nb.Position.Y
	}
	n := float64(len(sd.Neighbors))
	return 0.1 * (sx / n), 0.1 * (sy / n)
}

// synchronizeVelocity steers toward the mean relative velocity of nearby
// robots, the classic flocking alignment rule.
func synchronizeVelocity(sd swarmenv.RobotStateDict) (float64, float64) {
	if len(sd.Neighbors) == 0 {
		return 0, 0
	}
	var vx, vy float64
	for _, nb := range sd.Neighbors {
		vx += nb.Velocity.X
		vy += nb.Velocity.Y
	}
	n := float64(len(sd.Neighbors))
	return vx / n, vy / n
}

// exploreEmptyCells steers toward the first unoccupied cell in the
// nearby-cells list, in list order, or returns zero when every candidate
// cell is already occupied.
func exploreEmptyCells(sd swarmenv.RobotStateDict) (float64, float64) {
	for _, c := range sd.NearbyCells {
		if !c.Occupied {
			return unit(c.Position.X, c.Position.Y)
		}
	}
	return 0, 0
}

func unit(x, y float64) (float64, float64) {
	d := math.Hypot(x, y)
	if d == 0 {
		return 0, 0
	}
	return x / d, y / d
}

func clampVector(x, y, maxSpeed float64) [2]float64 {
	d := math.Hypot(x, y)
	if d <= maxSpeed || d == 0 {
		return [2]float64{x, y}
	}
	scale := maxSpeed / d
	return [2]float64{x * scale, y * scale}
}
