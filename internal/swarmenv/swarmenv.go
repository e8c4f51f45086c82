// Package swarmenv implements the discrete-grid 2D physics simulator for
// the swarm shape-formation task: robot positions/velocities, fixed-size
// per-agent observations, and collision detection.
//
// Grounded on backend/app/env.py's SwarmEnv, ported to Go's explicit
// random-source idiom (a seeded *rand.Rand owned by the Env, rather than a
// module-global generator) the way the teacher seeds its own RL
// experiments explicitly rather than relying on package-level rand state.
package swarmenv

import (
	"math"
	"math/rand"

	"github.com/miry41/lamarl-playground/internal/metrics"
	"github.com/miry41/lamarl-playground/internal/shapemask"
)

// Config holds the fixed parameters of one episode's environment.
type Config struct {
	Shape       string
	GridSize    int
	NumRobots   int
	RSense      float64
	RAvoid      float64
	NumNeighbor int // n_hn
	NumCells    int // n_hc
	LCell       float64
	DT          float64
	Seed        int64
}

// DefaultDT is used when a Config omits DT.
const DefaultDT = 0.05

const (
	kDamp   = 0.1
	kCenter = 0.05
)

// Env is the swarm physics simulator. It exclusively owns its position and
// velocity arrays and shape mask (spec.md ownership rule).
type Env struct {
	cfg  Config
	mask *shapemask.Mask
	rng  *rand.Rand

	pos []metrics.Position
	vel []metrics.Position // reused as a 2D vector type; velocity, not position
}

// New constructs an Env and performs the initial Reset.
func New(cfg Config) (*Env, error) {
	if cfg.DT == 0 {
		cfg.DT = DefaultDT
	}

	mask, err := shapemask.New(cfg.Shape, cfg.GridSize)
	if err != nil {
		return nil, err
	}

	e := &Env{
		cfg:  cfg,
		mask: mask,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
	e.Reset()
	return e, nil
}

// Mask returns the environment's immutable shape mask.
func (e *Env) Mask() *shapemask.Mask { return e.mask }

// Config returns the environment's configuration.
func (e *Env) Config() Config { return e.cfg }

// Positions returns a copy of the current robot positions.
func (e *Env) Positions() []metrics.Position {
	out := make([]metrics.Position, len(e.pos))
	copy(out, e.pos)
	return out
}

// Velocities returns a copy of the current robot velocities.
func (e *Env) Velocities() []metrics.Position {
	out := make([]metrics.Position, len(e.vel))
	copy(out, e.vel)
	return out
}

// ObsDim returns the fixed per-agent observation vector length.
func (e *Env) ObsDim() int {
	return 6 + 4*e.cfg.NumNeighbor + 2 + 2*e.cfg.NumCells
}

// Reset places all robots on randomly chosen shape cells, jittered by
// Gaussian noise, with small random initial velocities, and returns the
// initial observation matrix.
func (e *Env) Reset() [][]float64 {
	n := e.cfg.NumRobots
	cells := e.mask.Cells()

	e.pos = make([]metrics.Position, n)
	e.vel = make([]metrics.Position, n)

	for i := 0; i < n; i++ {
		cell := cells[e.rng.Intn(len(cells))]
		e.pos[i] = metrics.Position{
			X: clampF(cell.X+gauss(e.rng, 0, 2.0), 0, float64(e.cfg.GridSize-1)),
			Y: clampF(cell.Y+gauss(e.rng, 0, 2.0), 0, float64(e.cfg.GridSize-1)),
		}
		e.vel[i] = metrics.Position{
			X: clampF(gauss(e.rng, 0, 0.1), -3, 3),
			Y: clampF(gauss(e.rng, 0, 0.1), -3, 3),
		}
	}

	return e.Observe()
}

func gauss(rng *rand.Rand, mean, stddev float64) float64 {
	return mean + rng.NormFloat64()*stddev
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Observe returns the N x D observation matrix built from the per-agent
// construction rule: self-state, nearest-neighbor deltas, target cell, and
// nearby cells.
func (e *Env) Observe() [][]float64 {
	n := e.cfg.NumRobots
	obs := make([][]float64, n)
	for i := 0; i < n; i++ {
		obs[i] = e.observeOne(i)
	}
	return obs
}

func (e *Env) observeOne(i int) []float64 {
	dim := e.ObsDim()
	vec := make([]float64, 0, dim)

	// Self state: pos(2), vel(2), two reserved zero slots.
	vec = append(vec, e.pos[i].X, e.pos[i].Y, e.vel[i].X, e.vel[i].Y, 0, 0)

	vec = append(vec, e.neighborSlots(i)...)
	vec = append(vec, e.targetCellSlot(i)...)
	vec = append(vec, e.nearbyCellSlots(i)...)

	return vec
}

// neighborCandidate is a candidate nearest-neighbor, pending a distance sort.
type neighborCandidate struct {
	idx    int
	distSq float64
}

// neighborSlots returns 4*NumNeighbor floats: the relative position and
// velocity delta of up to NumNeighbor nearest other robots, restricted to
// squared distance <= (rSense * gridSize/8)^2, zero-padded.
func (e *Env) neighborSlots(i int) []float64 {
	n := e.cfg.NumRobots
	maxDistSq := math.Pow(e.cfg.RSense*float64(e.cfg.GridSize)/8, 2)

	neighbors := make([]neighborCandidate, 0, n-1)
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		dx := e.pos[j].X - e.pos[i].X
		dy := e.pos[j].Y - e.pos[i].Y
		distSq := dx*dx + dy*dy
		if distSq <= maxDistSq {
			neighbors = append(neighbors, neighborCandidate{idx: j, distSq: distSq})
		}
	}
	sortByDist(neighbors)

	out := make([]float64, 0, 4*e.cfg.NumNeighbor)
	for k := 0; k < e.cfg.NumNeighbor && k < len(neighbors); k++ {
		j := neighbors[k].idx
		out = append(out,
			e.pos[j].X-e.pos[i].X, e.pos[j].Y-e.pos[i].Y,
			e.vel[j].X-e.vel[i].X, e.vel[j].Y-e.vel[i].Y,
		)
	}
	for len(out) < 4*e.cfg.NumNeighbor {
		out = append(out, 0.0)
	}
	return out
}

// sortByDist sorts neighbors ascending by squared distance via plain
// insertion sort; n_hn is small (single digits) so this never matters for
// throughput and keeps the dependency surface to the standard library.
func sortByDist(neighbors []neighborCandidate) {
	for i := 1; i < len(neighbors); i++ {
		for j := i; j > 0 && neighbors[j].distSq < neighbors[j-1].distSq; j-- {
			neighbors[j], neighbors[j-1] = neighbors[j-1], neighbors[j]
		}
	}
}

// targetCellSlot returns the relative vector to one uniformly-random shape
// cell.
func (e *Env) targetCellSlot(i int) []float64 {
	cells := e.mask.Cells()
	cell := cells[e.rng.Intn(len(cells))]
	return []float64{cell.X - e.pos[i].X, cell.Y - e.pos[i].Y}
}

// nearbyCellSlots returns 2*NumCells floats: relative vectors to
// min(NumCells, |shape cells|) uniformly-random shape cells without
// replacement, zero-padded.
func (e *Env) nearbyCellSlots(i int) []float64 {
	cells := e.mask.Cells()
	k := e.cfg.NumCells
	if k > len(cells) {
		k = len(cells)
	}

	perm := e.rng.Perm(len(cells))[:k]
	out := make([]float64, 0, 2*e.cfg.NumCells)
	for _, idx := range perm {
		cell := cells[idx]
		out = append(out, cell.X-e.pos[i].X, cell.Y-e.pos[i].Y)
	}
	for len(out) < 2*e.cfg.NumCells {
		out = append(out, 0.0)
	}
	return out
}

// CollisionPair is an unordered pair of colliding robot indices, i < j.
type CollisionPair struct {
	I, J int
}

// Step advances the physics by one tick given an N x 2 action matrix
// (forces, clipped to [-1,1]), and returns the new observation and the
// list of colliding pairs this step.
func (e *Env) Step(actions [][2]float64) ([][]float64, []CollisionPair) {
	n := e.cfg.NumRobots
	center := float64(e.cfg.GridSize) / 2

	for i := 0; i < n; i++ {
		fax := clampF(actions[i][0], -1, 1)
		fay := clampF(actions[i][1], -1, 1)

		fpx := -kDamp*e.vel[i].X + kCenter*(center-e.pos[i].X)
		fpy := -kDamp*e.vel[i].Y + kCenter*(center-e.pos[i].Y)

		e.vel[i].X = clampF(e.vel[i].X+(fax+fpx)*e.cfg.DT, -3, 3)
		e.vel[i].Y = clampF(e.vel[i].Y+(fay+fpy)*e.cfg.DT, -3, 3)

		e.pos[i].X = clampF(e.pos[i].X+e.vel[i].X*e.cfg.DT, 0, float64(e.cfg.GridSize-1))
		e.pos[i].Y = clampF(e.pos[i].Y+e.vel[i].Y*e.cfg.DT, 0, float64(e.cfg.GridSize-1))
	}

	pairs := e.resolveCollisions()
	return e.Observe(), pairs
}

// resolveCollisions finds every pair closer than the collision threshold
// and pushes them apart by nudging their velocities along the separating
// unit vector.
func (e *Env) resolveCollisions() []CollisionPair {
	n := e.cfg.NumRobots
	threshold := math.Max(1.0, 2*e.cfg.RAvoid*float64(e.cfg.GridSize)/16)

	var pairs []CollisionPair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := e.pos[i].X - e.pos[j].X
			dy := e.pos[i].Y - e.pos[j].Y
			d := math.Sqrt(dx*dx + dy*dy)
			if d < threshold {
				pairs = append(pairs, CollisionPair{I: i, J: j})
				ux := dx / (d + 1e-6)
				uy := dy / (d + 1e-6)
				e.vel[i].X += ux * 0.2
				e.vel[i].Y += uy * 0.2
				e.vel[j].X -= ux * 0.2
				e.vel[j].Y -= uy * 0.2
			}
		}
	}
	return pairs
}

// RobotStateDict is the per-robot record consumed by the prior DSL
// compiler (spec.md section 4.2/4.8): a concrete struct rather than a dynamic
// map, per the "dynamic state dict" design note in spec.md section 9.
type RobotStateDict struct {
	Position     metrics.Position
	Velocity     metrics.Position
	TargetCenter metrics.Position
	Neighbors    []NeighborState
	NearbyCells  []CellState
}

// NeighborState is one nearby robot's position/velocity, relative to the
// owning robot's frame.
type NeighborState struct {
	Position metrics.Position
	Velocity metrics.Position
}

// CellState is one candidate shape cell along with whether a robot already
// occupies it (within a small radius), used by explore_empty_cells.
type CellState struct {
	Position metrics.Position
	Occupied bool
}

// StateDicts returns, for every robot, a RobotStateDict: used only when a
// prior policy function is installed.
func (e *Env) StateDicts() []RobotStateDict {
	n := e.cfg.NumRobots
	centroid := e.mask.Centroid()
	maxDistSq := math.Pow(e.cfg.RSense*float64(e.cfg.GridSize)/8, 2)

	cells := e.mask.Cells()
	occupiedThreshold := math.Max(1.0, e.cfg.RAvoid*float64(e.cfg.GridSize)/4)

	out := make([]RobotStateDict, n)
	for i := 0; i < n; i++ {
		sd := RobotStateDict{
			Position:     e.pos[i],
			Velocity:     e.vel[i],
			TargetCenter: metrics.Position{X: centroid.X, Y: centroid.Y},
		}

		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dx := e.pos[j].X - e.pos[i].X
			dy := e.pos[j].Y - e.pos[i].Y
			if dx*dx+dy*dy <= maxDistSq {
				sd.Neighbors = append(sd.Neighbors, NeighborState{
					Position: metrics.Position{X: dx, Y: dy},
					Velocity: metrics.Position{X: e.vel[j].X - e.vel[i].X, Y: e.vel[j].Y - e.vel[i].Y},
				})
			}
		}

		k := e.cfg.NumCells
		if k > len(cells) {
			k = len(cells)
		}
		perm := e.rng.Perm(len(cells))[:k]
		for _, idx := range perm {
			cell := cells[idx]
			occ := nearestDistance(cell.X, cell.Y, e.pos) < occupiedThreshold
			sd.NearbyCells = append(sd.NearbyCells, CellState{
				Position: metrics.Position{X: cell.X - e.pos[i].X, Y: cell.Y - e.pos[i].Y},
				Occupied: occ,
			})
		}

		out[i] = sd
	}
	return out
}

func nearestDistance(cx, cy float64, positions []metrics.Position) float64 {
	best := math.Inf(1)
	for _, p := range positions {
		dx, dy := cx-p.X, cy-p.Y
		d := math.Sqrt(dx*dx + dy*dy)
		if d < best {
			best = d
		}
	}
	return best
}
