// Package shapemask rasterizes a named target shape into a binary grid.
//
// The triangle and letter rasterizers are grounded on the cross-product
// half-plane test and stroke-drawing approach of the Python original
// (backend/app/shapes.py); the package is otherwise a straightforward port
// to Go's own nested-index scalar-loop idiom for grid construction.
package shapemask

import (
	"fmt"

	"github.com/miry41/lamarl-playground/internal/lamarlerr"
)

// Mask is a size-by-size binary grid. Mask[y][x] == true marks a cell
// belonging to the target shape.
type Mask struct {
	Size int
	Grid [][]bool
}

// ErrBadShape is returned by New for unrecognized shape names.
type ErrBadShape struct {
	Shape string
}

func (e *ErrBadShape) Error() string {
	return fmt.Sprintf("shapemask: unknown shape %q", e.Shape)
}

// Unwrap lets errors.Is match an ErrBadShape against lamarlerr.ErrBadShape.
func (e *ErrBadShape) Unwrap() error { return lamarlerr.ErrBadShape }

// New rasterizes shape into a size-by-size binary mask. Recognized shapes
// are circle, triangle, square, and the block letters L, A, M, R.
func New(shape string, size int) (*Mask, error) {
	m := &Mask{Size: size, Grid: newGrid(size)}

	switch shape {
	case "circle":
		m.paintCircle()
	case "triangle":
		m.paintTriangle()
	case "square":
		m.paintSquare()
	case "L", "A", "M", "R":
		m.paintLetter(shape)
	default:
		return nil, &ErrBadShape{Shape: shape}
	}

	return m, nil
}

func newGrid(size int) [][]bool {
	grid := make([][]bool, size)
	for y := range grid {
		grid[y] = make([]bool, size)
	}
	return grid
}

// Set marks (x, y) as belonging to the shape, if in bounds.
func (m *Mask) Set(x, y int) {
	if x < 0 || x >= m.Size || y < 0 || y >= m.Size {
		return
	}
	m.Grid[y][x] = true
}

// SetRange marks the rectangle [y0,y1) x [x0,x1), clamped to the grid.
func (m *Mask) SetRange(y0, y1, x0, x1 int) {
	y0, y1 = clamp(y0, 0, m.Size), clamp(y1, 0, m.Size)
	x0, x1 = clamp(x0, 0, m.Size), clamp(x1, 0, m.Size)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Grid[y][x] = true
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// At reports whether (x, y) belongs to the shape.
func (m *Mask) At(x, y int) bool {
	if x < 0 || x >= m.Size || y < 0 || y >= m.Size {
		return false
	}
	return m.Grid[y][x]
}

// Cells returns the (x, y) coordinates of every shape cell, in row-major
// order. Callers that need a stable iteration order (sampling, coverage)
// rely on this ordering.
func (m *Mask) Cells() []Cell {
	cells := make([]Cell, 0, m.Size)
	for y := 0; y < m.Size; y++ {
		for x := 0; x < m.Size; x++ {
			if m.Grid[y][x] {
				cells = append(cells, Cell{X: float64(x), Y: float64(y)})
			}
		}
	}
	return cells
}

// Cell is a shape-cell coordinate, carried as floats since every consumer
// immediately mixes it with continuous robot positions.
type Cell struct {
	X, Y float64
}

// Centroid returns the mean position of all shape cells. Used as the
// fallback target_center for prior-policy state dicts (section 4.2).
func (m *Mask) Centroid() Cell {
	cells := m.Cells()
	if len(cells) == 0 {
		return Cell{}
	}
	var sx, sy float64
	for _, c := range cells {
		sx += c.X
		sy += c.Y
	}
	n := float64(len(cells))
	return Cell{X: sx / n, Y: sy / n}
}

func (m *Mask) paintCircle() {
	size := m.Size
	cx, cy := float64(size/2), float64(size/2)
	r := float64(size / 4)
	r2 := r * r
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r2 {
				m.Grid[y][x] = true
			}
		}
	}
}

func (m *Mask) paintSquare() {
	size := m.Size
	cx, cy := size/2, size/2
	r := size / 4
	s := int(float64(r) * 1.1)
	m.SetRange(cy-s, cy+s, cx-s, cx+s)
}

// paintTriangle fills an equilateral triangle, inscribed point-up, using a
// cross-product half-plane test per edge. The test is orientation-aware: it
// flips the inequality direction according to the signed area of the
// vertex loop, so the same code paints a correctly-filled triangle
// regardless of whether the vertices are listed clockwise or
// counter-clockwise.
func (m *Mask) paintTriangle() {
	size := m.Size
	cx, cy := size/2, size/2
	r := float64(size / 4)

	p1 := point{float64(cx), float64(cy) - r}
	p2 := point{float64(cx) - 0.866*r, float64(cy) + 0.5*r}
	p3 := point{float64(cx) + 0.866*r, float64(cy) + 0.5*r}

	v12 := point{p2.x - p1.x, p2.y - p1.y}
	v23 := point{p3.x - p2.x, p3.y - p2.y}
	v31 := point{p1.x - p3.x, p1.y - p3.y}

	area2 := v12.x*(p3.y-p1.y) - v12.y*(p3.x-p1.x)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			px, py := float64(x), float64(y)
			c1 := (px-p1.x)*v12.y - (py-p1.y)*v12.x
			c2 := (px-p2.x)*v23.y - (py-p2.y)*v23.x
			c3 := (px-p3.x)*v31.y - (py-p3.y)*v31.x

			var inside bool
			// c1..c3 are the negated edge cross products, so an interior
			// point has the opposite sign of area2.
			if area2 >= 0 {
				inside = c1 <= 0 && c2 <= 0 && c3 <= 0
			} else {
				inside = c1 >= 0 && c2 >= 0 && c3 >= 0
			}
			if inside {
				m.Grid[y][x] = true
			}
		}
	}
}

type point struct{ x, y float64 }

// paintLetter paints L/A/M/R as thick orthogonal strokes. Stroke width is
// size/10, chosen (per the Python original) to stay thick enough that
// rasterization doesn't disconnect the glyph at small grid sizes.
func (m *Mask) paintLetter(letter string) {
	size := m.Size
	t := size / 10

	switch letter {
	case "L":
		m.SetRange(size/4, size*3/4, size/4, size/4+t)
		m.SetRange(size*3/4-t, size*3/4, size/4, size/2)
	case "A":
		m.SetRange(size/4, size*3/4, size/4, size/4+t)
		m.SetRange(size/4, size*3/4, size*3/4-t, size*3/4)
		m.SetRange(size/4, size/4+t, size/4, size*3/4)
		m.SetRange(size/2-t/2, size/2+t/2, size/3, size*2/3)
	case "M":
		m.SetRange(size/4, size*3/4, size/4, size/4+t)
		m.SetRange(size/4, size*3/4, size*3/4-t, size*3/4)
		m.SetRange(size/4, size/3, size/4, size*3/4)
		for i := 0; i < size/6; i++ {
			m.SetRange(size/4+i, size/4+i+t, size/4+i, size/4+i+t)
			m.SetRange(size/4+i, size/4+i+t, size*3/4-i-t, size*3/4-i)
		}
	case "R":
		m.SetRange(size/4, size*3/4, size/4, size/4+t)
		m.SetRange(size/4, size/3, size/4, size*3/4)
		m.SetRange(size/3-t, size/3, size/4, size*3/4)
		m.SetRange(size/3, size/2, size*3/4-t, size*3/4)
		m.SetRange(size/2, size*3/4, size/2, size/2+t)
	}
}
