// Package routing computes picking walk orders: pairwise walking distances
// over a floor's grid (shortest path around obstacles) and a visiting tour
// over the locations a task touches.
package routing

import (
	"container/heap"
	"math"

	"wavepick/internal/core/id"
	"wavepick/internal/domain/layout"
)

// cellSize is the grid resolution in meters. Floor geometry is entered in
// meters with shelving on whole-meter boundaries, so one-meter cells track
// the real walkable aisles.
const cellSize = 1.0

// grid is the walkable occupancy grid for one floor.
type grid struct {
	width, height int
	blocked       []bool
}

// newGrid rasterizes a floor layout. Obstacles block cells; locations stay
// walkable because pickers stand at the shelf face.
func newGrid(fl layout.FloorLayout) *grid {
	w := int(math.Ceil(fl.Floor.Width / cellSize))
	h := int(math.Ceil(fl.Floor.Height / cellSize))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	g := &grid{width: w, height: h, blocked: make([]bool, w*h)}

	for _, obs := range fl.Obstacles {
		minCX, minCY := g.cellOf(obs.Bounds.MinX, obs.Bounds.MinY)
		maxCX, maxCY := g.cellOf(obs.Bounds.MaxX-1e-9, obs.Bounds.MaxY-1e-9)
		for cy := minCY; cy <= maxCY; cy++ {
			for cx := minCX; cx <= maxCX; cx++ {
				g.blocked[cy*g.width+cx] = true
			}
		}
	}
	return g
}

func (g *grid) cellOf(x, y float64) (int, int) {
	cx := int(x / cellSize)
	cy := int(y / cellSize)
	if cx < 0 {
		cx = 0
	}
	if cx >= g.width {
		cx = g.width - 1
	}
	if cy < 0 {
		cy = 0
	}
	if cy >= g.height {
		cy = g.height - 1
	}
	return cx, cy
}

func (g *grid) isBlocked(cx, cy int) bool {
	return g.blocked[cy*g.width+cx]
}

// point is a walkable coordinate on the floor.
type point struct {
	x, y float64
}

func manhattan(ax, ay, bx, by int) float64 {
	return (math.Abs(float64(ax-bx)) + math.Abs(float64(ay-by))) * cellSize
}

// pqItem is an A* frontier entry.
type pqItem struct {
	cell     int
	priority float64
}

type priorityQueue []pqItem

func (q priorityQueue) Len() int            { return len(q) }
func (q priorityQueue) Less(i, j int) bool  { return q[i].priority < q[j].priority }
func (q priorityQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)         { *q = append(*q, x.(pqItem)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// shortestPath returns the walking distance between two points via A* over
// the grid with a Manhattan heuristic (admissible on a 4-neighbor grid).
// Returns false when no path exists.
func (g *grid) shortestPath(from, to point) (float64, bool) {
	sx, sy := g.cellOf(from.x, from.y)
	tx, ty := g.cellOf(to.x, to.y)
	start := sy*g.width + sx
	target := ty*g.width + tx
	if start == target {
		return 0, true
	}
	// A blocked endpoint snaps to the search from its cell anyway; a shelf
	// face shares the cell of its aisle edge at this resolution.

	gScore := make(map[int]float64, 64)
	gScore[start] = 0
	frontier := &priorityQueue{{cell: start, priority: manhattan(sx, sy, tx, ty)}}
	closed := make(map[int]struct{}, 64)

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(pqItem)
		if current.cell == target {
			return gScore[current.cell], true
		}
		if _, done := closed[current.cell]; done {
			continue
		}
		closed[current.cell] = struct{}{}

		cx, cy := current.cell%g.width, current.cell/g.width
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := cx+d[0], cy+d[1]
			if nx < 0 || nx >= g.width || ny < 0 || ny >= g.height {
				continue
			}
			if g.isBlocked(nx, ny) {
				continue
			}
			neighbor := ny*g.width + nx
			tentative := gScore[current.cell] + cellSize
			if known, seen := gScore[neighbor]; seen && tentative >= known {
				continue
			}
			gScore[neighbor] = tentative
			heap.Push(frontier, pqItem{
				cell:     neighbor,
				priority: tentative + manhattan(nx, ny, tx, ty),
			})
		}
	}
	return 0, false
}

// distanceFunc measures the walk between two locations, memoized per
// optimization call because a task's location pairs repeat across the tour
// search.
type distanceFunc struct {
	grid   *grid
	points map[id.ID]point
	memo   map[[2]id.ID]float64
}

func newDistanceFunc(g *grid, fl layout.FloorLayout) *distanceFunc {
	points := make(map[id.ID]point, len(fl.Locations))
	for _, loc := range fl.Locations {
		points[loc.ID] = point{x: loc.Bounds.CenterX(), y: loc.Bounds.CenterY()}
	}
	return &distanceFunc{
		grid:   g,
		points: points,
		memo:   make(map[[2]id.ID]float64),
	}
}

// between returns the walking distance between two locations. Symmetric, so
// the memo key is ordered. Falls back to the unobstructed Manhattan distance
// when the grid search finds no path.
func (d *distanceFunc) between(a, b id.ID) float64 {
	if a == b {
		return 0
	}
	key := [2]id.ID{a, b}
	if b.String() < a.String() {
		key = [2]id.ID{b, a}
	}
	if dist, ok := d.memo[key]; ok {
		return dist
	}

	pa, pb := d.points[a], d.points[b]
	dist, ok := d.grid.shortestPath(pa, pb)
	if !ok {
		dist = math.Abs(pa.x-pb.x) + math.Abs(pa.y-pb.y)
	}
	d.memo[key] = dist
	return dist
}

// fromEntry measures the walk from the floor entry to a location.
func (d *distanceFunc) fromEntry(entry point, loc id.ID) float64 {
	p := d.points[loc]
	dist, ok := d.grid.shortestPath(entry, p)
	if !ok {
		dist = math.Abs(entry.x-p.x) + math.Abs(entry.y-p.y)
	}
	return dist
}
