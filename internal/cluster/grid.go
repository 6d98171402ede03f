package cluster

import (
	"math"

	"github.com/couchcryptid/wildfire-fusion/internal/domain"
)

// grid buckets arena indices into cells whose latitude edge equals the link
// radius, so any pair within the radius sits in adjacent rows. Longitude
// spans widen with 1/cos(lat) and wrap at the antimeridian.
type grid struct {
	cellDeg float64
	cols    int
	rows    map[int]map[int][]int // row -> col -> arena indices
}

func newGrid(radiusMeters float64) *grid {
	cellDeg := radiusMeters / domain.MetersPerDegree
	cols := int(math.Ceil(360 / cellDeg))
	return &grid{cellDeg: cellDeg, cols: cols, rows: make(map[int]map[int][]int)}
}

func (g *grid) cell(lat, lon float64) (int, int) {
	row := int(math.Floor((lat + 90) / g.cellDeg))
	col := int(math.Floor((lon + 180) / g.cellDeg))
	return row, g.wrap(col)
}

func (g *grid) wrap(col int) int {
	col %= g.cols
	if col < 0 {
		col += g.cols
	}
	return col
}

func (g *grid) insert(idx int, lat, lon float64) {
	row, col := g.cell(lat, lon)
	cols, ok := g.rows[row]
	if !ok {
		cols = make(map[int][]int)
		g.rows[row] = cols
	}
	cols[col] = append(cols[col], idx)
}

// neighbors calls fn for every arena index in cells that may hold a point
// within radiusMeters of (lat, lon).
func (g *grid) neighbors(lat, lon, radiusMeters float64, fn func(idx int)) {
	row, col := g.cell(lat, lon)

	// Longitude degrees shrink toward the poles; size the column span for the
	// most poleward latitude the neighborhood can reach.
	reach := math.Min(90, math.Abs(lat)+2*g.cellDeg)
	cos := math.Cos(reach * math.Pi / 180)
	span := g.cols
	if cos > 1e-9 {
		span = int(math.Ceil(radiusMeters/(domain.MetersPerDegree*cos)/g.cellDeg)) + 1
	}

	for r := row - 1; r <= row+1; r++ {
		cols, ok := g.rows[r]
		if !ok {
			continue
		}
		if 2*span+1 >= g.cols {
			for _, idxs := range cols {
				for _, idx := range idxs {
					fn(idx)
				}
			}
			continue
		}
		for c := col - span; c <= col+span; c++ {
			for _, idx := range cols[g.wrap(c)] {
				fn(idx)
			}
		}
	}
}
