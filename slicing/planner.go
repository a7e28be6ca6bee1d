package slicing

import (
	"github.com/pkg/errors"
)

// TilePlan is one unit of scatter/gather work: the grid position of a tile,
// the bounds to apply inside that tile, and the placement of the piece inside
// the aggregated subset buffer. Inner bounds keep the collapsed markers of
// the originating selection; outer bounds are expressed in the full-rank
// subset space.
type TilePlan struct {
	Tile  []int
	Inner []Bound
	Outer []Bound
}

// Planner emits tile plans lazily, in dimension-major order: the first
// dimension varies slowest. The order is stable, so aggregation and lock
// acquisition are deterministic.
type Planner struct {
	sel       *Selection
	tileShape []int
	tileLo    []int
	tileHi    []int
	cursor    []int
	done      bool
}

// NewPlanner builds a planner for the selection over a grid of tiles of the
// given shape. The tile shape must divide the dimension sizes exactly.
func NewPlanner(sel *Selection, tileShape []int) (*Planner, error) {
	if len(tileShape) != len(sel.Bounds) {
		return nil, errors.Errorf("tile shape rank %d does not match selection rank %d",
			len(tileShape), len(sel.Bounds))
	}
	p := &Planner{
		sel:       sel,
		tileShape: tileShape,
		tileLo:    make([]int, len(tileShape)),
		tileHi:    make([]int, len(tileShape)),
	}
	for i, b := range sel.Bounds {
		a := tileShape[i]
		if a <= 0 || sel.Dims[i].Size%a != 0 {
			return nil, errors.Errorf("tile shape %v does not divide dimension sizes", tileShape)
		}
		if b.Len() == 0 {
			p.done = true
		}
		p.tileLo[i] = b.Lo / a
		p.tileHi[i] = (b.Hi + a - 1) / a
	}
	p.cursor = append([]int(nil), p.tileLo...)
	return p, nil
}

// Next returns the next tile plan. The second return is false once the
// sequence is exhausted.
func (p *Planner) Next() (TilePlan, bool) {
	if p.done {
		return TilePlan{}, false
	}
	plan := p.planAt(p.cursor)

	// Advance dimension-major: last dimension fastest.
	i := len(p.cursor) - 1
	for ; i >= 0; i-- {
		p.cursor[i]++
		if p.cursor[i] < p.tileHi[i] {
			break
		}
		p.cursor[i] = p.tileLo[i]
	}
	if i < 0 {
		p.done = true
	}
	return plan, true
}

// Tiles drains the planner into a slice.
func (p *Planner) Tiles() []TilePlan {
	var out []TilePlan
	for {
		plan, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, plan)
	}
}

func (p *Planner) planAt(tile []int) TilePlan {
	rank := len(tile)
	plan := TilePlan{
		Tile:  append([]int(nil), tile...),
		Inner: make([]Bound, rank),
		Outer: make([]Bound, rank),
	}
	for i := 0; i < rank; i++ {
		a := p.tileShape[i]
		b := p.sel.Bounds[i]
		t := tile[i]

		innerLo := maxInt(0, b.Lo-t*a)
		innerHi := minInt(a, b.Hi-t*a)
		outerLo := maxInt(0, t*a-b.Lo)

		plan.Inner[i] = Bound{Lo: innerLo, Hi: innerHi, Collapsed: b.Collapsed}
		plan.Outer[i] = Bound{Lo: outerLo, Hi: outerLo + (innerHi - innerLo), Collapsed: b.Collapsed}
	}
	return plan
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
