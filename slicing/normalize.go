package slicing

import (
	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

// Bound is the canonical half-open integer range selected on one dimension.
// Collapsed marks scalar indexers whose dimension is dropped from the subset
// shape.
type Bound struct {
	Lo, Hi    int
	Collapsed bool
}

func (b Bound) Len() int { return b.Hi - b.Lo }

// Selection is the result of normalizing an indexer expression against a
// dimension list.
type Selection struct {
	Dims     []Dim
	Bounds   []Bound
	indexers []Indexer
}

// Normalize maps the indexer expression onto canonical per-dimension bounds.
// A missing trailing dimension is treated as its full range; one ellipsis may
// stand for any number of full ranges.
func Normalize(dims []Dim, indexers []Indexer) (*Selection, error) {
	expanded, err := expandEllipsis(len(dims), indexers)
	if err != nil {
		return nil, err
	}
	sel := &Selection{
		Dims:     dims,
		Bounds:   make([]Bound, len(dims)),
		indexers: indexers,
	}
	for i, dim := range dims {
		bound, err := normalizeDim(dim, expanded[i])
		if err != nil {
			return nil, err
		}
		sel.Bounds[i] = bound
	}
	return sel, nil
}

func expandEllipsis(rank int, indexers []Indexer) ([]Indexer, error) {
	ellipsisAt := -1
	for i, idx := range indexers {
		if _, ok := idx.(ellipsis); ok {
			if ellipsisAt >= 0 {
				return nil, errors.Wrap(errs.ErrIndex, "more than one ellipsis in expression")
			}
			ellipsisAt = i
		}
	}
	given := len(indexers)
	if ellipsisAt >= 0 {
		given--
	}
	if given > rank {
		return nil, errors.Wrapf(errs.ErrIndex,
			"expression has %d indexers for %d dimensions", given, rank)
	}
	out := make([]Indexer, 0, rank)
	if ellipsisAt < 0 {
		out = append(out, indexers...)
	} else {
		out = append(out, indexers[:ellipsisAt]...)
		for i := 0; i < rank-given; i++ {
			out = append(out, all{})
		}
		out = append(out, indexers[ellipsisAt+1:]...)
	}
	for len(out) < rank {
		out = append(out, all{})
	}
	return out, nil
}

func normalizeDim(dim Dim, idx Indexer) (Bound, error) {
	switch x := idx.(type) {
	case all:
		return Bound{Lo: 0, Hi: dim.Size}, nil

	case atIndex:
		i, err := resolveInt(dim, x.i)
		if err != nil {
			return Bound{}, err
		}
		return Bound{Lo: i, Hi: i + 1, Collapsed: true}, nil

	case span:
		if x.step != 0 && x.step != 1 {
			return Bound{}, errors.Wrapf(errs.ErrIndex,
				"step %d is not supported, only step 1", x.step)
		}
		lo, hi := 0, dim.Size
		if x.hasLo {
			lo = clampRangeEdge(dim.Size, x.lo)
		}
		if x.hasHi {
			hi = clampRangeEdge(dim.Size, x.hi)
		}
		if hi < lo {
			hi = lo
		}
		return Bound{Lo: lo, Hi: hi}, nil

	case domainPoint:
		i, err := resolveDomain(dim, x.v)
		if err != nil {
			return Bound{}, err
		}
		return Bound{Lo: i, Hi: i + 1, Collapsed: true}, nil

	case domainSpan:
		lo, err := resolveDomain(dim, x.lo)
		if err != nil {
			return Bound{}, err
		}
		hi, err := resolveDomainEdge(dim, x.hi)
		if err != nil {
			return Bound{}, err
		}
		if hi < lo {
			return Bound{}, errors.Wrapf(errs.ErrIndex,
				"range over dimension %q is reversed", dim.Name)
		}
		return Bound{Lo: lo, Hi: hi}, nil
	}
	return Bound{}, errors.Wrapf(errs.ErrIndex, "invalid indexer %T", idx)
}

// resolveInt applies the negative-modulo rule for scalar integer indexers.
// -size selects element 0; anything beyond fails.
func resolveInt(dim Dim, i int) (int, error) {
	orig := i
	if i < 0 {
		i += dim.Size
	}
	if i < 0 || i >= dim.Size {
		return 0, errors.Wrapf(errs.ErrIndex,
			"index %d out of range of dimension %q of size %d", orig, dim.Name, dim.Size)
	}
	return i, nil
}

// clampRangeEdge applies slice semantics to a range edge: negative counts
// from the end, overflow clamps to the dimension.
func clampRangeEdge(size, i int) int {
	if i < 0 {
		i += size
	}
	if i < 0 {
		return 0
	}
	if i > size {
		return size
	}
	return i
}

func resolveDomain(dim Dim, v interface{}) (int, error) {
	switch dim.Kind {
	case Scaled:
		f, ok := v.(float64)
		if !ok {
			return 0, errors.Wrapf(errs.ErrIndex,
				"dimension %q takes scale values, got %v", dim.Name, v)
		}
		return dim.indexOfValue(f)
	case Labeled:
		return dim.indexOfLabel(v)
	case Time:
		t, err := resolveTime(v)
		if err != nil {
			return 0, err
		}
		return dim.indexOfTime(t)
	}
	return 0, errors.Wrapf(errs.ErrIndex,
		"dimension %q takes integer indexes only", dim.Name)
}

// resolveDomainEdge resolves the exclusive upper edge of a domain range. For
// scaled and time dimensions the edge one past the last cell is a valid
// boundary; a labeled edge must name an existing label.
func resolveDomainEdge(dim Dim, v interface{}) (int, error) {
	switch dim.Kind {
	case Scaled:
		f, ok := v.(float64)
		if !ok {
			return 0, errors.Wrapf(errs.ErrIndex,
				"dimension %q takes scale values, got %v", dim.Name, v)
		}
		edge := dim
		edge.Size++ // allow the one-past-the-end boundary
		return edge.indexOfValue(f)
	case Labeled:
		return dim.indexOfLabel(v)
	case Time:
		t, err := resolveTime(v)
		if err != nil {
			return 0, err
		}
		edge := dim
		edge.Size++
		return edge.indexOfTime(t)
	}
	return 0, errors.Wrapf(errs.ErrIndex,
		"dimension %q takes integer indexes only", dim.Name)
}

// Shape returns the subset shape: sizes of the non-collapsed dimensions in
// order.
func (s *Selection) Shape() []int {
	out := make([]int, 0, len(s.Bounds))
	for _, b := range s.Bounds {
		if !b.Collapsed {
			out = append(out, b.Len())
		}
	}
	return out
}

// FullShape returns the per-dimension extents including collapsed dimensions.
func (s *Selection) FullShape() []int {
	out := make([]int, len(s.Bounds))
	for i, b := range s.Bounds {
		out[i] = b.Len()
	}
	return out
}

// Elements returns the total selected cell count.
func (s *Selection) Elements() int {
	n := 1
	for _, b := range s.Bounds {
		n *= b.Len()
	}
	return n
}

// DimDescription enumerates the domain values a bound selects on one
// dimension.
type DimDescription struct {
	Name      string
	Kind      Kind
	Collapsed bool
	// Indices are the selected integer positions. Values carries the domain
	// representation: ints for plain, floats for scaled, labels for labeled,
	// time.Time for time dimensions.
	Indices []int
	Values  []interface{}
}

// Describe is a pure function of the dimension list and bounds: it lists, per
// dimension, the domain values actually selected.
func (s *Selection) Describe() []DimDescription {
	out := make([]DimDescription, len(s.Bounds))
	for i, b := range s.Bounds {
		dim := s.Dims[i]
		desc := DimDescription{
			Name:      dim.Name,
			Kind:      dim.Kind,
			Collapsed: b.Collapsed,
			Indices:   make([]int, 0, b.Len()),
			Values:    make([]interface{}, 0, b.Len()),
		}
		for idx := b.Lo; idx < b.Hi; idx++ {
			desc.Indices = append(desc.Indices, idx)
			switch dim.Kind {
			case Scaled:
				desc.Values = append(desc.Values, dim.valueAt(idx))
			case Labeled:
				desc.Values = append(desc.Values, dim.Labels[idx])
			case Time:
				desc.Values = append(desc.Values, dim.timeAt(idx))
			default:
				desc.Values = append(desc.Values, idx)
			}
		}
		out[i] = desc
	}
	return out
}
