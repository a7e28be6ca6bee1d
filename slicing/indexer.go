package slicing

import (
	"time"
)

// Indexer selects cells along one dimension. Build indexers with the
// constructors below; the zero Indexer is invalid.
type Indexer interface {
	isIndexer()
}

type atIndex struct{ i int }

type span struct {
	lo, hi     int
	hasLo, hasHi bool
	step       int // 0 means unset; anything but 1 is rejected
}

type all struct{}

type ellipsis struct{}

// domainPoint selects a single cell by a domain value: a float on a scale,
// a label, or an instant on a time dimension.
type domainPoint struct{ v interface{} }

// domainSpan selects a half-open range of domain values.
type domainSpan struct{ lo, hi interface{} }

func (atIndex) isIndexer()     {}
func (span) isIndexer()        {}
func (all) isIndexer()         {}
func (ellipsis) isIndexer()    {}
func (domainPoint) isIndexer() {}
func (domainSpan) isIndexer()  {}

// At selects a single cell by integer index. Negative indices count from the
// end of the dimension.
func At(i int) Indexer { return atIndex{i: i} }

// Range selects the half-open integer range [lo, hi).
func Range(lo, hi int) Indexer {
	return span{lo: lo, hi: hi, hasLo: true, hasHi: true}
}

// From selects [lo, size).
func From(lo int) Indexer { return span{lo: lo, hasLo: true} }

// To selects [0, hi).
func To(hi int) Indexer { return span{hi: hi, hasHi: true} }

// StepRange is Range with an explicit step. Only step 1 is accepted; any
// other value fails normalization.
func StepRange(lo, hi, step int) Indexer {
	return span{lo: lo, hi: hi, hasLo: true, hasHi: true, step: step}
}

// All selects the full dimension.
func All() Indexer { return all{} }

// Ellipsis expands to full ranges for every dimension not covered by the
// other indexers. At most one ellipsis is allowed per expression.
func Ellipsis() Indexer { return ellipsis{} }

// Value selects a single cell of a scaled dimension by its scale value.
func Value(v float64) Indexer { return domainPoint{v: v} }

// ValueRange selects the half-open scale value range [lo, hi).
func ValueRange(lo, hi float64) Indexer { return domainSpan{lo: lo, hi: hi} }

// Label selects a single cell of a labeled dimension. Labels are strings or
// floats.
func Label(label interface{}) Indexer { return domainPoint{v: label} }

// LabelRange selects the half-open label range [lo, hi) in label order.
func LabelRange(lo, hi interface{}) Indexer { return domainSpan{lo: lo, hi: hi} }

// Moment selects a single cell of a time dimension. Accepts time.Time, an
// ISO-8601 string, or float seconds since epoch. Non-UTC inputs are
// normalized to UTC.
func Moment(v interface{}) Indexer { return domainPoint{v: v} }

// MomentRange selects the half-open time range [lo, hi).
func MomentRange(lo, hi interface{}) Indexer { return domainSpan{lo: lo, hi: hi} }

// TimeAt is shorthand for Moment with a concrete instant.
func TimeAt(t time.Time) Indexer { return domainPoint{v: t} }

// TimeRange is shorthand for MomentRange with concrete instants.
func TimeRange(lo, hi time.Time) Indexer { return domainSpan{lo: lo, hi: hi} }
