package storage

import (
	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
)

// autoChunkTarget bounds the byte size a chunk aims for in auto mode.
const autoChunkTarget = 4 << 20

// ResolveChunkShape turns the collection chunk options into a concrete chunk
// shape that divides the dataset shape. Nil options mean a single chunk.
func ResolveChunkShape(shape []int, elemSize int, opts *schema.ChunkSpec) ([]int, error) {
	if opts == nil {
		return append([]int(nil), shape...), nil
	}
	if !opts.Auto {
		if len(opts.Shape) != len(shape) {
			return nil, errors.Errorf("chunk shape %v does not match rank %d", opts.Shape, len(shape))
		}
		for i, c := range opts.Shape {
			if c <= 0 || shape[i]%c != 0 {
				return nil, errors.Errorf("chunk shape %v does not divide %v", opts.Shape, shape)
			}
		}
		return append([]int(nil), opts.Shape...), nil
	}
	// Auto mode: split the outermost dimensions until a chunk fits the
	// target, never breaking divisibility.
	chunk := append([]int(nil), shape...)
	bytes := func() int {
		n := elemSize
		for _, c := range chunk {
			n *= c
		}
		return n
	}
	for dim := 0; dim < len(chunk) && bytes() > autoChunkTarget; dim++ {
		for d := 2; d <= chunk[dim] && bytes() > autoChunkTarget; d++ {
			if chunk[dim]%d == 0 {
				chunk[dim] = chunk[dim] / d
				d = 1 // restart divisor search on the reduced extent
			}
		}
	}
	return chunk, nil
}

// ChunkGrid returns the per-dimension chunk counts.
func ChunkGrid(shape, chunkShape []int) []int {
	out := make([]int, len(shape))
	for i := range shape {
		out[i] = shape[i] / chunkShape[i]
	}
	return out
}

// FlatChunkIndex maps a chunk grid position to its index in row-major order.
func FlatChunkIndex(grid, pos []int) int {
	flat := 0
	for i := range grid {
		flat = flat*grid[i] + pos[i]
	}
	return flat
}

// ChunkPlans maps request bounds onto the chunk grid, yielding one plan per
// touched chunk with the in-chunk bounds and the placement inside the
// request buffer.
func ChunkPlans(shape []int, chunkShape []int, bounds []slicing.Bound) ([]slicing.TilePlan, error) {
	dims := make([]slicing.Dim, len(shape))
	for i, s := range shape {
		dims[i] = slicing.Dim{Name: "", Size: s}
	}
	sel := &slicing.Selection{Dims: dims, Bounds: bounds}
	planner, err := slicing.NewPlanner(sel, chunkShape)
	if err != nil {
		return nil, err
	}
	return planner.Tiles(), nil
}
