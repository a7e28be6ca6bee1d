package gridstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/slicing"
	"github.com/snowflk/gridstore/storage"
)

// VSubset is a lazy descriptor of a slice over a virtual array. Its
// operations scatter and gather across the affected tiles on a bounded pool
// of workers; tile writes are at-least-once, so a failed update may leave
// some tiles committed.
type VSubset struct {
	varray   *VArray
	sel      *slicing.Selection
	indexers []slicing.Indexer
	tiles    []slicing.TilePlan
}

// Shape returns the subset shape with collapsed dimensions dropped.
func (s *VSubset) Shape() []int { return s.sel.Shape() }

// Bounds returns the canonical per-dimension half-open ranges.
func (s *VSubset) Bounds() []slicing.Bound {
	return append([]slicing.Bound(nil), s.sel.Bounds...)
}

// Describe lists, per dimension, the domain values the subset selects.
func (s *VSubset) Describe() []slicing.DimDescription { return s.sel.Describe() }

// String renders the canonical slice string.
func (s *VSubset) String() string { return slicing.Format(s.indexers) }

// Tiles returns the planned tile work items in dimension-major order.
func (s *VSubset) Tiles() []slicing.TilePlan {
	return append([]slicing.TilePlan(nil), s.tiles...)
}

// runTasks executes per-tile work with bounded concurrency. The first error
// wins; remaining tasks are skipped at their next checkpoint.
func (c *Client) runTasks(tasks []func() error) error {
	if c.cfg.Executor != nil {
		return runOnExecutor(c.cfg.Executor, tasks)
	}
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(c.cfg.Workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return task()
		})
	}
	return g.Wait()
}

func runOnExecutor(exec Executor, tasks []func() error) error {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		cancelled bool
	)
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		exec.Submit(func() {
			defer wg.Done()
			mu.Lock()
			skip := cancelled
			mu.Unlock()
			if skip {
				return
			}
			if err := task(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancelled = true
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return firstErr
}

func (s *VSubset) planOffsets(plan slicing.TilePlan) (size, innerLo, outerLo []int) {
	size = make([]int, len(plan.Inner))
	innerLo = make([]int, len(plan.Inner))
	outerLo = make([]int, len(plan.Outer))
	for i := range plan.Inner {
		size[i] = plan.Inner[i].Len()
		innerLo[i] = plan.Inner[i].Lo
		outerLo[i] = plan.Outer[i].Lo
	}
	return size, innerLo, outerLo
}

func (s *VSubset) openTile(tileID string) (storage.Dataset, error) {
	v := s.varray
	return v.col.client.adapter.Open(v.col.dataPath(tileID), storage.DatasetSchema{
		DType: v.col.Schema().DType,
		Shape: v.ArraysShape(),
		Fill:  v.col.Schema().FillValue,
	}, v.col.Options())
}

// Read gathers the subset into one dense buffer. Tiles without a body
// contribute fill values; outer placements are disjoint by construction, so
// workers write the aggregate without coordination.
func (s *VSubset) Read() (*numeric.Buffer, error) {
	v := s.varray
	dtype := v.col.Schema().DType
	aggregate := numeric.NewBuffer(dtype, s.sel.FullShape())
	aggregate.Fill(v.col.Schema().FillValue)

	tasks := make([]func() error, 0, len(s.tiles))
	for _, plan := range s.tiles {
		plan := plan
		tasks = append(tasks, func() error {
			tileID := paths.TileID(v.meta.ID, plan.Tile)
			release, err := v.col.client.locks.Reader(v.col.lockBase(tileID))
			if err != nil {
				return err
			}
			defer release()

			ds, err := s.openTile(tileID)
			if err != nil {
				return err
			}
			defer ds.Close()
			if !ds.HasBody() {
				return nil // aggregate is prefilled
			}
			size, _, outerLo := s.planOffsets(plan)
			tileBuf := numeric.NewBuffer(dtype, size)
			if err := ds.Read(plan.Inner, tileBuf); err != nil {
				return err
			}
			if err := numeric.CopyRegion(aggregate, outerLo, tileBuf, zeros(len(size)), size); err != nil {
				return errors.Wrap(errs.ErrIO, err.Error())
			}
			return nil
		})
	}
	if err := v.col.client.runTasks(tasks); err != nil {
		return nil, err
	}
	out, err := aggregate.Reshape(s.Shape())
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	v.col.client.log.WithField("varray", v.meta.ID).
		WithField("bounds", s.String()).Debug("vsubset read")
	return out, nil
}

// Update scatters data across the affected tiles. Every tile lock is taken
// up front in dimension-major order, so two writers with overlapping tile
// sets cannot deadlock; disjoint writers proceed in parallel.
func (s *VSubset) Update(data *numeric.Buffer) error {
	if data == nil {
		return errors.Wrap(errs.ErrValidation, "update data cannot be nil")
	}
	v := s.varray
	full, err := s.conform(data)
	if err != nil {
		return err
	}
	bases := make([]string, len(s.tiles))
	ids := make([]string, len(s.tiles))
	for i, plan := range s.tiles {
		ids[i] = paths.TileID(v.meta.ID, plan.Tile)
		bases[i] = v.col.lockBase(ids[i])
	}
	release, err := v.col.client.locks.WriterMany(bases)
	if err != nil {
		return err
	}
	defer release()

	tasks := make([]func() error, 0, len(s.tiles))
	for i, plan := range s.tiles {
		plan, tileID := plan, ids[i]
		tasks = append(tasks, func() error {
			if err := v.ensureTile(plan.Tile, tileID); err != nil {
				return err
			}
			size, _, outerLo := s.planOffsets(plan)
			piece, err := full.Region(outerLo, size)
			if err != nil {
				return errors.Wrap(errs.ErrIO, err.Error())
			}
			ds, err := s.openTile(tileID)
			if err != nil {
				return err
			}
			defer ds.Close()
			return ds.Write(plan.Inner, piece)
		})
	}
	if err := v.col.client.runTasks(tasks); err != nil {
		return err
	}
	v.col.client.log.WithField("varray", v.meta.ID).
		WithField("bounds", s.String()).Debug("vsubset updated")
	return nil
}

// UpdateSlice is Update for a plain Go slice.
func (s *VSubset) UpdateSlice(data interface{}) error {
	buf, err := numeric.FromSlice(s.Shape(), data)
	if err != nil {
		return errors.Wrap(errs.ErrShapeMismatch, err.Error())
	}
	return s.Update(buf)
}

func (s *VSubset) conform(data *numeric.Buffer) (*numeric.Buffer, error) {
	if !shapeEqual(data.Shape(), s.Shape()) {
		return nil, errors.Wrapf(errs.ErrShapeMismatch,
			"data shape %v does not match subset shape %v", data.Shape(), s.Shape())
	}
	want := s.varray.col.Schema().DType
	if data.Type() != want {
		if !data.Type().ConvertibleTo(want) {
			return nil, errors.Wrapf(errs.ErrDTypeMismatch,
				"cannot convert %s data to %s", data.Type(), want)
		}
		converted, err := data.Convert(want)
		if err != nil {
			return nil, errors.Wrap(errs.ErrDTypeMismatch, err.Error())
		}
		data = converted
	}
	return data.Reshape(s.sel.FullShape())
}

// Clear resets the subset region tile by tile. A tile fully covered by the
// bounds is truncated back to non-existent.
func (s *VSubset) Clear() error {
	v := s.varray
	tileShape := v.ArraysShape()

	bases := make([]string, len(s.tiles))
	ids := make([]string, len(s.tiles))
	for i, plan := range s.tiles {
		ids[i] = paths.TileID(v.meta.ID, plan.Tile)
		bases[i] = v.col.lockBase(ids[i])
	}
	release, err := v.col.client.locks.WriterMany(bases)
	if err != nil {
		return err
	}
	defer release()

	tasks := make([]func() error, 0, len(s.tiles))
	for i, plan := range s.tiles {
		plan, tileID := plan, ids[i]
		tasks = append(tasks, func() error {
			ds, err := s.openTile(tileID)
			if err != nil {
				return err
			}
			defer ds.Close()
			if !ds.HasBody() {
				return nil
			}
			if coversTile(plan.Inner, tileShape) {
				return ds.Truncate()
			}
			size, _, _ := s.planOffsets(plan)
			fill := numeric.NewBuffer(v.col.Schema().DType, size)
			fill.Fill(v.col.Schema().FillValue)
			return ds.Write(plan.Inner, fill)
		})
	}
	if err := v.col.client.runTasks(tasks); err != nil {
		return err
	}
	v.col.client.log.WithField("varray", v.meta.ID).
		WithField("bounds", s.String()).Debug("vsubset cleared")
	return nil
}

func coversTile(inner []slicing.Bound, tileShape []int) bool {
	for i, b := range inner {
		if b.Lo != 0 || b.Hi != tileShape[i] {
			return false
		}
	}
	return true
}

func zeros(n int) []int { return make([]int, n) }
