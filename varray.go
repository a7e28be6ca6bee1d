package gridstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/internal/sysinfo"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
	"github.com/snowflk/gridstore/storage"
)

// VArray is a handle on a virtual array: a logical N-dimensional buffer
// physically split into a regular grid of per-tile dataset files.
type VArray struct {
	col  *Collection
	meta *storage.Meta
}

func (v *VArray) ID() string { return v.meta.ID }

func (v *VArray) Collection() *Collection { return v.col }

func (v *VArray) PrimaryAttributes() []storage.Attr {
	return append([]storage.Attr(nil), v.meta.Primary...)
}

func (v *VArray) CustomAttributes() []storage.Attr {
	return append([]storage.Attr(nil), v.meta.Custom...)
}

func (v *VArray) Schema() *schema.VArraySchema { return v.col.manifest.VArray }

func (v *VArray) Shape() []int { return v.col.Schema().Shape() }

// VGrid returns the tile grid divisors.
func (v *VArray) VGrid() []int {
	return append([]int(nil), v.Schema().VGrid...)
}

// ArraysShape returns the tile shape, shape/vgrid elementwise.
func (v *VArray) ArraysShape() []int { return v.Schema().ArraysShape() }

// Dims resolves the runtime dimensions of the full logical array.
func (v *VArray) Dims() ([]slicing.Dim, error) {
	return v.col.Schema().ResolveDims(v.meta.Attrs())
}

// Subset normalizes the indexers and plans the affected tiles. Like array
// subsets it is lazy: storage is touched only by read, update and clear.
func (v *VArray) Subset(indexers ...slicing.Indexer) (*VSubset, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, err
	}
	sel, err := slicing.Normalize(dims, indexers)
	if err != nil {
		return nil, err
	}
	requested := uint64(sel.Elements()) * uint64(v.col.Schema().DType.Size())
	if err := sysinfo.CheckMemory(requested, v.col.client.memLimit); err != nil {
		return nil, err
	}
	planner, err := slicing.NewPlanner(sel, v.ArraysShape())
	if err != nil {
		return nil, errors.Wrap(errs.ErrIndex, err.Error())
	}
	return &VSubset{
		varray:   v,
		sel:      sel,
		indexers: indexers,
		tiles:    planner.Tiles(),
	}, nil
}

// Delete removes the virtual array: every tile, the metadata and the
// symlink.
func (v *VArray) Delete() error {
	release, err := v.col.client.locks.Writer(v.col.varrayLockBase(v.meta.ID))
	if err != nil {
		return err
	}
	defer release()

	grid := v.Schema().VGrid
	positions := gridPositions(grid)
	bases := make([]string, len(positions))
	for i, pos := range positions {
		bases[i] = v.col.lockBase(paths.TileID(v.meta.ID, pos))
	}
	releaseTiles, err := v.col.client.locks.WriterMany(bases)
	if err != nil {
		return err
	}
	defer releaseTiles()

	for _, pos := range positions {
		tileID := paths.TileID(v.meta.ID, pos)
		if err := v.col.client.adapter.Delete(v.col.dataPath(tileID)); err != nil {
			return err
		}
		os.Remove(v.col.metaPath(tileID))
		os.Remove(v.tileSymlink(pos, tileID))
	}
	symlink, err := paths.SymlinkPath(
		filepath.Join(v.col.path, paths.VArraySymlinkDir),
		v.col.Schema().PrimaryAttributes(), v.meta.Attrs(), v.meta.ID)
	if err == nil {
		os.Remove(symlink)
	}
	if err := os.Remove(v.col.varrayMetaPath(v.meta.ID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	v.col.client.log.WithField("varray", v.meta.ID).Debug("virtual array deleted")
	return nil
}

func (v *VArray) tileSymlink(pos []int, tileID string) string {
	return filepath.Join(v.col.path, paths.ArraySymlinkDir,
		v.meta.ID, paths.PositionString(pos), tileID)
}

// ensureTile creates the metadata and symlink of one tile if missing. Time
// dimensions referencing attributes get the tile's own start instant,
// shifted by its grid position.
func (v *VArray) ensureTile(pos []int, tileID string) error {
	metaPath := v.col.metaPath(tileID)
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	}
	custom, err := v.tileCustomAttrs(pos)
	if err != nil {
		return err
	}
	meta := &storage.Meta{
		ID:         tileID,
		Collection: v.col.Name(),
		Primary: []storage.Attr{
			{Name: schema.ReservedAttrVID, Value: v.meta.ID},
			{Name: schema.ReservedAttrVPosition, Value: append([]int(nil), pos...)},
		},
		Custom:        custom,
		SchemaVersion: schema.ManifestVersion,
	}
	if err := v.col.client.adapter.WriteMeta(metaPath, meta); err != nil {
		return err
	}
	symlink := v.tileSymlink(pos, tileID)
	if err := os.MkdirAll(filepath.Dir(symlink), 0755); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := os.Symlink(metaPath, symlink); err != nil && !os.IsExist(err) {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

func (v *VArray) tileCustomAttrs(pos []int) ([]storage.Attr, error) {
	var out []storage.Attr
	sch := v.col.Schema()
	tileShape := v.ArraysShape()
	attrs := v.meta.Attrs()
	for i, d := range sch.Dimensions {
		if d.Time == nil || d.Time.StartAttr == "" {
			continue
		}
		raw, ok := attrs[d.Time.StartAttr]
		if !ok || raw == nil {
			return nil, errors.Wrapf(errs.ErrValidation,
				"attribute %q referenced by dimension %q has no value", d.Time.StartAttr, d.Name)
		}
		start, ok := raw.(time.Time)
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation,
				"attribute %q referenced by dimension %q is not a datetime", d.Time.StartAttr, d.Name)
		}
		shifted := start.UTC().Add(time.Duration(pos[i]*tileShape[i]) * d.Time.Step)
		out = append(out, storage.Attr{Name: d.Time.StartAttr, Value: shifted})
	}
	return out, nil
}

func gridPositions(grid []int) [][]int {
	total := 1
	for _, g := range grid {
		total *= g
	}
	out := make([][]int, 0, total)
	pos := make([]int, len(grid))
	for {
		out = append(out, append([]int(nil), pos...))
		i := len(grid) - 1
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < grid[i] {
				break
			}
			pos[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
