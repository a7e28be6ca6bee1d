package gridstore

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/internal/sysinfo"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
	"github.com/snowflk/gridstore/storage"
)

// Array is a handle on one stored N-dimensional buffer backed by a single
// dataset file. Handles are cheap descriptors; data moves only through
// subsets.
type Array struct {
	col  *Collection
	meta *storage.Meta
}

func (a *Array) ID() string { return a.meta.ID }

func (a *Array) Collection() *Collection { return a.col }

// PrimaryAttributes returns the immutable key values in declared order.
func (a *Array) PrimaryAttributes() []storage.Attr {
	return append([]storage.Attr(nil), a.meta.Primary...)
}

// CustomAttributes returns the current custom attribute values.
func (a *Array) CustomAttributes() []storage.Attr {
	return append([]storage.Attr(nil), a.meta.Custom...)
}

func (a *Array) Schema() *schema.ArraySchema { return a.col.Schema() }

func (a *Array) Shape() []int { return a.col.Schema().Shape() }

// Dims resolves the runtime dimensions, taking attribute-referenced time
// starts from this array's attributes.
func (a *Array) Dims() ([]slicing.Dim, error) {
	return a.col.Schema().ResolveDims(a.meta.Attrs())
}

// Subset normalizes the indexers into a lazy descriptor. No I/O happens and
// no buffer is allocated until read, update or clear; the memory admission
// gate runs here, before any allocation can.
func (a *Array) Subset(indexers ...slicing.Indexer) (*Subset, error) {
	dims, err := a.Dims()
	if err != nil {
		return nil, err
	}
	sel, err := slicing.Normalize(dims, indexers)
	if err != nil {
		return nil, err
	}
	requested := uint64(sel.Elements()) * uint64(a.col.Schema().DType.Size())
	if err := sysinfo.CheckMemory(requested, a.col.client.memLimit); err != nil {
		return nil, err
	}
	return &Subset{array: a, sel: sel, indexers: indexers}, nil
}

// UpdateCustomAttributes merges a partial delta into the custom attributes
// and replaces the metadata atomically under the array writer lock. Datetime
// attributes cannot transition to null.
func (a *Array) UpdateCustomAttributes(delta map[string]interface{}) error {
	sch := a.col.Schema()
	for name, v := range delta {
		as, ok := sch.AttributeByName(name)
		if !ok {
			return errors.Wrapf(errs.ErrValidation, "unknown attribute %q", name)
		}
		if as.Primary {
			return errors.Wrapf(errs.ErrValidation,
				"primary attribute %q is immutable", name)
		}
		if err := as.ValidateValue(normalizeAttr(v)); err != nil {
			return err
		}
	}
	release, err := a.col.client.locks.Writer(a.lockBase())
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock so concurrent deltas merge instead of tearing.
	meta, err := a.col.client.adapter.ReadMeta(a.metaPath(), sch)
	if err != nil {
		return err
	}
	for i, attr := range meta.Custom {
		if v, ok := delta[attr.Name]; ok {
			meta.Custom[i].Value = normalizeAttr(v)
		}
	}
	if err := a.col.client.adapter.WriteMeta(a.metaPath(), meta); err != nil {
		return err
	}
	a.meta = meta
	return nil
}

// Delete removes the array: body, metadata and symlink.
func (a *Array) Delete() error {
	release, err := a.col.client.locks.Writer(a.lockBase())
	if err != nil {
		return err
	}
	defer release()
	if err := a.col.client.adapter.Delete(a.dataPath()); err != nil {
		return err
	}
	symlink, err := paths.SymlinkPath(
		filepath.Join(a.col.path, paths.ArraySymlinkDir),
		a.col.Schema().PrimaryAttributes(), a.meta.Attrs(), a.meta.ID)
	if err == nil {
		os.Remove(symlink)
	}
	if err := os.Remove(a.metaPath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	a.col.client.log.WithField("array", a.meta.ID).Debug("array deleted")
	return nil
}

func (a *Array) lockBase() string { return a.col.lockBase(a.meta.ID) }
func (a *Array) dataPath() string { return a.col.dataPath(a.meta.ID) }
func (a *Array) metaPath() string { return a.col.metaPath(a.meta.ID) }

func (a *Array) datasetSchema() storage.DatasetSchema {
	sch := a.col.Schema()
	return storage.DatasetSchema{
		DType: sch.DType,
		Shape: sch.Shape(),
		Fill:  sch.FillValue,
	}
}
