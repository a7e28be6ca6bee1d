package gridstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/storage"
)

// validateAttributes orders and checks concrete attribute values against the
// schema. Custom datetime attributes must be present and non-nil at
// creation.
func validateAttributes(sch *schema.ArraySchema, primary, custom map[string]interface{}) ([]storage.Attr, []storage.Attr, error) {
	known := make(map[string]struct{}, len(sch.Attributes))
	for _, a := range sch.Attributes {
		known[a.Name] = struct{}{}
	}
	for name := range primary {
		if _, ok := known[name]; !ok {
			return nil, nil, errors.Wrapf(errs.ErrValidation, "unknown primary attribute %q", name)
		}
	}
	for name := range custom {
		if _, ok := known[name]; !ok {
			return nil, nil, errors.Wrapf(errs.ErrValidation, "unknown custom attribute %q", name)
		}
	}
	var primaryOut, customOut []storage.Attr
	for _, as := range sch.Attributes {
		if as.Primary {
			v, ok := primary[as.Name]
			if !ok {
				return nil, nil, errors.Wrapf(errs.ErrValidation,
					"missing primary attribute %q", as.Name)
			}
			v = normalizeAttr(v)
			if err := as.ValidateValue(v); err != nil {
				return nil, nil, err
			}
			primaryOut = append(primaryOut, storage.Attr{Name: as.Name, Value: v})
			continue
		}
		v, ok := custom[as.Name]
		if as.Kind == schema.AttrDatetime && (!ok || v == nil) {
			return nil, nil, errors.Wrapf(errs.ErrValidation,
				"custom datetime attribute %q must be provided", as.Name)
		}
		if ok {
			v = normalizeAttr(v)
		}
		if err := as.ValidateValue(v); err != nil {
			return nil, nil, err
		}
		customOut = append(customOut, storage.Attr{Name: as.Name, Value: v})
	}
	return primaryOut, customOut, nil
}

func normalizeAttr(v interface{}) interface{} {
	if i, ok := v.(int); ok {
		return int64(i)
	}
	return v
}

// ArrayManager creates, locates and iterates the arrays of a collection.
type ArrayManager struct {
	col *Collection
}

// Create writes the metadata and the primary-attribute symlink of a new
// array. No dataset body is created; it materializes on the first non-fill
// write. A duplicate primary tuple fails with a conflict.
func (m *ArrayManager) Create(primary, custom map[string]interface{}) (*Array, error) {
	col := m.col
	sch := col.Schema()
	primaryAttrs, customAttrs, err := validateAttributes(sch, primary, custom)
	if err != nil {
		return nil, err
	}
	meta := &storage.Meta{
		ID:            paths.NewArrayID(),
		Collection:    col.Name(),
		Primary:       primaryAttrs,
		Custom:        customAttrs,
		SchemaVersion: schema.ManifestVersion,
	}
	symlink, err := paths.SymlinkPath(
		filepath.Join(col.path, paths.ArraySymlinkDir),
		sch.PrimaryAttributes(), meta.Attrs(), meta.ID)
	if err != nil {
		return nil, err
	}
	// Without primary attributes every array shares the symlink root and the
	// random id is the whole identity; only keyed arrays can conflict.
	if len(sch.PrimaryAttributes()) > 0 && conflictingID(filepath.Dir(symlink)) != "" {
		return nil, errors.Wrapf(errs.ErrConflict,
			"array with the same primary attributes exists in %q", col.Name())
	}
	if err := col.client.adapter.WriteMeta(col.metaPath(meta.ID), meta); err != nil {
		return nil, err
	}
	if err := createSymlink(col.metaPath(meta.ID), symlink); err != nil {
		os.Remove(col.metaPath(meta.ID))
		return nil, err
	}
	col.client.log.WithField("collection", col.Name()).
		WithField("array", meta.ID).Debug("array created")
	return &Array{col: col, meta: meta}, nil
}

// GetByID loads an array by id.
func (m *ArrayManager) GetByID(id string) (*Array, error) {
	meta, err := m.col.client.adapter.ReadMeta(m.col.metaPath(id), m.col.Schema())
	if err != nil {
		return nil, err
	}
	return &Array{col: m.col, meta: meta}, nil
}

// Filter resolves an array by its full primary attribute tuple through the
// symlink tree.
func (m *ArrayManager) Filter(primary map[string]interface{}) (*Array, error) {
	id, err := resolvePrimary(m.col, paths.ArraySymlinkDir, m.col.Schema(), primary)
	if err != nil {
		return nil, err
	}
	return m.GetByID(id)
}

// ForEach visits every array of the collection.
func (m *ArrayManager) ForEach(fn func(*Array) error) error {
	return forEachMeta(m.col, paths.ArrayDataDir, func(meta *storage.Meta) error {
		return fn(&Array{col: m.col, meta: meta})
	})
}

// VArrayManager creates, locates and iterates virtual arrays.
type VArrayManager struct {
	col *Collection
}

// Create writes the metadata and symlink of a new virtual array. The id
// derives deterministically from the collection name and the primary tuple,
// so recreation after a crash is idempotent and duplicates collide.
func (m *VArrayManager) Create(primary, custom map[string]interface{}) (*VArray, error) {
	col := m.col
	sch := col.Schema()
	primaryAttrs, customAttrs, err := validateAttributes(sch, primary, custom)
	if err != nil {
		return nil, err
	}
	key, err := paths.PrimaryKey(sch.PrimaryAttributes(), attrMap(primaryAttrs))
	if err != nil {
		return nil, err
	}
	meta := &storage.Meta{
		ID:            paths.VArrayID(col.Name(), key),
		Collection:    col.Name(),
		Primary:       primaryAttrs,
		Custom:        customAttrs,
		SchemaVersion: schema.ManifestVersion,
	}
	if _, err := os.Stat(col.varrayMetaPath(meta.ID)); err == nil {
		return nil, errors.Wrapf(errs.ErrConflict,
			"virtual array with the same primary attributes exists in %q", col.Name())
	}
	symlink, err := paths.SymlinkPath(
		filepath.Join(col.path, paths.VArraySymlinkDir),
		sch.PrimaryAttributes(), meta.Attrs(), meta.ID)
	if err != nil {
		return nil, err
	}
	if err := col.client.adapter.WriteMeta(col.varrayMetaPath(meta.ID), meta); err != nil {
		return nil, err
	}
	if err := createSymlink(col.varrayMetaPath(meta.ID), symlink); err != nil {
		os.Remove(col.varrayMetaPath(meta.ID))
		return nil, err
	}
	col.client.log.WithField("collection", col.Name()).
		WithField("varray", meta.ID).Debug("virtual array created")
	return &VArray{col: col, meta: meta}, nil
}

// GetByID loads a virtual array by id.
func (m *VArrayManager) GetByID(id string) (*VArray, error) {
	meta, err := m.col.client.adapter.ReadMeta(m.col.varrayMetaPath(id), m.col.Schema())
	if err != nil {
		return nil, err
	}
	return &VArray{col: m.col, meta: meta}, nil
}

// Filter resolves a virtual array by its full primary attribute tuple.
func (m *VArrayManager) Filter(primary map[string]interface{}) (*VArray, error) {
	id, err := resolvePrimary(m.col, paths.VArraySymlinkDir, m.col.Schema(), primary)
	if err != nil {
		return nil, err
	}
	return m.GetByID(id)
}

// ForEach visits every virtual array of the collection.
func (m *VArrayManager) ForEach(fn func(*VArray) error) error {
	return forEachMeta(m.col, paths.VArrayDataDir, func(meta *storage.Meta) error {
		return fn(&VArray{col: m.col, meta: meta})
	})
}

func attrMap(attrs []storage.Attr) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		out[a.Name] = a.Value
	}
	return out
}

// conflictingID returns the id already occupying a symlink directory, if any.
func conflictingID(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[0].Name()
}

func createSymlink(target, symlink string) error {
	if err := os.MkdirAll(filepath.Dir(symlink), 0755); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := os.Symlink(target, symlink); err != nil {
		if os.IsExist(err) {
			return errors.Wrap(errs.ErrConflict, "array with the same primary attributes exists")
		}
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

func resolvePrimary(col *Collection, symlinkDir string, sch *schema.ArraySchema, primary map[string]interface{}) (string, error) {
	primarySchema := sch.PrimaryAttributes()
	normalized := make(map[string]interface{}, len(primary))
	for name, v := range primary {
		normalized[name] = normalizeAttr(v)
	}
	for _, as := range primarySchema {
		v, ok := normalized[as.Name]
		if !ok {
			return "", errors.Wrapf(errs.ErrValidation,
				"missing primary attribute %q", as.Name)
		}
		if err := as.ValidateValue(v); err != nil {
			return "", err
		}
	}
	dir, err := paths.SymlinkPath(filepath.Join(col.path, symlinkDir), primarySchema, normalized, "")
	if err != nil {
		return "", err
	}
	id := conflictingID(filepath.Clean(dir))
	if id == "" {
		return "", errors.Wrapf(errs.ErrNotFound,
			"no array with the given primary attributes in %q", col.Name())
	}
	return id, nil
}

// forEachMeta walks the data directory and parses every metadata sidecar.
func forEachMeta(col *Collection, dataDir string, fn func(*storage.Meta) error) error {
	dir := filepath.Join(col.path, dataDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, paths.MetaExt) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		meta, err := col.client.adapter.ReadMeta(filepath.Join(dir, name), col.Schema())
		if err != nil {
			return err
		}
		if err := fn(meta); err != nil {
			return err
		}
	}
	return nil
}
