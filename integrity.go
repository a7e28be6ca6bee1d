package gridstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/storage"
)

// Integrity check levels. Each level includes the ones below it.
const (
	CheckCollections = iota + 1 // manifests readable, scaffolding present
	CheckArrays                 // metadata parses against the schema
	CheckPaths                  // each metadata file has a symlink resolving to it; orphan symlinks are not reported
	CheckData                   // dataset bodies openable
)

// IntegrityReport collects the problems found by CheckIntegrity.
type IntegrityReport struct {
	Errors []error
}

func (r *IntegrityReport) add(err error) { r.Errors = append(r.Errors, err) }

// OK reports a clean check.
func (r *IntegrityReport) OK() bool { return len(r.Errors) == 0 }

// CheckIntegrity verifies the storage at the given level, for one collection
// or, with an empty name, for all of them. With stopOnError the first
// problem is returned immediately; otherwise everything found lands in the
// report.
func (c *Client) CheckIntegrity(collection string, level int, stopOnError bool) (*IntegrityReport, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	report := &IntegrityReport{}
	names := []string{collection}
	if collection == "" {
		var err error
		names, err = c.Collections()
		if err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		if err := c.checkCollection(name, level, stopOnError, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (c *Client) checkCollection(name string, level int, stopOnError bool, report *IntegrityReport) error {
	fail := func(err error) error {
		if stopOnError {
			return err
		}
		report.add(err)
		return nil
	}

	root := paths.CollectionRoot(c.root, name)
	data, err := os.ReadFile(paths.ManifestPath(c.root, name))
	if err != nil {
		return fail(errors.Wrapf(errs.ErrIntegrity, "collection %q: unreadable manifest", name))
	}
	var m schema.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fail(errors.Wrapf(errs.ErrIntegrity, "collection %q: invalid manifest: %v", name, err))
	}
	for _, dir := range []string{paths.ArrayDataDir, paths.ArraySymlinkDir} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			if ferr := fail(errors.Wrapf(errs.ErrIntegrity,
				"collection %q: missing directory %s", name, dir)); ferr != nil {
				return ferr
			}
		}
	}
	if level < CheckArrays {
		return nil
	}

	col := &Collection{client: c, manifest: &m, path: root}
	dataDirs := []string{paths.ArrayDataDir}
	if m.IsVArray() {
		dataDirs = append(dataDirs, paths.VArrayDataDir)
	}
	for _, dataDir := range dataDirs {
		dir := filepath.Join(root, dataDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			fname := e.Name()
			if !strings.HasSuffix(fname, paths.MetaExt) || strings.HasSuffix(fname, ".tmp") {
				continue
			}
			metaPath := filepath.Join(dir, fname)
			meta, err := storage.ReadMetaFile(metaPath, m.Schema())
			if err != nil {
				if ferr := fail(errors.Wrapf(errs.ErrIntegrity,
					"collection %q: %s: %v", name, fname, err)); ferr != nil {
					return ferr
				}
				continue
			}
			if level >= CheckPaths {
				if err := c.checkArrayPaths(col, dataDir, meta); err != nil {
					if ferr := fail(err); ferr != nil {
						return ferr
					}
				}
			}
			if level >= CheckData && dataDir == paths.ArrayDataDir {
				id := strings.TrimSuffix(fname, paths.MetaExt)
				bodyPath := col.dataPath(id)
				if _, err := os.Stat(bodyPath); err == nil {
					ds, err := c.adapter.Open(bodyPath, storage.DatasetSchema{
						DType: m.Schema().DType,
						Shape: datasetShape(col, meta),
						Fill:  m.Schema().FillValue,
					}, m.Options)
					if err != nil {
						if ferr := fail(errors.Wrapf(errs.ErrIntegrity,
							"collection %q: dataset %s: %v", name, id, err)); ferr != nil {
							return ferr
						}
						continue
					}
					ds.Close()
				}
			}
		}
	}
	return nil
}

// checkArrayPaths verifies the symlink pointing at a metadata file exists
// and resolves back to it.
func (c *Client) checkArrayPaths(col *Collection, dataDir string, meta *storage.Meta) error {
	symlinkDir := paths.ArraySymlinkDir
	if dataDir == paths.VArrayDataDir {
		symlinkDir = paths.VArraySymlinkDir
	}
	var symlink string
	if vid, ok := meta.Get(schema.ReservedAttrVID); ok {
		pos, _ := meta.Get(schema.ReservedAttrVPosition)
		position, _ := pos.([]int)
		symlink = filepath.Join(col.path, paths.ArraySymlinkDir,
			vid.(string), paths.PositionString(position), meta.ID)
	} else {
		var err error
		symlink, err = paths.SymlinkPath(filepath.Join(col.path, symlinkDir),
			col.Schema().PrimaryAttributes(), meta.Attrs(), meta.ID)
		if err != nil {
			return errors.Wrapf(errs.ErrIntegrity,
				"collection %q: array %s: %v", col.Name(), meta.ID, err)
		}
	}
	target, err := os.Readlink(symlink)
	if err != nil {
		return errors.Wrapf(errs.ErrIntegrity,
			"collection %q: array %s has no symlink at %s", col.Name(), meta.ID, symlink)
	}
	if filepath.Base(target) != meta.ID+paths.MetaExt {
		return errors.Wrapf(errs.ErrIntegrity,
			"collection %q: symlink %s points at %s", col.Name(), symlink, target)
	}
	return nil
}

// datasetShape picks the tile shape for tile metadata, the full shape
// otherwise.
func datasetShape(col *Collection, meta *storage.Meta) []int {
	if _, ok := meta.Get(schema.ReservedAttrVID); ok && col.manifest.IsVArray() {
		return col.manifest.VArray.ArraysShape()
	}
	return col.Schema().Shape()
}
