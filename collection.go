package gridstore

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/schema"
)

// Collection binds a manifest to its directory tree. A collection holds
// either arrays or virtual arrays, never both.
type Collection struct {
	client   *Client
	manifest *schema.Manifest
	path     string
}

func (c *Collection) Name() string { return c.manifest.Name }

// Schema returns the array schema; for virtual-array collections this
// describes the full logical array.
func (c *Collection) Schema() *schema.ArraySchema { return c.manifest.Schema() }

// VArraySchema returns the virtual-array schema, or nil for array
// collections.
func (c *Collection) VArraySchema() *schema.VArraySchema { return c.manifest.VArray }

func (c *Collection) IsVArray() bool { return c.manifest.IsVArray() }

// Options returns the storage options recorded in the manifest.
func (c *Collection) Options() schema.StorageOptions { return c.manifest.Options }

// Path returns the collection directory.
func (c *Collection) Path() string { return c.path }

// Arrays returns the manager of plain arrays. Virtual-array collections
// manage their content through VArrays.
func (c *Collection) Arrays() (*ArrayManager, error) {
	if c.manifest.IsVArray() {
		return nil, errors.Wrapf(errs.ErrValidation,
			"collection %q holds virtual arrays", c.manifest.Name)
	}
	return &ArrayManager{col: c}, nil
}

// VArrays returns the manager of virtual arrays.
func (c *Collection) VArrays() (*VArrayManager, error) {
	if !c.manifest.IsVArray() {
		return nil, errors.Wrapf(errs.ErrValidation,
			"collection %q holds plain arrays", c.manifest.Name)
	}
	return &VArrayManager{col: c}, nil
}

// Delete removes the collection and everything in it.
func (c *Collection) Delete() error {
	return c.client.DeleteCollection(c.manifest.Name)
}

// lockBase returns the lock artifact base path for an array id.
func (c *Collection) lockBase(id string) string {
	return filepath.Join(c.path, paths.ArrayDataDir, id)
}

func (c *Collection) dataPath(id string) string {
	return filepath.Join(c.path, paths.ArrayDataDir, id+c.client.adapter.Ext())
}

func (c *Collection) metaPath(id string) string {
	return filepath.Join(c.path, paths.ArrayDataDir, id+paths.MetaExt)
}

func (c *Collection) varrayMetaPath(id string) string {
	return filepath.Join(c.path, paths.VArrayDataDir, id+paths.MetaExt)
}

func (c *Collection) varrayLockBase(id string) string {
	return filepath.Join(c.path, paths.VArrayDataDir, id)
}
