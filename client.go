// Package gridstore is a storage engine for N-dimensional dense numeric
// arrays. Collections declare typed schemas; arrays and virtual arrays are
// created, located by primary attributes, sliced with fancy indexers, read,
// updated and cleared, safely under concurrent access by threads and
// processes sharing one storage root.
package gridstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/locks"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/internal/sysinfo"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/storage"

	// The local adapters register themselves on import.
	_ "github.com/snowflk/gridstore/storage/boltstore"
	_ "github.com/snowflk/gridstore/storage/chunkfile"
)

// Client is the entry point: it owns the storage root, the adapter selected
// by the URI scheme, and the process-wide lock manager.
type Client struct {
	mu     sync.Mutex
	closed bool

	cfg      Config
	memLimit uint64
	root     string
	adapter  storage.Adapter
	locks    *locks.Manager
	log      *logrus.Entry
}

// Open connects a client to the storage root addressed by uri.
func Open(uri string, cfg Config) (*Client, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	cfg, limit, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	adapter, err := storage.Lookup(parsed.Scheme)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(parsed.Path, paths.CollectionsDir), 0755); err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	logger := logrus.New()
	logger.SetLevel(cfg.logLevel())
	c := &Client{
		cfg:      cfg,
		memLimit: limit,
		root:     parsed.Path,
		adapter:  adapter,
		locks:    locks.NewManager(cfg.WriteLockTimeout, cfg.WriteLockCheckInterval),
		log:      logger.WithField("root", parsed.Path),
	}
	c.log.Debug("client opened")
	return c, nil
}

// Close releases the client. Later calls on the client itself fail;
// collections, arrays and subsets obtained before Close are not checked and
// keep working.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Wrap(errs.ErrValidation, "client is closed")
	}
	return nil
}

// Root returns the storage root path.
func (c *Client) Root() string { return c.root }

// CreateCollection creates an array collection: scaffolding directories plus
// an atomically written manifest. The potential footprint of one array is
// checked against the memory limit unless the skip flag is configured.
func (c *Client) CreateCollection(name string, s *schema.ArraySchema, opts schema.StorageOptions) (*Collection, error) {
	m := &schema.Manifest{Name: name, Array: s, Options: opts, Version: schema.ManifestVersion}
	return c.createCollection(m)
}

// CreateVArrayCollection creates a virtual-array collection.
func (c *Client) CreateVArrayCollection(name string, s *schema.VArraySchema, opts schema.StorageOptions) (*Collection, error) {
	m := &schema.Manifest{Name: name, VArray: s, Options: opts, Version: schema.ManifestVersion}
	return c.createCollection(m)
}

func (c *Client) createCollection(m *schema.Manifest) (*Collection, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if m.Name == "" {
		return nil, errors.Wrap(errs.ErrValidation, "collection name cannot be empty")
	}
	sch := m.Schema()
	if err := m.Options.Validate(sch.Shape()); err != nil {
		return nil, err
	}
	if !c.cfg.SkipCollectionCreateMemoryCheck {
		if err := sysinfo.CheckMemory(uint64(sch.Bytes()), c.memLimit); err != nil {
			return nil, errors.Wrapf(err, "collection %q would allow arrays of %s",
				m.Name, sysinfo.HumanBytes(uint64(sch.Bytes())))
		}
	}

	release, err := c.locks.Writer(paths.CollectionLockPath(c.root, m.Name))
	if err != nil {
		return nil, err
	}
	defer release()

	manifestPath := paths.ManifestPath(c.root, m.Name)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil, errors.Wrapf(errs.ErrConflict, "collection %q", m.Name)
	}

	colRoot := paths.CollectionRoot(c.root, m.Name)
	dirs := []string{
		filepath.Join(colRoot, paths.ArrayDataDir),
		filepath.Join(colRoot, paths.ArraySymlinkDir),
	}
	if m.IsVArray() {
		dirs = append(dirs,
			filepath.Join(colRoot, paths.VArrayDataDir),
			filepath.Join(colRoot, paths.VArraySymlinkDir),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errs.ErrIO, err.Error())
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	tmp := manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := os.Rename(tmp, manifestPath); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	c.log.WithField("collection", m.Name).Info("collection created")
	return &Collection{client: c, manifest: m, path: colRoot}, nil
}

// GetCollection loads a collection manifest.
func (c *Client) GetCollection(name string) (*Collection, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(paths.ManifestPath(c.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errs.ErrNotFound, "collection %q", name)
		}
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	var m schema.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(errs.ErrIntegrity, "collection %q: %v", name, err)
	}
	if m.Version > schema.ManifestVersion {
		return nil, errors.Wrapf(errs.ErrValidation,
			"collection %q has manifest version %d, this engine reads up to %d",
			name, m.Version, schema.ManifestVersion)
	}
	return &Collection{client: c, manifest: &m, path: paths.CollectionRoot(c.root, name)}, nil
}

// DeleteCollection tears a collection down recursively after draining its
// lock.
func (c *Client) DeleteCollection(name string) error {
	if err := c.check(); err != nil {
		return err
	}
	release, err := c.locks.Writer(paths.CollectionLockPath(c.root, name))
	if err != nil {
		return err
	}
	defer release()
	root := paths.CollectionRoot(c.root, name)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return errors.Wrapf(errs.ErrNotFound, "collection %q", name)
	}
	if err := os.RemoveAll(root); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	c.log.WithField("collection", name).Info("collection deleted")
	return nil
}

// Collections lists the collection names under the root.
func (c *Client) Collections() ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(c.root, paths.CollectionsDir))
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ClearLocks removes stale lock artifacts left by dead processes, for the
// named collection or, with an empty name, the whole root.
func (c *Client) ClearLocks(collection string) (removed int, err error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	roots := []string{filepath.Join(c.root, paths.CollectionsDir)}
	if collection != "" {
		roots = []string{paths.CollectionRoot(c.root, collection)}
	}
	for len(roots) > 0 {
		dir := roots[0]
		roots = roots[1:]
		stale, err := locks.StaleArtifacts(dir)
		if err != nil {
			continue
		}
		for _, path := range stale {
			if os.Remove(path) == nil {
				removed++
			}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				roots = append(roots, filepath.Join(dir, e.Name()))
			}
		}
	}
	return removed, nil
}

// StorageSize sums dataset bytes and counts arrays for one collection, or
// for every collection with an empty name.
func (c *Client) StorageSize(collection string) (bytes int64, arrays int, err error) {
	if err := c.check(); err != nil {
		return 0, 0, err
	}
	names := []string{collection}
	if collection == "" {
		names, err = c.Collections()
		if err != nil {
			return 0, 0, err
		}
	}
	ext := c.adapter.Ext()
	for _, name := range names {
		root := paths.CollectionRoot(c.root, name)
		walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				return nil
			}
			switch filepath.Ext(path) {
			case ext:
				bytes += info.Size()
			case paths.MetaExt:
				if filepath.Base(path) != name+paths.MetaExt {
					arrays++
				}
			}
			return nil
		})
		if walkErr != nil {
			return 0, 0, errors.Wrap(errs.ErrIO, walkErr.Error())
		}
	}
	return bytes, arrays, nil
}
