// Package storage defines the contract between the engine core and the
// pluggable dataset adapters, plus the per-array metadata record.
package storage

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
)

// DatasetSchema is the static description an adapter needs to lay a dataset
// out: element type, full shape and the fill value synthesized for absent
// bodies.
type DatasetSchema struct {
	DType numeric.ElementType
	Shape []int
	Fill  numeric.Value
}

// Dataset is one openable chunked array body. The body file materializes on
// the first write; reads before that synthesize the fill value.
type Dataset interface {
	// Read fills dst, whose shape must equal the per-dimension bound
	// lengths, with the selected region.
	Read(bounds []slicing.Bound, dst *numeric.Buffer) error
	// Write stores src, shaped like the bound lengths, into the region.
	Write(bounds []slicing.Bound, src *numeric.Buffer) error
	// Truncate removes the body, keeping the dataset logically all-fill.
	Truncate() error
	// HasBody reports whether a body exists on disk.
	HasBody() bool
	Close() error
}

// Adapter opens, deletes and describes datasets for one URI scheme.
type Adapter interface {
	// Scheme is the URI scheme this adapter serves, e.g. "file".
	Scheme() string
	// Ext is the body file extension including the dot.
	Ext() string
	Open(path string, ds DatasetSchema, opts schema.StorageOptions) (Dataset, error)
	// Delete removes the dataset body entirely. Missing bodies are fine.
	Delete(path string) error
	ReadMeta(path string, sch *schema.ArraySchema) (*Meta, error)
	WriteMeta(path string, m *Meta) error
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Adapter)
)

// Register makes an adapter discoverable by scheme. Adapters register
// themselves from their package init or from client startup.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[a.Scheme()] = a
}

// Lookup selects the adapter for a URI scheme.
func Lookup(scheme string) (Adapter, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	a, ok := registry[scheme]
	if !ok {
		return nil, errors.Wrapf(errs.ErrAdapterNotFound, "scheme %q", scheme)
	}
	return a, nil
}

// Schemes lists the registered adapter schemes.
func Schemes() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	return out
}
