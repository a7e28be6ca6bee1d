// Package chunkfile is the default local storage adapter. A dataset body is
// a single file holding a fixed header, a chunk table and compressed chunk
// payloads. Reads go through a shared read-only memory mapping; writes
// append payloads and patch the table in place.
package chunkfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/tysontate/gommap"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/storage"
	"github.com/snowflk/gridstore/slicing"
)

const (
	magicDataset uint32 = 0x47534401
	formatVersion uint32 = 1

	// Ext is the body file extension.
	Ext = ".gsd"
	// Scheme selects this adapter in storage URIs.
	Scheme = "file"

	fixedHeaderSize = 12 // magic + version + header JSON length
	tableEntrySize  = 16 // offset + stored length, both uint64
)

var byteOrder = binary.LittleEndian

// Adapter implements storage.Adapter over plain files.
type Adapter struct{}

func init() {
	storage.Register(Adapter{})
}

func (Adapter) Scheme() string { return Scheme }
func (Adapter) Ext() string    { return Ext }

func (Adapter) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

func (Adapter) ReadMeta(path string, sch *schema.ArraySchema) (*storage.Meta, error) {
	return storage.ReadMetaFile(path, sch)
}

func (Adapter) WriteMeta(path string, m *storage.Meta) error {
	return storage.WriteMetaFile(path, m)
}

// fileHeader is the JSON block after the fixed header.
type fileHeader struct {
	DType      string                  `json:"dtype"`
	Shape      []int                   `json:"shape"`
	ChunkShape []int                   `json:"chunk_shape"`
	Compression *schema.CompressionSpec `json:"compression"`
}

type chunkRef struct {
	Offset uint64 // 0 means the chunk is absent and reads as fill
	Length uint64
}

type dataset struct {
	mu sync.Mutex

	path       string
	ds         storage.DatasetSchema
	chunkShape []int
	grid       []int
	codec      Codec

	f     *os.File
	mm    gommap.MMap
	table []chunkRef
	tableOff int64
}

func (Adapter) Open(path string, ds storage.DatasetSchema, opts schema.StorageOptions) (storage.Dataset, error) {
	chunkShape, err := storage.ResolveChunkShape(ds.Shape, ds.DType.Size(), opts.Chunks)
	if err != nil {
		return nil, errors.Wrap(errs.ErrValidation, err.Error())
	}
	codec, err := NewCodec(opts.Compression)
	if err != nil {
		return nil, errors.Wrap(errs.ErrValidation, err.Error())
	}
	d := &dataset{
		path:       path,
		ds:         ds,
		chunkShape: chunkShape,
		grid:       storage.ChunkGrid(ds.Shape, chunkShape),
		codec:      codec,
	}
	if _, err := os.Stat(path); err == nil {
		if err := d.load(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	return d, nil
}

func (d *dataset) chunks() int {
	n := 1
	for _, g := range d.grid {
		n *= g
	}
	return n
}

func (d *dataset) chunkBytes() int {
	return numeric.Elements(d.chunkShape) * d.ds.DType.Size()
}

// load opens an existing body: header check, table load, read mapping.
func (d *dataset) load() error {
	f, err := os.OpenFile(d.path, os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	fixed := make([]byte, fixedHeaderSize)
	if _, err := f.ReadAt(fixed, 0); err != nil {
		f.Close()
		return errors.Wrapf(errs.ErrIntegrity, "dataset %s: truncated header", d.path)
	}
	if byteOrder.Uint32(fixed) != magicDataset {
		f.Close()
		return errors.Wrapf(errs.ErrIntegrity, "dataset %s: bad magic", d.path)
	}
	jsonLen := int(byteOrder.Uint32(fixed[8:]))
	hdrBytes := make([]byte, jsonLen)
	if _, err := f.ReadAt(hdrBytes, fixedHeaderSize); err != nil {
		f.Close()
		return errors.Wrapf(errs.ErrIntegrity, "dataset %s: truncated header", d.path)
	}
	var hdr fileHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		f.Close()
		return errors.Wrapf(errs.ErrIntegrity, "dataset %s: %v", d.path, err)
	}
	if hdr.DType != d.ds.DType.Code() || !equalInts(hdr.Shape, d.ds.Shape) {
		f.Close()
		return errors.Wrapf(errs.ErrIntegrity,
			"dataset %s does not match the collection schema", d.path)
	}
	d.chunkShape = hdr.ChunkShape
	d.grid = storage.ChunkGrid(d.ds.Shape, d.chunkShape)
	d.tableOff = int64(fixedHeaderSize + jsonLen)

	tableBytes := make([]byte, d.chunks()*tableEntrySize)
	if _, err := f.ReadAt(tableBytes, d.tableOff); err != nil {
		f.Close()
		return errors.Wrapf(errs.ErrIntegrity, "dataset %s: truncated chunk table", d.path)
	}
	d.table = make([]chunkRef, d.chunks())
	for i := range d.table {
		d.table[i].Offset = byteOrder.Uint64(tableBytes[i*tableEntrySize:])
		d.table[i].Length = byteOrder.Uint64(tableBytes[i*tableEntrySize+8:])
	}
	d.f = f
	return d.remap()
}

// materialize creates the body with an all-absent chunk table.
func (d *dataset) materialize() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	hdr := fileHeader{
		DType:      d.ds.DType.Code(),
		Shape:      d.ds.Shape,
		ChunkShape: d.chunkShape,
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	fixed := make([]byte, fixedHeaderSize)
	byteOrder.PutUint32(fixed, magicDataset)
	byteOrder.PutUint32(fixed[4:], formatVersion)
	byteOrder.PutUint32(fixed[8:], uint32(len(hdrBytes)))

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	table := make([]byte, d.chunks()*tableEntrySize)
	payload := append(append(fixed, hdrBytes...), table...)
	if _, err := f.WriteAt(payload, 0); err != nil {
		f.Close()
		os.Remove(d.path)
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	d.f = f
	d.tableOff = int64(fixedHeaderSize + len(hdrBytes))
	d.table = make([]chunkRef, d.chunks())
	return d.remap()
}

func (d *dataset) remap() error {
	if d.mm != nil {
		d.mm.UnsafeUnmap()
		d.mm = nil
	}
	mm, err := gommap.Map(d.f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	d.mm = mm
	return nil
}

func (d *dataset) HasBody() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f != nil
}

func (d *dataset) Read(bounds []slicing.Bound, dst *numeric.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		dst.Fill(d.ds.Fill)
		return nil
	}
	plans, err := storage.ChunkPlans(d.ds.Shape, d.chunkShape, bounds)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	for _, plan := range plans {
		if err := d.readChunkInto(plan, dst); err != nil {
			return err
		}
	}
	return nil
}

func (d *dataset) readChunkInto(plan slicing.TilePlan, dst *numeric.Buffer) error {
	size := make([]int, len(plan.Inner))
	innerLo := make([]int, len(plan.Inner))
	outerLo := make([]int, len(plan.Outer))
	for i := range plan.Inner {
		size[i] = plan.Inner[i].Len()
		innerLo[i] = plan.Inner[i].Lo
		outerLo[i] = plan.Outer[i].Lo
	}
	ref := d.table[storage.FlatChunkIndex(d.grid, plan.Tile)]
	if ref.Offset == 0 {
		patch := numeric.NewBuffer(d.ds.DType, size)
		patch.Fill(d.ds.Fill)
		zero := make([]int, len(size))
		return wrapCopy(numeric.CopyRegion(dst, outerLo, patch, zero, size))
	}
	chunk, err := d.loadChunk(ref)
	if err != nil {
		return err
	}
	return wrapCopy(numeric.CopyRegion(dst, outerLo, chunk, innerLo, size))
}

func (d *dataset) loadChunk(ref chunkRef) (*numeric.Buffer, error) {
	stored := make([]byte, ref.Length)
	copy(stored, d.mm[ref.Offset:ref.Offset+ref.Length])
	raw, err := d.codec.Decode(stored, d.chunkBytes())
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	buf, err := numeric.Wrap(d.ds.DType, d.chunkShape, raw)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIntegrity, err.Error())
	}
	return buf, nil
}

func (d *dataset) Write(bounds []slicing.Bound, src *numeric.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		if err := d.materialize(); err != nil {
			return err
		}
	}
	plans, err := storage.ChunkPlans(d.ds.Shape, d.chunkShape, bounds)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	for _, plan := range plans {
		if err := d.writeChunk(plan, src); err != nil {
			return err
		}
	}
	return d.f.Sync()
}

func (d *dataset) writeChunk(plan slicing.TilePlan, src *numeric.Buffer) error {
	size := make([]int, len(plan.Inner))
	innerLo := make([]int, len(plan.Inner))
	outerLo := make([]int, len(plan.Outer))
	for i := range plan.Inner {
		size[i] = plan.Inner[i].Len()
		innerLo[i] = plan.Inner[i].Lo
		outerLo[i] = plan.Outer[i].Lo
	}
	idx := storage.FlatChunkIndex(d.grid, plan.Tile)
	ref := d.table[idx]

	var chunk *numeric.Buffer
	if ref.Offset == 0 {
		chunk = numeric.NewBuffer(d.ds.DType, d.chunkShape)
		chunk.Fill(d.ds.Fill)
	} else {
		loaded, err := d.loadChunk(ref)
		if err != nil {
			return err
		}
		chunk = loaded
	}
	if err := wrapCopy(numeric.CopyRegion(chunk, innerLo, src, outerLo, size)); err != nil {
		return err
	}

	// An all-fill chunk stores as absent, which keeps repeated clears
	// bit-identical on disk.
	if chunk.AllEqual(d.ds.Fill) {
		if ref.Offset == 0 {
			return nil
		}
		return d.setTableEntry(idx, chunkRef{})
	}

	encoded, err := d.codec.Encode(chunk.Bytes())
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	// Skip the append when the stored payload already matches.
	if ref.Offset != 0 && uint64(len(encoded)) == ref.Length &&
		bytes.Equal(d.mm[ref.Offset:ref.Offset+ref.Length], encoded) {
		return nil
	}

	end, err := d.f.Seek(0, 2)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	if _, err := d.f.WriteAt(encoded, end); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := d.setTableEntry(idx, chunkRef{Offset: uint64(end), Length: uint64(len(encoded))}); err != nil {
		return err
	}
	return d.remap()
}

func (d *dataset) setTableEntry(idx int, ref chunkRef) error {
	entry := make([]byte, tableEntrySize)
	byteOrder.PutUint64(entry, ref.Offset)
	byteOrder.PutUint64(entry[8:], ref.Length)
	if _, err := d.f.WriteAt(entry, d.tableOff+int64(idx)*tableEntrySize); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	d.table[idx] = ref
	return nil
}

func (d *dataset) Truncate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	if d.mm != nil {
		d.mm.UnsafeUnmap()
		d.mm = nil
	}
	d.f.Close()
	d.f = nil
	d.table = nil
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

func (d *dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mm != nil {
		d.mm.UnsafeUnmap()
		d.mm = nil
	}
	if d.f != nil {
		err := d.f.Close()
		d.f = nil
		return err
	}
	return nil
}

func wrapCopy(err error) error {
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
