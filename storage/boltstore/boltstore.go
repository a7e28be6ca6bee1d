// Package boltstore is a storage adapter keeping each dataset body in a
// bbolt file: one bucket for the header, one mapping chunk indices to
// compressed payloads. Selected by the "bolt" URI scheme.
package boltstore

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
	"github.com/snowflk/gridstore/storage"
	"github.com/snowflk/gridstore/storage/chunkfile"
)

const (
	// Ext is the body file extension.
	Ext = ".gsb"
	// Scheme selects this adapter in storage URIs.
	Scheme = "bolt"
)

var (
	headerBucket = []byte("header")
	chunksBucket = []byte("chunks")
	headerKey    = []byte("dataset")

	byteOrder = binary.BigEndian
)

// Adapter implements storage.Adapter over bbolt files.
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

type datasetHeader struct {
	DType      string `json:"dtype"`
	Shape      []int  `json:"shape"`
	ChunkShape []int  `json:"chunk_shape"`
}

type dataset struct {
	mu sync.Mutex

	path       string
	ds         storage.DatasetSchema
	chunkShape []int
	grid       []int
	codec      chunkfile.Codec

	db *bolt.DB // nil until the body materializes
}

func (Adapter) Open(path string, ds storage.DatasetSchema, opts schema.StorageOptions) (storage.Dataset, error) {
	chunkShape, err := storage.ResolveChunkShape(ds.Shape, ds.DType.Size(), opts.Chunks)
	if err != nil {
		return nil, errors.Wrap(errs.ErrValidation, err.Error())
	}
	codec, err := chunkfile.NewCodec(opts.Compression)
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
		if err := d.open(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	return d, nil
}

func (d *dataset) open() error {
	db, err := bolt.Open(d.path, 0644, nil)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	err = db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(headerBucket)
		if bkt == nil {
			return errors.Wrapf(errs.ErrIntegrity, "dataset %s misses its header", d.path)
		}
		var hdr datasetHeader
		if err := json.Unmarshal(bkt.Get(headerKey), &hdr); err != nil {
			return errors.Wrapf(errs.ErrIntegrity, "dataset %s: %v", d.path, err)
		}
		if hdr.DType != d.ds.DType.Code() {
			return errors.Wrapf(errs.ErrIntegrity,
				"dataset %s does not match the collection schema", d.path)
		}
		d.chunkShape = hdr.ChunkShape
		d.grid = storage.ChunkGrid(d.ds.Shape, d.chunkShape)
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	d.db = db
	return nil
}

func (d *dataset) materialize() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	db, err := bolt.Open(d.path, 0644, nil)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	hdr, err := json.Marshal(datasetHeader{
		DType:      d.ds.DType.Code(),
		Shape:      d.ds.Shape,
		ChunkShape: d.chunkShape,
	})
	if err != nil {
		db.Close()
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(headerBucket)
		if err != nil {
			return err
		}
		if err := bkt.Put(headerKey, hdr); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(chunksBucket)
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(d.path)
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	d.db = db
	return nil
}

func chunkKey(idx int) []byte {
	key := make([]byte, 8)
	byteOrder.PutUint64(key, uint64(idx))
	return key
}

func (d *dataset) chunkBytes() int {
	return numeric.Elements(d.chunkShape) * d.ds.DType.Size()
}

func (d *dataset) HasBody() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db != nil
}

func (d *dataset) Read(bounds []slicing.Bound, dst *numeric.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		dst.Fill(d.ds.Fill)
		return nil
	}
	plans, err := storage.ChunkPlans(d.ds.Shape, d.chunkShape, bounds)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(chunksBucket)
		for _, plan := range plans {
			size, innerLo, outerLo := planOffsets(plan)
			var chunk *numeric.Buffer
			stored := bkt.Get(chunkKey(storage.FlatChunkIndex(d.grid, plan.Tile)))
			if stored == nil {
				chunk = numeric.NewBuffer(d.ds.DType, d.chunkShape)
				chunk.Fill(d.ds.Fill)
			} else {
				raw, err := d.codec.Decode(stored, d.chunkBytes())
				if err != nil {
					return errors.Wrap(errs.ErrIO, err.Error())
				}
				chunk, err = numeric.Wrap(d.ds.DType, d.chunkShape, raw)
				if err != nil {
					return errors.Wrap(errs.ErrIntegrity, err.Error())
				}
			}
			if err := numeric.CopyRegion(dst, outerLo, chunk, innerLo, size); err != nil {
				return errors.Wrap(errs.ErrIO, err.Error())
			}
		}
		return nil
	})
}

func (d *dataset) Write(bounds []slicing.Bound, src *numeric.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		if err := d.materialize(); err != nil {
			return err
		}
	}
	plans, err := storage.ChunkPlans(d.ds.Shape, d.chunkShape, bounds)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(chunksBucket)
		for _, plan := range plans {
			size, innerLo, outerLo := planOffsets(plan)
			key := chunkKey(storage.FlatChunkIndex(d.grid, plan.Tile))

			chunk := numeric.NewBuffer(d.ds.DType, d.chunkShape)
			if stored := bkt.Get(key); stored != nil {
				raw, err := d.codec.Decode(stored, d.chunkBytes())
				if err != nil {
					return errors.Wrap(errs.ErrIO, err.Error())
				}
				copy(chunk.Bytes(), raw)
			} else {
				chunk.Fill(d.ds.Fill)
			}
			if err := numeric.CopyRegion(chunk, innerLo, src, outerLo, size); err != nil {
				return errors.Wrap(errs.ErrIO, err.Error())
			}
			if chunk.AllEqual(d.ds.Fill) {
				if err := bkt.Delete(key); err != nil {
					return errors.Wrap(errs.ErrIO, err.Error())
				}
				continue
			}
			encoded, err := d.codec.Encode(chunk.Bytes())
			if err != nil {
				return errors.Wrap(errs.ErrIO, err.Error())
			}
			if err := bkt.Put(key, encoded); err != nil {
				return errors.Wrap(errs.ErrIO, err.Error())
			}
		}
		return nil
	})
}

func (d *dataset) Truncate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	d.db.Close()
	d.db = nil
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

func (d *dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func planOffsets(plan slicing.TilePlan) (size, innerLo, outerLo []int) {
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
