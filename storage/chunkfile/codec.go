package chunkfile

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/snowflk/gridstore/schema"
)

// Codec compresses and decompresses chunk payloads. The zero codec is a
// pass-through.
type Codec struct {
	filter string
	level  int
}

// NewCodec resolves the compression options of a collection. Only the "xz"
// filter is supported; nil options build a pass-through codec.
func NewCodec(spec *schema.CompressionSpec) (Codec, error) {
	if spec == nil {
		return Codec{}, nil
	}
	switch spec.Filter {
	case "", "none":
		return Codec{}, nil
	case "xz":
		level := spec.Level
		if level < 0 {
			level = 0
		}
		if level > 9 {
			level = 9
		}
		return Codec{filter: "xz", level: level}, nil
	}
	return Codec{}, errors.Errorf("unknown compression filter %q", spec.Filter)
}

func (c Codec) Enabled() bool { return c.filter != "" }

func (c Codec) Encode(raw []byte) ([]byte, error) {
	if !c.Enabled() {
		return raw, nil
	}
	var buf bytes.Buffer
	cfg := xz.WriterConfig{
		// The level knob scales the dictionary capacity.
		DictCap: 1 << (16 + uint(c.level)),
	}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "xz writer")
	}
	if _, err := w.Write(raw); err != nil {
		return nil, errors.Wrap(err, "xz compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "xz close")
	}
	return buf.Bytes(), nil
}

func (c Codec) Decode(stored []byte, rawSize int) ([]byte, error) {
	if !c.Enabled() {
		return stored, nil
	}
	r, err := xz.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, errors.Wrap(err, "xz reader")
	}
	out := make([]byte, rawSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrap(err, "xz decompress")
	}
	return out, nil
}
