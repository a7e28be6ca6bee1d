package schema

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/slicing"
)

// ManifestVersion is written into every new manifest.
const ManifestVersion = 1

// ChunkSpec selects dataset chunking: nil means no chunking, Auto lets the
// adapter pick, otherwise Shape must divide the array shape elementwise.
type ChunkSpec struct {
	Auto  bool
	Shape []int
}

// CompressionSpec names a compression filter applied per chunk.
type CompressionSpec struct {
	Filter string `json:"filter"`
	Level  int    `json:"level"`
}

// StorageOptions are the per-collection knobs handed to the storage adapter.
type StorageOptions struct {
	Chunks      *ChunkSpec
	Compression *CompressionSpec
}

// Validate checks explicit chunk shapes against the collection shape.
func (o StorageOptions) Validate(shape []int) error {
	if o.Chunks != nil && !o.Chunks.Auto {
		if len(o.Chunks.Shape) != len(shape) {
			return errors.Wrapf(errs.ErrValidation,
				"chunk shape %v does not match rank %d", o.Chunks.Shape, len(shape))
		}
		for i, c := range o.Chunks.Shape {
			if c <= 0 || shape[i]%c != 0 {
				return errors.Wrapf(errs.ErrValidation,
					"chunk shape %v does not divide shape %v", o.Chunks.Shape, shape)
			}
		}
	}
	return nil
}

// Manifest is the per-collection record stored as <name>.json at the
// collection root.
type Manifest struct {
	Name    string
	Array   *ArraySchema
	VArray  *VArraySchema
	Options StorageOptions
	Version int
}

// Schema returns the array schema regardless of collection type; for virtual
// arrays this is the embedded schema describing the full logical array.
func (m *Manifest) Schema() *ArraySchema {
	if m.VArray != nil {
		return &m.VArray.ArraySchema
	}
	return m.Array
}

func (m *Manifest) IsVArray() bool { return m.VArray != nil }

type manifestJSON struct {
	Name           string             `json:"name"`
	Type           string             `json:"type"`
	DType          string             `json:"dtype"`
	FillValue      interface{}        `json:"fill_value"`
	Dimensions     []dimJSON          `json:"dimensions"`
	Attributes     []attrJSON         `json:"attributes"`
	VGrid          []int              `json:"vgrid"`
	StorageOptions storageOptionsJSON `json:"storage_options"`
	Version        int                `json:"version"`
}

type dimJSON struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Kind string `json:"kind"`

	// scaled
	StartValue *float64 `json:"start_value,omitempty"`
	Step       *float64 `json:"step,omitempty"`
	ScaleName  string   `json:"scale_name,omitempty"`

	// labeled
	Labels []interface{} `json:"labels,omitempty"`

	// time
	TimeStart   string `json:"time_start,omitempty"`
	StepSeconds int64  `json:"step_seconds,omitempty"`
}

type attrJSON struct {
	Name    string `json:"name"`
	DType   string `json:"dtype"`
	Primary bool   `json:"primary"`
}

type storageOptionsJSON struct {
	Chunks      json.RawMessage  `json:"chunks"`
	Compression *CompressionSpec `json:"compression"`
}

// MarshalJSON writes the manifest in the canonical record layout.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	s := m.Schema()
	out := manifestJSON{
		Name:      m.Name,
		Type:      "array",
		DType:     s.DType.Code(),
		FillValue: s.FillValue.JSON(),
		Version:   m.Version,
	}
	if m.IsVArray() {
		out.Type = "varray"
		out.VGrid = m.VArray.VGrid
	}
	for _, d := range s.Dimensions {
		dj := dimJSON{Name: d.Name, Size: d.Size, Kind: d.Kind().String()}
		switch d.Kind() {
		case slicing.Scaled:
			start, step := d.Scale.StartValue, d.Scale.Step
			dj.StartValue, dj.Step = &start, &step
			dj.ScaleName = d.Scale.Name
		case slicing.Labeled:
			dj.Labels = d.Labels
		case slicing.Time:
			if d.Time.StartAttr != "" {
				dj.TimeStart = "$" + d.Time.StartAttr
			} else {
				dj.TimeStart = d.Time.Start.UTC().Format(time.RFC3339Nano)
			}
			dj.StepSeconds = int64(d.Time.Step / time.Second)
		}
		out.Dimensions = append(out.Dimensions, dj)
	}
	for _, a := range s.Attributes {
		out.Attributes = append(out.Attributes, attrJSON{
			Name:    a.Name,
			DType:   a.Kind.String(),
			Primary: a.Primary,
		})
	}
	chunks, err := marshalChunks(m.Options.Chunks)
	if err != nil {
		return nil, err
	}
	out.StorageOptions = storageOptionsJSON{
		Chunks:      chunks,
		Compression: m.Options.Compression,
	}
	return json.Marshal(out)
}

func marshalChunks(c *ChunkSpec) (json.RawMessage, error) {
	switch {
	case c == nil:
		return json.RawMessage("null"), nil
	case c.Auto:
		return json.RawMessage("true"), nil
	default:
		return json.Marshal(c.Shape)
	}
}

// UnmarshalJSON restores and re-validates a manifest.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var in manifestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "cannot decode manifest")
	}
	dtype, err := numeric.ParseElementType(in.DType)
	if err != nil {
		return errors.Wrap(errs.ErrValidation, err.Error())
	}
	fill, err := numeric.ValueFromJSON(dtype, in.FillValue)
	if err != nil {
		return errors.Wrap(errs.ErrValidation, err.Error())
	}

	var attrs []AttributeSchema
	for _, a := range in.Attributes {
		kind, err := ParseAttrKind(a.DType)
		if err != nil {
			return err
		}
		attrs = append(attrs, AttributeSchema{Name: a.Name, Kind: kind, Primary: a.Primary})
	}

	var dims []DimensionSchema
	for _, dj := range in.Dimensions {
		d := DimensionSchema{Name: dj.Name, Size: dj.Size}
		switch dj.Kind {
		case "scaled":
			if dj.StartValue == nil || dj.Step == nil {
				return errors.Wrapf(errs.ErrValidation,
					"scaled dimension %q misses start_value/step", dj.Name)
			}
			d.Scale = &ScaleSpec{StartValue: *dj.StartValue, Step: *dj.Step, Name: dj.ScaleName}
		case "labeled":
			d.Labels = dj.Labels
		case "time":
			spec := &TimeSpec{Step: time.Duration(dj.StepSeconds) * time.Second}
			if len(dj.TimeStart) > 0 && dj.TimeStart[0] == '$' {
				spec.StartAttr = dj.TimeStart[1:]
			} else {
				t, err := slicing.ParseTime(dj.TimeStart)
				if err != nil {
					return errors.Wrapf(errs.ErrValidation,
						"time dimension %q has invalid start %q", dj.Name, dj.TimeStart)
				}
				spec.Start = t
			}
			d.Time = spec
		case "plain":
		default:
			return errors.Wrapf(errs.ErrValidation,
				"dimension %q has unknown kind %q", dj.Name, dj.Kind)
		}
		dims = append(dims, d)
	}

	opts := StorageOptions{Compression: in.StorageOptions.Compression}
	if chunks := in.StorageOptions.Chunks; len(chunks) > 0 && string(chunks) != "null" {
		if string(chunks) == "true" {
			opts.Chunks = &ChunkSpec{Auto: true}
		} else {
			var shape []int
			if err := json.Unmarshal(chunks, &shape); err != nil {
				return errors.Wrap(errs.ErrValidation, "invalid chunks option")
			}
			opts.Chunks = &ChunkSpec{Shape: shape}
		}
	}

	m.Name = in.Name
	m.Options = opts
	m.Version = in.Version
	switch in.Type {
	case "array":
		s, err := NewArraySchema(dtype, dims, attrs, &fill)
		if err != nil {
			return err
		}
		m.Array, m.VArray = s, nil
	case "varray":
		s, err := NewVArraySchema(dtype, dims, attrs, &fill, GridSpec{VGrid: in.VGrid})
		if err != nil {
			return err
		}
		m.Array, m.VArray = nil, s
	default:
		return errors.Wrapf(errs.ErrValidation, "unknown collection type %q", in.Type)
	}
	return nil
}
