package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/schema"
)

// Attr is one attribute value. Order matters: primary attributes serialize
// in declared schema order.
type Attr struct {
	Name  string
	Value interface{}
}

// Meta is the per-array metadata record stored as a sidecar JSON file next
// to the dataset body.
type Meta struct {
	ID            string
	Collection    string
	Primary       []Attr
	Custom        []Attr
	SchemaVersion int
}

// Get looks an attribute up by name, primary first.
func (m *Meta) Get(name string) (interface{}, bool) {
	for _, a := range m.Primary {
		if a.Name == name {
			return a.Value, true
		}
	}
	for _, a := range m.Custom {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Attrs merges primary and custom attributes into one map.
func (m *Meta) Attrs() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Primary)+len(m.Custom))
	for _, a := range m.Primary {
		out[a.Name] = a.Value
	}
	for _, a := range m.Custom {
		out[a.Name] = a.Value
	}
	return out
}

// MarshalJSON writes the record with stable key order: id, collection,
// primary_attributes, custom_attributes, schema_version; attributes keep
// their declared order.
func (m *Meta) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKey := func(k string) {
		b, _ := json.Marshal(k)
		buf.Write(b)
		buf.WriteByte(':')
	}
	writeKey("id")
	idJSON, _ := json.Marshal(m.ID)
	buf.Write(idJSON)
	buf.WriteByte(',')
	writeKey("collection")
	collJSON, _ := json.Marshal(m.Collection)
	buf.Write(collJSON)
	buf.WriteByte(',')

	writeAttrs := func(attrs []Attr) error {
		buf.WriteByte('{')
		for i, a := range attrs {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeKey(a.Name)
			v, err := json.Marshal(schema.SerializeAttrValue(a.Value))
			if err != nil {
				return errors.Wrapf(err, "cannot serialize attribute %q", a.Name)
			}
			buf.Write(v)
		}
		buf.WriteByte('}')
		return nil
	}

	writeKey("primary_attributes")
	if err := writeAttrs(m.Primary); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	writeKey("custom_attributes")
	if err := writeAttrs(m.Custom); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	writeKey("schema_version")
	verJSON, _ := json.Marshal(m.SchemaVersion)
	buf.Write(verJSON)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type metaJSON struct {
	ID            string                 `json:"id"`
	Collection    string                 `json:"collection"`
	Primary       map[string]interface{} `json:"primary_attributes"`
	Custom        map[string]interface{} `json:"custom_attributes"`
	SchemaVersion int                    `json:"schema_version"`
}

// ParseMeta restores a record, ordering and typing attributes by the
// collection schema. The reserved tile attributes vid and v_position are
// typed independently of the schema.
func ParseMeta(data []byte, sch *schema.ArraySchema) (*Meta, error) {
	var in metaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(errs.ErrIntegrity, err.Error())
	}
	m := &Meta{ID: in.ID, Collection: in.Collection, SchemaVersion: in.SchemaVersion}

	// Tile records carry the reserved bookkeeping attributes first.
	if raw, ok := in.Primary[schema.ReservedAttrVID]; ok {
		vid, _ := raw.(string)
		m.Primary = append(m.Primary, Attr{Name: schema.ReservedAttrVID, Value: vid})
	}
	if raw, ok := in.Primary[schema.ReservedAttrVPosition]; ok {
		pos, err := intSlice(raw)
		if err != nil {
			return nil, errors.Wrap(errs.ErrIntegrity, "invalid v_position")
		}
		m.Primary = append(m.Primary, Attr{Name: schema.ReservedAttrVPosition, Value: pos})
	}

	for _, as := range sch.Attributes {
		var (
			src map[string]interface{}
		)
		if as.Primary {
			src = in.Primary
		} else {
			src = in.Custom
		}
		raw, ok := src[as.Name]
		if !ok && as.Primary {
			// Tile records omit the user primary attributes.
			if len(m.Primary) > 0 {
				continue
			}
			return nil, errors.Wrapf(errs.ErrIntegrity,
				"metadata misses primary attribute %q", as.Name)
		}
		v, err := schema.DeserializeAttrValue(as.Kind, raw)
		if err != nil {
			return nil, errors.Wrap(errs.ErrIntegrity, err.Error())
		}
		if as.Primary {
			m.Primary = append(m.Primary, Attr{Name: as.Name, Value: v})
		} else {
			m.Custom = append(m.Custom, Attr{Name: as.Name, Value: v})
		}
	}
	return m, nil
}

func intSlice(raw interface{}) ([]int, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("not an array")
	}
	out := make([]int, len(arr))
	for i, el := range arr {
		f, ok := el.(float64)
		if !ok {
			return nil, errors.New("not an integer")
		}
		out[i] = int(f)
	}
	return out, nil
}

// WriteMetaFile writes the record atomically: tmp file plus rename.
func WriteMetaFile(path string, m *Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	return nil
}

// ReadMetaFile loads and parses a metadata record.
func ReadMetaFile(path string, sch *schema.ArraySchema) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errs.ErrNotFound, "metadata %s", path)
		}
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	return ParseMeta(data, sch)
}
