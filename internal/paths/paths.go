// Package paths derives every on-disk location of the storage layout: the
// collection tree, data file names, and the symlink paths encoding primary
// attribute values.
package paths

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/schema"
)

const (
	CollectionsDir  = "collections"
	ArrayDataDir    = "array_data"
	ArraySymlinkDir = "array_symlinks"
	VArrayDataDir   = "varray_data"
	VArraySymlinkDir = "varray_symlinks"

	MetaExt = ".json"
	LockExt = ".lock"
)

// Namespace for deterministic virtual-array ids.
var varrayNamespace = uuid.MustParse("8c9e2f5a-41db-4c68-9d2b-6a07f5d3b1c4")

// NewArrayID returns a random v4 id.
func NewArrayID() string {
	return uuid.New().String()
}

// VArrayID derives a v5 id from the collection name and the canonical
// primary-attribute key, so recreating the same virtual array yields the
// same id and duplicates collide.
func VArrayID(collection, primaryKey string) string {
	return uuid.NewSHA1(varrayNamespace, []byte(collection+"\x00"+primaryKey)).String()
}

// TileID derives the id of one tile from its virtual array id and grid
// position.
func TileID(vid string, position []int) string {
	ns, err := uuid.Parse(vid)
	if err != nil {
		ns = varrayNamespace
	}
	return uuid.NewSHA1(ns, []byte(PositionString(position))).String()
}

// PositionString renders a tile grid position as "i-j-k".
func PositionString(position []int) string {
	parts := make([]string, len(position))
	for i, p := range position {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, "-")
}

// ParsePosition is the inverse of PositionString.
func ParsePosition(s string) ([]int, error) {
	parts := strings.Split(s, "-")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid tile position %q", s)
		}
		out[i] = n
	}
	return out, nil
}

// CollectionRoot returns <storage>/collections/<name>.
func CollectionRoot(storageRoot, collection string) string {
	return filepath.Join(storageRoot, CollectionsDir, collection)
}

// ManifestPath returns the collection manifest file.
func ManifestPath(storageRoot, collection string) string {
	return filepath.Join(CollectionRoot(storageRoot, collection), collection+MetaExt)
}

// CollectionLockPath returns the base path of the collection-level lock; the
// lock manager appends its own artifact extensions to it.
func CollectionLockPath(storageRoot, collection string) string {
	return filepath.Join(storageRoot, CollectionsDir, collection+LockExt)
}

// tupleSeparator joins tuple elements inside one encoded path segment. The
// escaping below guarantees it cannot appear in an encoded element.
const tupleSeparator = ":"

// EncodeAttrValue renders one attribute value as a filesystem-safe path
// segment: datetimes in ISO-8601 UTC, strings percent-escaped, tuples joined
// with the reserved separator.
func EncodeAttrValue(v interface{}) string {
	switch x := v.(type) {
	case time.Time:
		return escapeSegment(x.UTC().Format("2006-01-02T15:04:05.999999999+00:00"))
	case string:
		return escapeSegment(x)
	case []interface{}:
		parts := make([]string, len(x))
		for i, el := range x {
			parts[i] = EncodeAttrValue(el)
		}
		return strings.Join(parts, tupleSeparator)
	case float64:
		return escapeSegment(strconv.FormatFloat(x, 'g', -1, 64))
	case complex128:
		return escapeSegment(strconv.FormatComplex(x, 'g', -1, 128))
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case []int:
		return PositionString(x)
	default:
		return escapeSegment(fmt.Sprintf("%v", x))
	}
}

// escapeSegment percent-encodes everything outside [A-Za-z0-9._-], which
// keeps path separators, the tuple separator and shell metacharacters out of
// symlink names.
func escapeSegment(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			sb.WriteByte(c)
		default:
			sb.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return sb.String()
}

// SymlinkPath builds the lookup path for a primary attribute tuple: one
// directory per attribute in declared order, the array id as the leaf.
func SymlinkPath(symlinkRoot string, primarySchema []schema.AttributeSchema,
	primary map[string]interface{}, id string) (string, error) {
	path := symlinkRoot
	for _, attr := range primarySchema {
		v, ok := primary[attr.Name]
		if !ok || v == nil {
			return "", errors.Wrapf(errs.ErrValidation,
				"missing primary attribute %q", attr.Name)
		}
		path = filepath.Join(path, EncodeAttrValue(v))
	}
	return filepath.Join(path, id), nil
}

// PrimaryKey renders the canonical string of a primary attribute tuple in
// declared order. Used for v5 id derivation and duplicate detection.
func PrimaryKey(primarySchema []schema.AttributeSchema, primary map[string]interface{}) (string, error) {
	parts := make([]string, 0, len(primarySchema))
	for _, attr := range primarySchema {
		v, ok := primary[attr.Name]
		if !ok || v == nil {
			return "", errors.Wrapf(errs.ErrValidation,
				"missing primary attribute %q", attr.Name)
		}
		parts = append(parts, attr.Name+"="+EncodeAttrValue(v))
	}
	return strings.Join(parts, "/"), nil
}
