package slicing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

// Format renders an indexer expression in the canonical textual form used in
// log lines and cross-process references: bracketed, comma-separated
// components; integers and floats unquoted; datetimes and strings quoted with
// back-ticks; ranges joined with a colon.
func Format(indexers []Indexer) string {
	parts := make([]string, 0, len(indexers))
	for _, idx := range indexers {
		parts = append(parts, formatIndexer(idx))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatIndexer(idx Indexer) string {
	switch x := idx.(type) {
	case all:
		return ":"
	case ellipsis:
		return "..."
	case atIndex:
		return strconv.Itoa(x.i)
	case span:
		var sb strings.Builder
		if x.hasLo {
			sb.WriteString(strconv.Itoa(x.lo))
		}
		sb.WriteByte(':')
		if x.hasHi {
			sb.WriteString(strconv.Itoa(x.hi))
		}
		if x.step != 0 && x.step != 1 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(x.step))
		}
		return sb.String()
	case domainPoint:
		return formatDomain(x.v)
	case domainSpan:
		return formatDomain(x.lo) + ":" + formatDomain(x.hi)
	}
	return "?"
}

func formatDomain(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "`" + x + "`"
	case time.Time:
		return "`" + x.UTC().Format(time.RFC3339) + "`"
	case int:
		return strconv.Itoa(x)
	}
	return fmt.Sprintf("%v", v)
}

// Parse is the inverse of Format. Back-tick-quoted components become domain
// values whose meaning (label or datetime) is decided during normalization by
// the dimension kind.
func Parse(expr string) ([]Indexer, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, errors.Wrapf(errs.ErrIndex, "slice expression %q is not bracketed", expr)
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if s == "" {
		return nil, nil
	}
	parts, err := splitComponents(s)
	if err != nil {
		return nil, err
	}
	out := make([]Indexer, 0, len(parts))
	for _, part := range parts {
		idx, err := parseComponent(part)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// splitComponents splits on commas that are outside back-tick quotes.
func splitComponents(s string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range s {
		switch {
		case r == '`':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		return nil, errors.Wrapf(errs.ErrIndex, "unbalanced back-tick quotes in %q", s)
	}
	parts = append(parts, strings.TrimSpace(current.String()))
	return parts, nil
}

func parseComponent(part string) (Indexer, error) {
	if part == "..." {
		return Ellipsis(), nil
	}
	if part == ":" {
		return All(), nil
	}
	pieces, err := splitRange(part)
	if err != nil {
		return nil, err
	}
	switch len(pieces) {
	case 1:
		return parseScalar(pieces[0])
	case 2:
		return parseRange(pieces[0], pieces[1], "")
	case 3:
		return parseRange(pieces[0], pieces[1], pieces[2])
	}
	return nil, errors.Wrapf(errs.ErrIndex, "invalid slice component %q", part)
}

// splitRange splits on colons outside back-tick quotes; datetimes contain
// colons of their own.
func splitRange(s string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range s {
		switch {
		case r == '`':
			quoted = !quoted
			current.WriteRune(r)
		case r == ':' && !quoted:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, strings.TrimSpace(current.String()))
	return parts, nil
}

func parseScalar(s string) (Indexer, error) {
	if s == "" {
		return All(), nil
	}
	if strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && len(s) >= 2 {
		return domainPoint{v: s[1 : len(s)-1]}, nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return At(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value(f), nil
	}
	return nil, errors.Wrapf(errs.ErrIndex, "invalid slice component %q", s)
}

func parseRange(lo, hi, step string) (Indexer, error) {
	if step != "" {
		n, err := strconv.Atoi(step)
		if err != nil || n != 1 {
			return nil, errors.Wrapf(errs.ErrIndex, "step %q is not supported, only step 1", step)
		}
	}
	loIdx, err := parseEdge(lo)
	if err != nil {
		return nil, err
	}
	hiIdx, err := parseEdge(hi)
	if err != nil {
		return nil, err
	}
	// Integer edges build an integer span; anything else is a domain span.
	loInt, loIsInt := loIdx.(int)
	hiInt, hiIsInt := hiIdx.(int)
	switch {
	case loIdx == nil && hiIdx == nil:
		return All(), nil
	case loIsInt && hiIsInt:
		return Range(loInt, hiInt), nil
	case loIsInt && hiIdx == nil:
		return From(loInt), nil
	case loIdx == nil && hiIsInt:
		return To(hiInt), nil
	case loIdx == nil || hiIdx == nil:
		return nil, errors.Wrapf(errs.ErrIndex,
			"open-ended domain ranges are not supported: %q:%q", lo, hi)
	default:
		// A mixed int/float range is a scale range.
		if loIsInt {
			loIdx = float64(loInt)
		}
		if hiIsInt {
			hiIdx = float64(hiInt)
		}
		return domainSpan{lo: loIdx, hi: hiIdx}, nil
	}
}

// parseEdge returns nil (open edge), an int, a float64 or a string.
func parseEdge(s string) (interface{}, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && len(s) >= 2 {
		return s[1 : len(s)-1], nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, errors.Wrapf(errs.ErrIndex, "invalid slice edge %q", s)
}
