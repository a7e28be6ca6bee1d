package gridstore

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

// URI locates a storage root. The scheme selects the adapter; file and bolt
// address local roots, http(s) a remote transport when such an adapter is
// registered.
type URI struct {
	Scheme string
	Path   string
}

// ParseURI accepts file://<absolute-path>, bolt://<path> and http(s) URIs.
// A bare path without a scheme is read as a local file root; relative paths
// are allowed but discouraged.
func ParseURI(raw string) (URI, error) {
	if raw == "" {
		return URI{}, errors.Wrap(errs.ErrValidation, "empty storage URI")
	}
	if !strings.Contains(raw, "://") {
		return URI{Scheme: "file", Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, errors.Wrapf(errs.ErrValidation, "invalid storage URI %q", raw)
	}
	switch u.Scheme {
	case "file", "bolt":
		path := u.Path
		if u.Host != "" {
			// file://relative/path parses the first segment as a host.
			path = u.Host + path
		}
		if path == "" {
			return URI{}, errors.Wrapf(errs.ErrValidation, "storage URI %q has no path", raw)
		}
		return URI{Scheme: u.Scheme, Path: path}, nil
	case "http", "https":
		return URI{Scheme: u.Scheme, Path: raw}, nil
	}
	return URI{Scheme: u.Scheme, Path: u.Path}, nil
}
