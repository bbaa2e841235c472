package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported URI schemes.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
	SchemeGS   = "gs"
)

// Location is a parsed URI. Local paths have Scheme SchemeFile and carry the
// path in Key.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// String implements fmt.Stringer.
func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return l.Key
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// IsCloud reports whether the location lives in a remote bucket.
func (l Location) IsCloud() bool {
	return IsCloudScheme(l.Scheme)
}

// IsCloudScheme reports whether scheme names a remote bucket.
func IsCloudScheme(scheme string) bool {
	return scheme == SchemeS3 || scheme == SchemeGS
}

// ParseURI splits uri into a Location. A bare path is a local file.
func ParseURI(uri string) (Location, error) {
	if !strings.Contains(uri, "://") {
		return Location{Scheme: SchemeFile, Key: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case SchemeFile:
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		return Location{Scheme: SchemeFile, Key: path}, nil
	case SchemeS3, SchemeGS:
		if u.Host == "" {
			return Location{}, fmt.Errorf("parse uri %q: missing bucket", uri)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// PrefixMap rewrites URIs that start with From so that they start with To.
type PrefixMap struct {
	From string
	To   string
}

// ParsePrefixMap parses the "from~to" form.
func ParsePrefixMap(s string) (PrefixMap, error) {
	if s == "" {
		return PrefixMap{}, nil
	}
	from, to, ok := strings.Cut(s, "~")
	if !ok || from == "" {
		return PrefixMap{}, fmt.Errorf("prefix map %q: expected from~to", s)
	}
	return PrefixMap{From: from, To: to}, nil
}

// Apply returns uri with the prefix replaced, or uri unchanged when it does
// not start with From.
func (m PrefixMap) Apply(uri string) string {
	if m.From == "" || !strings.HasPrefix(uri, m.From) {
		return uri
	}
	return m.To + strings.TrimPrefix(uri, m.From)
}
