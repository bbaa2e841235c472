package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Local is a URI resolved to a file on disk.
type Local struct {
	URI  string
	Path string
	// Downloaded is true when Path is a copy fetched from a remote bucket.
	Downloaded bool
}

// Resolver maps URIs to local files, downloading remote objects into a
// LocalStorage directory. It also opens URIs for streaming reads.
type Resolver struct {
	downloads        *LocalStorage
	stores           map[string]ObjectStore
	prefixMap        PrefixMap
	pathPrefix       string
	baseDir          string
	assumeDownloaded bool
	logger           *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStore registers the ObjectStore that serves scheme ("s3" or "gs").
func WithStore(scheme string, store ObjectStore) ResolverOption {
	return func(r *Resolver) {
		r.stores[scheme] = store
	}
}

// WithPrefixMap rewrites URI prefixes before resolution.
func WithPrefixMap(m PrefixMap) ResolverOption {
	return func(r *Resolver) {
		r.prefixMap = m
	}
}

// WithPathPrefix is prepended to local file paths.
func WithPathPrefix(prefix string) ResolverOption {
	return func(r *Resolver) {
		r.pathPrefix = prefix
	}
}

// WithBaseDir resolves relative local paths against dir.
func WithBaseDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.baseDir = dir
	}
}

// WithAssumeDownloaded reuses a previously downloaded file instead of
// fetching it again.
func WithAssumeDownloaded(v bool) ResolverOption {
	return func(r *Resolver) {
		r.assumeDownloaded = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver that downloads into downloads.
func NewResolver(downloads *LocalStorage, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		downloads: downloads,
		stores:    make(map[string]ObjectStore),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Location applies the prefix map, then parses uri. Absolute local paths
// get the path prefix and relative ones are joined to the base directory.
func (r *Resolver) Location(uri string) (Location, error) {
	loc, err := ParseURI(r.prefixMap.Apply(uri))
	if err != nil {
		return Location{}, err
	}
	if loc.Scheme != SchemeFile {
		return loc, nil
	}
	switch {
	case strings.HasPrefix(loc.Key, "/"):
		loc.Key = r.pathPrefix + loc.Key
	case r.baseDir != "":
		loc.Key = filepath.Join(r.baseDir, loc.Key)
	}
	return loc, nil
}

// Resolve returns a local file for uri, downloading it if it is remote.
func (r *Resolver) Resolve(ctx context.Context, uri string) (Local, error) {
	loc, err := r.Location(uri)
	if err != nil {
		return Local{}, err
	}

	if !loc.IsCloud() {
		if _, err := os.Stat(loc.Key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Local{}, fmt.Errorf("%w: %s", ErrObjectNotFound, loc.Key)
			}
			return Local{}, fmt.Errorf("stat %s: %w", loc.Key, err)
		}
		return Local{URI: uri, Path: loc.Key}, nil
	}

	store, err := r.store(loc.Scheme)
	if err != nil {
		return Local{}, err
	}
	if r.downloads == nil {
		return Local{}, fmt.Errorf("%w: no download directory", ErrNotConfigured)
	}

	name := path.Base(loc.Key)
	if r.assumeDownloaded && r.downloads.Exists(name) {
		p := r.downloads.Path(name)
		r.logger.Debug("using previously downloaded file",
			slog.String("uri", loc.String()),
			slog.String("path", p),
		)
		return Local{URI: uri, Path: p, Downloaded: true}, nil
	}

	body, err := store.Get(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return Local{}, err
	}
	defer func() { _ = body.Close() }()

	p, n, err := r.downloads.Save(ctx, name, body)
	if err != nil {
		return Local{}, fmt.Errorf("download %s: %w", loc, err)
	}

	r.logger.Info("downloaded",
		slog.String("uri", loc.String()),
		slog.String("path", p),
		slog.String("size", humanize.Bytes(uint64(n))),
	)
	return Local{URI: uri, Path: p, Downloaded: true}, nil
}

// Discard removes a downloaded file. Local files that were not downloaded are
// never touched.
func (r *Resolver) Discard(l Local) error {
	if !l.Downloaded || r.downloads == nil {
		return nil
	}
	if err := r.downloads.Remove(l.Path); err != nil {
		return err
	}
	r.logger.Debug("removed downloaded file", slog.String("path", l.Path))
	return nil
}

// Open opens uri for reading without keeping a local copy. The prefix map
// and path prefix apply to audio URIs only and are not used here.
func (r *Resolver) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	if !loc.IsCloud() {
		f, err := os.Open(loc.Key) // #nosec G304 - path is provided by configuration
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, loc.Key)
			}
			return nil, fmt.Errorf("open %s: %w", loc.Key, err)
		}
		return f, nil
	}

	store, err := r.store(loc.Scheme)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, loc.Bucket, loc.Key)
}

// Upload stores data at the bucket location named by uri.
func (r *Resolver) Upload(ctx context.Context, uri string, data io.Reader) (string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if !loc.IsCloud() {
		return "", fmt.Errorf("%w: upload target %q is not a bucket", ErrUnsupportedScheme, uri)
	}
	store, err := r.store(loc.Scheme)
	if err != nil {
		return "", err
	}
	return store.Put(ctx, loc.Bucket, loc.Key, data)
}

func (r *Resolver) store(scheme string) (ObjectStore, error) {
	store, ok := r.stores[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s://", ErrNotConfigured, scheme)
	}
	return store, nil
}
