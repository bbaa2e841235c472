package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Provider supplies the catalog entries for a day.
type Provider interface {
	// Entries returns the day's entries in catalog order.
	// Returns ErrCatalogMissing if there is no catalog for the day.
	Entries(ctx context.Context, date time.Time) ([]Entry, error)
}

// Opener opens a URI for reading. It reports a missing object with an error
// for which IsNotFound returns true.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Compile-time check that FileProvider implements Provider.
var _ Provider = (*FileProvider)(nil)

// FileProvider loads catalogs laid out as {base}/{YYYY}/{YYYYMMDD}.json.
type FileProvider struct {
	base       string
	opener     Opener
	isNotFound func(error) bool
	logger     *slog.Logger
}

// NewFileProvider creates a provider rooted at base. isNotFound classifies
// opener errors that mean the catalog does not exist.
func NewFileProvider(base string, opener Opener, isNotFound func(error) bool, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if isNotFound == nil {
		isNotFound = func(error) bool { return false }
	}
	return &FileProvider{
		base:       strings.TrimRight(base, "/"),
		opener:     opener,
		isNotFound: isNotFound,
		logger:     logger,
	}
}

// URIFor returns the catalog location for date.
func (p *FileProvider) URIFor(date time.Time) string {
	d := date.UTC()
	return fmt.Sprintf("%s/%04d/%s.json", p.base, d.Year(), d.Format("20060102"))
}

// Entries loads and parses the catalog for date.
func (p *FileProvider) Entries(ctx context.Context, date time.Time) ([]Entry, error) {
	uri := p.URIFor(date)
	rc, err := p.opener.Open(ctx, uri)
	if err != nil {
		if p.isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogMissing, uri)
		}
		return nil, fmt.Errorf("open catalog %s: %w", uri, err)
	}
	defer func() { _ = rc.Close() }()

	entries, err := Parse(rc, p.logger)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", uri, err)
	}
	p.logger.Info("catalog loaded",
		slog.String("uri", uri),
		slog.Int("entries", len(entries)),
	)
	return entries, nil
}

// IsMissing reports whether err means the catalog does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, ErrCatalogMissing)
}
