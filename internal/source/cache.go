// Package source keeps the audio files referenced by a day's catalog open
// across consecutive windows.
//
// Handles age as other files are opened. Once a handle is more than a few
// files behind the current one it is closed and its download removed, so
// disk usage stays bounded while back-to-back windows reuse the same file.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbari-org/pbp-sub000/internal/audio"
	"github.com/mbari-org/pbp-sub000/internal/observe"
	"github.com/mbari-org/pbp-sub000/internal/storage"
)

// ErrSourceUnavailable is returned when an audio file cannot be downloaded
// or its header cannot be read.
var ErrSourceUnavailable = errors.New("source: audio source unavailable")

// DefaultMaxAge is the age beyond which an open handle is closed.
const DefaultMaxAge = 2

// Resolver turns a catalog URI into a local file.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (storage.Local, error)
	// Discard removes a file created by Resolve, if any.
	Discard(l storage.Local) error
}

var _ Resolver = (*storage.Resolver)(nil)

// Handle is a cached audio source. Exactly one of Stream and Err is set.
type Handle struct {
	URI    string
	Local  storage.Local
	Stream audio.Stream
	Err    error

	age    int
	closed bool
}

// Age returns how many other files were opened since this one.
func (h *Handle) Age() int { return h.age }

// Closed reports whether the handle was evicted.
func (h *Handle) Closed() bool { return h.closed }

// open reports whether the handle holds a readable stream.
func (h *Handle) open() bool { return h.Err == nil && !h.closed }

// Cache is a day-scoped map of URI to Handle. It is not safe for concurrent
// use; each day owns its own Cache.
type Cache struct {
	resolver Resolver
	opener   audio.Opener
	maxAge   int
	retain   bool
	logger   *slog.Logger
	metrics  *observe.Metrics

	handles map[string]*Handle
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge sets the age beyond which handles are closed.
func WithMaxAge(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxAge = n
		}
	}
}

// WithRetain keeps downloaded files when handles are closed.
func WithRetain(retain bool) Option {
	return func(c *Cache) {
		c.retain = retain
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCache creates an empty Cache.
func NewCache(resolver Resolver, opener audio.Opener, opts ...Option) *Cache {
	c := &Cache{
		resolver: resolver,
		opener:   opener,
		maxAge:   DefaultMaxAge,
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
		handles:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the handle for uri, opening it if needed.
//
// A cached handle that is open, or that failed, is returned as is and keeps
// its age. Otherwise every cached handle ages by one and a new handle with
// age 0 replaces any previous one for uri. After each lookup, other open
// handles older than the maximum age are closed.
//
// When the handle failed, the returned error wraps ErrSourceUnavailable.
func (c *Cache) Get(ctx context.Context, uri string) (*Handle, error) {
	h, ok := c.handles[uri]
	if !ok || h.closed {
		for _, other := range c.handles {
			other.age++
		}
		h = c.build(ctx, uri)
		c.handles[uri] = h
	}

	c.evict(ctx, uri)

	if h.Err != nil {
		return h, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, uri, h.Err)
	}
	return h, nil
}

func (c *Cache) build(ctx context.Context, uri string) *Handle {
	h := &Handle{URI: uri}

	local, err := c.resolver.Resolve(ctx, uri)
	if err != nil {
		h.Err = fmt.Errorf("resolve: %w", err)
		c.logger.Error("cannot fetch audio source",
			slog.String("uri", uri),
			slog.String("error", err.Error()),
		)
		c.metrics.SourcesFailed.Add(ctx, 1)
		return h
	}
	h.Local = local

	stream, err := c.opener.Open(ctx, local.Path)
	if err != nil {
		h.Err = fmt.Errorf("open: %w", err)
		c.logger.Error("cannot open audio source",
			slog.String("uri", uri),
			slog.String("path", local.Path),
			slog.String("error", err.Error()),
		)
		c.metrics.SourcesFailed.Add(ctx, 1)
		c.discard(h)
		return h
	}
	h.Stream = stream

	c.logger.Debug("audio source opened",
		slog.String("uri", uri),
		slog.String("path", local.Path),
		slog.String("info", stream.Info().String()),
	)
	c.metrics.SourcesOpened.Add(ctx, 1)
	return h
}

func (c *Cache) evict(ctx context.Context, current string) {
	for uri, h := range c.handles {
		if uri == current || h.age <= c.maxAge || !h.open() {
			continue
		}
		c.close(h)
		c.metrics.SourcesEvicted.Add(ctx, 1)
		c.logger.Debug("audio source evicted",
			slog.String("uri", uri),
			slog.Int("age", h.age),
		)
	}
}

func (c *Cache) close(h *Handle) {
	if h.Stream != nil {
		if err := h.Stream.Close(); err != nil {
			c.logger.Warn("closing audio source",
				slog.String("uri", h.URI),
				slog.String("error", err.Error()),
			)
		}
	}
	h.closed = true
	c.discard(h)
}

func (c *Cache) discard(h *Handle) {
	if c.retain {
		return
	}
	if err := c.resolver.Discard(h.Local); err != nil {
		c.logger.Warn("removing downloaded file",
			slog.String("path", h.Local.Path),
			slog.String("error", err.Error()),
		)
	}
}

// DayCompleted closes every open handle, removes downloads unless retained,
// and empties the cache.
func (c *Cache) DayCompleted(_ context.Context) {
	for _, h := range c.handles {
		if h.open() {
			c.close(h)
		}
	}
	c.logger.Debug("audio source cache cleared", slog.Int("handles", len(c.handles)))
	c.handles = make(map[string]*Handle)
}

// Len returns the number of cached handles, open or not.
func (c *Cache) Len() int { return len(c.handles) }
