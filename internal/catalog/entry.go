// Package catalog models the per-day list of recording files and computes
// which of them intersect a given time window.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Static errors for catalog parsing and lookup.
var (
	// ErrCatalogMissing is returned when no catalog exists for a requested day.
	ErrCatalogMissing = errors.New("catalog: no catalog for requested day")
	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("catalog: invalid entry")
	// ErrInvalidStart is returned when an entry start time cannot be parsed.
	ErrInvalidStart = errors.New("catalog: invalid start time")
)

// startLayouts are tried in order when decoding an entry start time.
// Layouts without a zone are interpreted as UTC.
var startLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Entry describes one physical recording file.
type Entry struct {
	// URI locates the audio file (s3://, gs://, file:// or a plain path).
	URI string `json:"uri" validate:"required"`
	// DurationSecs is the declared duration of the recording.
	DurationSecs float64 `json:"duration_secs" validate:"gte=0"`
	// Start is the absolute UTC time of the first sample.
	Start time.Time `json:"start"`
}

type rawEntry struct {
	URI          string  `json:"uri"`
	DurationSecs float64 `json:"duration_secs"`
	Start        string  `json:"start"`
}

// UnmarshalJSON decodes an entry accepting any ISO-8601 start timestamp.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseStart(raw.Start)
	if err != nil {
		return err
	}
	e.URI = raw.URI
	e.DurationSecs = raw.DurationSecs
	e.Start = start
	return nil
}

// MarshalJSON encodes the entry with a millisecond-precision UTC start.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawEntry{
		URI:          e.URI,
		DurationSecs: e.DurationSecs,
		Start:        e.Start.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

// End returns the declared end time of the recording.
func (e Entry) End() time.Time {
	return e.Start.Add(time.Duration(e.DurationSecs * float64(time.Second)))
}

// ParseStart parses an ISO-8601 timestamp, defaulting to UTC when no zone is given.
func ParseStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStart, s)
}

// Parse reads a JSON array of entries, validates each one, and drops later
// duplicates of a URI with a warning. Catalog order is preserved.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(entries))
	result := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", ErrInvalidEntry, i, err)
		}
		if _, dup := seen[e.URI]; dup {
			logger.Warn("skipping duplicate catalog entry",
				slog.String("uri", e.URI),
			)
			continue
		}
		seen[e.URI] = struct{}{}
		result = append(result, e)
	}
	return result, nil
}
