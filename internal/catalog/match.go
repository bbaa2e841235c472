package catalog

import (
	"context"
	"log/slog"
	"time"
)

// Match is the portion of an entry that overlaps a requested window,
// expressed relative to the entry's own start.
type Match struct {
	Entry           Entry
	StartOffsetSecs int
	DurationSecs    int
}

// Intersect returns a Match for every entry overlapping the window
// [windowStart, windowStart+windowSecs), in catalog order.
//
// Bounds are whole seconds and the comparison is inclusive, so an entry that
// only touches the window yields a match with zero duration. Callers must
// skip those.
func Intersect(logger *slog.Logger, entries []Entry, windowStart time.Time, windowSecs int) []Match {
	if logger == nil {
		logger = slog.Default()
	}

	wstart := windowStart.Unix()
	wend := wstart + int64(windowSecs)

	var matches []Match
	for _, e := range entries {
		estart := e.Start.Unix()
		eend := estart + int64(e.DurationSecs)
		if estart > wend || eend < wstart {
			continue
		}
		offset := max(estart, wstart) - estart
		duration := min(eend, wend) - estart - offset
		matches = append(matches, Match{
			Entry:           e,
			StartOffsetSecs: int(offset),
			DurationSecs:    int(duration),
		})
	}

	if len(matches) == 0 {
		logger.Warn("no catalog entries intersect window",
			slog.Time("window_start", windowStart.UTC()),
			slog.Int("window_secs", windowSecs),
		)
		return nil
	}

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		uris := make([]string, len(matches))
		for i, m := range matches {
			uris[i] = m.Entry.URI
		}
		logger.Debug("window intersections",
			slog.Time("window_start", windowStart.UTC()),
			slog.Any("uris", uris),
		)
	}
	return matches
}
