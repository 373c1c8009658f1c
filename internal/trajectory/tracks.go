package trajectory

import (
	"fmt"
	"iter"
	"slices"
)

type NamedTrack struct {
	ID    string
	Track *Track
}

// Tracks holds all tracks of one subject in insertion order.
type Tracks struct {
	ids     []string
	tracks  map[string]*Track
	summary []TrackSummary
}

type tracksConfig struct {
	summary  []TrackSummary
	supplied bool
}

type TracksOption func(*tracksConfig)

// WithTrackSummaries supplies the summary table instead of deriving it.
func WithTrackSummaries(s []TrackSummary) TracksOption {
	return func(c *tracksConfig) {
		c.summary = s
		c.supplied = true
	}
}

func NewTracks(entries []NamedTrack, opts ...TracksOption) (*Tracks, error) {
	var cfg tracksConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(entries) == 0 {
		return nil, validationf("tracks", "at least one track required")
	}

	ts := &Tracks{
		ids:    make([]string, 0, len(entries)),
		tracks: make(map[string]*Track, len(entries)),
	}
	for i, e := range entries {
		if e.ID == "" {
			return nil, validationf("tracks", "entry %d has an empty id", i)
		}
		if e.Track == nil || e.Track.Len() == 0 {
			return nil, validationf("tracks", "entry %q is not a valid track", e.ID)
		}
		if _, dup := ts.tracks[e.ID]; dup {
			return nil, validationf("tracks", "duplicate track id %q", e.ID)
		}
		ts.ids = append(ts.ids, e.ID)
		ts.tracks[e.ID] = e.Track
	}

	if cfg.supplied {
		if len(cfg.summary) != len(entries) {
			return nil, validationf("tracks", "%d summary rows for %d tracks", len(cfg.summary), len(entries))
		}
		ts.summary = slices.Clone(cfg.summary)
	} else {
		ts.summary = make([]TrackSummary, len(entries))
		for i, id := range ts.ids {
			ts.summary[i] = ts.tracks[id].Summary(id)
		}
	}
	return ts, nil
}

func (ts *Tracks) Len() int { return len(ts.ids) }

func (ts *Tracks) IDs() []string { return slices.Clone(ts.ids) }

func (ts *Tracks) Track(id string) (*Track, bool) {
	t, ok := ts.tracks[id]
	return t, ok
}

// All yields tracks in insertion order.
func (ts *Tracks) All() iter.Seq2[string, *Track] {
	return func(yield func(string, *Track) bool) {
		for _, id := range ts.ids {
			if !yield(id, ts.tracks[id]) {
				return
			}
		}
	}
}

func (ts *Tracks) Summary() []TrackSummary { return slices.Clone(ts.summary) }

func (ts *Tracks) PointCount() int {
	n := 0
	for _, t := range ts.tracks {
		n += t.Len()
	}
	return n
}

func (ts *Tracks) Length() float64 {
	total := 0.0
	for _, id := range ts.ids {
		total += ts.tracks[id].Length()
	}
	return total
}

func (ts *Tracks) DurationSec() float64 {
	total := 0.0
	for _, id := range ts.ids {
		total += ts.tracks[id].Duration().Seconds()
	}
	return total
}

// Map applies fn to every track and builds a new Tracks with re-derived
// summaries. The first failure aborts the whole result.
func (ts *Tracks) Map(fn func(id string, t *Track) (*Track, error)) (*Tracks, error) {
	entries := make([]NamedTrack, 0, len(ts.ids))
	for _, id := range ts.ids {
		t, err := fn(id, ts.tracks[id])
		if err != nil {
			return nil, fmt.Errorf("track %q: %w", id, err)
		}
		entries = append(entries, NamedTrack{ID: id, Track: t})
	}
	return NewTracks(entries)
}
