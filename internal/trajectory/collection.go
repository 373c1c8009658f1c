package trajectory

import (
	"fmt"
	"iter"
	"slices"
)

type NamedTracks struct {
	Subject string
	Tracks  *Tracks
}

// SubjectSummary is the per-subject record kept by a TracksCollection.
type SubjectSummary struct {
	Subject     string  `json:"subject"`
	TrackCount  int     `json:"track_count"`
	PointCount  int     `json:"point_count"`
	Length      float64 `json:"length"`
	DurationSec float64 `json:"duration_sec"`
}

// TracksCollection groups the Tracks of many subjects in insertion order.
type TracksCollection struct {
	subjects []string
	tracks   map[string]*Tracks
	summary  []SubjectSummary
}

type collectionConfig struct {
	summary  []SubjectSummary
	supplied bool
}

type CollectionOption func(*collectionConfig)

func WithSubjectSummaries(s []SubjectSummary) CollectionOption {
	return func(c *collectionConfig) {
		c.summary = s
		c.supplied = true
	}
}

func NewTracksCollection(entries []NamedTracks, opts ...CollectionOption) (*TracksCollection, error) {
	var cfg collectionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(entries) == 0 {
		return nil, validationf("collection", "at least one subject required")
	}

	tc := &TracksCollection{
		subjects: make([]string, 0, len(entries)),
		tracks:   make(map[string]*Tracks, len(entries)),
	}
	for i, e := range entries {
		if e.Subject == "" {
			return nil, validationf("collection", "entry %d has an empty subject", i)
		}
		if e.Tracks == nil || e.Tracks.Len() == 0 {
			return nil, validationf("collection", "subject %q has no valid tracks", e.Subject)
		}
		if _, dup := tc.tracks[e.Subject]; dup {
			return nil, validationf("collection", "duplicate subject %q", e.Subject)
		}
		tc.subjects = append(tc.subjects, e.Subject)
		tc.tracks[e.Subject] = e.Tracks
	}

	if cfg.supplied {
		if len(cfg.summary) != len(entries) {
			return nil, validationf("collection", "%d summary rows for %d subjects", len(cfg.summary), len(entries))
		}
		tc.summary = slices.Clone(cfg.summary)
	} else {
		tc.summary = make([]SubjectSummary, len(entries))
		for i, s := range tc.subjects {
			ts := tc.tracks[s]
			tc.summary[i] = SubjectSummary{
				Subject:     s,
				TrackCount:  ts.Len(),
				PointCount:  ts.PointCount(),
				Length:      ts.Length(),
				DurationSec: ts.DurationSec(),
			}
		}
	}
	return tc, nil
}

func (tc *TracksCollection) Len() int { return len(tc.subjects) }

func (tc *TracksCollection) Subjects() []string { return slices.Clone(tc.subjects) }

func (tc *TracksCollection) Tracks(subject string) (*Tracks, bool) {
	ts, ok := tc.tracks[subject]
	return ts, ok
}

func (tc *TracksCollection) All() iter.Seq2[string, *Tracks] {
	return func(yield func(string, *Tracks) bool) {
		for _, s := range tc.subjects {
			if !yield(s, tc.tracks[s]) {
				return
			}
		}
	}
}

func (tc *TracksCollection) Summary() []SubjectSummary { return slices.Clone(tc.summary) }

func (tc *TracksCollection) TrackCount() int {
	n := 0
	for _, ts := range tc.tracks {
		n += ts.Len()
	}
	return n
}

func (tc *TracksCollection) PointCount() int {
	n := 0
	for _, ts := range tc.tracks {
		n += ts.PointCount()
	}
	return n
}

// With returns a new collection in which subject maps to ts. An existing
// subject keeps its position; a new one is appended.
func (tc *TracksCollection) With(subject string, ts *Tracks) (*TracksCollection, error) {
	entries := make([]NamedTracks, 0, len(tc.subjects)+1)
	replaced := false
	for _, s := range tc.subjects {
		if s == subject {
			entries = append(entries, NamedTracks{Subject: s, Tracks: ts})
			replaced = true
			continue
		}
		entries = append(entries, NamedTracks{Subject: s, Tracks: tc.tracks[s]})
	}
	if !replaced {
		entries = append(entries, NamedTracks{Subject: subject, Tracks: ts})
	}
	return NewTracksCollection(entries)
}

// Map applies fn to every track of every subject, preserving order.
func (tc *TracksCollection) Map(fn func(subject, id string, t *Track) (*Track, error)) (*TracksCollection, error) {
	entries := make([]NamedTracks, 0, len(tc.subjects))
	for _, s := range tc.subjects {
		mapped, err := tc.tracks[s].Map(func(id string, t *Track) (*Track, error) {
			return fn(s, id, t)
		})
		if err != nil {
			return nil, fmt.Errorf("subject %q: %w", s, err)
		}
		entries = append(entries, NamedTracks{Subject: s, Tracks: mapped})
	}
	return NewTracksCollection(entries)
}
