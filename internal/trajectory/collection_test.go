package trajectory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTracks(t *testing.T, sizes ...int) *Tracks {
	t.Helper()
	entries := make([]NamedTrack, len(sizes))
	for i, n := range sizes {
		entries[i] = NamedTrack{ID: fmt.Sprintf("trip-%02d", i), Track: mustTrack(t, line(n, time.Second))}
	}
	ts, err := NewTracks(entries)
	require.NoError(t, err)
	return ts
}

func TestNewTracksDerivesSummary(t *testing.T) {
	t.Parallel()

	ts := mustTracks(t, 3, 1, 4)
	summary := ts.Summary()
	require.Len(t, summary, ts.Len())
	assert.Equal(t, []string{"trip-00", "trip-01", "trip-02"}, ts.IDs())
	assert.Equal(t, 3, summary[0].PointCount)
	assert.Equal(t, "trip-01", summary[1].ID)
	assert.Equal(t, 8, ts.PointCount())
	assert.InDelta(t, 5.0, ts.DurationSec(), 1e-9)

	var order []string
	for id := range ts.All() {
		order = append(order, id)
	}
	assert.Equal(t, ts.IDs(), order)
}

func TestNewTracksValidation(t *testing.T) {
	t.Parallel()

	tr := mustTrack(t, line(2, time.Second))
	cases := map[string]struct {
		entries []NamedTrack
		opts    []TracksOption
	}{
		"empty":          {entries: nil},
		"nil track":      {entries: []NamedTrack{{ID: "a"}}},
		"zero track":     {entries: []NamedTrack{{ID: "a", Track: &Track{}}}},
		"empty id":       {entries: []NamedTrack{{ID: "", Track: tr}}},
		"duplicate id":   {entries: []NamedTrack{{ID: "a", Track: tr}, {ID: "a", Track: tr}}},
		"summary length": {entries: []NamedTrack{{ID: "a", Track: tr}}, opts: []TracksOption{WithTrackSummaries(nil)}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTracks(tc.entries, tc.opts...)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNewTracksSuppliedSummary(t *testing.T) {
	t.Parallel()

	tr := mustTrack(t, line(2, time.Second))
	supplied := []TrackSummary{{ID: "a", PointCount: 42}}
	ts, err := NewTracks([]NamedTrack{{ID: "a", Track: tr}}, WithTrackSummaries(supplied))
	require.NoError(t, err)
	assert.Equal(t, 42, ts.Summary()[0].PointCount)
}

func TestNewTracksCollection(t *testing.T) {
	t.Parallel()

	tc, err := NewTracksCollection([]NamedTracks{
		{Subject: "000", Tracks: mustTracks(t, 2, 2)},
		{Subject: "001", Tracks: mustTracks(t, 5)},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"000", "001"}, tc.Subjects())
	summary := tc.Summary()
	require.Len(t, summary, tc.Len())
	assert.Equal(t, SubjectSummary{
		Subject:     "000",
		TrackCount:  2,
		PointCount:  4,
		Length:      summary[0].Length,
		DurationSec: 2,
	}, summary[0])
	assert.Equal(t, 3, tc.TrackCount())
	assert.Equal(t, 9, tc.PointCount())
}

func TestNewTracksCollectionValidation(t *testing.T) {
	t.Parallel()

	ts := mustTracks(t, 2)
	cases := map[string]struct {
		entries []NamedTracks
		opts    []CollectionOption
	}{
		"empty":             {entries: nil},
		"null subject":      {entries: []NamedTracks{{Subject: "", Tracks: ts}}},
		"duplicate subject": {entries: []NamedTracks{{Subject: "a", Tracks: ts}, {Subject: "a", Tracks: ts}}},
		"nil tracks":        {entries: []NamedTracks{{Subject: "a"}}},
		"zero tracks":       {entries: []NamedTracks{{Subject: "a", Tracks: &Tracks{}}}},
		"summary length": {
			entries: []NamedTracks{{Subject: "a", Tracks: ts}},
			opts:    []CollectionOption{WithSubjectSummaries(make([]SubjectSummary, 2))},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTracksCollection(tc.entries, tc.opts...)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestTracksCollectionWith(t *testing.T) {
	t.Parallel()

	tc, err := NewTracksCollection([]NamedTracks{
		{Subject: "a", Tracks: mustTracks(t, 2)},
		{Subject: "b", Tracks: mustTracks(t, 2)},
	})
	require.NoError(t, err)

	replaced, err := tc.With("a", mustTracks(t, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, replaced.Subjects())
	assert.Equal(t, 2, replaced.Summary()[0].TrackCount)

	added, err := tc.With("c", mustTracks(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, added.Subjects())

	// the receiver is untouched
	assert.Equal(t, 2, tc.Len())
	assert.Equal(t, 1, tc.Summary()[0].TrackCount)
}

func TestTracksCollectionMap(t *testing.T) {
	t.Parallel()

	tc, err := NewTracksCollection([]NamedTracks{{Subject: "a", Tracks: mustTracks(t, 4, 3)}})
	require.NoError(t, err)

	var visited []string
	mapped, err := tc.Map(func(subject, id string, tr *Track) (*Track, error) {
		visited = append(visited, subject+"/"+id)
		return NewTrack(tr.Points()[:1])
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/trip-00", "a/trip-01"}, visited)
	assert.Equal(t, 2, mapped.PointCount())

	_, err = tc.Map(func(_, _ string, _ *Track) (*Track, error) {
		return NewTrack(nil)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), `subject "a"`)
	assert.Contains(t, err.Error(), `track "trip-00"`)
}
