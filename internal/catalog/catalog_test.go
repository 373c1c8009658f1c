package catalog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"trackhub/internal/trajectory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collection(t *testing.T, subjects ...string) *trajectory.TracksCollection {
	t.Helper()
	tr, err := trajectory.NewTrack([]trajectory.Point{{Lon: 1, Lat: 2, Time: time.Unix(0, 0)}})
	require.NoError(t, err)
	ts, err := trajectory.NewTracks([]trajectory.NamedTrack{{ID: "t", Track: tr}})
	require.NoError(t, err)

	entries := make([]trajectory.NamedTracks, len(subjects))
	for i, s := range subjects {
		entries[i] = trajectory.NamedTracks{Subject: s, Tracks: ts}
	}
	tc, err := trajectory.NewTracksCollection(entries)
	require.NoError(t, err)
	return tc
}

func TestCatalogPutGetNames(t *testing.T) {
	t.Parallel()

	c := New()
	c.Put("gpx", collection(t, "a"))
	c.Put("geolife", collection(t, "000"))

	assert.Equal(t, []string{"geolife", "gpx"}, c.Names())
	tc, ok := c.Get("gpx")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, tc.Subjects())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCatalogMerge(t *testing.T) {
	t.Parallel()

	c := New()
	merged, err := c.Merge("live", collection(t, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, merged.Subjects())

	merged, err = c.Merge("live", collection(t, "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, merged.Subjects())
	assert.Equal(t, 3, merged.TrackCount())
}

func TestCatalogConcurrentMerge(t *testing.T) {
	t.Parallel()

	c := New()
	adds := make([]*trajectory.TracksCollection, 16)
	for i := range adds {
		adds[i] = collection(t, fmt.Sprintf("s%02d", i))
	}

	var wg sync.WaitGroup
	for _, add := range adds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Merge("live", add)
		}()
	}
	wg.Wait()

	tc, ok := c.Get("live")
	require.True(t, ok)
	assert.Equal(t, 16, tc.Len())
}
