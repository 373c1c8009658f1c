package trajectory

import (
	"fmt"

	"trackhub/internal/shared/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// Project returns a copy of t with every coordinate passed through proj and
// metrics re-derived with metric. Connection attributes are carried over.
func (t *Track) Project(proj orb.Projection, metric geo.Metric) (*Track, error) {
	pts := t.Points()
	for i := range pts {
		p := proj(pts[i].Orb())
		pts[i].Lon, pts[i].Lat = p[0], p[1]
	}
	return NewTrack(pts,
		WithMetric(metric),
		WithConnections(t.Connections()),
		WithUndefinedSpeed(t.policy),
	)
}

// Simplify keeps the Douglas-Peucker subset of points for threshold, in the
// track's coordinate units. Merged segments lose their passthrough
// attributes.
func (t *Track) Simplify(threshold float64) (*Track, error) {
	if len(t.points) < 3 {
		return t, nil
	}
	simplified := simplify.DouglasPeucker(threshold).Simplify(t.LineString())
	kept, ok := simplified.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("simplify returned %T", simplified)
	}

	last := len(t.points) - 1
	if len(kept) < 2 || kept[0] != t.points[0].Orb() || kept[len(kept)-1] != t.points[last].Orb() {
		return nil, fmt.Errorf("simplified line does not keep the track endpoints")
	}

	// Endpoints bind to the first and last points; interior vertices match
	// in order between them.
	pts := make([]Point, 0, len(kept))
	pts = append(pts, t.points[0])
	j := 1
	for _, p := range t.points[1:last] {
		if j < len(kept)-1 && p.Orb() == kept[j] {
			pts = append(pts, p)
			j++
		}
	}
	if j != len(kept)-1 {
		return nil, fmt.Errorf("simplified line is not a subsequence of the track")
	}
	pts = append(pts, t.points[last])
	return NewTrack(pts, WithMetric(t.metric), WithUndefinedSpeed(t.policy))
}
