package trajectory

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"trackhub/internal/shared/geo"

	"github.com/paulmach/orb"
)

// Point is one timestamped position. For projected tracks Lon and Lat hold
// the planar X and Y. A missing attribute value is an absent key.
type Point struct {
	Lon        float64            `json:"lon"`
	Lat        float64            `json:"lat"`
	Time       time.Time          `json:"time"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

func (p Point) Orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

func (p Point) clone() Point {
	p.Attributes = maps.Clone(p.Attributes)
	return p
}

type MetricStatus int

const (
	MetricDefined MetricStatus = iota
	MetricUndefined
)

func (s MetricStatus) String() string {
	if s == MetricUndefined {
		return "undefined"
	}
	return "defined"
}

func (s MetricStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MetricStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "defined", "":
		*s = MetricDefined
	case "undefined":
		*s = MetricUndefined
	default:
		return fmt.Errorf("unknown metric status %q", b)
	}
	return nil
}

// Connection describes the segment between point i and point i+1.
type Connection struct {
	Length     float64            `json:"length"`
	Elapsed    time.Duration      `json:"elapsed"`
	Speed      float64            `json:"speed"`
	Status     MetricStatus       `json:"status"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

// UndefinedPolicy selects what happens when speed cannot be derived.
type UndefinedPolicy int

const (
	// FailUndefined rejects the track with an UndefinedMetricError.
	FailUndefined UndefinedPolicy = iota
	// MarkUndefined keeps the track and flags the segment MetricUndefined.
	MarkUndefined
)

func ParseUndefinedPolicy(s string) (UndefinedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return FailUndefined, nil
	case "mark":
		return MarkUndefined, nil
	}
	return FailUndefined, fmt.Errorf("unknown undefined-speed policy %q", s)
}

type trackConfig struct {
	connections []Connection
	supplied    bool
	metric      geo.Metric
	policy      UndefinedPolicy
}

type TrackOption func(*trackConfig)

// WithConnections supplies a partial connections table. Its attributes are
// kept; length, elapsed, speed and status are always re-derived.
func WithConnections(conns []Connection) TrackOption {
	return func(c *trackConfig) {
		c.connections = conns
		c.supplied = true
	}
}

func WithMetric(m geo.Metric) TrackOption {
	return func(c *trackConfig) {
		if m != nil {
			c.metric = m
		}
	}
}

func WithUndefinedSpeed(p UndefinedPolicy) TrackOption {
	return func(c *trackConfig) { c.policy = p }
}

// Track is an immutable ordered point sequence with derived connections.
type Track struct {
	points      []Point
	connections []Connection
	metric      geo.Metric
	policy      UndefinedPolicy
}

// NewTrack copies points and derives one connection per consecutive pair.
func NewTrack(points []Point, opts ...TrackOption) (*Track, error) {
	cfg := trackConfig{metric: geo.Geographic}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(points) == 0 {
		return nil, validationf("track", "at least one point required")
	}

	pts := make([]Point, len(points))
	for i, p := range points {
		if !geo.Finite(p.Lon) || !geo.Finite(p.Lat) {
			return nil, validationf("track", "point %d has a non-finite coordinate", i)
		}
		pts[i] = p.clone()
	}
	conns, err := deriveConnections(pts, cfg)
	if err != nil {
		return nil, err
	}
	return &Track{points: pts, connections: conns, metric: cfg.metric, policy: cfg.policy}, nil
}

// NewTrackFromColumns builds a track from column-oriented input. NaN in an
// attribute column marks a missing value.
func NewTrackFromColumns(coords []orb.Point, times []time.Time, attrs map[string][]float64, opts ...TrackOption) (*Track, error) {
	if len(coords) != len(times) {
		return nil, validationf("track", "%d coordinates but %d timestamps", len(coords), len(times))
	}
	for name, col := range attrs {
		if len(col) != len(coords) {
			return nil, validationf("track", "attribute %q has %d values for %d points", name, len(col), len(coords))
		}
	}

	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = Point{Lon: c[0], Lat: c[1], Time: times[i]}
		for name, col := range attrs {
			if math.IsNaN(col[i]) {
				continue
			}
			if points[i].Attributes == nil {
				points[i].Attributes = map[string]float64{}
			}
			points[i].Attributes[name] = col[i]
		}
	}
	return NewTrack(points, opts...)
}

func deriveConnections(points []Point, cfg trackConfig) ([]Connection, error) {
	n := len(points) - 1
	if cfg.supplied && len(cfg.connections) != n {
		return nil, validationf("track", "%d connections supplied for %d points, want %d", len(cfg.connections), len(points), n)
	}

	conns := make([]Connection, n)
	for i := 0; i < n; i++ {
		c := &conns[i]
		if cfg.supplied {
			c.Attributes = maps.Clone(cfg.connections[i].Attributes)
		}
		a, b := points[i], points[i+1]
		c.Length = cfg.metric.Distance(a.Orb(), b.Orb())
		c.Elapsed = b.Time.Sub(a.Time)
		if c.Elapsed <= 0 {
			if cfg.policy == FailUndefined {
				return nil, &UndefinedMetricError{Segment: i, Metric: "speed", Elapsed: c.Elapsed}
			}
			c.Status = MetricUndefined
			continue
		}
		c.Speed = c.Length / c.Elapsed.Seconds()
	}
	return conns, nil
}

func (t *Track) Len() int { return len(t.points) }

func (t *Track) Point(i int) Point { return t.points[i].clone() }

func (t *Track) Points() []Point {
	out := make([]Point, len(t.points))
	for i, p := range t.points {
		out[i] = p.clone()
	}
	return out
}

func (t *Track) Connections() []Connection {
	out := make([]Connection, len(t.connections))
	for i, c := range t.connections {
		c.Attributes = maps.Clone(c.Attributes)
		out[i] = c
	}
	return out
}

func (t *Track) Metric() geo.Metric { return t.metric }

func (t *Track) Start() time.Time { return t.points[0].Time }

func (t *Track) End() time.Time { return t.points[len(t.points)-1].Time }

func (t *Track) Duration() time.Duration { return t.End().Sub(t.Start()) }

// Length sums segment lengths in the metric's unit.
func (t *Track) Length() float64 {
	total := 0.0
	for _, c := range t.connections {
		total += c.Length
	}
	return total
}

// UndefinedSegments lists the indexes of segments whose speed is undefined.
func (t *Track) UndefinedSegments() []int {
	var out []int
	for i, c := range t.connections {
		if c.Status == MetricUndefined {
			out = append(out, i)
		}
	}
	return out
}

func (t *Track) LineString() orb.LineString {
	ls := make(orb.LineString, len(t.points))
	for i, p := range t.points {
		ls[i] = p.Orb()
	}
	return ls
}

// TrackSummary is the per-track record kept by Tracks.
type TrackSummary struct {
	ID                string    `json:"id"`
	PointCount        int       `json:"point_count"`
	Length            float64   `json:"length"`
	DurationSec       float64   `json:"duration_sec"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	MeanSpeed         float64   `json:"mean_speed"`
	UndefinedSegments int       `json:"undefined_segments"`
}

func (t *Track) Summary(id string) TrackSummary {
	s := TrackSummary{
		ID:                id,
		PointCount:        t.Len(),
		Length:            t.Length(),
		DurationSec:       t.Duration().Seconds(),
		Start:             t.Start(),
		End:               t.End(),
		UndefinedSegments: len(t.UndefinedSegments()),
	}
	if s.DurationSec > 0 {
		s.MeanSpeed = s.Length / s.DurationSec
	}
	return s
}

func (t *Track) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Metric      string       `json:"metric"`
		Points      []Point      `json:"points"`
		Connections []Connection `json:"connections"`
	}{
		Metric:      t.metric.Name(),
		Points:      t.points,
		Connections: t.connections,
	})
}
