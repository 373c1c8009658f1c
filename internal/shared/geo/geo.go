package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Metric measures the distance between two points of one reference system.
type Metric interface {
	Distance(a, b orb.Point) float64
	Name() string
}

type geographic struct{}

func (geographic) Distance(a, b orb.Point) float64 { return orbgeo.DistanceHaversine(a, b) }
func (geographic) Name() string                    { return "haversine" }

type planarMetric struct{}

func (planarMetric) Distance(a, b orb.Point) float64 { return planar.Distance(a, b) }
func (planarMetric) Name() string                    { return "planar" }

var (
	// Geographic treats points as lon/lat degrees and returns metres.
	Geographic Metric = geographic{}
	// Planar treats points as projected coordinates and returns CRS units.
	Planar Metric = planarMetric{}
)

// MetricByName resolves "haversine"/"geographic" and "planar"/"projected".
func MetricByName(name string) (Metric, bool) {
	switch name {
	case "", "haversine", "geographic":
		return Geographic, true
	case "planar", "projected":
		return Planar, true
	}
	return nil, false
}

// ValidCoordinate reports whether lat/lon pass the sanity range used for
// raw GPS logs. Longitudes up to 360 are accepted since some loggers emit
// 0..360 instead of -180..180. NaN and infinities are rejected.
func ValidCoordinate(lat, lon float64) bool {
	if !Finite(lat) || !Finite(lon) {
		return false
	}
	if lat < -90 || lat > 90 {
		return false
	}
	if lon < -180 || lon > 360 {
		return false
	}
	return true
}

func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
