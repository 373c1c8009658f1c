package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestGeographicMetricMeters(t *testing.T) {
	a := orb.Point{106.816, -6.2}
	b := orb.Point{107.6191, -6.9175}
	// Jakarta to Bandung is roughly 115-120 km
	if d := Geographic.Distance(a, b); d < 100_000 || d > 140_000 {
		t.Fatalf("unexpected distance: %v", d)
	}
	if Geographic.Name() != "haversine" {
		t.Fatalf("unexpected name %q", Geographic.Name())
	}
}

func TestPlanarMetric(t *testing.T) {
	d := Planar.Distance(orb.Point{0, 0}, orb.Point{3, 4})
	if d != 5 {
		t.Fatalf("expected 5, got %v", d)
	}
	if Planar.Name() != "planar" {
		t.Fatalf("unexpected name %q", Planar.Name())
	}
}

func TestMetricByName(t *testing.T) {
	if m, ok := MetricByName("planar"); !ok || m != Planar {
		t.Fatalf("expected planar metric")
	}
	if m, ok := MetricByName(""); !ok || m != Geographic {
		t.Fatalf("expected default geographic metric")
	}
	if _, ok := MetricByName("manhattan"); ok {
		t.Fatalf("expected unknown metric")
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{39.9, 116.3, true},
		{-90, -180, true},
		{45, 359.5, true},
		{91, 0, false},
		{0, -181, false},
		{0, 400, false},
		{math.NaN(), 0, false},
		{0, math.NaN(), false},
		{math.Inf(1), 0, false},
		{0, math.Inf(-1), false},
	}
	for _, c := range cases {
		if got := ValidCoordinate(c.lat, c.lon); got != c.want {
			t.Fatalf("ValidCoordinate(%v, %v) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}
