package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"trackhub/internal/shared/geo"
	"trackhub/internal/trajectory"

	"github.com/tidwall/gjson"
)

// ReadEnviroCar parses an enviroCar track export, a GeoJSON FeatureCollection
// of point measurements. Each phenomenon value becomes a point attribute
// keyed by the phenomenon name.
func ReadEnviroCar(data []byte) (RawTrack, error) {
	if !gjson.ValidBytes(data) {
		return RawTrack{}, errors.New("envirocar: invalid json")
	}
	doc := gjson.ParseBytes(data)

	raw := RawTrack{
		Subject: doc.Get("properties.sensor.properties.id").String(),
		ID:      doc.Get("properties.id").String(),
	}

	features := doc.Get("features")
	if !features.IsArray() {
		return RawTrack{}, errors.New("envirocar: missing features array")
	}

	var ferr error
	features.ForEach(func(key, f gjson.Result) bool {
		coords := f.Get("geometry.coordinates").Array()
		if len(coords) < 2 {
			ferr = fmt.Errorf("envirocar feature %d: missing coordinates", key.Int())
			return false
		}
		lon, lat := coords[0].Float(), coords[1].Float()
		if !geo.ValidCoordinate(lat, lon) {
			raw.Skipped++
			return true
		}

		ts, err := time.Parse(time.RFC3339, f.Get("properties.time").String())
		if err != nil {
			ferr = fmt.Errorf("envirocar feature %d: %w", key.Int(), err)
			return false
		}

		raw.Points = append(raw.Points, trajectory.Point{
			Lon:        lon,
			Lat:        lat,
			Time:       ts.UTC(),
			Attributes: phenomenons(f.Get("properties.phenomenons")),
		})
		return true
	})
	if ferr != nil {
		return RawTrack{}, ferr
	}
	return raw, nil
}

// phenomenons accepts either an object or an object serialised into a
// string, which some exports produce.
func phenomenons(r gjson.Result) map[string]float64 {
	if r.Type == gjson.String {
		r = gjson.Parse(r.String())
	}
	if !r.IsObject() {
		return nil
	}

	var attrs map[string]float64
	r.ForEach(func(name, p gjson.Result) bool {
		v := p.Get("value")
		if v.Type != gjson.Number {
			return true
		}
		if attrs == nil {
			attrs = map[string]float64{}
		}
		attrs[name.String()] = v.Float()
		return true
	})
	return attrs
}

func readEnviroCarFile(src source) ([]RawTrack, error) {
	data, err := os.ReadFile(src.path)
	if err != nil {
		return nil, err
	}
	raw, err := ReadEnviroCar(data)
	if err != nil {
		return nil, err
	}
	raw.Source = src.path
	return []RawTrack{raw}, nil
}

// LoadEnviroCar reads a set of enviroCar exports. Subject and track id come
// from each document.
func LoadEnviroCar(ctx context.Context, paths []string, opts Options) (*trajectory.TracksCollection, *Report, error) {
	srcs := make([]source, len(paths))
	for i, p := range paths {
		srcs[i] = source{path: p}
	}
	return buildFromSources(ctx, srcs, readEnviroCarFile, opts)
}
