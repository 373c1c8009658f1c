// Package export renders flattened tables as CSV and GeoJSON.
package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"trackhub/internal/trajectory"

	"github.com/jszwec/csvutil"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type csvRow struct {
	Break      bool     `csv:"break"`
	Subject    string   `csv:"subject"`
	TrackID    string   `csv:"track_id"`
	Lon        *float64 `csv:"lon"`
	Lat        *float64 `csv:"lat"`
	Time       *string  `csv:"time"`
	Attributes string   `csv:"attributes"`
}

// WriteCSV writes one line per row. Break rows leave the point columns
// empty. Attributes are encoded as sorted key=value pairs joined by ';'.
func WriteCSV(w io.Writer, table trajectory.Table) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(table) == 0 {
		if err := enc.EncodeHeader(csvRow{}); err != nil {
			return err
		}
	}
	for _, r := range table {
		if err := enc.Encode(toCSVRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV is WriteCSV into a byte slice.
func CSV(table trajectory.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toCSVRow(r trajectory.Row) csvRow {
	row := csvRow{Break: r.Break, Subject: r.Subject, TrackID: r.TrackID}
	if r.Break {
		return row
	}
	lon, lat := r.Point.Lon, r.Point.Lat
	ts := r.Point.Time.UTC().Format(time.RFC3339)
	row.Lon, row.Lat, row.Time = &lon, &lat, &ts
	row.Attributes = encodeAttributes(r.Point.Attributes)
	return row
}

func encodeAttributes(attrs map[string]float64) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(attrs[k], 'f', -1, 64))
	}
	return sb.String()
}

// GeoJSON turns every run of point rows between breaks into a feature: a
// LineString, or a Point when the run has a single row.
func GeoJSON(table trajectory.Table) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, seg := range table.Segments() {
		var geom orb.Geometry
		if len(seg) == 1 {
			geom = seg[0].Point.Orb()
		} else {
			ls := make(orb.LineString, len(seg))
			for i, r := range seg {
				ls[i] = r.Point.Orb()
			}
			geom = ls
		}

		f := geojson.NewFeature(geom)
		f.Properties["subject"] = seg[0].Subject
		f.Properties["track_id"] = seg[0].TrackID
		f.Properties["point_count"] = len(seg)
		f.Properties["start"] = seg[0].Point.Time.UTC().Format(time.RFC3339)
		f.Properties["end"] = seg[len(seg)-1].Point.Time.UTC().Format(time.RFC3339)
		fc.Append(f)
	}
	return fc
}
