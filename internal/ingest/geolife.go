package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trackhub/internal/shared/geo"
	"trackhub/internal/trajectory"

	"github.com/jszwec/csvutil"
)

const (
	pltHeaderLines  = 6
	altitudeMissing = -777
	feetToMeters    = 0.3048
	pltTimeLayout   = "2006-01-02 15:04:05"

	// AttrAltitude is the point attribute holding altitude in metres.
	AttrAltitude = "altitude"
)

var pltHeader = []string{"lat", "lon", "zero", "altitude", "days", "date", "time"}

type pltRecord struct {
	Lat      float64 `csv:"lat"`
	Lon      float64 `csv:"lon"`
	Altitude float64 `csv:"altitude"`
	Days     float64 `csv:"days"`
	Date     string  `csv:"date"`
	Clock    string  `csv:"time"`
}

// ReadPLT decodes a GeoLife .plt file: six header lines, then
// lat,lon,0,altitude(ft),days,date,time. Altitude -777 is left missing and
// out-of-range coordinates are counted in Skipped.
func ReadPLT(r io.Reader) (RawTrack, error) {
	br := bufio.NewReader(r)
	for i := 0; i < pltHeaderLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return RawTrack{}, fmt.Errorf("plt header line %d: %w", i+1, err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(pltHeader)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr, pltHeader...)
	if err != nil {
		return RawTrack{}, err
	}

	var raw RawTrack
	for {
		var rec pltRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return RawTrack{}, fmt.Errorf("plt record %d: %w", len(raw.Points)+raw.Skipped+1, err)
		}
		if !geo.ValidCoordinate(rec.Lat, rec.Lon) {
			raw.Skipped++
			continue
		}
		ts, err := time.ParseInLocation(pltTimeLayout, rec.Date+" "+rec.Clock, time.UTC)
		if err != nil {
			return RawTrack{}, fmt.Errorf("plt record %d: %w", len(raw.Points)+raw.Skipped+1, err)
		}

		p := trajectory.Point{Lon: rec.Lon, Lat: rec.Lat, Time: ts}
		if rec.Altitude != altitudeMissing {
			p.Attributes = map[string]float64{AttrAltitude: rec.Altitude * feetToMeters}
		}
		raw.Points = append(raw.Points, p)
	}
	return raw, nil
}

func readPLTFile(src source) ([]RawTrack, error) {
	f, err := os.Open(src.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := ReadPLT(f)
	if err != nil {
		return nil, err
	}
	raw.Subject, raw.ID, raw.Source = src.subject, src.id, src.path
	return []RawTrack{raw}, nil
}

// LoadGeoLife reads root/<subject>/Trajectory/*.plt into a collection with
// subjects and tracks in lexical order. Unreadable or invalid files are
// reported and skipped.
func LoadGeoLife(ctx context.Context, root string, opts Options) (*trajectory.TracksCollection, *Report, error) {
	srcs, err := geoLifeSources(root)
	if err != nil {
		return nil, nil, err
	}
	return buildFromSources(ctx, srcs, readPLTFile, opts)
}

// CountGeoLife returns the number of trajectory files under root.
func CountGeoLife(root string) (int, error) {
	srcs, err := geoLifeSources(root)
	return len(srcs), err
}

func geoLifeSources(root string) ([]source, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read geolife root: %w", err)
	}

	var srcs []source
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		files, err := filepath.Glob(filepath.Join(root, d.Name(), "Trajectory", "*.plt"))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			srcs = append(srcs, source{
				path:    f,
				subject: d.Name(),
				id:      strings.TrimSuffix(filepath.Base(f), filepath.Ext(f)),
			})
		}
	}
	return srcs, nil
}
