package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trackhub/internal/shared/geo"
	"trackhub/internal/trajectory"

	"github.com/tkrajina/gpxgo/gpx"
)

// ReadGPX returns one RawTrack per track segment. Segment ids are the track
// name (or its index) plus the segment index; Subject is left to the caller.
func ReadGPX(r io.Reader) ([]RawTrack, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	var raws []RawTrack
	for ti, trk := range doc.Tracks {
		name := strings.TrimSpace(trk.Name)
		if name == "" {
			name = fmt.Sprintf("track-%d", ti)
		}
		for si, seg := range trk.Segments {
			raw := RawTrack{ID: fmt.Sprintf("%s-%d", name, si)}
			for _, pt := range seg.Points {
				if !geo.ValidCoordinate(pt.Latitude, pt.Longitude) {
					raw.Skipped++
					continue
				}
				p := trajectory.Point{Lon: pt.Longitude, Lat: pt.Latitude, Time: pt.Timestamp.UTC()}
				if ele := pt.GetElevation(); ele.NotNull() {
					p.Attributes = map[string]float64{AttrAltitude: ele.Value()}
				}
				raw.Points = append(raw.Points, p)
			}
			raws = append(raws, raw)
		}
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("gpx: no track segments")
	}
	return raws, nil
}

func readGPXFile(src source) ([]RawTrack, error) {
	f, err := os.Open(src.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raws, err := ReadGPX(f)
	if err != nil {
		return nil, err
	}
	for i := range raws {
		raws[i].Subject = src.subject
		raws[i].Source = src.path
	}
	return raws, nil
}

// LoadGPX reads GPX files; each file's base name is its subject.
func LoadGPX(ctx context.Context, paths []string, opts Options) (*trajectory.TracksCollection, *Report, error) {
	srcs := make([]source, len(paths))
	for i, p := range paths {
		srcs[i] = source{path: p, subject: strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))}
	}
	return buildFromSources(ctx, srcs, readGPXFile, opts)
}
