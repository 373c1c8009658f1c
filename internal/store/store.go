// Package store persists track collections in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trackhub/internal/db"
	"trackhub/internal/shared/geo"
	"trackhub/internal/trajectory"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("collection not found")

var pointColumns = []string{"track_id", "seq", "lat", "lon", "recorded_at", "attributes", "segment_attributes"}

type Store struct {
	db  db.TxQuerier
	log *slog.Logger
}

func New(q db.TxQuerier, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: q, log: log}
}

// Save replaces the stored copy of collection name with tc. Track rows are
// inserted one by one and points are bulk copied, all in one transaction.
// It returns the number of points written.
func (s *Store) Save(ctx context.Context, name string, tc *trajectory.TracksCollection) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}

	n, err := s.save(ctx, tx, name, tc)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.log.Warn("rollback failed", "collection", name, "error", rbErr)
		}
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	s.log.Info("collection saved", "collection", name, "subjects", tc.Len(), "tracks", tc.TrackCount(), "points", n)
	return n, nil
}

func (s *Store) save(ctx context.Context, tx pgx.Tx, name string, tc *trajectory.TracksCollection) (int64, error) {
	if _, err := tx.Exec(ctx, `DELETE FROM tracks WHERE collection=$1`, name); err != nil {
		return 0, fmt.Errorf("clear collection: %w", err)
	}

	var rows [][]any
	subjectSeq := 0
	for subject, ts := range tc.All() {
		trackSeq := 0
		for id, tr := range ts.All() {
			rowID := uuid.NewString()
			_, err := tx.Exec(ctx, `
				INSERT INTO tracks (id, collection, subject, track_id, subject_seq, track_seq, metric, point_count, length_m, duration_s)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, rowID, name, subject, id, subjectSeq, trackSeq, tr.Metric().Name(), tr.Len(), tr.Length(), tr.Duration().Seconds())
			if err != nil {
				return 0, fmt.Errorf("insert track %s/%s: %w", subject, id, err)
			}

			pointRows, err := trackRows(rowID, tr)
			if err != nil {
				return 0, err
			}
			rows = append(rows, pointRows...)
			trackSeq++
		}
		subjectSeq++
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"track_points"}, pointColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy points: %w", err)
	}
	return n, nil
}

func trackRows(rowID string, tr *trajectory.Track) ([][]any, error) {
	pts := tr.Points()
	conns := tr.Connections()
	out := make([][]any, len(pts))
	for i, p := range pts {
		attrs, err := encodeAttrs(p.Attributes)
		if err != nil {
			return nil, err
		}
		var segAttrs []byte
		if i < len(conns) {
			if segAttrs, err = encodeAttrs(conns[i].Attributes); err != nil {
				return nil, err
			}
		}
		out[i] = []any{rowID, i, p.Lat, p.Lon, p.Time, attrs, segAttrs}
	}
	return out, nil
}

func encodeAttrs(m map[string]float64) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeAttrs(b []byte) (map[string]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]float64
	err := json.Unmarshal(b, &m)
	return m, err
}

type storedTrack struct {
	rowID   string
	subject string
	id      string
	metric  string
	points  []trajectory.Point
	conns   []trajectory.Connection
}

// Load rebuilds collection name through the trajectory constructors, so
// lengths and speeds are derived again rather than read back.
func (s *Store) Load(ctx context.Context, name string, opts ...trajectory.TrackOption) (*trajectory.TracksCollection, error) {
	tracks, err := s.loadTracks(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, ErrNotFound
	}
	if err := s.loadPoints(ctx, name, tracks); err != nil {
		return nil, err
	}

	var (
		entries []trajectory.NamedTracks
		named   []trajectory.NamedTrack
	)
	closeSubject := func(subject string) error {
		ts, err := trajectory.NewTracks(named)
		if err != nil {
			return fmt.Errorf("subject %q: %w", subject, err)
		}
		entries = append(entries, trajectory.NamedTracks{Subject: subject, Tracks: ts})
		named = nil
		return nil
	}

	for i, st := range tracks {
		if i > 0 && st.subject != tracks[i-1].subject {
			if err := closeSubject(tracks[i-1].subject); err != nil {
				return nil, err
			}
		}
		tr, err := st.build(opts)
		if err != nil {
			return nil, fmt.Errorf("track %s/%s: %w", st.subject, st.id, err)
		}
		named = append(named, trajectory.NamedTrack{ID: st.id, Track: tr})
	}
	if err := closeSubject(tracks[len(tracks)-1].subject); err != nil {
		return nil, err
	}

	return trajectory.NewTracksCollection(entries)
}

func (st *storedTrack) build(opts []trajectory.TrackOption) (*trajectory.Track, error) {
	metric, ok := geo.MetricByName(st.metric)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", st.metric)
	}
	trackOpts := append([]trajectory.TrackOption{trajectory.WithMetric(metric)}, opts...)
	if len(st.points) > 1 {
		trackOpts = append(trackOpts, trajectory.WithConnections(st.conns[:len(st.points)-1]))
	}
	return trajectory.NewTrack(st.points, trackOpts...)
}

func (s *Store) loadTracks(ctx context.Context, name string) ([]*storedTrack, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, subject, track_id, metric
		FROM tracks WHERE collection=$1
		ORDER BY subject_seq, track_seq
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*storedTrack
	for rows.Next() {
		var st storedTrack
		if err := rows.Scan(&st.rowID, &st.subject, &st.id, &st.metric); err != nil {
			return nil, err
		}
		tracks = append(tracks, &st)
	}
	return tracks, rows.Err()
}

func (s *Store) loadPoints(ctx context.Context, name string, tracks []*storedTrack) error {
	byRow := make(map[string]*storedTrack, len(tracks))
	for _, st := range tracks {
		byRow[st.rowID] = st
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.track_id, p.lat, p.lon, p.recorded_at, p.attributes, p.segment_attributes
		FROM track_points p JOIN tracks t ON t.id = p.track_id
		WHERE t.collection=$1
		ORDER BY t.subject_seq, t.track_seq, p.seq
	`, name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowID         string
			p             trajectory.Point
			recordedAt    time.Time
			attrs, segRaw []byte
		)
		if err := rows.Scan(&rowID, &p.Lat, &p.Lon, &recordedAt, &attrs, &segRaw); err != nil {
			return err
		}
		st, ok := byRow[rowID]
		if !ok {
			continue
		}
		p.Time = recordedAt.UTC()
		if p.Attributes, err = decodeAttrs(attrs); err != nil {
			return fmt.Errorf("point attributes: %w", err)
		}
		segAttrs, err := decodeAttrs(segRaw)
		if err != nil {
			return fmt.Errorf("segment attributes: %w", err)
		}
		st.points = append(st.points, p)
		st.conns = append(st.conns, trajectory.Connection{Attributes: segAttrs})
	}
	return rows.Err()
}

// Summaries reads per-subject aggregates without loading points.
func (s *Store) Summaries(ctx context.Context, name string) ([]trajectory.SubjectSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT subject, COUNT(*), SUM(point_count), SUM(length_m), SUM(duration_s)
		FROM tracks WHERE collection=$1
		GROUP BY subject, subject_seq
		ORDER BY subject_seq
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trajectory.SubjectSummary
	for rows.Next() {
		var ss trajectory.SubjectSummary
		if err := rows.Scan(&ss.Subject, &ss.TrackCount, &ss.PointCount, &ss.Length, &ss.DurationSec); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Collections lists the names of stored collections.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT collection FROM tracks ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
