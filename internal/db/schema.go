package db

import "context"

// Schema creates the tables backing persisted track collections. Points
// reference their track row and keep their in-track order in seq; the
// connection leaving a point is stored on that point.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS tracks (
		id          UUID PRIMARY KEY,
		collection  TEXT NOT NULL,
		subject     TEXT NOT NULL,
		track_id    TEXT NOT NULL,
		subject_seq INT NOT NULL,
		track_seq   INT NOT NULL,
		metric      TEXT NOT NULL,
		point_count INT NOT NULL,
		length_m    DOUBLE PRECISION NOT NULL,
		duration_s  DOUBLE PRECISION NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (collection, subject, track_id)
	)`,
	`CREATE TABLE IF NOT EXISTS track_points (
		track_id           UUID NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
		seq                INT NOT NULL,
		lat                DOUBLE PRECISION NOT NULL,
		lon                DOUBLE PRECISION NOT NULL,
		recorded_at        TIMESTAMPTZ NOT NULL,
		attributes         JSONB,
		segment_attributes JSONB,
		PRIMARY KEY (track_id, seq)
	)`,
}

// Migrate applies Schema.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range Schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
