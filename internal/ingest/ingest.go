package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"trackhub/internal/shared/geo"
	"trackhub/internal/trajectory"

	"golang.org/x/sync/errgroup"
)

// RawTrack is parsed point data that has not been validated yet.
type RawTrack struct {
	Subject string
	ID      string
	Source  string
	Points  []trajectory.Point
	// Skipped counts records dropped by the coordinate sanity check.
	Skipped int
}

// BuildError identifies the track or subject that failed to load.
type BuildError struct {
	Subject string
	TrackID string
	Source  string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("subject %q track %q (%s): %v", e.Subject, e.TrackID, e.Source, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Report describes what a load kept and what it skipped.
type Report struct {
	Subjects       int
	Tracks         int
	SkippedRecords int
	Failures       []*BuildError
}

type Options struct {
	Workers int
	Policy  trajectory.UndefinedPolicy
	Metric  geo.Metric
	Logger  *slog.Logger
	// Progress is called once per track attempt, possibly concurrently.
	Progress func()
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) trackOptions() []trajectory.TrackOption {
	return []trajectory.TrackOption{
		trajectory.WithMetric(o.Metric),
		trajectory.WithUndefinedSpeed(o.Policy),
	}
}

type built struct {
	track *trajectory.Track
	err   error
}

// Build constructs every raw track concurrently and groups the survivors by
// subject in first-seen order. Tracks that fail construction are reported
// and skipped; the call fails only when nothing valid remains or ctx ends.
func Build(ctx context.Context, raws []RawTrack, opts Options) (*trajectory.TracksCollection, *Report, error) {
	results := make([]built, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tr, err := trajectory.NewTrack(raws[i].Points, opts.trackOptions()...)
			results[i] = built{track: tr, err: err}
			if opts.Progress != nil {
				opts.Progress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return assemble(raws, results, opts, &Report{})
}

func assemble(raws []RawTrack, results []built, opts Options, report *Report) (*trajectory.TracksCollection, *Report, error) {
	log := opts.logger()

	var order []string
	bySubject := map[string][]trajectory.NamedTrack{}
	seen := map[string]map[string]struct{}{}
	for i, raw := range raws {
		report.SkippedRecords += raw.Skipped
		if raw.Skipped > 0 {
			log.Warn("dropped out-of-range records", "subject", raw.Subject, "track", raw.ID, "count", raw.Skipped)
		}

		err := results[i].err
		switch {
		case err != nil:
		case raw.Subject == "":
			err = errors.New("missing subject")
		case raw.ID == "":
			err = errors.New("missing track id")
		default:
			if _, dup := seen[raw.Subject][raw.ID]; dup {
				err = fmt.Errorf("duplicate track id %q", raw.ID)
			}
		}
		if err != nil {
			report.Failures = append(report.Failures, &BuildError{Subject: raw.Subject, TrackID: raw.ID, Source: raw.Source, Err: err})
			log.Warn("track skipped", "subject", raw.Subject, "track", raw.ID, "source", raw.Source, "error", err)
			continue
		}

		if _, ok := bySubject[raw.Subject]; !ok {
			order = append(order, raw.Subject)
			seen[raw.Subject] = map[string]struct{}{}
		}
		seen[raw.Subject][raw.ID] = struct{}{}
		bySubject[raw.Subject] = append(bySubject[raw.Subject], trajectory.NamedTrack{ID: raw.ID, Track: results[i].track})
	}

	entries := make([]trajectory.NamedTracks, 0, len(order))
	for _, subject := range order {
		ts, err := trajectory.NewTracks(bySubject[subject])
		if err != nil {
			report.Failures = append(report.Failures, &BuildError{Subject: subject, Err: err})
			continue
		}
		entries = append(entries, trajectory.NamedTracks{Subject: subject, Tracks: ts})
		report.Tracks += ts.Len()
	}
	report.Subjects = len(entries)

	tc, err := trajectory.NewTracksCollection(entries)
	if err != nil {
		return nil, report, fmt.Errorf("no valid tracks: %w", err)
	}
	log.Info("collection built", "subjects", report.Subjects, "tracks", report.Tracks, "failures", len(report.Failures))
	return tc, report, nil
}

type source struct {
	path    string
	subject string
	id      string
}

// readAll parses sources concurrently and keeps input order. Read failures
// become BuildErrors rather than aborting the whole load.
func readAll(ctx context.Context, srcs []source, read func(source) ([]RawTrack, error), opts Options) ([]RawTrack, []*BuildError, error) {
	parsed := make([][]RawTrack, len(srcs))
	errs := make([]error, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range srcs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i], errs[i] = read(srcs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var raws []RawTrack
	var failures []*BuildError
	for i, src := range srcs {
		if errs[i] != nil {
			failures = append(failures, &BuildError{Subject: src.subject, TrackID: src.id, Source: src.path, Err: errs[i]})
			opts.logger().Warn("source skipped", "source", src.path, "error", errs[i])
			continue
		}
		raws = append(raws, parsed[i]...)
	}
	return raws, failures, nil
}

func buildFromSources(ctx context.Context, srcs []source, read func(source) ([]RawTrack, error), opts Options) (*trajectory.TracksCollection, *Report, error) {
	raws, failures, err := readAll(ctx, srcs, read, opts)
	if err != nil {
		return nil, nil, err
	}
	tc, report, err := Build(ctx, raws, opts)
	if report != nil {
		report.Failures = append(failures, report.Failures...)
	}
	return tc, report, err
}
