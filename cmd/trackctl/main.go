package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"trackhub/internal/auth"
	"trackhub/internal/config"
	"trackhub/internal/db"
	"trackhub/internal/export"
	"trackhub/internal/ingest"
	"trackhub/internal/store"
	"trackhub/internal/trajectory"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func sourceFlags(extra ...cli.Flag) []cli.Flag {
	return append(extra,
		&cli.StringFlag{Name: "geolife", Usage: "GeoLife root directory (one folder per subject)"},
		&cli.StringSliceFlag{Name: "envirocar", Usage: "enviroCar track export `FILE`s"},
		&cli.StringSliceFlag{Name: "gpx", Usage: "GPX `FILE`s, one subject per file"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "parallel track builders (0 = GOMAXPROCS)"},
		&cli.StringFlag{Name: "undefined-speed", Value: "fail", Usage: "zero-duration segments: fail or mark"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "no progress bar"},
	)
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "trackctl",
		Usage:     "Load, inspect and export trajectory collections",
		Writer:    out,
		ErrWriter: errOut,
		Commands: []*cli.Command{
			{
				Name:   "summary",
				Usage:  "Print per-subject summaries",
				Flags:  sourceFlags(),
				Action: summaryAction,
			},
			{
				Name:   "flatten",
				Usage:  "Write the flattened table as CSV",
				Flags:  sourceFlags(&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"}),
				Action: flattenAction,
			},
			{
				Name:  "geojson",
				Usage: "Write the collection as a GeoJSON FeatureCollection",
				Flags: sourceFlags(
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
					&cli.Float64Flag{Name: "simplify", Usage: "Douglas-Peucker threshold in coordinate units"},
				),
				Action: geojsonAction,
			},
			{
				Name:   "persist",
				Usage:  "Save the collection to Postgres (POSTGRES_URL)",
				Flags:  sourceFlags(&cli.StringFlag{Name: "name", Required: true, Usage: "collection name"}),
				Action: persistAction,
			},
			{
				Name:  "token",
				Usage: "Issue an operator token for the write API (JWT_SECRET)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "operator", Required: true},
					&cli.DurationFlag{Name: "ttl", Value: auth.DefaultTokenTTL},
				},
				Action: tokenAction,
			},
			{
				Name:  "consume",
				Usage: "Collect points from Kafka (KAFKA_*) and print summaries",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max", Usage: "stop after this many points"},
					&cli.DurationFlag{Name: "idle", Value: 30 * time.Second, Usage: "stop after this long without messages"},
					&cli.StringFlag{Name: "persist", Usage: "also save under this collection name"},
					&cli.StringFlag{Name: "undefined-speed", Value: "fail"},
				},
				Action: consumeAction,
			},
		},
	}
}

func ingestOptions(c *cli.Context) (ingest.Options, error) {
	policy, err := trajectory.ParseUndefinedPolicy(c.String("undefined-speed"))
	if err != nil {
		return ingest.Options{}, err
	}
	return ingest.Options{Workers: c.Int("workers"), Policy: policy}, nil
}

func newBar(c *cli.Context, total int, desc string) *progressbar.ProgressBar {
	w := c.App.ErrWriter
	if c.Bool("quiet") {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// load builds one collection from whichever source flag is set.
func load(c *cli.Context) (*trajectory.TracksCollection, error) {
	opts, err := ingestOptions(c)
	if err != nil {
		return nil, err
	}

	var (
		tc     *trajectory.TracksCollection
		report *ingest.Report
		bar    *progressbar.ProgressBar
	)
	switch {
	case c.String("geolife") != "":
		var total int
		if total, err = ingest.CountGeoLife(c.String("geolife")); err != nil {
			return nil, err
		}
		bar = newBar(c, total, "Loading GeoLife")
		opts.Progress = func() { _ = bar.Add(1) }
		tc, report, err = ingest.LoadGeoLife(c.Context, c.String("geolife"), opts)
	case len(c.StringSlice("envirocar")) > 0:
		bar = newBar(c, len(c.StringSlice("envirocar")), "Loading enviroCar")
		opts.Progress = func() { _ = bar.Add(1) }
		tc, report, err = ingest.LoadEnviroCar(c.Context, c.StringSlice("envirocar"), opts)
	case len(c.StringSlice("gpx")) > 0:
		bar = newBar(c, -1, "Loading GPX")
		opts.Progress = func() { _ = bar.Add(1) }
		tc, report, err = ingest.LoadGPX(c.Context, c.StringSlice("gpx"), opts)
	default:
		return nil, errors.New("one of --geolife, --envirocar or --gpx is required")
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(c.App.ErrWriter)
	}
	if report != nil {
		for _, f := range report.Failures {
			fmt.Fprintf(c.App.ErrWriter, "skipped: %v\n", f)
		}
		if report.SkippedRecords > 0 {
			fmt.Fprintf(c.App.ErrWriter, "dropped %d out-of-range records\n", report.SkippedRecords)
		}
	}
	return tc, err
}

func output(c *cli.Context) (io.Writer, func() error, error) {
	path := c.String("out")
	if path == "" {
		return c.App.Writer, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func printSummary(w io.Writer, tc *trajectory.TracksCollection) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tTRACKS\tPOINTS\tLENGTH_M\tDURATION_S")
	for _, s := range tc.Summary() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.0f\n", s.Subject, s.TrackCount, s.PointCount, s.Length, s.DurationSec)
	}
	return tw.Flush()
}

func summaryAction(c *cli.Context) error {
	tc, err := load(c)
	if err != nil {
		return err
	}
	return printSummary(c.App.Writer, tc)
}

func flattenAction(c *cli.Context) error {
	tc, err := load(c)
	if err != nil {
		return err
	}
	w, closeFn, err := output(c)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(w, tc.Flatten()); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func geojsonAction(c *cli.Context) error {
	tc, err := load(c)
	if err != nil {
		return err
	}
	if threshold := c.Float64("simplify"); threshold > 0 {
		tc, err = tc.Map(func(_, _ string, t *trajectory.Track) (*trajectory.Track, error) {
			return t.Simplify(threshold)
		})
		if err != nil {
			return err
		}
	}

	b, err := export.GeoJSON(tc.Flatten()).MarshalJSON()
	if err != nil {
		return err
	}
	w, closeFn, err := output(c)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func saveCollection(ctx context.Context, name string, tc *trajectory.TracksCollection) (int64, error) {
	pg, err := db.ConnectPostgres(config.Load())
	if err != nil {
		return 0, fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := db.Migrate(ctx, pg); err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	return store.New(pg, nil).Save(ctx, name, tc)
}

func persistAction(c *cli.Context) error {
	tc, err := load(c)
	if err != nil {
		return err
	}
	n, err := saveCollection(c.Context, c.String("name"), tc)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "saved %s: %d subjects, %d tracks, %d points\n", c.String("name"), tc.Len(), tc.TrackCount(), n)
	return nil
}

func tokenAction(c *cli.Context) error {
	cfg := config.Load()
	resp, err := auth.NewService(cfg.JWTSecret).IssueToken(c.String("operator"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, resp.AccessToken)
	return nil
}

func consumeAction(c *cli.Context) error {
	cfg := config.Load()
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is not set")
	}
	policy, err := trajectory.ParseUndefinedPolicy(c.String("undefined-speed"))
	if err != nil {
		return err
	}

	collector := ingest.NewCollector()
	src := ingest.NewKafkaSource(ingest.KafkaConfig{
		Brokers:     brokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroup,
		MaxMessages: c.Int("max"),
		IdleTimeout: c.Duration("idle"),
	}, collector, nil)
	defer src.Close()

	if err := src.Run(c.Context); err != nil {
		return err
	}
	tc, _, err := collector.Build(c.Context, ingest.Options{Workers: cfg.IngestWorkers, Policy: policy})
	if err != nil {
		return err
	}
	if err := printSummary(c.App.Writer, tc); err != nil {
		return err
	}
	if name := c.String("persist"); name != "" {
		n, err := saveCollection(c.Context, name, tc)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "saved %s: %d points\n", name, n)
	}
	return nil
}
