package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trackhub/internal/config"
	"trackhub/internal/db"
	"trackhub/internal/ingest"
	"trackhub/internal/server"
	"trackhub/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	if err := config.Validate(cfg); err != nil {
		log.Printf("invalid configuration: %v", err)
		return
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed, persistence disabled: %v", err)
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	var q db.TxQuerier
	if pg != nil {
		if err := db.Migrate(ctx, pg); err != nil {
			log.Printf("schema migration failed, persistence disabled: %v", err)
		} else {
			q = pg
		}
	}
	srv := server.NewServer(cfg, q, rdb)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.GeoLifeDir != "" {
		preloadGeoLife(runCtx, srv, cfg.GeoLifeDir)
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		go consumeKafka(runCtx, srv, ingest.KafkaConfig{Brokers: brokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup})
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	_ = srv.Stream.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}

func preloadGeoLife(ctx context.Context, srv *server.Server, dir string) {
	start := time.Now()
	tc, report, err := ingest.LoadGeoLife(ctx, dir, srv.Ingest)
	if err != nil {
		log.Printf("geolife preload failed: %v", err)
		return
	}
	srv.Catalog.Put("geolife", tc)
	log.Printf("geolife loaded: %d subjects, %d tracks, %d failures in %s",
		report.Subjects, report.Tracks, len(report.Failures), time.Since(start).Round(time.Millisecond))
}

type batchSource interface {
	Run(ctx context.Context) error
	Close() error
}

var newKafkaSourceFn = func(cfg ingest.KafkaConfig, collector *ingest.Collector) batchSource {
	return ingest.NewKafkaSource(cfg, collector, nil)
}

// consumeKafka feeds streamed points into the "live" collection. The
// collector spans the whole run; each batch window rebuilds the collection
// from everything collected so far and broadcasts it.
func consumeKafka(ctx context.Context, srv *server.Server, cfg ingest.KafkaConfig) {
	const batchWindow = 10 * time.Second
	cfg.IdleTimeout = batchWindow

	collector := ingest.NewCollector()
	for ctx.Err() == nil {
		before := collector.Len()
		source := newKafkaSourceFn(cfg, collector)
		batchCtx, cancel := context.WithTimeout(ctx, batchWindow)
		err := source.Run(batchCtx)
		cancel()
		_ = source.Close()
		if err != nil {
			log.Printf("kafka source error: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if collector.Len() == before {
			continue
		}

		tc, _, err := collector.Build(ctx, srv.Ingest)
		if err != nil {
			log.Printf("kafka batch dropped: %v", err)
			continue
		}
		if _, err := srv.Catalog.Merge("live", tc); err != nil {
			log.Printf("kafka merge failed: %v", err)
			continue
		}
		if err := srv.Stream.BroadcastMessage(stream.Message{Type: "table", Collection: "live", Data: tc.Flatten()}); err != nil {
			log.Printf("live broadcast failed: %v", err)
		}
	}
}
