package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"trackhub/internal/shared/geo"
	"trackhub/internal/trajectory"

	"github.com/segmentio/kafka-go"
)

// PointMessage is the wire format of one streamed position.
type PointMessage struct {
	Subject    string             `json:"subject"`
	TrackID    string             `json:"track_id"`
	Lat        float64            `json:"lat"`
	Lon        float64            `json:"lon"`
	Time       time.Time          `json:"time"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

func (m PointMessage) Valid() bool {
	return m.Subject != "" && m.TrackID != "" && !m.Time.IsZero() && geo.ValidCoordinate(m.Lat, m.Lon)
}

type trackKey struct{ subject, id string }

// Collector accumulates streamed points per (subject, track) in first-seen
// order. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	order  []trackKey
	points map[trackKey][]trajectory.Point
	n      int
}

func NewCollector() *Collector {
	return &Collector{points: map[trackKey][]trajectory.Point{}}
}

func (c *Collector) Add(m PointMessage) {
	k := trackKey{m.Subject, m.TrackID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.points[k]; !ok {
		c.order = append(c.order, k)
	}
	c.points[k] = append(c.points[k], trajectory.Point{Lon: m.Lon, Lat: m.Lat, Time: m.Time.UTC(), Attributes: m.Attributes})
	c.n++
}

// Len returns the number of points collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Raw snapshots the collected tracks with points sorted by time. Messages
// that share a timestamp keep their arrival order.
func (c *Collector) Raw() []RawTrack {
	c.mu.Lock()
	defer c.mu.Unlock()

	raws := make([]RawTrack, len(c.order))
	for i, k := range c.order {
		pts := slices.Clone(c.points[k])
		slices.SortStableFunc(pts, func(a, b trajectory.Point) int { return a.Time.Compare(b.Time) })
		raws[i] = RawTrack{Subject: k.subject, ID: k.id, Source: "kafka", Points: pts}
	}
	return raws
}

func (c *Collector) Build(ctx context.Context, opts Options) (*trajectory.TracksCollection, *Report, error) {
	return Build(ctx, c.Raw(), opts)
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxMessages stops the source after that many valid points; zero means
	// no limit.
	MaxMessages int
	// IdleTimeout stops the source when no message arrived for that long;
	// zero means wait for ctx.
	IdleTimeout time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource feeds PointMessages from a topic into a Collector.
type KafkaSource struct {
	reader    messageReader
	collector *Collector
	cfg       KafkaConfig
	log       *slog.Logger
}

func NewKafkaSource(cfg KafkaConfig, collector *Collector, log *slog.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return newKafkaSource(reader, cfg, collector, log)
}

func newKafkaSource(reader messageReader, cfg KafkaConfig, collector *Collector, log *slog.Logger) *KafkaSource {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSource{reader: reader, collector: collector, cfg: cfg, log: log}
}

// Run consumes until ctx is done, MaxMessages valid points were collected,
// or the source stayed idle for IdleTimeout. Malformed messages are logged
// and committed so they are not redelivered.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.log.Info("starting kafka source", "brokers", s.cfg.Brokers, "topic", s.cfg.Topic, "group_id", s.cfg.GroupID)

	lastMsg := time.Now()
	accepted := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.cfg.IdleTimeout > 0 && time.Since(lastMsg) >= s.cfg.IdleTimeout {
			s.log.Info("kafka source idle", "points", accepted)
			return nil
		}

		readCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		msg, err := s.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				continue
			}
			s.log.Error("fetch message failed", "error", err)
			return err
		}
		lastMsg = time.Now()

		var pm PointMessage
		if err := json.Unmarshal(msg.Value, &pm); err != nil || !pm.Valid() {
			s.log.Warn("invalid message", "error", err, "offset", msg.Offset)
			s.commit(ctx, msg)
			continue
		}

		s.collector.Add(pm)
		s.commit(ctx, msg)
		accepted++
		if s.cfg.MaxMessages > 0 && accepted >= s.cfg.MaxMessages {
			return nil
		}
	}
}

func (s *KafkaSource) commit(ctx context.Context, msg kafka.Message) {
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		s.log.Warn("commit failed", "error", err, "offset", msg.Offset)
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
