package server

import (
	"bytes"
	"errors"
	"slices"
	"strconv"
	"strings"

	"trackhub/internal/export"
	"trackhub/internal/ingest"
	"trackhub/internal/store"
	"trackhub/internal/stream"
	"trackhub/internal/trajectory"

	"github.com/gofiber/fiber/v2"
)

func registerCollectionRoutes(r fiber.Router, s *Server, jwtMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		names := s.Catalog.Names()
		if s.Store == nil {
			return c.JSON(fiber.Map{"collections": names})
		}
		stored, err := s.Store.Collections(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		names = append(names, stored...)
		slices.Sort(names)
		return c.JSON(fiber.Map{"collections": slices.Compact(names), "stored": stored})
	})

	r.Get("/:name/summary", func(c *fiber.Ctx) error {
		if tc, ok := s.Catalog.Get(c.Params("name")); ok {
			return c.JSON(tc.Summary())
		}
		if s.Store == nil {
			return fiber.NewError(fiber.StatusNotFound, "collection not found")
		}
		summaries, err := s.Store.Summaries(c.Context(), c.Params("name"))
		if err != nil {
			return storeError(err)
		}
		return c.JSON(summaries)
	})

	r.Get("/:name/subjects/:subject", func(c *fiber.Ctx) error {
		ts, err := s.subject(c)
		if err != nil {
			return err
		}
		return c.JSON(ts.Summary())
	})

	r.Get("/:name/subjects/:subject/tracks/:track", func(c *fiber.Ctx) error {
		ts, err := s.subject(c)
		if err != nil {
			return err
		}
		tr, ok := ts.Track(c.Params("track"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "track not found")
		}
		return c.JSON(tr)
	})

	r.Get("/:name/flat", func(c *fiber.Ctx) error {
		tc, err := s.collection(c)
		if err != nil {
			return err
		}
		table := tc.Flatten()
		switch c.Query("format", "json") {
		case "json":
			return c.JSON(table)
		case "csv":
			out, err := export.CSV(table)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			c.Set(fiber.HeaderContentType, "text/csv")
			return c.Send(out)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "format must be json or csv")
		}
	})

	r.Get("/:name/geojson", func(c *fiber.Ctx) error {
		tc, err := s.collection(c)
		if err != nil {
			return err
		}
		if raw := c.Query("simplify"); raw != "" {
			threshold, err := strconv.ParseFloat(raw, 64)
			if err != nil || threshold < 0 {
				return fiber.NewError(fiber.StatusBadRequest, "simplify must be a non-negative number")
			}
			tc, err = tc.Map(func(_, _ string, t *trajectory.Track) (*trajectory.Track, error) {
				return t.Simplify(threshold)
			})
			if err != nil {
				return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
			}
		}
		return c.JSON(export.GeoJSON(tc.Flatten()))
	})

	r.Post("/:name", jwtMiddleware, func(c *fiber.Ctx) error {
		raws, err := parseUpload(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		added, report, err := ingest.Build(c.Context(), raws, s.Ingest)
		if err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error(), "report": reportJSON(report)})
		}

		name := c.Params("name")
		if _, err := s.Catalog.Merge(name, added); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		if err := s.Stream.BroadcastMessage(stream.Message{Type: "table", Collection: name, Data: added.Flatten()}); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"collection": name,
			"subjects":   added.Subjects(),
			"report":     reportJSON(report),
		})
	})

	r.Post("/:name/persist", jwtMiddleware, func(c *fiber.Ctx) error {
		if s.Store == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "persistence disabled")
		}
		tc, err := s.collection(c)
		if err != nil {
			return err
		}
		n, err := s.Store.Save(c.Context(), c.Params("name"), tc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"collection": c.Params("name"), "points": n})
	})

	r.Post("/:name/restore", jwtMiddleware, func(c *fiber.Ctx) error {
		if s.Store == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "persistence disabled")
		}
		tc, err := s.Store.Load(c.Context(), c.Params("name"), trajectory.WithUndefinedSpeed(s.Ingest.Policy))
		if err != nil {
			return storeError(err)
		}
		s.Catalog.Put(c.Params("name"), tc)
		return c.JSON(tc.Summary())
	})
}

func (s *Server) collection(c *fiber.Ctx) (*trajectory.TracksCollection, error) {
	tc, ok := s.Catalog.Get(c.Params("name"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "collection not found")
	}
	return tc, nil
}

func (s *Server) subject(c *fiber.Ctx) (*trajectory.Tracks, error) {
	tc, err := s.collection(c)
	if err != nil {
		return nil, err
	}
	ts, ok := tc.Tracks(c.Params("subject"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "subject not found")
	}
	return ts, nil
}

func parseUpload(c *fiber.Ctx) ([]ingest.RawTrack, error) {
	body := c.Body()
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	switch strings.ToLower(c.Query("format", "envirocar")) {
	case "envirocar":
		raw, err := ingest.ReadEnviroCar(body)
		if err != nil {
			return nil, err
		}
		if subject := c.Query("subject"); subject != "" {
			raw.Subject = subject
		}
		raw.Source = "upload"
		return []ingest.RawTrack{raw}, nil
	case "gpx":
		subject := c.Query("subject")
		if subject == "" {
			return nil, errors.New("subject required for gpx uploads")
		}
		raws, err := ingest.ReadGPX(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for i := range raws {
			raws[i].Subject, raws[i].Source = subject, "upload"
		}
		return raws, nil
	default:
		return nil, errors.New("format must be envirocar or gpx")
	}
}

func reportJSON(r *ingest.Report) fiber.Map {
	if r == nil {
		return nil
	}
	failures := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = f.Error()
	}
	return fiber.Map{
		"subjects":        r.Subjects,
		"tracks":          r.Tracks,
		"skipped_records": r.SkippedRecords,
		"failures":        failures,
	}
}

func storeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "collection not found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
