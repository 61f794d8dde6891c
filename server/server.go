// Package server exposes the latest harvest over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/internal"
	"github.com/tmshv/rfpharvest/metrics"
	"github.com/tmshv/rfpharvest/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Archive interface {
	GetRecords(ctx context.Context, source string) ([]internal.Record, error)
	GetBatches(ctx context.Context) ([]store.BatchInfo, error)
}

// Server serves the artifact at ArtifactPath. The file is read on every
// request so a concurrent harvest is picked up without a restart.
type Server struct {
	ArtifactPath string
	Archive      Archive
	Metrics      *metrics.Harvest
	Log          *zap.Logger
}

func (s *Server) Router() *fiber.App {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(s.logRequests)

	app.Get("/healthz", s.health)
	app.Get("/rfps", s.listRFPs) // ?source=&agency=&q=&page=1&limit=50
	app.Get("/sources", s.listSources)
	app.Get("/archive/rfps", s.listArchived) // ?source=
	app.Get("/archive/batches", s.listBatches)
	if s.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}
	return app
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.Log.Debug("Request served",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.Log.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) artifact() (internal.Artifact, error) {
	art, err := store.ReadArtifact(s.ArtifactPath)
	if errors.Is(err, os.ErrNotExist) {
		return internal.Artifact{}, fiber.NewError(fiber.StatusServiceUnavailable, "no harvest has completed yet")
	}
	return art, err
}

func (s *Server) listRFPs(c *fiber.Ctx) error {
	art, err := s.artifact()
	if err != nil {
		return err
	}

	source := c.Query("source")
	agency := strings.ToLower(c.Query("agency"))
	q := strings.ToLower(c.Query("q"))

	matched := make([]internal.Record, 0, len(art.RFPs))
	for _, r := range art.RFPs {
		if source != "" && r.Source != source {
			continue
		}
		if agency != "" && !strings.Contains(strings.ToLower(r.Agency), agency) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Title), q) && !strings.Contains(strings.ToLower(r.Description), q) {
			continue
		}
		matched = append(matched, r)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultLimit)))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return c.JSON(fiber.Map{
		"run_id":       art.RunID,
		"collected_at": art.CollectedAt,
		"simulated":    art.Simulated,
		"total":        len(matched),
		"page":         page,
		"limit":        limit,
		"data":         matched[start:end],
	})
}

func (s *Server) listSources(c *fiber.Ctx) error {
	art, err := s.artifact()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"run_id":       art.RunID,
		"collected_at": art.CollectedAt,
		"duplicates":   art.Duplicates,
		"sources":      art.Sources,
	})
}

func (s *Server) listArchived(c *fiber.Ctx) error {
	if s.Archive == nil {
		return fiber.NewError(fiber.StatusNotFound, "archive is not configured")
	}
	recs, err := s.Archive.GetRecords(c.UserContext(), c.Query("source"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"total": len(recs), "data": recs})
}

func (s *Server) listBatches(c *fiber.Ctx) error {
	if s.Archive == nil {
		return fiber.NewError(fiber.StatusNotFound, "archive is not configured")
	}
	batches, err := s.Archive.GetBatches(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": batches})
}
