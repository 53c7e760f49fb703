package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/pipeline"
)

// MergeRequest is the body of POST /api/v1/actors/:id/merge.
type MergeRequest struct {
	DuplicateIDs []uint `json:"duplicate_ids"`
}

// ConfigView describes the active correlation set.
type ConfigView struct {
	Version     int64                    `json:"version"`
	Checksum    string                   `json:"checksum"`
	ActivatedAt time.Time                `json:"activated_at"`
	Settings    conf.CorrelationSettings `json:"settings"`
}

func viewOf(active *conf.ActiveCorrelation) *ConfigView {
	return &ConfigView{
		Version:     active.Version,
		Checksum:    active.Checksum,
		ActivatedAt: active.ActivatedAt,
		Settings:    active.Settings,
	}
}

func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

func parseID(c echo.Context) (uint, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return uint(id), nil
}

// parseLimit reads ?limit=; zero means the query default.
func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid limit %q", raw)
	}
	return n, nil
}

func (s *Server) analyzeDocument(c echo.Context) error {
	var req pipeline.AnalysisRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, badRequest("malformed request body: %v", err), "Invalid document")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	result, err := s.analyzer.Analyze(c.Request().Context(), &req)
	if err != nil {
		return s.HandleError(c, err, "Analysis failed")
	}
	status := http.StatusOK
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

func (s *Server) getRelated(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid limit")
	}
	rels, err := s.queries.GetRelated(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return s.HandleError(c, err, "Failed to load related documents")
	}
	return c.JSON(http.StatusOK, rels)
}

func (s *Server) getCampaignFor(c echo.Context) error {
	view, err := s.queries.GetCampaignFor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.HandleError(c, err, "Failed to load campaign")
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) getPriority(c echo.Context) error {
	score, err := s.queries.GetPriority(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.HandleError(c, err, "Failed to load priority")
	}
	return c.JSON(http.StatusOK, score)
}

func (s *Server) getEntityTimeline(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid entity id")
	}
	limit, err := parseLimit(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid limit")
	}
	timeline, err := s.queries.GetEntityTimeline(c.Request().Context(), id, limit)
	if err != nil {
		return s.HandleError(c, err, "Failed to load timeline")
	}
	return c.JSON(http.StatusOK, timeline)
}

func (s *Server) listCampaigns(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid limit")
	}
	status := entities.CampaignStatus(c.QueryParam("status"))
	list, err := s.queries.ListCampaigns(c.Request().Context(), status, limit)
	if err != nil {
		return s.HandleError(c, err, "Failed to list campaigns")
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getCampaign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid campaign id")
	}
	view, err := s.queries.GetCampaign(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "Failed to load campaign")
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) listPriorities(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid limit")
	}
	level := entities.PriorityLevel(c.QueryParam("level"))
	list, err := s.queries.ListPriorities(c.Request().Context(), level, limit)
	if err != nil {
		return s.HandleError(c, err, "Failed to list priorities")
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) mergeActors(c echo.Context) error {
	primary, err := parseID(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid actor id")
	}
	var body MergeRequest
	if err := c.Bind(&body); err != nil {
		return s.HandleError(c, badRequest("malformed request body: %v", err), "Invalid merge request")
	}
	if len(body.DuplicateIDs) == 0 {
		return s.HandleError(c, badRequest("duplicate_ids is required"), "Invalid merge request")
	}

	result, err := s.merger.MergeActorsWithTimeout(c.Request().Context(), primary, body.DuplicateIDs)
	if err != nil {
		return s.HandleError(c, err, "Merge failed")
	}
	GetLogger().Info("actors merged via api",
		logger.Uint64("primary_id", uint64(primary)),
		logger.Int("merged", len(result.MergedIDs)))
	return c.JSON(http.StatusOK, result)
}

func (s *Server) setEntityFlags(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid entity id")
	}
	var flags canonical.EntityFlags
	if err := c.Bind(&flags); err != nil {
		return s.HandleError(c, badRequest("malformed request body: %v", err), "Invalid entity flags")
	}
	e, err := s.flagger.SetEntityFlags(c.Request().Context(), id, flags)
	if err != nil {
		return s.HandleError(c, err, "Failed to update entity")
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) getConfig(c echo.Context) error {
	active := s.provider.Current()
	if active == nil {
		return s.HandleError(c, errors.Newf("no active correlation settings").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build(), "Configuration unavailable")
	}
	return c.JSON(http.StatusOK, viewOf(active))
}

func (s *Server) reloadConfig(c echo.Context) error {
	active, err := s.reloader.Reload(c.Request().Context())
	if err != nil {
		return s.HandleError(c, err, "Reload failed")
	}
	return c.JSON(http.StatusOK, viewOf(active))
}
