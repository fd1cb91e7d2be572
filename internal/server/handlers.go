package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/contentops/tailor/internal/personalize"
	"github.com/contentops/tailor/internal/store"
	"github.com/contentops/tailor/internal/telemetry"
	"github.com/contentops/tailor/models"
)

// PersonalizeHandler serves the two phases of the protocol: trigger a
// personalization run, and fetch the stored variant afterwards.
type PersonalizeHandler struct {
	Orchestrator *personalize.Orchestrator
	Telemetry    *telemetry.Telemetry
	Store        *store.Store
}

func (h *PersonalizeHandler) Register(g *echo.Group, auth *AuthHandler) {
	g.Use(auth.Middleware)
	g.POST("/personalize", h.personalizePage)
	g.GET("/pages/:page_id", h.getPage)
	g.GET("/pages/:page_id/segments", h.listSegments)
	g.GET("/metrics/summary", h.metricsSummary)
}

func (h *PersonalizeHandler) personalizePage(c echo.Context) error {
	var req models.PersonalizationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.PageID = strings.TrimSpace(req.PageID)
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.PageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "page_id required")
	}
	if req.VisitorID == "" && req.SegmentHint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "visitor_id or segment required")
	}

	result, err := h.Orchestrator.Personalize(c.Request().Context(), req)
	if err != nil {
		return c.JSON(statusForError(err), result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *PersonalizeHandler) getPage(c echo.Context) error {
	pageID := c.Param("page_id")
	seg := models.Segment(strings.TrimSpace(c.QueryParam("segment")))
	if seg == "" {
		visitorID := strings.TrimSpace(c.QueryParam("visitor_id"))
		if visitorID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "segment or visitor_id required")
		}
		seg = h.Orchestrator.ResolveSegment(c.Request().Context(), visitorID)
	}

	page, err := h.Orchestrator.Lookup(c.Request().Context(), pageID, seg)
	if errors.Is(err, models.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no personalized variant for "+pageID+"/"+string(seg))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

func (h *PersonalizeHandler) listSegments(c echo.Context) error {
	segments, err := h.Store.Segments(c.Request().Context(), c.Param("page_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if segments == nil {
		segments = []models.Segment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"segments": segments})
}

func (h *PersonalizeHandler) metricsSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Telemetry.Snapshot())
}

// statusForError maps pipeline error kinds onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRunInFlight):
		return http.StatusConflict
	case errors.Is(err, models.ErrRewriteTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrUpstreamUnavailable), errors.Is(err, models.ErrSegmentUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
