package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logsift/internal/bulk"
	"logsift/internal/constants"
	"logsift/internal/hub"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/pkg/errors"
	"logsift/pkg/health"
	"logsift/pkg/middleware"
	"logsift/pkg/ratelimit"
)

// Store is the read side of the record store.
type Store interface {
	Search(ctx context.Context, req store.SearchRequest) (store.SearchResult, error)
	Documents(ctx context.Context, req store.SearchRequest, first, last int) (store.Page, error)
	FacetCount(ctx context.Context, req store.SearchRequest, groupBy record.Field) (map[string]int64, error)
	TimeHistogram(ctx context.Context, req store.SearchRequest, widthMinutes int) (store.Histogram, error)
	Overview(ctx context.Context, zone *time.Location) (store.Overview, error)
}

type Deps struct {
	Store    Store
	Bulk     *bulk.Orchestrator
	Realtime *hub.Hub[record.Record]
	Jobs     *hub.Hub[bulk.Payload]
	Health   *health.CheckerRegistry
	// Settings is published by /api/config.
	Settings map[string]string
	// Zone is used when a request carries no offset.
	Zone   *time.Location
	Logger logger.Logger
}

type Handler struct {
	Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Zone == nil {
		deps.Zone = time.Local
	}
	if deps.Health == nil {
		deps.Health = health.NewCheckerRegistry()
	}
	return &Handler{Deps: deps}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

// NewRouter builds the engine with the middleware stack, the API routes,
// /health and /metrics. limiter may be nil.
func NewRouter(h *Handler, limiter *ratelimit.Limiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(h.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(h.Logger))
	if limiter != nil {
		router.Use(limiter.Middleware())
	}

	h.RegisterRoutes(router)

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/search", h.Search)
		api.GET("/documents", h.Documents)
		api.GET("/group/count", h.GroupCount)
		api.GET("/group/count/timeline", h.Timeline)
		api.GET("/config", h.Config)

		api.POST("/export/tsv", h.ExportTSV)
		api.POST("/export/sqlite", h.ExportSQLite)
		api.POST("/export/postgres", h.ExportPostgres)
		api.POST("/import/tsv", h.ImportTSV)

		api.GET("/job", h.ListJobs)
		api.DELETE("/job", h.RemoveJob)
		api.GET("/download", h.Download)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/realtime", h.RealtimeSocket)
		ws.GET("/job", h.JobSocket)
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	report := h.Health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// maxOffsetMinutes bounds client supplied offsets to real zones.
const maxOffsetMinutes = 18 * 60

// requestZone reads the client's zone from the X-Tz-Offset header or
// cookie. The value is the browser's getTimezoneOffset: minutes to add to
// local time to get UTC, so east of UTC is negative.
func (h *Handler) requestZone(c *gin.Context) *time.Location {
	v := c.GetHeader(constants.HeaderTzOffset)
	if v == "" {
		v, _ = c.Cookie(constants.CookieTzOffset)
	}
	return zoneFromOffset(v, h.Zone)
}

func zoneFromOffset(v string, fallback *time.Location) *time.Location {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(v)
	if err != nil || minutes > maxOffsetMinutes || minutes < -maxOffsetMinutes {
		return fallback
	}
	east := -minutes
	sign := '+'
	if east < 0 {
		sign = '-'
		east = -east
	}
	name := "UTC" + string(sign) + twoDigits(east/60) + ":" + twoDigits(east%60)
	return time.FixedZone(name, -minutes*60)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.ErrValidation.WithCause(err).WithMessage("%s must be an integer", name)
	}
	return n, nil
}
