// Package server exposes the personalization service over HTTP.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/internal/content"
	"github.com/contentops/tailor/internal/personalize"
	"github.com/contentops/tailor/internal/rewrite"
	"github.com/contentops/tailor/internal/segment"
	"github.com/contentops/tailor/internal/store"
	"github.com/contentops/tailor/internal/telemetry"
)

// Run wires the service together and serves until the process exits.
func Run(cfg *config.Config) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Host + ":" + cfg.Storage.Redis.Port,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	st, err := store.NewStore(cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	tele := telemetry.New(cfg.Telemetry)
	provider := rewrite.NewOpenAIProvider(cfg.LLM)
	rewriter := rewrite.NewRewriter(cfg.LLM, provider, tele)
	fetcher := content.NewClient(cfg.CMS)
	resolver := segment.NewResolver(cfg.CDP, cfg.Segment, rdb, provider, cfg.LLM.Model)
	locker := store.NewLocker(rdb, cfg.Personalization.ClaimTTL)
	orch := personalize.NewOrchestrator(resolver, fetcher, rewriter, st, locker,
		cfg.Personalization, cfg.General.MaxProcessingTime, tele)

	e := newEcho()

	auth := &AuthHandler{Config: cfg.Server}
	ph := &PersonalizeHandler{Orchestrator: orch, Telemetry: tele, Store: st}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))
	ph.Register(api, auth)

	return e.Start(cfg.Server.Address)
}

// newEcho builds the echo instance with the shared middleware and the
// unauthenticated operational endpoints. Split out so handler tests can run
// against the same error handling the service uses.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
