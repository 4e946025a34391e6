// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the run endpoints.
//
// Endpoints:
//
//	POST /runs               - Start a run (202 + runId)
//	GET  /runs               - List runs, newest first
//	GET  /runs/:id           - Run status
//	GET  /runs/:id/stream    - Websocket of log entries until terminal
//	GET  /health             - Liveness and active run count
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	runs := rg.Group("/runs")
	{
		runs.POST("", handlers.HandleStartRun)
		runs.GET("", handlers.HandleListRuns)
		runs.GET("/:id", handlers.HandleGetRun)
		runs.GET("/:id/stream", handlers.HandleStream)
	}
	rg.GET("/health", handlers.HandleHealth)
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the server spans.
	ServiceName string

	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler

	// Logger logs one line per request. Nil disables request logging.
	Logger *slog.Logger
}

// NewRouter builds the gin engine with recovery, tracing, request metrics
// and the /v1 routes.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "selfheal"
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(metricsMiddleware())
	if cfg.Logger != nil {
		router.Use(requestLogger(cfg.Logger))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
