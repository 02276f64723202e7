// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/compass/pkg/logging"
	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/engine"
	"github.com/AleutianAI/compass/services/sync/fetch"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	defer logger.Close()

	shutdown, err := initTracing(cfg.Trace)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	opts := []engine.Option{engine.WithLogger(logger.Logger)}
	if cfg.AuthToken != "" {
		token := cfg.AuthToken
		opts = append(opts, engine.WithAuthToken(func() string { return token }))
	}
	e, err := engine.New(cfg.Engine, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(e, logger.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync API listening", "addr", cfg.Listen, "backend", cfg.Engine.BaseURL)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(e *engine.Engine, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session_id": e.SessionID()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/maintree", getMainTree(e, logger))
	v1.GET("/maintree/sections", getSections(e))
	v1.GET("/confidence", getConfidence(e, logger))
	v1.GET("/stats", getStats(e))
	v1.POST("/patch", postPatch(e))
	v1.POST("/invalidate", postInvalidate(e, logger))
	v1.POST("/logout", postLogout(e, logger))
	return r
}

// getMainTree serves the cached tree, refetching stale sections first.
// On a transient backend failure the stale tree is still served, with
// the error surfaced alongside it.
func getMainTree(e *engine.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tree, err := e.Tree(c.Request.Context())
		if errors.Is(err, fetch.ErrAuthExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		resp := gin.H{"mainTree": tree}
		if err != nil {
			logger.Warn("serving stale tree after fetch failure", "error", err)
			resp["error"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func getSections(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sections": e.SectionStates()})
	}
}

func getConfidence(e *engine.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		scores, err := e.Confidence(c.Request.Context())
		if errors.Is(err, fetch.ErrAuthExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		if err != nil {
			logger.Warn("confidence computed over possibly stale data", "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"scores": scores, "weights": e.Weights()})
	}
}

func getStats(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, e.Stats())
	}
}

func postPatch(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var instr datatypes.CacheUpdate
		if err := c.ShouldBindJSON(&instr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cache update"})
			return
		}
		if err := e.ApplyPatch(c.Request.Context(), instr); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"applied": true})
	}
}

func postInvalidate(e *engine.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Invalidate(c.Request.Context()); err != nil {
			logger.Warn("invalidation broadcast failed", "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": true, "session_id": e.SessionID()})
	}
}

func postLogout(e *engine.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Logout(c.Request.Context()); err != nil {
			logger.Warn("logout broadcast failed", "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"logged_out": true})
	}
}
