// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command editor runs the Aleutian Edit document session server.
//
// Usage:
//
//	editor serve --config editor.yaml
//	editor serve --port 9000 --debug
//	editor check machines/door.statemachine
//
// Example requests:
//
//	# Load a resource (the response carries X-Editor-Session)
//	curl -i 'http://localhost:12230/v1/editor/service/load?resource=door.statemachine'
//
//	# Apply a delta against a known state
//	curl -X POST http://localhost:12230/v1/editor/service/update \
//	  -H 'X-Editor-Session: <session>' \
//	  -d resource=door.statemachine -d deltaText=bar -d deltaOffset=21 \
//	  -d deltaReplaceLength=3 -d requiredStateId=<stateId>
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor"
	"github.com/AleutianAI/AleutianEdit/services/editor/config"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/AleutianAI/AleutianEdit/services/editor/session"
	"github.com/AleutianAI/AleutianEdit/services/editor/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	port       int
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "editor",
		Short: "Document session server with optimistic concurrency and background validation",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the editor HTTP server",
		RunE:  runServe,
	}

	checkCmd = &cobra.Command{
		Use:   "check [file...]",
		Short: "Validate state machine files and print their diagnostics",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheck,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("debug") {
		cfg.Server.Debug = debug
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.Server.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: editor.ServiceVersion,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	backend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc, err := editor.NewService(editor.ServiceConfig{
		Engines: statemachine.Engines(cfg.Validation.PollInterval),
		Store:   backend.store,
		Watcher: backend.watcher,
		Sessions: session.RegistryConfig{
			TTL:           cfg.Sessions.TTL,
			SweepInterval: cfg.Sessions.SweepInterval,
		},
		RateLimit: cfg.Sessions.RateLimit,
		RateBurst: cfg.Sessions.RateBurst,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}
	editor.RegisterRoutes(router.Group("/v1"), editor.NewHandlers(svc))
	if h := providers.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting Aleutian Edit server",
			slog.String("address", server.Addr),
			slog.String("storage", cfg.Storage.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Aleutian Edit server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serr := server.Shutdown(sctx)
		if err := svc.Close(sctx); err != nil && serr == nil {
			serr = err
		}
		return serr
	})
	return g.Wait()
}
