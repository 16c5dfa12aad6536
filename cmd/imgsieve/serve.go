package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/hupe1980/imgsieve"
	"github.com/hupe1980/imgsieve/api"
	"github.com/hupe1980/imgsieve/config"
)

var serveFlags struct {
	collection string
	addr       string
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.collection, "collection", "c", "", "processed collection directory")
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve triage sessions over a processed collection",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	dir := cfg.Collection.Dir
	if cmd.Flags().Changed("collection") {
		dir = serveFlags.collection
	}
	addr := cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveFlags.addr
	}

	coll, err := imgsieve.Open(dir,
		imgsieve.WithLogger(logger),
		imgsieve.WithGridSize(cfg.Session.GridRows, cfg.Session.GridCols),
		imgsieve.WithRandomSuggChance(cfg.Session.RandomSuggChance),
		imgsieve.WithALRatio(cfg.Session.ALRatio),
		imgsieve.WithSeed(cfg.Session.Seed),
	)
	if err != nil {
		return err
	}

	server := api.NewServer(coll, func(o *api.Options) {
		o.Logger = logger
		o.ImageBaseURL = cfg.Collection.ImageBaseURL
		o.RateLimit = rate.Limit(cfg.Server.RateLimit)
		o.Burst = cfg.Server.Burst
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "collection", dir)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
