package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/incinerator-map/internal/config"
	"github.com/sells-group/incinerator-map/internal/registry"
	"github.com/sells-group/incinerator-map/internal/server"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the map page, JSON API and map sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return runServe(ctx, cfg, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe serves until ctx is canceled, then drains HTTP traffic and ends
// every open map session.
func runServe(ctx context.Context, c *config.Config, addr string) error {
	d, err := openDeps(ctx, c)
	if err != nil {
		return err
	}
	defer d.Close()

	srv := server.New(server.Options{
		Store:          d.store,
		Remote:         d.remote,
		UseRemote:      c.Facilities.UseRemote,
		Geocoder:       d.geocoder,
		GeocodeCache:   d.cache,
		Maps:           registry.New(),
		Locator:        d.locator,
		DefaultRegion:  c.Map.DefaultRegion,
		SearchZoom:     c.Geocode.SearchZoom,
		AllowedOrigins: c.Server.AllowedOrigins,
	})

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting server",
			zap.String("addr", addr),
			zap.String("facilities", c.Facilities.Driver),
			zap.Bool("remote", d.remote != nil),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")

		// Hijacked websocket connections are not tracked by Shutdown.
		srv.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return eris.Wrap(httpSrv.Shutdown(shutdownCtx), "server shutdown")
	})

	return g.Wait()
}
