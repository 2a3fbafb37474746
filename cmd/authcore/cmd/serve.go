package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/activitymap"
	"github.com/goliatone/go-authcore/httpapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the auth HTTP server",
	Long:  `Starts the HTTP server exposing register, login, refresh, logout and me endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		lgr := logger("serve")
		lgr.Info("Connected to database", "driver", cfg.Database.Driver)

		registry := prometheus.NewRegistry()
		svc, err := newService(db, registry)
		if err != nil {
			return err
		}

		opts := []httpapi.Option{
			httpapi.WithCookies(httpapi.CookieConfig{
				Enabled:     cfg.HTTP.Cookies,
				AccessName:  "access_token",
				RefreshName: "refresh_token",
				Secure:      true,
				SameSite:    "Lax",
				CSRFKey:     []byte(cfg.HTTP.CSRFKey),
			}),
		}
		if cfg.HTTP.Metrics {
			opts = append(opts, httpapi.WithMetricsGatherer(registry))
		}

		app, _ := httpapi.NewApp(svc, opts...)

		errCh := make(chan error, 1)
		go func() {
			lgr.Info("Listening", "address", cfg.HTTP.Address)
			errCh <- app.Listen(cfg.HTTP.Address)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		lgr.Info("Shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	},
}

// newService validates the auth options and wires the service. A nil
// registry disables metrics.
func newService(db *bun.DB, registry prometheus.Registerer) (*auth.Service, error) {
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	repos := auth.NewRepositoryManager(db)
	if err := repos.Validate(); err != nil {
		return nil, err
	}

	provider := loggerProvider()

	opts := []auth.ServiceOption{
		auth.WithServiceLoggerProvider(provider),
		auth.WithActivity(activitymap.NewLogSink(provider.GetLogger("auth.activity"))),
	}
	if registry != nil {
		opts = append(opts, auth.WithMetrics(auth.NewMetrics(registry)))
	}

	return auth.NewService(cfg.Auth, repos, opts...), nil
}
