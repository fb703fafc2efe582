package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrsteele09/go-ehr-connect/internal/config"
	"github.com/jrsteele09/go-ehr-connect/internal/seal"
	"github.com/jrsteele09/go-ehr-connect/notes"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/server"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context) error {
	c := config.New()
	displayAppname(c.GetAppName())

	deps, closeDeps, err := dependencies(ctx, c)
	if err != nil {
		return err
	}
	defer closeDeps()

	srv, err := server.New(c, deps)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- listenAndServe(httpServer)
	}()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// dependencies picks the session and note backends from the environment.
func dependencies(ctx context.Context, c config.Config) (server.Dependencies, func(), error) {
	deps := server.Dependencies{Checks: map[string]server.HealthCheck{}}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch c.GetSessionBackend() {
	case config.SessionBackendMemory:
	case config.SessionBackendRedis:
		if c.GetSessionSecret() == "" {
			return deps, closeAll, errors.New("SESSION_SECRET is required for the redis session backend")
		}
		opts, err := redis.ParseURL(c.GetRedisURL())
		if err != nil {
			return deps, closeAll, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { _ = client.Close() })

		sealer, err := seal.New([]byte(c.GetSessionSecret()), "storage")
		if err != nil {
			closeAll()
			return deps, func() {}, err
		}
		deps.Store = session.NewRedisStore(client, sealer)
		deps.Locker = refresh.NewRedisLocker(client)
		deps.Checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		log.Info().Str("backend", config.SessionBackendRedis).Msg("session store")
	default:
		return deps, closeAll, fmt.Errorf("unknown SESSION_BACKEND %q", c.GetSessionBackend())
	}

	if dsn := c.GetDatabaseURL(); dsn != "" {
		store, err := notes.Open(ctx, dsn)
		if err != nil {
			closeAll()
			return deps, func() {}, err
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Notes = store
		deps.Checks["database"] = store.Ping
		log.Info().Msg("note store: postgres")
	}
	return deps, closeAll, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
