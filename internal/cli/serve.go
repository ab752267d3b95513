package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codex/api/internal/app"
	"codex/api/internal/config"
	"codex/api/internal/store"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := newLogger(cfg)
			ctx := cmd.Context()

			rt, err := openRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !skipMigrations {
				if err := store.ApplyMigrations(ctx, rt.db, cfg.MigrationsDir); err != nil {
					return err
				}
			}

			httpServer := app.NewHTTPServer(rt.service, cfg.CORSOrigin)
			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Addr).Info("codex api listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-sigCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("shutdown error")
			}
			return nil
		},
	}
	command.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return command
}
