// Command rescdash serves the RESC dashboard: the single-page app, the SSO
// login flow and an authenticated proxy to the RESC web service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/mnehpets/rescdash/auth"
	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/httpclient"
	"github.com/mnehpets/rescdash/middleware"
	"github.com/mnehpets/rescdash/notify"
	"github.com/mnehpets/rescdash/server"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
)

// pruneInterval is how often idle sessions are removed from the database.
const pruneInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rescdash: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	env, settings, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger, closeLog := setupLogging(settings)
	defer closeLog.Close()

	figure.NewFigure("RESC", "cybermedium", true).Print()
	fmt.Println()

	if settings.GeneratedSessionKey {
		logger.Warn().Msg("SESSION_KEY not set; sessions will not survive a restart")
	}

	store, err := session.NewSQLiteStore(settings.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go prune(ctx, store, logger)

	cfg := config.New(env)
	queue := notify.NewQueue(store, logger)
	scheduler := httpclient.NewScheduler(store, settings.LogoutDelay, logger)
	defer scheduler.Stop()

	transport := httpclient.NewTransport(store, queue, scheduler,
		httpclient.WithBase(httpclient.NewRetryTransport(http.DefaultTransport, settings.HTTPRetries,
			httpclient.WithRetryLogger(logger))),
		httpclient.WithLogger(logger),
	)
	rescURL, err := cfg.Value(config.RescWebServiceURL)
	if err != nil {
		return err
	}
	api := httpclient.NewClient(rescURL, transport)
	service := auth.NewService(cfg, store, api, auth.WithLogger(logger))

	sessions, err := middleware.NewSessionProcessor(settings.SessionKeyID, settings.SessionKeys, store,
		middleware.WithCookieOptions(middleware.WithSecure(settings.SecureCookies)),
		middleware.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	handler, err := server.New(server.Deps{
		Config:    cfg,
		Store:     store,
		Queue:     queue,
		Auth:      service,
		Sessions:  sessions,
		Transport: transport,
		Static:    os.DirFS(settings.StaticDir),
		HTTPS:     strings.HasPrefix(settings.PublicURL, "https://"),
		Log:       logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("public_url", settings.PublicURL).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// prune removes sessions idle for longer than a browser session can live.
func prune(ctx context.Context, store *session.SQLiteStore, logger zerolog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-middleware.MaxExtendedPeriod))
			if err != nil {
				logger.Warn().Err(err).Msg("session prune failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("sessions", n).Msg("pruned idle sessions")
			}
		}
	}
}
