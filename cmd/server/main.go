// Package main provides the entry point for the mp3maker server
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/api"
	"github.com/PhilippeHo27/mp3maker/internal/config"
	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/download"
	"github.com/PhilippeHo27/mp3maker/internal/filestore"
	"github.com/PhilippeHo27/mp3maker/internal/logging"
	"github.com/PhilippeHo27/mp3maker/internal/middleware"
	"github.com/PhilippeHo27/mp3maker/internal/models"
	"github.com/PhilippeHo27/mp3maker/internal/session"
	"github.com/PhilippeHo27/mp3maker/internal/ytdlp"
)

// version is set during build time using ldflags
var version string = "dev"

func main() {
	logBroadcaster := logging.NewBroadcaster()

	conf := config.New()
	logging.Init(conf.LogLevel, logBroadcaster)

	if err := filestore.EnsureDirectoryExists(conf.TempDir); err != nil {
		logrus.WithError(err).Fatalf("Failed to ensure temp directory %s exists", conf.TempDir)
	}
	filestore.CleanupOrphanedTempFiles(conf.TempDir)

	middleware.InitCORS(conf.AllowedOrigins)

	// rootCtx bounds every conversion subprocess; cancelling it on shutdown
	// terminates in-flight conversions.
	rootCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	store := session.NewStore(conf.MaxConcurrentSessions)
	supervisor := ytdlp.NewSupervisor(conf.YtdlpPath, conf.CookiesFile, conf.Production)
	orchestrator := download.NewOrchestrator(conf, store, supervisor)

	handler := api.NewHandler(rootCtx, conf, store, orchestrator, supervisor, logBroadcaster)

	mux := http.NewServeMux()
	handler.SetupRoutes(mux)

	// Wrap handler to disable write timeout for SSE stream endpoints
	wrappedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isStreamPath(conf, r.URL.Path) {
			if conn, ok := w.(interface{ SetWriteDeadline(time.Time) error }); ok {
				conn.SetWriteDeadline(time.Time{})
			}
		}
		middleware.CORS(mux).ServeHTTP(w, r)
	})

	server := &http.Server{
		Addr:         ":" + conf.Port,
		Handler:      wrappedHandler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}

	go setupFileCleanup(conf)
	go setupSessionSweep(store)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logrus.Infof("mp3maker server version %s starting on http://localhost:%s", version, conf.Port)
		logrus.Info("Supports: YouTube, SoundCloud & Bandcamp")
		logrus.Info("Output: CBR 320kbps MP3")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Error starting server")
		}
	}()

	<-stop // Wait for interrupt signal

	logrus.Info("Server shutting down...")
	cancelSessions()

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server shutdown failed")
	}
	logrus.Info("Server gracefully stopped")
}

// isStreamPath reports whether a request targets an SSE endpoint.
func isStreamPath(conf models.Config, path string) bool {
	return strings.HasPrefix(path, conf.BasePath+api.RouteProgress) ||
		path == conf.BasePath+api.RouteAdminLogs
}

// setupSessionSweep periodically evicts terminal sessions whose artifact or
// error nobody ever came back for, deleting their leftover files.
func setupSessionSweep(store *session.Store) {
	ticker := time.NewTicker(constants.SessionSweepInterval)
	for range ticker.C {
		for _, sess := range store.ExpireTerminal(constants.SessionRetention) {
			if sess.TempBase != "" {
				filestore.RemoveSessionFiles(sess.TempBase)
			}
			logrus.WithField("session", sess.ID).Info("Expired unclaimed session")
		}
	}
}

// setupFileCleanup schedules periodic cleanup of stale temp files.
func setupFileCleanup(conf models.Config) {
	logrus.Infof("Scheduling initial file cleanup in %v...", constants.FileCleanupInitialDelay)
	time.AfterFunc(constants.FileCleanupInitialDelay, func() {
		filestore.CleanupOldFiles(conf.TempDir, constants.FileMaxAge)
		ticker := time.NewTicker(constants.FileCleanupInterval)
		logrus.Infof("Starting periodic cleanup task (every %v)...", constants.FileCleanupInterval)
		for range ticker.C {
			filestore.CleanupOldFiles(conf.TempDir, constants.FileMaxAge)
		}
	})
}
