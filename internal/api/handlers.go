// Package api exposes the HTTP surface of the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/download"
	"github.com/PhilippeHo27/mp3maker/internal/filestore"
	"github.com/PhilippeHo27/mp3maker/internal/logging"
	"github.com/PhilippeHo27/mp3maker/internal/models"
	"github.com/PhilippeHo27/mp3maker/internal/session"
	"github.com/PhilippeHo27/mp3maker/internal/ytdlp"
)

var (
	youtubeRegex    = regexp.MustCompile(`(?:youtube\.com|youtu\.be)`)
	soundcloudRegex = regexp.MustCompile(`soundcloud\.com`)
	bandcampRegex   = regexp.MustCompile(`bandcamp\.com`)
)

// DetectPlatform identifies the hosting site of a media URL, or "unknown".
func DetectPlatform(url string) string {
	switch {
	case youtubeRegex.MatchString(url):
		return "youtube"
	case soundcloudRegex.MatchString(url):
		return "soundcloud"
	case bandcampRegex.MatchString(url):
		return "bandcamp"
	default:
		return "unknown"
	}
}

// Handler encapsulates dependencies for API handlers.
type Handler struct {
	Config       models.Config
	Store        *session.Store
	Orchestrator *download.Orchestrator
	Supervisor   *ytdlp.Supervisor
	Logs         *logging.Broadcaster

	// rootCtx bounds the lifetime of conversion subprocesses so that a
	// server shutdown terminates them.
	rootCtx   context.Context
	startTime time.Time
}

// NewHandler creates a new API handler.
func NewHandler(rootCtx context.Context, config models.Config, store *session.Store,
	orchestrator *download.Orchestrator, supervisor *ytdlp.Supervisor, logs *logging.Broadcaster) *Handler {
	return &Handler{
		Config:       config,
		Store:        store,
		Orchestrator: orchestrator,
		Supervisor:   supervisor,
		Logs:         logs,
		rootCtx:      rootCtx,
		startTime:    time.Now(),
	}
}

// route prefixes a path constant with the configured base path.
func (h *Handler) route(path string) string {
	return h.Config.BasePath + path
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.route(RouteDownload), h.DownloadHandler)
	mux.HandleFunc(h.route(RouteProgress), h.ProgressStreamHandler)
	mux.HandleFunc(h.route(RouteFile), h.FileHandler)
	mux.HandleFunc(h.route(RouteThumbnail), h.ThumbnailHandler)
	mux.HandleFunc(h.route(RouteHealth), h.HealthHandler)
	mux.HandleFunc(h.route(RouteAdminHealth), h.AdminHealthHandler)
	mux.HandleFunc(h.route(RouteAdminUpdateCookies), h.AdminUpdateCookiesHandler)
	mux.HandleFunc(h.route(RouteAdminLogs), h.AdminLogsHandler)

	h.setupStaticRoutes(mux)
}

// setupStaticRoutes serves the frontend assets for everything else.
func (h *Handler) setupStaticRoutes(mux *http.ServeMux) {
	staticDir := h.Config.StaticDir
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		logrus.Warnf("Static file directory '%s' not found. Frontend assets will not be served.", staticDir)
		return
	}
	logrus.Infof("Serving static files from: %s", staticDir)

	prefix := h.Config.BasePath + "/"
	mux.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "..") {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		requestedPath := strings.TrimPrefix(r.URL.Path, prefix)
		if requestedPath == "" {
			requestedPath = "index.html"
		}
		filePath := filepath.Join(staticDir, requestedPath)

		info, err := os.Stat(filePath)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filePath)
	})
}

// DownloadHandler accepts a media URL and starts a conversion session.
func (h *Handler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request models.DownloadRequest
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONRequestSize)
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sendErrorResponse(w, "Failed to parse request", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(request.URL) == "" {
		logrus.Warn("Download request with missing URL")
		h.sendErrorResponse(w, "Please provide a valid URL", http.StatusBadRequest)
		return
	}

	platform := DetectPlatform(request.URL)
	if platform == "unknown" {
		h.sendErrorResponse(w, "Unsupported URL. Please use YouTube, SoundCloud or Bandcamp links.", http.StatusBadRequest)
		return
	}

	sess, err := h.Store.Create(request.URL, platform)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			logrus.Warn("Rejecting download request, session capacity reached")
			h.sendErrorResponse(w, "Server busy, try again later", http.StatusServiceUnavailable)
			return
		}
		h.sendErrorResponse(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	logrus.WithFields(logrus.Fields{
		"session":  sess.ID,
		"platform": platform,
	}).Infof("Download request: %s", request.URL)

	go h.Orchestrator.Run(h.rootCtx, sess.ID)

	h.sendJSONResponse(w, models.DownloadResponse{
		SessionID: sess.ID,
		Platform:  platform,
	}, http.StatusOK)
}

// ProgressStreamHandler streams a session's progress events over SSE until
// a terminal event or client disconnect.
func (h *Handler) ProgressStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, h.route(RouteProgress))
	if id == "" {
		h.sendErrorResponse(w, "Session ID not specified", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.sendErrorResponse(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sess, exists := h.Store.Get(id)
	if !exists {
		h.sendErrorResponse(w, "Session not found", http.StatusNotFound)
		return
	}

	events, err := h.Store.Subscribe(id)
	if err != nil {
		h.sendErrorResponse(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if sess.LastEvent == nil {
		h.writeSSEEvent(w, models.ProgressEvent{
			Status:  models.PhaseFetching,
			Percent: 0,
			Message: "Preparing...",
		})
	}
	flusher.Flush()

	heartbeat := time.NewTicker(constants.SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Channel replaced by a newer subscriber or session removed.
				return
			}
			h.writeSSEEvent(w, event)
			flusher.Flush()
			if event.Terminal() {
				h.Store.Unsubscribe(id, events)
				h.finishStream(id, event)
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			h.Store.Unsubscribe(id, events)
			h.handleDisconnect(id)
			return
		}
	}
}

// finishStream evicts a failed session once its terminal error has been
// delivered. Completed sessions stay registered until artifact retrieval.
func (h *Handler) finishStream(id string, event models.ProgressEvent) {
	if event.Status == models.PhaseError {
		h.Store.Remove(id)
	}
}

// handleDisconnect cleans up after the subscriber went away mid-stream.
func (h *Handler) handleDisconnect(id string) {
	logrus.WithField("session", id).Info("Progress stream closed by client")

	sess, exists := h.Store.Get(id)
	if !exists {
		return
	}
	switch sess.State {
	case models.StateComplete:
		// Artifact may still be retrieved; periodic cleanup bounds its life.
	case models.StateFailed:
		h.Store.Remove(id)
	default:
		h.Orchestrator.Cancel(id)
	}
}

func (h *Handler) writeSSEEvent(w io.Writer, event models.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode progress event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// FileHandler serves a completed artifact exactly once, deleting it and
// evicting the session afterwards.
func (h *Handler) FileHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, h.route(RouteFile))
	if id == "" {
		h.sendErrorResponse(w, "Session ID not specified", http.StatusBadRequest)
		return
	}

	sess, exists := h.Store.Get(id)
	if !exists {
		h.sendErrorResponse(w, "File not found or expired", http.StatusNotFound)
		return
	}

	path, title, ok := h.Store.TakeResultFile(id)
	if !ok {
		h.sendErrorResponse(w, "File not found or expired", http.StatusNotFound)
		return
	}

	if _, err := os.Stat(path); err != nil {
		logrus.WithError(err).Warnf("Artifact missing on disk for session %s", id)
		h.Store.Remove(id)
		h.sendErrorResponse(w, "File not found", http.StatusNotFound)
		return
	}

	if title == "" {
		title = "audio"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", title+".mp3"))
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)

	filestore.RemoveSessionFiles(sess.TempBase)
	h.Store.Remove(id)
	logrus.WithField("session", id).Info("Artifact delivered and session removed")
}

// ThumbnailHandler returns the thumbnail reference for a session.
func (h *Handler) ThumbnailHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, h.route(RouteThumbnail))
	if id == "" {
		h.sendErrorResponse(w, "Session ID not specified", http.StatusBadRequest)
		return
	}

	sess, exists := h.Store.Get(id)
	if !exists {
		h.sendErrorResponse(w, "Session not found", http.StatusNotFound)
		return
	}

	thumbnail := sess.ThumbnailURL
	if thumbnail == "" {
		thumbnail = h.Config.BasePath + "/oops.jpg"
	}
	h.sendJSONResponse(w, models.ThumbnailResponse{ThumbnailURL: thumbnail}, http.StatusOK)
}

// HealthHandler reports basic liveness.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSONResponse(w, models.HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}, http.StatusOK)
}

// AdminHealthHandler reports cookie-file and tool status for the admin panel.
func (h *Handler) AdminHealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := models.AdminHealthResponse{
		Ytdlp:  models.YtdlpHealth{Version: "unknown"},
		Server: models.ServerHealth{UptimeSeconds: int(time.Since(h.startTime).Seconds())},
	}

	exists, ageInDays := filestore.CookieFileAge(h.Config.CookiesFile)
	response.Cookies.Exists = exists
	if exists {
		response.Cookies.AgeInDays = &ageInDays
	}

	if version, err := h.Supervisor.Version(r.Context()); err == nil {
		response.Ytdlp.Version = version
	} else {
		logrus.WithError(err).Warn("Could not get yt-dlp version")
	}

	h.sendJSONResponse(w, response, http.StatusOK)
}

// AdminUpdateCookiesHandler replaces the credential blob.
func (h *Handler) AdminUpdateCookiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxCookieFileSize))
	if err != nil {
		h.sendJSONResponse(w, models.UpdateCookiesResponse{Success: false, Error: "Failed to read request body"}, http.StatusBadRequest)
		return
	}

	content := string(body)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			CookieText string `json:"cookieText"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			content = payload.CookieText
		}
	}

	if err := filestore.WriteCookieFile(h.Config.CookiesFile, content); err != nil {
		logrus.WithError(err).Error("Failed to update cookies")
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "empty") {
			status = http.StatusBadRequest
		}
		h.sendJSONResponse(w, models.UpdateCookiesResponse{Success: false, Error: err.Error()}, status)
		return
	}

	logrus.Info("Cookies updated via admin panel")
	h.sendJSONResponse(w, models.UpdateCookiesResponse{
		Success:   true,
		Message:   "Cookies updated successfully",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// AdminLogsHandler streams log records over SSE, replaying recent history
// to each new viewer.
func (h *Handler) AdminLogsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.sendErrorResponse(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	records, history := h.Logs.SubscribeWithSnapshot()
	defer h.Logs.Unsubscribe(records)
	for _, record := range history {
		h.writeLogRecord(w, record)
	}
	flusher.Flush()
	logrus.Infof("Admin log viewer connected (%d active)", h.Logs.ViewerCount())
	defer func() {
		logrus.Infof("Admin log viewer disconnected (%d active)", h.Logs.ViewerCount()-1)
	}()

	heartbeat := time.NewTicker(constants.SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case record, ok := <-records:
			if !ok {
				return
			}
			h.writeLogRecord(w, record)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) writeLogRecord(w io.Writer, record models.LogRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// sendJSONResponse sends a JSON response with appropriate headers.
func (h *Handler) sendJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

// sendErrorResponse sends a standardized JSON error response.
func (h *Handler) sendErrorResponse(w http.ResponseWriter, errMsg string, statusCode int) {
	logrus.Warnf("Sending error response (status %d): %s", statusCode, errMsg)
	h.sendJSONResponse(w, models.ErrorResponse{Error: errMsg}, statusCode)
}
