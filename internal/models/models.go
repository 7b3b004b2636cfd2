// Package models contains data structures used across the application
package models

import "time"

// Config holds application configuration settings.
type Config struct {
	Port                  string
	BasePath              string
	Production            bool
	TempDir               string
	StaticDir             string
	CookiesFile           string
	YtdlpPath             string
	AllowedOrigins        []string
	MaxConcurrentSessions int
	ConversionTimeout     time.Duration
	LogLevel              string
}

// Phase is the coarse stage label attached to a progress event.
type Phase string

const (
	PhaseFetching    Phase = "fetching"
	PhaseDownloading Phase = "downloading"
	PhaseConverting  Phase = "converting"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// ProgressEvent is one update pushed to a session's subscriber.
type ProgressEvent struct {
	Status  Phase   `json:"status"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
	Speed   string  `json:"speed,omitempty"`
	ETA     string  `json:"eta,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Terminal reports whether the event ends a session's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status == PhaseComplete || e.Status == PhaseError
}

// SessionState tracks the lifecycle of a conversion request.
type SessionState string

const (
	StateCreated          SessionState = "created"
	StateFetchingMetadata SessionState = "fetching_metadata"
	StateConverting       SessionState = "converting"
	StateComplete         SessionState = "complete"
	StateFailed           SessionState = "failed"
)

// Metadata is the best-effort title/thumbnail information for a URL.
type Metadata struct {
	Title        string
	ThumbnailURL string
}

// DownloadRequest is the payload for starting a conversion.
type DownloadRequest struct {
	URL string `json:"url"`
}

// DownloadResponse acknowledges an accepted conversion request.
type DownloadResponse struct {
	SessionID string `json:"sessionId"`
	Platform  string `json:"platform"`
}

// ErrorResponse is the standard JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ThumbnailResponse carries the thumbnail reference for a session.
type ThumbnailResponse struct {
	ThumbnailURL string `json:"thumbnailUrl"`
}

// HealthResponse reports basic liveness information.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime"`
}

// AdminHealthResponse reports operational details for the admin panel.
type AdminHealthResponse struct {
	Cookies CookieHealth `json:"cookies"`
	Ytdlp   YtdlpHealth  `json:"ytdlp"`
	Server  ServerHealth `json:"server"`
}

// CookieHealth describes the credential blob on disk.
type CookieHealth struct {
	Exists    bool `json:"exists"`
	AgeInDays *int `json:"ageInDays"`
}

// YtdlpHealth describes the conversion tool.
type YtdlpHealth struct {
	Version string `json:"version"`
}

// ServerHealth describes the running process.
type ServerHealth struct {
	UptimeSeconds int `json:"uptimeSeconds"`
}

// UpdateCookiesResponse acknowledges a credential replacement.
type UpdateCookiesResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// LogRecord is one entry of the admin log stream.
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Full      string `json:"full"`
}
