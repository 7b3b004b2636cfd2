// Package constants defines application-wide constant values
package constants

import (
	"os"
	"time"
)

// HTTP Server Configuration
const (
	// DefaultPort is the default server port
	DefaultPort = "3003"

	// HTTPReadTimeout is the maximum duration for reading the entire request
	HTTPReadTimeout = 60 * time.Second

	// HTTPWriteTimeout is the maximum duration before timing out writes of the response
	HTTPWriteTimeout = 120 * time.Second

	// HTTPIdleTimeout is the maximum amount of time to wait for the next request
	HTTPIdleTimeout = 180 * time.Second

	// ShutdownTimeout is the graceful shutdown timeout
	ShutdownTimeout = 30 * time.Second

	// MaxJSONRequestSize is the maximum size for JSON request bodies
	MaxJSONRequestSize = 1 * 1024 * 1024 // 1 MB

	// MaxCookieFileSize is the maximum accepted size for an uploaded cookie file
	MaxCookieFileSize = 1 * 1024 * 1024 // 1 MB
)

// Server-Sent Events Configuration
const (
	// SSEHeartbeatInterval is the interval between SSE heartbeat comments
	SSEHeartbeatInterval = 30 * time.Second

	// SSESubscriberBufferSize is the buffer size for SSE event channels
	SSESubscriberBufferSize = 16
)

// Session Configuration
const (
	// DefaultMaxConcurrentSessions bounds registry memory
	DefaultMaxConcurrentSessions = 10

	// SubscriberWaitTimeout is how long the orchestrator waits for a
	// progress subscriber before proceeding anyway
	SubscriberWaitTimeout = 5 * time.Second

	// SubscriberPollInterval is the polling cadence while waiting for a subscriber
	SubscriberPollInterval = 50 * time.Millisecond

	// CountdownTickInterval is the cadence of synthetic countdown events
	CountdownTickInterval = 1 * time.Second

	// SessionRetention is how long a terminal session is kept for artifact
	// retrieval or error replay before the sweeper evicts it
	SessionRetention = 10 * time.Minute

	// SessionSweepInterval is the cadence of the terminal-session sweeper
	SessionSweepInterval = 1 * time.Minute
)

// Conversion Subprocess Configuration
const (
	// MetadataFetchTimeout bounds the metadata-only yt-dlp invocation
	MetadataFetchTimeout = 30 * time.Second

	// DefaultConversionTimeout bounds the conversion subprocess runtime
	DefaultConversionTimeout = 30 * time.Minute

	// GracefulStopTimeout is how long to wait after an interrupt signal
	// before force-killing the subprocess
	GracefulStopTimeout = 5 * time.Second

	// ForceKillTimeout is how long to wait after a force kill
	ForceKillTimeout = 2 * time.Second

	// VersionCommandTimeout bounds the yt-dlp --version invocation
	VersionCommandTimeout = 10 * time.Second

	// SubprocessLineBufferSize is the buffer size for subprocess output
	// line channels
	SubprocessLineBufferSize = 16
)

// File Cleanup Configuration
const (
	// FileCleanupInitialDelay is the delay before the first cleanup run
	FileCleanupInitialDelay = 5 * time.Minute

	// FileCleanupInterval is the interval between cleanup runs
	FileCleanupInterval = 1 * time.Hour

	// FileMaxAge is the maximum age of temp files before cleanup
	FileMaxAge = 6 * time.Hour
)

// Log Stream Configuration
const (
	// LogHistorySize is the number of log records replayed to a new viewer
	LogHistorySize = 500

	// LogSubscriberBufferSize is the buffer size for log stream channels
	LogSubscriberBufferSize = 64
)

// File System Configuration
const (
	// DirectoryPermissions is the default permission mode for created directories
	DirectoryPermissions os.FileMode = 0755

	// CookieFilePermissions restricts the credential blob to the server user
	CookieFilePermissions os.FileMode = 0600

	// MaxFilenameLength is the maximum length for sanitized filenames
	MaxFilenameLength = 100
)

// Default Configuration Values
const (
	// DefaultTempDir is the default directory for in-flight artifacts
	DefaultTempDir = "public/temp"

	// DefaultStaticDir is the default directory for frontend assets
	DefaultStaticDir = "public"

	// DefaultCookiesFile is the default path of the credential blob
	DefaultCookiesFile = "cookies.txt"

	// DefaultYtdlpPath is the default executable name of the conversion tool
	DefaultYtdlpPath = "yt-dlp"
)
