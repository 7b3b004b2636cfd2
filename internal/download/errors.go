package download

import (
	"context"
	"errors"
	"strings"

	"github.com/PhilippeHo27/mp3maker/internal/ytdlp"
)

// User-facing failure messages. Raw subprocess diagnostics are logged but
// never surfaced to the client.
const (
	msgRegionRestricted = "Video not available in your region"
	msgCopyright        = "Copyright restriction"
	msgAgeRestricted    = "This video is age-restricted and cannot be downloaded"
	msgUnavailable      = "This video is private or unavailable"
	msgTimeout          = "Download timeout - video may be too long"
	msgNetwork          = "Network error. Please check your internet connection"
	msgGeneric          = "An unexpected error occurred. Please try again"
)

// ClassifyError maps a conversion failure to a short, non-technical
// message. Exit code and accumulated stderr are the ground truth; the
// categories mirror the known failure modes of the extraction tool.
func ClassifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}

	text := err.Error()
	var subErr *ytdlp.SubprocessError
	if errors.As(err, &subErr) {
		if subErr.ExitCode == 1 {
			return msgUnavailable
		}
		text = subErr.Stderr
	}
	text = strings.ToLower(text)

	switch {
	case strings.Contains(text, "geo") || strings.Contains(text, "not available in your"):
		return msgRegionRestricted
	case strings.Contains(text, "copyright"):
		return msgCopyright
	case strings.Contains(text, "age") || strings.Contains(text, "restricted"):
		return msgAgeRestricted
	case strings.Contains(text, "private") || strings.Contains(text, "unavailable"):
		return msgUnavailable
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out"):
		return msgTimeout
	case strings.Contains(text, "network") || strings.Contains(text, "enotfound") ||
		strings.Contains(text, "no such host"):
		return msgNetwork
	default:
		return msgGeneric
	}
}
