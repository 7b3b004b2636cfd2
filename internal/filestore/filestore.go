// Package filestore handles temp artifact and credential file management
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
)

var filenameSanitizeRegex = regexp.MustCompile(`[^\w\s-]+`)

// sessionFileExtensions are the side-files the conversion tool can leave
// next to an output base: the artifact itself plus embedded-thumbnail
// intermediates.
var sessionFileExtensions = []string{"", ".mp3", ".webp", ".png", ".part"}

// EnsureDirectoryExists ensures the specified directory exists
func EnsureDirectoryExists(dirPath string) error {
	if dirPath == "" {
		return fmt.Errorf("empty directory path")
	}
	if err := os.MkdirAll(dirPath, constants.DirectoryPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}

// TempBase returns the extension-less output base path for a session.
// The conversion tool appends its own extension to it.
func TempBase(tempDir, sessionID string) string {
	return filepath.Join(tempDir, "temp-"+sessionID)
}

// SanitizeTitle strips characters that are unsafe in a download filename
// and bounds the length.
func SanitizeTitle(title string) string {
	sanitized := filenameSanitizeRegex.ReplaceAllString(title, "")
	sanitized = strings.TrimSpace(sanitized)
	if len(sanitized) > constants.MaxFilenameLength {
		sanitized = strings.TrimSpace(sanitized[:constants.MaxFilenameLength])
	}
	if sanitized == "" {
		return "audio"
	}
	return sanitized
}

// RemoveSessionFiles deletes the artifact and any sibling side-files that
// share a session's output base. Missing files are not an error.
func RemoveSessionFiles(tempBase string) int {
	removed := 0
	for _, ext := range sessionFileExtensions {
		path := tempBase + ext
		err := os.Remove(path)
		if err == nil {
			logrus.WithField("file", filepath.Base(path)).Info("Cleaned up session file")
			removed++
		} else if !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("Failed to remove session file %s", path)
		}
	}
	return removed
}

// CleanupOrphanedTempFiles removes all temp-* files left behind by a
// previous run. Called once at startup.
func CleanupOrphanedTempFiles(tempDir string) int {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("Failed to read temp directory %s", tempDir)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "temp-") {
			continue
		}
		if err := os.Remove(filepath.Join(tempDir, entry.Name())); err != nil {
			logrus.WithError(err).Warnf("Failed to remove orphaned file %s", entry.Name())
			continue
		}
		removed++
	}
	if removed > 0 {
		logrus.Infof("Cleaned up %d orphaned temp file(s)", removed)
	}
	return removed
}

// CleanupOldFiles removes files older than maxAge from the specified directory
func CleanupOldFiles(dirPath string, maxAge time.Duration) int {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("Failed to read directory %s for cleanup", dirPath)
		}
		return 0
	}

	now := time.Now()
	removedCount := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logrus.WithError(err).Warnf("Failed to stat %s during cleanup", entry.Name())
			continue
		}

		if now.Sub(info.ModTime()) > maxAge {
			filePath := filepath.Join(dirPath, entry.Name())
			err := os.Remove(filePath)
			if err != nil && !os.IsNotExist(err) {
				logrus.WithError(err).Warnf("Failed to remove old file %s", filePath)
			} else if err == nil {
				removedCount++
			}
		}
	}

	if removedCount > 0 {
		logrus.Infof("Removed %d old file(s) from %s", removedCount, dirPath)
	}
	return removedCount
}

// WriteCookieFile replaces the credential blob with restricted permissions.
func WriteCookieFile(path, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("cookie content is empty")
	}
	if err := os.WriteFile(path, []byte(content), constants.CookieFilePermissions); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}

// CookieFileAge reports whether the credential blob exists and, if so, its
// age in whole days.
func CookieFileAge(path string) (exists bool, ageInDays int) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0
	}
	return true, int(time.Since(info.ModTime()).Hours() / 24)
}
