package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		name  string
		title string
		want  string
	}{
		{"plain title", "My Favorite Song", "My Favorite Song"},
		{"strips punctuation", `Song: "Live" (2024) [HQ]!`, "Song Live 2024 HQ"},
		{"keeps hyphens and underscores", "lo-fi_beats - vol 2", "lo-fi_beats - vol 2"},
		{"empty after stripping", "???!!!", "audio"},
		{"empty input", "", "audio"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeTitle(tc.title))
		})
	}

	t.Run("bounds length", func(t *testing.T) {
		long := strings.Repeat("a", 300)
		assert.Len(t, SanitizeTitle(long), 100)
	})
}

func TestTempBase(t *testing.T) {
	base := TempBase("/tmp/work", "abc-123")
	assert.Equal(t, filepath.Join("/tmp/work", "temp-abc-123"), base)
}

func TestRemoveSessionFiles(t *testing.T) {
	dir := t.TempDir()
	base := TempBase(dir, "sess1")

	for _, ext := range []string{".mp3", ".webp", ".part"} {
		require.NoError(t, os.WriteFile(base+ext, []byte("x"), 0644))
	}
	// An unrelated file sharing the directory must survive.
	other := filepath.Join(dir, "temp-other.mp3")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	removed := RemoveSessionFiles(base)
	assert.Equal(t, 3, removed)

	for _, ext := range []string{".mp3", ".webp", ".part"} {
		_, err := os.Stat(base + ext)
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", base+ext)
	}
	_, err := os.Stat(other)
	assert.NoError(t, err)

	assert.Equal(t, 0, RemoveSessionFiles(base), "second pass finds nothing")
}

func TestCleanupOrphanedTempFiles(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp-a.mp3"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp-b.part"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "temp-dir"), 0755))

	removed := CleanupOrphanedTempFiles(dir)
	assert.Equal(t, 2, removed)

	_, err := os.Stat(filepath.Join(dir, "keep.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "temp-dir"))
	assert.NoError(t, err)

	assert.Equal(t, 0, CleanupOrphanedTempFiles(filepath.Join(dir, "missing")))
}

func TestCleanupOldFiles(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "old.mp3")
	newFile := filepath.Join(dir, "new.mp3")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(newFile, []byte("x"), 0644))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	removed := CleanupOldFiles(dir, time.Hour)
	assert.Equal(t, 1, removed)

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	assert.NoError(t, err)
}

func TestWriteCookieFile(t *testing.T) {
	t.Run("writes with restricted permissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")

		require.NoError(t, WriteCookieFile(path, "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\n"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("rejects empty content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")

		assert.Error(t, WriteCookieFile(path, "   \n"))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestCookieFileAge(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		exists, _ := CookieFileAge(filepath.Join(t.TempDir(), "cookies.txt"))
		assert.False(t, exists)
	})

	t.Run("reports whole days", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
		past := time.Now().Add(-49 * time.Hour)
		require.NoError(t, os.Chtimes(path, past, past))

		exists, age := CookieFileAge(path)
		assert.True(t, exists)
		assert.Equal(t, 2, age)
	})
}
