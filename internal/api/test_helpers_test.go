package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/PhilippeHo27/mp3maker/internal/download"
	"github.com/PhilippeHo27/mp3maker/internal/logging"
	"github.com/PhilippeHo27/mp3maker/internal/models"
	"github.com/PhilippeHo27/mp3maker/internal/session"
	"github.com/PhilippeHo27/mp3maker/internal/ytdlp"
)

// fakeToolScript stands in for the conversion binary: it answers version
// and metadata invocations and produces an artifact for everything else.
const fakeToolScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "2025.08.11"
  exit 0
fi
for a in "$@"; do
  if [ "$a" = "--dump-single-json" ]; then
    echo '{"title":"Helper Song","thumbnail":"https://i.example/t.jpg"}'
    exit 0
  fi
done
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
printf 'mp3data' > "$out.mp3"
exit 0
`

type handlerTestEnv struct {
	handler *Handler
	store   *session.Store
	conf    models.Config
}

func newHandlerTestEnv(t *testing.T) *handlerTestEnv {
	t.Helper()

	dir := t.TempDir()
	tool := filepath.Join(dir, "fake-ytdlp")
	require.NoError(t, os.WriteFile(tool, []byte(fakeToolScript), 0755))

	conf := models.Config{
		TempDir:               filepath.Join(dir, "temp"),
		StaticDir:             filepath.Join(dir, "static"),
		CookiesFile:           filepath.Join(dir, "cookies.txt"),
		YtdlpPath:             tool,
		AllowedOrigins:        []string{"*"},
		MaxConcurrentSessions: 3,
		ConversionTimeout:     time.Minute,
	}
	require.NoError(t, os.MkdirAll(conf.TempDir, 0755))

	store := session.NewStore(conf.MaxConcurrentSessions)
	supervisor := ytdlp.NewSupervisor(conf.YtdlpPath, conf.CookiesFile, false)
	orchestrator := download.NewOrchestrator(conf, store, supervisor)
	logs := logging.NewBroadcaster()

	return &handlerTestEnv{
		handler: NewHandler(context.Background(), conf, store, orchestrator, supervisor, logs),
		store:   store,
		conf:    conf,
	}
}

// logEntry builds a log entry for feeding the broadcaster directly.
func logEntry(message string) *logrus.Entry {
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Now()
	entry.Level = logrus.InfoLevel
	entry.Message = message
	return entry
}

// completedSession registers a session that already carries a finished
// artifact on disk.
func (env *handlerTestEnv) completedSession(t *testing.T, title string) string {
	t.Helper()

	sess, err := env.store.Create("https://youtube.com/watch?v=abc", "youtube")
	require.NoError(t, err)

	tempBase := filepath.Join(env.conf.TempDir, "temp-"+sess.ID)
	artifact := tempBase + ".mp3"
	require.NoError(t, os.WriteFile(artifact, []byte("mp3data"), 0644))

	env.store.SetTempBase(sess.ID, tempBase)
	env.store.SetMetadata(sess.ID, title, "https://i.example/t.jpg")
	env.store.SetResultFile(sess.ID, artifact)
	require.NoError(t, env.store.SetState(sess.ID, models.StateConverting))
	require.NoError(t, env.store.SetState(sess.ID, models.StateComplete))
	return sess.ID
}
