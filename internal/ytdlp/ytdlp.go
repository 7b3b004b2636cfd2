// Package ytdlp supervises the external conversion tool as a child process.
package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/models"
)

// ErrMetadataTimeout is returned when the metadata-only invocation exceeds
// its deadline. Callers treat it as best-effort and continue.
var ErrMetadataTimeout = errors.New("metadata fetch timed out")

// stderrTailLines bounds how much diagnostic output is kept for error
// classification.
const stderrTailLines = 50

// SubprocessError reports a non-zero exit of the conversion tool together
// with the stderr tail, which is the ground truth for classifying the
// failure.
type SubprocessError struct {
	ExitCode int
	Stderr   string
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("conversion process failed with exit code %d", e.ExitCode)
}

// StreamTag identifies which pipe an output line came from.
type StreamTag int

const (
	Stdout StreamTag = iota
	Stderr
)

// OutputLine is one line of tagged subprocess output.
type OutputLine struct {
	Tag  StreamTag
	Text string
}

// Options selects the behavior of a conversion invocation.
type Options struct {
	// OutputBase is the extension-less output path; the tool appends its
	// own extension.
	OutputBase string
	// Platform is the detected hosting site, used for client strategy.
	Platform string
}

// Supervisor launches and supervises conversion tool subprocesses.
type Supervisor struct {
	binary      string
	cookiesFile string
	production  bool
}

// NewSupervisor creates a supervisor for the given binary. The cookie file
// is consulted only when operating in production.
func NewSupervisor(binary, cookiesFile string, production bool) *Supervisor {
	return &Supervisor{
		binary:      binary,
		cookiesFile: cookiesFile,
		production:  production,
	}
}

// strategyArgs returns the authentication/client arguments for an
// invocation. Locally the tool runs bare; in production a cookie file is
// preferred and the alternate player clients are the fallback for YouTube.
func (s *Supervisor) strategyArgs(platform string) []string {
	if !s.production {
		return nil
	}
	if _, err := os.Stat(s.cookiesFile); err == nil {
		logrus.Info("Using cookie file for authentication")
		return []string{"--cookies", s.cookiesFile}
	}
	if platform == "youtube" {
		logrus.Info("Using iOS/Android client (production, no cookies)")
		return []string{"--extractor-args", "youtube:player_client=ios,android"}
	}
	return nil
}

// Handle exposes a running conversion subprocess: its tagged output lines,
// its completion, and best-effort cancellation. The caller owns the handle
// and must either Wait it to completion or Stop it.
type Handle struct {
	cmd   *exec.Cmd
	lines chan OutputLine

	pipesDone sync.WaitGroup

	mu         sync.Mutex
	stderrTail []string
	stopped    bool

	waitOnce sync.Once
	waitErr  error
}

// Start launches the conversion tool for a URL. Output lines become
// available on the handle immediately; the subprocess is bounded by ctx.
func (s *Supervisor) Start(ctx context.Context, url string, opts Options) (*Handle, error) {
	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "320K",
		"--format", "bestaudio/best",
		"--add-metadata",
		"--embed-thumbnail",
		"--no-playlist",
		"--newline",
		"--output", opts.OutputBase,
	}
	args = append(args, s.strategyArgs(opts.Platform)...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, s.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.binary, err)
	}
	logrus.WithField("url", url).Infof("Started %s (pid %d)", s.binary, cmd.Process.Pid)

	h := &Handle{
		cmd:   cmd,
		lines: make(chan OutputLine, constants.SubprocessLineBufferSize),
	}

	h.pipesDone.Add(2)
	go h.readPipe(stdout, Stdout)
	go h.readPipe(stderr, Stderr)
	go func() {
		h.pipesDone.Wait()
		close(h.lines)
	}()

	return h, nil
}

func (h *Handle) readPipe(pipe io.ReadCloser, tag StreamTag) {
	defer h.pipesDone.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if tag == Stderr {
			h.mu.Lock()
			h.stderrTail = append(h.stderrTail, text)
			if len(h.stderrTail) > stderrTailLines {
				h.stderrTail = h.stderrTail[len(h.stderrTail)-stderrTailLines:]
			}
			h.mu.Unlock()
		}
		h.lines <- OutputLine{Tag: tag, Text: text}
	}
}

// Lines returns the subprocess output as tagged lines. The channel is
// closed once both pipes are drained.
func (h *Handle) Lines() <-chan OutputLine {
	return h.lines
}

// StderrTail returns the retained tail of diagnostic output.
func (h *Handle) StderrTail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.stderrTail, "\n")
}

// Stopped reports whether Stop was requested on this handle.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Wait blocks until the subprocess exits and its output is drained.
// A non-zero exit is reported as a *SubprocessError. Safe to call more
// than once.
func (h *Handle) Wait() error {
	h.waitOnce.Do(func() {
		h.pipesDone.Wait()
		err := h.cmd.Wait()
		if err == nil {
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			h.waitErr = &SubprocessError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   h.StderrTail(),
			}
			return
		}
		h.waitErr = err
	})
	return h.waitErr
}

// Stop requests termination: interrupt first, escalating to a kill if the
// process does not exit within the grace period.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	if h.cmd.Process == nil {
		return
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logrus.WithError(err).Warn("Failed to send interrupt signal, killing process")
		if killErr := h.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			logrus.WithError(killErr).Warn("Failed to kill conversion process")
		}
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- h.Wait()
	}()

	select {
	case <-done:
		logrus.Info("Conversion process exited after interrupt")
	case <-time.After(constants.GracefulStopTimeout):
		logrus.Warn("Conversion process did not exit after interrupt, force killing")
		if killErr := h.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			logrus.WithError(killErr).Warn("Failed to force kill conversion process")
		}
		select {
		case <-done:
		case <-time.After(constants.ForceKillTimeout):
			logrus.Warn("Conversion process did not exit after force kill")
		}
	}
}

// metadataDocument is the subset of the tool's JSON dump the service uses.
type metadataDocument struct {
	Title      string `json:"title"`
	Thumbnail  string `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// FetchMetadata runs a metadata-only invocation bounded by
// MetadataFetchTimeout. On expiry the subprocess is cancelled and
// ErrMetadataTimeout is returned.
func (s *Supervisor) FetchMetadata(ctx context.Context, url, platform string) (models.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.MetadataFetchTimeout)
	defer cancel()

	args := []string{
		"--dump-single-json",
		"--no-warnings",
		"--no-check-certificate",
		"--no-playlist",
	}
	args = append(args, s.strategyArgs(platform)...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, s.binary, args...)
	output, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.Metadata{}, ErrMetadataTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return models.Metadata{}, fmt.Errorf("metadata fetch failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return models.Metadata{}, fmt.Errorf("metadata fetch failed: %w", err)
	}

	var doc metadataDocument
	if err := json.Unmarshal(output, &doc); err != nil {
		return models.Metadata{}, fmt.Errorf("failed to parse metadata document: %w", err)
	}

	meta := models.Metadata{Title: doc.Title, ThumbnailURL: doc.Thumbnail}
	if meta.ThumbnailURL == "" && len(doc.Thumbnails) > 0 {
		// The list is ordered worst to best; take the last.
		meta.ThumbnailURL = doc.Thumbnails[len(doc.Thumbnails)-1].URL
	}
	return meta, nil
}

// Version reports the conversion tool's version string.
func (s *Supervisor) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.VersionCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, s.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get %s version: %w", s.binary, err)
	}
	return strings.TrimSpace(string(output)), nil
}
