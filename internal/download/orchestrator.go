// Package download drives a session from URL to finished artifact.
package download

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/filestore"
	"github.com/PhilippeHo27/mp3maker/internal/models"
	"github.com/PhilippeHo27/mp3maker/internal/progress"
	"github.com/PhilippeHo27/mp3maker/internal/session"
	"github.com/PhilippeHo27/mp3maker/internal/ytdlp"
)

// metadata countdown band (original UI shows 30s ticking down while the
// info fetch runs, interpolating 2% to 5%).
const (
	metadataCountdownSeconds = 30
	metadataBasePercent      = 2.0
	metadataSpanPercent      = 3.0
	foundTitleMaxLen         = 40
)

// Orchestrator ties the supervisor, parser, registry and broadcaster
// together for each session.
type Orchestrator struct {
	config     models.Config
	store      *session.Store
	supervisor *ytdlp.Supervisor
}

// NewOrchestrator creates an orchestrator over the shared store and
// supervisor.
func NewOrchestrator(config models.Config, store *session.Store, supervisor *ytdlp.Supervisor) *Orchestrator {
	return &Orchestrator{
		config:     config,
		store:      store,
		supervisor: supervisor,
	}
}

// Run drives one session to a terminal state. It is the only goroutine
// that mutates the session's state field after creation.
func (o *Orchestrator) Run(ctx context.Context, id string) {
	sess, exists := o.store.Get(id)
	if !exists {
		return
	}
	log := logrus.WithFields(logrus.Fields{"session": id, "platform": sess.Platform})
	startTime := time.Now()

	o.store.Publish(id, models.ProgressEvent{
		Status:  models.PhaseFetching,
		Percent: 0,
		Message: "Connecting...",
	})

	if err := o.store.SetState(id, models.StateFetchingMetadata); err != nil {
		log.WithError(err).Warn("Could not enter metadata state")
		return
	}
	o.fetchMetadata(ctx, id, sess.URL, sess.Platform, log)

	o.store.Publish(id, models.ProgressEvent{
		Status:  models.PhaseFetching,
		Percent: 8,
		Message: "Preparing download...",
	})

	o.waitForSubscriber(ctx, id, log)

	if err := o.store.SetState(id, models.StateConverting); err != nil {
		log.WithError(err).Warn("Could not enter converting state")
		return
	}

	tempBase := filestore.TempBase(o.config.TempDir, id)
	o.store.SetTempBase(id, tempBase)

	convCtx, cancel := context.WithTimeout(ctx, o.config.ConversionTimeout)
	defer cancel()

	handle, err := o.supervisor.Start(convCtx, sess.URL, ytdlp.Options{
		OutputBase: tempBase,
		Platform:   sess.Platform,
	})
	if err != nil {
		log.WithError(err).Error("Failed to start conversion process")
		o.fail(id, tempBase, err)
		return
	}
	if err := o.store.AttachHandle(id, handle); err != nil {
		log.WithError(err).Error("Failed to attach subprocess handle")
		handle.Stop()
		o.fail(id, tempBase, err)
		return
	}

	o.consumeOutput(id, handle, log)

	waitErr := handle.Wait()
	o.store.DetachHandle(id)

	if handle.Stopped() {
		// Cancellation-induced exit; cleanup happened on the cancel path
		// and the session is gone or going. Not a user-facing error.
		log.Info("Conversion process stopped, session cancelled")
		return
	}

	// A context-killed subprocess reports a signal exit; the context error
	// is the real cause.
	if convCtx.Err() != nil {
		waitErr = convCtx.Err()
	}
	if waitErr != nil {
		log.WithError(waitErr).Errorf("Conversion failed, stderr tail:\n%s", handle.StderrTail())
		o.fail(id, tempBase, waitErr)
		return
	}

	artifact := tempBase + ".mp3"
	info, statErr := os.Stat(artifact)
	if statErr != nil || info.Size() == 0 {
		log.WithError(statErr).Error("Conversion finished but artifact is missing or empty")
		o.fail(id, tempBase, fmt.Errorf("artifact missing after conversion"))
		return
	}

	o.store.SetResultFile(id, artifact)
	if err := o.store.SetState(id, models.StateComplete); err != nil {
		log.WithError(err).Warn("Could not enter complete state")
		return
	}
	o.store.Publish(id, models.ProgressEvent{
		Status:  models.PhaseComplete,
		Percent: 100,
		Message: "Complete!",
	})
	log.WithField("duration", time.Since(startTime).Round(time.Millisecond)).
		Infof("Download completed (%d bytes)", info.Size())
}

// fetchMetadata performs the bounded, best-effort title/thumbnail fetch,
// publishing countdown events while it runs. Failure is logged and absorbed.
func (o *Orchestrator) fetchMetadata(ctx context.Context, id, url, platform string, log *logrus.Entry) {
	o.store.Publish(id, models.ProgressEvent{
		Status:  models.PhaseFetching,
		Percent: metadataBasePercent,
		Message: "Fetching video info...",
	})

	type result struct {
		meta models.Metadata
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		meta, err := o.supervisor.FetchMetadata(ctx, url, platform)
		resultCh <- result{meta, err}
	}()

	ticker := time.NewTicker(constants.CountdownTickInterval)
	defer ticker.Stop()

	countdown := metadataCountdownSeconds
	var res result
	for waiting := true; waiting; {
		select {
		case res = <-resultCh:
			waiting = false
		case <-ticker.C:
			countdown--
			if countdown > 0 {
				elapsed := float64(metadataCountdownSeconds - countdown)
				o.store.Publish(id, models.ProgressEvent{
					Status:  models.PhaseFetching,
					Percent: metadataBasePercent + elapsed/metadataCountdownSeconds*metadataSpanPercent,
					Message: fmt.Sprintf("Fetching video info... (%ds)", countdown),
				})
			}
		}
	}

	if res.err != nil {
		log.WithError(res.err).Warn("Could not fetch metadata, continuing without it")
		return
	}

	title := filestore.SanitizeTitle(res.meta.Title)
	o.store.SetMetadata(id, title, res.meta.ThumbnailURL)

	display := title
	if len(display) > foundTitleMaxLen {
		display = display[:foundTitleMaxLen] + "..."
	}
	o.store.Publish(id, models.ProgressEvent{
		Status:  models.PhaseFetching,
		Percent: 5,
		Message: "Found: " + display,
	})
	log.WithField("title", title).Info("Metadata fetched")
}

// waitForSubscriber blocks until the session has a progress subscriber or
// the soft timeout elapses, so early events are not silently dropped.
func (o *Orchestrator) waitForSubscriber(ctx context.Context, id string, log *logrus.Entry) {
	deadline := time.Now().Add(constants.SubscriberWaitTimeout)
	for time.Now().Before(deadline) {
		if o.store.HasSubscriber(id) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(constants.SubscriberPollInterval):
		}
	}
	log.Warn("No progress subscriber connected in time, proceeding anyway")
}

// consumeOutput feeds subprocess lines through the parser and publishes
// every derived event, driving countdown ticks while a rate-limit sleep
// is active.
func (o *Orchestrator) consumeOutput(id string, handle *ytdlp.Handle, log *logrus.Entry) {
	parser := progress.New()
	ticker := time.NewTicker(constants.CountdownTickInterval)
	defer ticker.Stop()

	lines := handle.Lines()
	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if line.Tag == ytdlp.Stderr {
				log.Warnf("yt-dlp stderr: %s", line.Text)
				continue
			}
			log.Debugf("yt-dlp: %s", line.Text)
			if event, ok := parser.Parse(line.Text); ok {
				o.store.Publish(id, event)
			}
		case <-ticker.C:
			if event, ok := parser.Tick(); ok {
				o.store.Publish(id, event)
			}
		}
	}
}

// fail records a terminal failure: partial artifacts are deleted
// immediately and exactly one terminal error event is published.
func (o *Orchestrator) fail(id, tempBase string, cause error) {
	if tempBase != "" {
		filestore.RemoveSessionFiles(tempBase)
	}
	if err := o.store.SetState(id, models.StateFailed); err != nil {
		logrus.WithError(err).WithField("session", id).Warn("Could not enter failed state")
		return
	}
	message := ClassifyError(cause)
	o.store.Publish(id, models.ProgressEvent{
		Status:  models.PhaseError,
		Percent: 0,
		Message: message,
		Error:   message,
	})
}

// Cancel tears a session down after its subscriber disconnected: the
// subprocess is stopped, partial files (including sibling thumbnails
// sharing the temp base) are deleted, and the session is evicted without
// reaching a terminal state.
func (o *Orchestrator) Cancel(id string) {
	sess, exists := o.store.Get(id)
	if !exists {
		return
	}

	if handle, ok := o.store.Handle(id); ok {
		logrus.WithField("session", id).Warn("Stopping conversion process for disconnected session")
		handle.Stop()
		o.store.DetachHandle(id)
	}

	if sess.TempBase != "" && sess.ResultFile == "" {
		filestore.RemoveSessionFiles(sess.TempBase)
	}
	o.store.Remove(id)
	logrus.WithField("session", id).Info("Session cancelled and removed")
}
