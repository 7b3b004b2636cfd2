// Package progress derives structured progress events from the conversion
// tool's line-oriented output.
package progress

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PhilippeHo27/mp3maker/internal/models"
)

var (
	sleepRegex   = regexp.MustCompile(`Sleeping\s+(\d+\.?\d*)\s+seconds`)
	percentRegex = regexp.MustCompile(`(\d+\.?\d*)%`)
	speedRegex   = regexp.MustCompile(`(\d+\.?\d*[KMG]iB/s)`)
	etaRegex     = regexp.MustCompile(`ETA\s+(\d+:\d+)`)
)

// milestone maps a known textual marker to a fixed fetching checkpoint.
type milestone struct {
	marker  string
	percent float64
	message string
}

// milestones are evaluated in order; each marks a later stage of stream
// resolution, so the checkpoints increase monotonically.
var milestones = []milestone{
	{"Extracting URL", 10, "Extracting URL..."},
	{"Downloading webpage", 15, "Loading webpage..."},
	{"Downloading tv client config", 20, "Loading config..."},
	{"Downloading tv player API JSON", 25, "Loading player API..."},
	{"Downloading web safari player API JSON", 25, "Loading player API..."},
	{"Downloading m3u8 information", 30, "Analyzing streams..."},
	{"Downloading 1 format", 35, "Format selected"},
}

// Countdown band for rate-limit sleeps.
const (
	countdownBase = 10.0
	countdownSpan = 5.0
	extractingPct = 95.0
	maxRunningPct = 99.0
)

// Parser turns output lines into progress events. It is stateless per line
// except for an active rate-limit countdown, which spans lines and emits
// synthetic events via Tick. A Parser serves a single session and is not
// safe for concurrent use.
type Parser struct {
	sleepTotal     float64
	sleepRemaining int
}

// New creates a parser with no active countdown.
func New() *Parser {
	return &Parser{}
}

// Parse applies the rule table to one line. It returns the derived event
// and true, or a zero event and false when the line carries no progress
// information.
func (p *Parser) Parse(line string) (models.ProgressEvent, bool) {
	for _, m := range milestones {
		if strings.Contains(line, m.marker) {
			return models.ProgressEvent{
				Status:  models.PhaseFetching,
				Percent: m.percent,
				Message: m.message,
			}, true
		}
	}

	if match := sleepRegex.FindStringSubmatch(line); match != nil {
		seconds, err := strconv.ParseFloat(match[1], 64)
		if err == nil && seconds > 0 {
			p.sleepTotal = seconds
			p.sleepRemaining = int(math.Ceil(seconds))
			return models.ProgressEvent{
				Status:  models.PhaseFetching,
				Percent: countdownBase,
				Message: fmt.Sprintf("Rate limit: %ds...", p.sleepRemaining),
			}, true
		}
	}

	if match := percentRegex.FindStringSubmatch(line); match != nil {
		percent, err := strconv.ParseFloat(match[1], 64)
		if err == nil {
			event := models.ProgressEvent{
				Status:  models.PhaseDownloading,
				Percent: math.Min(percent, maxRunningPct),
				Message: "Downloading...",
			}
			if strings.Contains(line, "Extracting audio") ||
				strings.Contains(line, "Deleting") ||
				strings.Contains(line, "has already been downloaded") {
				event.Status = models.PhaseConverting
				event.Message = "Converting to MP3..."
			}
			if speedMatch := speedRegex.FindStringSubmatch(line); speedMatch != nil {
				event.Speed = speedMatch[1]
			}
			if etaMatch := etaRegex.FindStringSubmatch(line); etaMatch != nil {
				event.ETA = etaMatch[1]
			}
			return event, true
		}
	}

	if strings.Contains(line, "Extracting audio") || strings.Contains(line, "[ExtractAudio]") {
		return models.ProgressEvent{
			Status:  models.PhaseConverting,
			Percent: extractingPct,
			Message: "Converting to MP3...",
		}, true
	}

	return models.ProgressEvent{}, false
}

// CountdownActive reports whether a rate-limit countdown is in progress.
func (p *Parser) CountdownActive() bool {
	return p.sleepRemaining > 0
}

// Tick advances the active countdown by one second. It returns a synthetic
// event for each remaining second; once the countdown reaches zero it
// returns false and the parser resumes normal parsing.
func (p *Parser) Tick() (models.ProgressEvent, bool) {
	if p.sleepRemaining <= 0 {
		return models.ProgressEvent{}, false
	}
	p.sleepRemaining--
	if p.sleepRemaining <= 0 {
		p.sleepTotal = 0
		return models.ProgressEvent{}, false
	}
	elapsed := p.sleepTotal - float64(p.sleepRemaining)
	return models.ProgressEvent{
		Status:  models.PhaseFetching,
		Percent: countdownBase + (elapsed/p.sleepTotal)*countdownSpan,
		Message: fmt.Sprintf("Rate limit: %ds...", p.sleepRemaining),
	}, true
}
