// Package logging configures logrus and fans log records out to admin viewers.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/models"
)

// Broadcaster is a logrus hook that retains the most recent records and
// pushes every new record to all subscribed viewers. It is safe for
// concurrent use.
type Broadcaster struct {
	mu          sync.RWMutex
	history     []models.LogRecord
	subscribers map[chan models.LogRecord]struct{}
}

// NewBroadcaster creates an empty log broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		history:     make([]models.LogRecord, 0, constants.LogHistorySize),
		subscribers: make(map[chan models.LogRecord]struct{}),
	}
}

// Init sets up the global logrus logger at the given level and attaches
// the broadcaster hook.
func Init(level string, broadcaster *Broadcaster) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logrus.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logrus.AddHook(broadcaster)
}

// Levels implements logrus.Hook.
func (b *Broadcaster) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook. It records the entry and broadcasts it.
func (b *Broadcaster) Fire(entry *logrus.Entry) error {
	record := recordFromEntry(entry)

	b.mu.Lock()
	b.history = append(b.history, record)
	if len(b.history) > constants.LogHistorySize {
		b.history = b.history[len(b.history)-constants.LogHistorySize:]
	}
	for ch := range b.subscribers {
		select {
		case ch <- record:
		default:
			// Drop the record if a viewer is slow to avoid blocking logging.
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe registers a new log viewer channel.
func (b *Broadcaster) Subscribe() chan models.LogRecord {
	ch := make(chan models.LogRecord, constants.LogSubscriberBufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// SubscribeWithSnapshot registers a viewer and returns the retained history
// in one locked step, so no record can fall between replay and subscription.
func (b *Broadcaster) SubscribeWithSnapshot() (chan models.LogRecord, []models.LogRecord) {
	ch := make(chan models.LogRecord, constants.LogSubscriberBufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	snapshot := make([]models.LogRecord, len(b.history))
	copy(snapshot, b.history)
	b.mu.Unlock()
	return ch, snapshot
}

// Unsubscribe removes a viewer and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan models.LogRecord) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Snapshot returns a copy of the retained history for replay on connect.
func (b *Broadcaster) Snapshot() []models.LogRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snapshot := make([]models.LogRecord, len(b.history))
	copy(snapshot, b.history)
	return snapshot
}

// ViewerCount returns the number of connected log viewers.
func (b *Broadcaster) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func recordFromEntry(entry *logrus.Entry) models.LogRecord {
	timestamp := entry.Time.UTC().Format(time.RFC3339)
	level := strings.ToUpper(entry.Level.String())
	if entry.Level == logrus.WarnLevel {
		level = "WARN"
	}

	message := entry.Message
	if len(entry.Data) > 0 {
		var sb strings.Builder
		sb.WriteString(message)
		for key, value := range entry.Data {
			sb.WriteString(fmt.Sprintf(" %s=%v", key, value))
		}
		message = sb.String()
	}

	return models.LogRecord{
		Timestamp: timestamp,
		Level:     level,
		Message:   message,
		Full:      fmt.Sprintf("[%s] [%s] %s", timestamp, level, message),
	}
}
