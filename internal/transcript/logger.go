// Package transcript writes conversation turns as NDJSON files, one per session,
// from a single background writer.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Event is one line of a transcript.
type Event struct {
	Timestamp  string         `json:"ts"`
	TurnID     string         `json:"turn_id,omitempty"`
	Subject    string         `json:"subject"`
	Session    string         `json:"session"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Content    string         `json:"content"`
	ContentRaw string         `json:"content_raw"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events. Log never blocks the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Noop discards every event.
type Noop struct{}

// Log implements Logger.
func (Noop) Log(Event) {}

// Close implements Logger.
func (Noop) Close() error { return nil }

type fileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	files  map[string]*os.File
	global *os.File
}

// New starts a transcript logger. A disabled config yields Noop.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &fileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		f, err := openAppend(cfg.GlobalPath)
		if err != nil {
			return nil, err
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

func (l *fileLogger) Log(ev Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" {
		ev.Content = Clean(ev.ContentRaw)
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Transcript queue full, dropping event", "session", ev.Session, "event_type", ev.EventType)
	}
}

func (l *fileLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		<-l.done
		for path, f := range l.files {
			if cerr := f.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close %s: %w", path, cerr))
			}
		}
		if l.global != nil {
			if cerr := l.global.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close global transcript: %w", cerr))
			}
		}
	})
	return err
}

func (l *fileLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')

		f, err := l.fileFor(ev)
		if err != nil {
			l.logger.Warn("Failed to open transcript file", "error", err, "session", ev.Session)
		} else if _, err := f.Write(line); err != nil {
			l.logger.Warn("Failed to write transcript event", "error", err, "session", ev.Session)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global transcript", "error", err)
			}
		}
	}
}

func (l *fileLogger) fileFor(ev Event) (*os.File, error) {
	path := filepath.Join(l.cfg.Dir, safeName(ev.Subject), safeName(ev.Session)+".ndjson")
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	l.files[path] = f
	return f, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	return f, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._+-]+`)

// safeName maps a phone number or session id onto a file name.
func safeName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "unknown"
	}
	return s
}

var reEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// Clean strips terminal escape sequences and control characters, keeping newlines and tabs.
func Clean(s string) string {
	s = reEscape.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
