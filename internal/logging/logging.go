package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 28
)

// Options configures the process logger.
type Options struct {
	// File is the rotating log file. Empty disables file logging.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Stderr also writes to standard error. Leave off while a terminal UI owns the screen.
	Stderr bool

	// UILines, when set, receives every log line for display in the log pane.
	UILines chan<- string
}

// New builds the process logger. The returned closer flushes and closes the
// log file and must be called once the logger is no longer used.
func New(opts Options) (*log.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, DefaultMaxAgeDays),
		}
		writers = append(writers, rotating)
		closer = rotating
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if opts.UILines != nil {
		writers = append(writers, NewChanWriter(opts.UILines))
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	return log.New(io.MultiWriter(writers...), "", log.LstdFlags|log.Lmicroseconds), closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ChanWriter splits written bytes into lines and sends each one to a channel.
// Lines are dropped when the channel is full so logging never blocks on the UI.
type ChanWriter struct {
	mu      sync.Mutex
	ch      chan<- string
	pending strings.Builder
}

func NewChanWriter(ch chan<- string) *ChanWriter {
	if ch == nil {
		panic("ChanWriter: channel cannot be nil")
	}
	return &ChanWriter{ch: ch}
}

func (w *ChanWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	buffered := w.pending.String()
	lines := strings.Split(buffered, "\n")
	w.pending.Reset()
	w.pending.WriteString(lines[len(lines)-1])

	for _, line := range lines[:len(lines)-1] {
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}
