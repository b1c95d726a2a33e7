// Package storage appends capture journal records as JSON lines under
// <base>/<UTC day>/<channel>/captures.jsonl, size-rotated by lumberjack.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const journalFile = "captures.jsonl"

var (
	ErrClosed     = errors.New("journal is closed")
	ErrBufferFull = errors.New("journal buffer full")
)

type line struct {
	channel string
	data    []byte
}

// Journal queues records and writes them from a single goroutine so a slow
// disk never blocks a capture.
type Journal struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	queue     chan line
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	// owned by the writer goroutine
	day   string
	files map[string]*lumberjack.Logger
}

// NewJournal starts a journal rooted at baseDir. bufferSize bounds the
// queue; maxSizeMB is the rotation threshold per file.
func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	return newJournal(baseDir, bufferSize, maxSizeMB, time.Now)
}

func newJournal(baseDir string, bufferSize, maxSizeMB int, now func() time.Time) *Journal {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       now,
		queue:     make(chan line, bufferSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		files:     make(map[string]*lumberjack.Logger),
	}
	go j.run()
	return j
}

// Append encodes record and queues it for channel without blocking.
func (j *Journal) Append(channel string, record any) error {
	if channel == "" {
		channel = "unknown"
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	select {
	case <-j.done:
		return ErrClosed
	default:
	}
	select {
	case j.queue <- line{channel: channel, data: append(data, '\n')}:
		return nil
	default:
		slog.Warn("journal buffer full, dropping record", "channel", channel)
		return ErrBufferFull
	}
}

// Close flushes queued records and closes every open file.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	<-j.stopped
	return j.closeFiles()
}

func (j *Journal) run() {
	defer close(j.stopped)
	for {
		select {
		case l := <-j.queue:
			j.write(l)
		case <-j.done:
			for {
				select {
				case l := <-j.queue:
					j.write(l)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(l line) {
	day := j.now().UTC().Format("2006-01-02")
	if day != j.day {
		if err := j.closeFiles(); err != nil {
			slog.Warn("journal day rollover close failed", "error", err)
		}
		j.day = day
	}
	f, err := j.file(l.channel)
	if err != nil {
		slog.Error("journal open failed", "channel", l.channel, "error", err)
		return
	}
	if _, err := f.Write(l.data); err != nil {
		slog.Error("journal write failed", "channel", l.channel, "error", err)
	}
}

func (j *Journal) file(channel string) (*lumberjack.Logger, error) {
	if f, ok := j.files[channel]; ok {
		return f, nil
	}
	dir := filepath.Join(j.baseDir, j.day, channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f := &lumberjack.Logger{
		Filename:   filepath.Join(dir, journalFile),
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	j.files[channel] = f
	slog.Debug("journal file opened", "file", f.Filename)
	return f, nil
}

func (j *Journal) closeFiles() error {
	var errs []error
	for channel, f := range j.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
		delete(j.files, channel)
	}
	return errors.Join(errs...)
}
