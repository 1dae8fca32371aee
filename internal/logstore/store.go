// Package logstore keeps one CSV file per log and caps each file at a fixed
// number of rows. The first row of a file is the anchor: trimming removes the
// oldest rows after it and never the anchor itself.
package logstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oicur0t/sensorlog/internal/sensor"
	"go.uber.org/zap"
)

// ErrUnknownLog is returned for log names the store was not configured with
var ErrUnknownLog = errors.New("unknown log")

// LogConfig describes one bounded log
type LogConfig struct {
	Name     string
	Capacity int
}

// boundedLog serialises every append, trim and read of one file
type boundedLog struct {
	name     string
	path     string
	capacity int
	mu       sync.Mutex
}

// Store owns the bounded logs under a data directory
type Store struct {
	dir    string
	logs   map[string]*boundedLog
	names  []string
	logger *zap.Logger
}

// New creates a store for logs under dir. Nothing is touched on disk until
// EnsureLogsExist or the first append.
func New(dir string, logs []LogConfig, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("at least one log must be configured")
	}

	s := &Store{
		dir:    dir,
		logs:   make(map[string]*boundedLog, len(logs)),
		logger: logger,
	}

	for _, lc := range logs {
		if lc.Name == "" {
			return nil, fmt.Errorf("log name is required")
		}
		if lc.Capacity < 1 {
			return nil, fmt.Errorf("log %s: capacity must be at least 1, got %d", lc.Name, lc.Capacity)
		}
		if _, exists := s.logs[lc.Name]; exists {
			return nil, fmt.Errorf("log %s configured twice", lc.Name)
		}

		s.logs[lc.Name] = &boundedLog{
			name:     lc.Name,
			path:     filepath.Join(dir, lc.Name+".csv"),
			capacity: lc.Capacity,
		}
		s.names = append(s.names, lc.Name)
	}

	return s, nil
}

// EnsureLogsExist creates the data directory and, only when that directory is
// completely empty, an empty file for every configured log. A directory that
// already holds anything is left as it is.
func (s *Store) EnsureLogsExist() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	if len(entries) > 0 {
		s.logger.Info("Data directory already populated, skipping bootstrap",
			zap.String("dir", s.dir),
			zap.Int("entries", len(entries)))
		return nil
	}

	for _, name := range s.names {
		f, err := os.OpenFile(s.logs[name].path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to create log %s: %w", name, err)
		}
		f.Close()
	}

	s.logger.Info("Bootstrapped log files", zap.String("dir", s.dir), zap.Int("logs", len(s.names)))
	return nil
}

// Append writes the record as a new row at the end of the log
func (s *Store) Append(name string, rec sensor.Record) error {
	return s.AppendLine(name, rec.Line())
}

// AppendLine writes line verbatim; the caller supplies the terminator
func (s *Store) AppendLine(name, line string) error {
	l, err := s.get(name)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(line)
}

// Trim drops the oldest rows after the anchor until the log holds at most
// its capacity. It returns the number of rows removed.
func (s *Store) Trim(name string) (int, error) {
	l, err := s.get(name)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimLocked()
}

// AppendAndTrim appends rec and trims the log without releasing the lock in between
func (s *Store) AppendAndTrim(name string, rec sensor.Record) (int, error) {
	l, err := s.get(name)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.appendLocked(rec.Line()); err != nil {
		return 0, err
	}
	return l.trimLocked()
}

// ReadLines returns the rows of a log without terminators
func (s *Store) ReadLines(name string) ([]string, error) {
	l, err := s.get(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	rows, err := l.readLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		rows[i] = strings.TrimRight(row, "\r\n")
	}
	return rows, nil
}

// Count returns the number of rows currently in the log
func (s *Store) Count(name string) (int, error) {
	l, err := s.get(name)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readLocked()
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Capacity returns the configured row limit of a log
func (s *Store) Capacity(name string) (int, bool) {
	l, ok := s.logs[name]
	if !ok {
		return 0, false
	}
	return l.capacity, true
}

// Path returns the backing file of a log
func (s *Store) Path(name string) (string, bool) {
	l, ok := s.logs[name]
	if !ok {
		return "", false
	}
	return l.path, true
}

// Names returns the configured log names in order
func (s *Store) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) get(name string) (*boundedLog, error) {
	l, ok := s.logs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLog, name)
	}
	return l, nil
}

// appendLocked opens the file for every write so that an append after a trim
// always lands in the renamed file and not the replaced one.
func (l *boundedLog) appendLocked(line string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", l.name, err)
	}

	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to log %s: %w", l.name, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log %s: %w", l.name, err)
	}
	return nil
}

// readLocked returns the rows of the file with their terminators. A missing
// file reads as an empty log.
func (l *boundedLog) readLocked() ([]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log %s: %w", l.name, err)
	}
	return splitRows(data), nil
}

func (l *boundedLog) trimLocked() (int, error) {
	rows, err := l.readLocked()
	if err != nil {
		return 0, err
	}

	removed := len(rows) - l.capacity
	if removed <= 0 {
		return 0, nil
	}

	kept := make([]string, 0, l.capacity)
	kept = append(kept, rows[0])
	kept = append(kept, rows[removed+1:]...)

	if err := l.rewriteLocked(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// rewriteLocked replaces the file through a temp file and a rename
func (l *boundedLog) rewriteLocked(rows []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+l.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for log %s: %w", l.name, err)
	}
	tmpPath := tmp.Name()

	var buf bytes.Buffer
	for _, row := range rows {
		buf.WriteString(row)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write trimmed log %s: %w", l.name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close trimmed log %s: %w", l.name, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod trimmed log %s: %w", l.name, err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace log %s: %w", l.name, err)
	}
	return nil
}

// splitRows splits data after every '\n'. A trailing row without a
// terminator still counts as a row.
func splitRows(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	parts := bytes.SplitAfter(data, []byte("\n"))
	rows := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		rows = append(rows, string(p))
	}
	return rows
}
