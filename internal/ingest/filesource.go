package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nxadm/tail"
	"github.com/oicur0t/sensorlog/pkg/models"
	"go.uber.org/zap"
)

// stateSaveInterval is how often the read position is written to disk
const stateSaveInterval = 10 * time.Second

// FileSource follows a capture file that receives raw producer lines, for
// example a serial-to-network bridge log or a recording being replayed
type FileSource struct {
	path      string
	stateFile string
	fromStart bool
	logger    *zap.Logger

	state   models.FileState
	loaded  bool
	stateMu sync.RWMutex
}

// NewFileSource creates a source following path. When stateFile is set the
// read position survives restarts. fromStart picks where a file without saved
// state is read from.
func NewFileSource(path, stateFile string, fromStart bool, logger *zap.Logger) *FileSource {
	return &FileSource{
		path:      path,
		stateFile: stateFile,
		fromStart: fromStart,
		logger:    logger,
	}
}

// Name returns the followed path
func (f *FileSource) Name() string {
	return f.path
}

// Run tails the file and sends every new line
func (f *FileSource) Run(ctx context.Context, lines chan<- string) error {
	if err := f.loadState(); err != nil {
		f.logger.Warn("Failed to load state, starting fresh", zap.Error(err))
	}

	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true, // rotated and replayed captures are not always seen by inotify
		Logger:    tail.DiscardingLogger,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
	}
	if f.fromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekStart}
	}

	f.stateMu.RLock()
	if f.loaded {
		cfg.Location = &tail.SeekInfo{Offset: f.state.Offset, Whence: io.SeekStart}
		f.logger.Info("Resuming from saved position",
			zap.String("file", f.path),
			zap.Int64("offset", f.state.Offset))
	}
	f.stateMu.RUnlock()

	t, err := tail.TailFile(f.path, cfg)
	if err != nil {
		return fmt.Errorf("failed to tail file %s: %w", f.path, err)
	}
	defer t.Cleanup()
	defer t.Stop()

	f.logger.Info("Following capture file", zap.String("file", f.path))

	ticker := time.NewTicker(stateSaveInterval)
	defer ticker.Stop()
	defer func() {
		if err := f.saveState(); err != nil {
			f.logger.Error("Failed to save final state", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Stopping follow of file", zap.String("file", f.path))
			return ctx.Err()

		case <-ticker.C:
			if err := f.saveState(); err != nil {
				f.logger.Error("Failed to save state", zap.Error(err))
			}

		case line, ok := <-t.Lines:
			if !ok {
				f.logger.Warn("Tail channel closed", zap.String("file", f.path))
				return nil
			}
			if line.Err != nil {
				f.logger.Error("Error reading line", zap.String("file", f.path), zap.Error(line.Err))
				continue
			}

			if err := send(ctx, lines, trimCR(line.Text)); err != nil {
				return err
			}

			offset, err := t.Tell()
			f.updateState(offset, err == nil)
		}
	}
}

// State returns the current read position
func (f *FileSource) State() models.FileState {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

func (f *FileSource) updateState(offset int64, offsetKnown bool) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()

	if offsetKnown {
		f.state.Offset = offset
	}
	f.state.Lines++
	f.state.LastRead = time.Now()
}

func (f *FileSource) saveState() error {
	if f.stateFile == "" {
		return nil
	}

	f.stateMu.RLock()
	data, err := json.MarshalIndent(f.state, "", "  ")
	f.stateMu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.stateFile), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(f.stateFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	f.logger.Debug("State saved", zap.String("state_file", f.stateFile))
	return nil
}

func (f *FileSource) loadState() error {
	if f.stateFile == "" {
		return nil
	}

	data, err := os.ReadFile(f.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state models.FileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	f.stateMu.Lock()
	f.state = state
	f.loaded = true
	f.stateMu.Unlock()

	f.logger.Info("State loaded", zap.String("state_file", f.stateFile), zap.Int64("offset", state.Offset))
	return nil
}

func trimCR(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\r' {
		return s[:n-1]
	}
	return s
}
