package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oicur0t/sensorlog/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileSourceFollowsCaptureFile(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "capture.log")
	stateFile := filepath.Join(dir, "state", "capture.json")
	require.NoError(t, os.WriteFile(capture, []byte("TMP116, 21.0\r\nOPT3001, 300\n"), 0644))

	src := NewFileSource(capture, stateFile, true, zap.NewNop())
	lines := make(chan string, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, lines) }()

	var got []string
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case l := <-lines:
			got = append(got, l)
		case <-deadline:
			t.Fatalf("only got %v", got)
		}
	}
	assert.Equal(t, []string{"TMP116, 21.0", "OPT3001, 300"}, got)

	f, err := os.OpenFile(capture, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("DPS310, pressure, 1002\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case l := <-lines:
		assert.Equal(t, "DPS310, pressure, 1002", l)
	case <-time.After(5 * time.Second):
		t.Fatal("appended line was not followed")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("file source did not stop")
	}

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	var state models.FileState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, int64(3), state.Lines)
	assert.Positive(t, state.Offset)
}

func TestFileSourceLoadState(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"offset": 42, "lines": 3}`), 0644))

	src := NewFileSource(filepath.Join(dir, "capture.log"), stateFile, false, zap.NewNop())
	require.NoError(t, src.loadState())
	assert.Equal(t, int64(42), src.State().Offset)
	assert.True(t, src.loaded)

	require.NoError(t, os.WriteFile(stateFile, []byte(`not json`), 0644))
	assert.Error(t, NewFileSource("x", stateFile, false, zap.NewNop()).loadState())
}
