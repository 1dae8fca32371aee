package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oicur0t/sensorlog/internal/logstore"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"github.com/oicur0t/sensorlog/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	lines []string
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Run(ctx context.Context, lines chan<- string) error {
	for _, l := range s.lines {
		if err := send(ctx, lines, l); err != nil {
			return err
		}
	}
	return nil
}

func newPipelineFixture(t *testing.T, capacity int) (*sensor.Router, *logstore.Store) {
	t.Helper()
	catalog, err := sensor.NewCatalog([]sensor.Entry{
		{Log: "tmp116", Sensor: "TMP116", Unit: "°C"},
		{Log: "hdc2010_temp", Sensor: "HDC2010", SubLabel: "temperature", Unit: "°C"},
		{Log: "hdc2010_hum", Sensor: "HDC2010", SubLabel: "humidity", Unit: "%"},
	})
	require.NoError(t, err)

	var logs []logstore.LogConfig
	for _, name := range catalog.Logs() {
		logs = append(logs, logstore.LogConfig{Name: name, Capacity: capacity})
	}
	store, err := logstore.New(filepath.Join(t.TempDir(), "csv"), logs, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLogsExist())

	return sensor.NewRouter(catalog, zap.NewNop()), store
}

func TestPipelineRoutesLinesToLogs(t *testing.T) {
	router, store := newPipelineFixture(t, 100)
	src := &staticSource{lines: []string{
		"TMP116, 22.5",
		"HDC2010, temperature, 21.0",
		"HDC2010, humidity, 45.5",
		"HDC2010, pressure, 1000",
		"not a reading",
		"TMP116, 22.6",
	}}

	p := NewPipeline(src, router, store, nil, zap.NewNop())
	require.NoError(t, p.Run(context.Background()))

	counts := map[string]int{}
	for _, name := range store.Names() {
		n, err := store.Count(name)
		require.NoError(t, err)
		counts[name] = n
	}
	assert.Equal(t, map[string]int{"tmp116": 2, "hdc2010_temp": 1, "hdc2010_hum": 1}, counts)

	assert.Equal(t, Stats{Written: 4}, p.Stats())
	assert.Equal(t, sensor.Stats{Routed: 4, Unmatched: 1, Malformed: 1}, router.Stats())

	rows, err := store.ReadLines("hdc2010_hum")
	require.NoError(t, err)
	assert.Contains(t, rows[0], ", HDC2010, humidity, 45.5")
}

func TestPipelineTrimsAsItWrites(t *testing.T) {
	router, store := newPipelineFixture(t, 3)
	src := &staticSource{}
	for i := 0; i < 10; i++ {
		src.lines = append(src.lines, "TMP116, 20")
	}

	p := NewPipeline(src, router, store, nil, zap.NewNop())
	require.NoError(t, p.Run(context.Background()))

	n, err := store.Count("tmp116")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(7), p.Stats().Trimmed)
}

func TestPipelineForwardsToArchive(t *testing.T) {
	router, store := newPipelineFixture(t, 100)
	src := &staticSource{lines: []string{"TMP116, 22.5", "HDC2010, humidity, 50", "BOGUS, 1"}}
	archive := make(chan models.Record, 10)

	p := NewPipeline(src, router, store, archive, zap.NewNop())
	require.NoError(t, p.Run(context.Background()))
	close(archive)

	var got []models.Record
	for r := range archive {
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "tmp116", got[0].Log)
	assert.Equal(t, "°C", got[0].Unit)
	assert.Equal(t, "hdc2010_hum", got[1].Log)
	assert.Equal(t, 50.0, got[1].Value)
}

type blockingSource struct{}

func (blockingSource) Name() string { return "blocking" }

func (blockingSource) Run(ctx context.Context, _ chan<- string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPipelineStopsOnCancel(t *testing.T) {
	router, store := newPipelineFixture(t, 100)
	p := NewPipeline(blockingSource{}, router, store, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop")
	}
}
