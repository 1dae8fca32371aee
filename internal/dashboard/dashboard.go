// Package dashboard keeps the latest view of every sensor log. A refresh
// re-reads the logs from disk; readers only ever see complete snapshots.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oicur0t/sensorlog/internal/gate"
	"github.com/oicur0t/sensorlog/internal/logstore"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"go.uber.org/zap"
)

// Point is one plotted reading
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Summary describes one log as of the last refresh
type Summary struct {
	Log      string  `json:"log"`
	Sensor   string  `json:"sensor"`
	SubLabel string  `json:"sub_label,omitempty"`
	Label    string  `json:"label,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Capacity int     `json:"capacity"`
	Ready    bool    `json:"ready"`
	Rows     int     `json:"rows"`
	Skipped  int     `json:"skipped,omitempty"`
	Latest   *Point  `json:"latest,omitempty"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Error    string  `json:"error,omitempty"`
}

// Series is a summary plus every point of the log
type Series struct {
	Summary
	Points []Point `json:"points"`
}

// Dashboard is the refresh consumer of the bounded logs
type Dashboard struct {
	store   *logstore.Store
	catalog *sensor.Catalog
	ready   gate.Options
	logger  *zap.Logger

	refreshMu   sync.Mutex
	mu          sync.RWMutex
	series      map[string]Series
	refreshedAt time.Time
}

// New creates a dashboard. ready.Timeout bounds how long one refresh waits for
// an empty log to receive its first row.
func New(store *logstore.Store, catalog *sensor.Catalog, ready gate.Options, logger *zap.Logger) *Dashboard {
	return &Dashboard{
		store:   store,
		catalog: catalog,
		ready:   ready,
		logger:  logger,
		series:  make(map[string]Series),
	}
}

// Refresh re-reads every log. Logs that are still empty after the readiness
// wait are reported as not ready. Concurrent calls are serialised.
func (d *Dashboard) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	entries := d.catalog.Entries()
	results := make([]Series, len(entries))

	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e sensor.Entry) {
			defer wg.Done()
			results[i] = d.load(ctx, e)
		}(i, e)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := make(map[string]Series, len(results))
	pending := 0
	for _, s := range results {
		next[s.Log] = s
		if !s.Ready {
			pending++
		}
	}

	d.mu.Lock()
	d.series = next
	d.refreshedAt = time.Now()
	d.mu.Unlock()

	d.logger.Debug("Dashboard refreshed",
		zap.Int("logs", len(next)),
		zap.Int("pending", pending))
	return nil
}

// RefreshAsync is the scheduler entry point; errors are only logged
func (d *Dashboard) RefreshAsync(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("Dashboard refresh failed", zap.Error(err))
	}
}

func (d *Dashboard) load(ctx context.Context, e sensor.Entry) Series {
	s := Series{Summary: Summary{
		Log:      e.Log,
		Sensor:   e.Sensor,
		SubLabel: e.SubLabel,
		Label:    e.Label,
		Unit:     e.Unit,
	}}
	s.Capacity, _ = d.store.Capacity(e.Log)

	path, ok := d.store.Path(e.Log)
	if !ok {
		s.Error = fmt.Sprintf("log %s is not configured in the store", e.Log)
		return s
	}

	if !gate.Ready(path) {
		if d.ready.Timeout <= 0 {
			return s
		}
		err := gate.AwaitNonEmpty(ctx, path, d.ready)
		if err != nil {
			if !errors.Is(err, gate.ErrTimeout) {
				s.Error = err.Error()
			}
			return s
		}
	}

	rows, err := d.store.ReadLines(e.Log)
	if err != nil {
		d.logger.Error("Failed to read log", zap.String("log", e.Log), zap.Error(err))
		s.Error = err.Error()
		return s
	}

	s.Ready = true
	s.Rows = len(rows)
	s.Points = make([]Point, 0, len(rows))
	for _, row := range rows {
		rec, err := sensor.ParseRow(row)
		if err != nil {
			s.Skipped++
			continue
		}
		s.Points = append(s.Points, Point{Timestamp: rec.Timestamp, Value: rec.Value})
	}
	summarize(&s)
	return s
}

func summarize(s *Series) {
	if len(s.Points) == 0 {
		return
	}

	minV, maxV, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, p := range s.Points {
		minV = math.Min(minV, p.Value)
		maxV = math.Max(maxV, p.Value)
		sum += p.Value
	}

	latest := s.Points[len(s.Points)-1]
	s.Latest = &latest
	s.Min = minV
	s.Max = maxV
	s.Mean = sum / float64(len(s.Points))
}

// Summaries returns every log's summary in catalog order
func (d *Dashboard) Summaries() []Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Summary, 0, len(d.series))
	for _, name := range d.catalog.Logs() {
		if s, ok := d.series[name]; ok {
			out = append(out, s.Summary)
		}
	}
	return out
}

// Series returns a copy of one log's series
func (d *Dashboard) Series(name string) (Series, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.series[name]
	if !ok {
		return Series{}, false
	}
	points := make([]Point, len(s.Points))
	copy(points, s.Points)
	s.Points = points
	return s, true
}

// RefreshedAt returns when the last refresh finished; zero before the first
func (d *Dashboard) RefreshedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshedAt
}

// Has reports whether name is a dashboard log
func (d *Dashboard) Has(name string) bool {
	_, ok := d.catalog.Entry(name)
	return ok
}

// Path returns the backing file of a dashboard log
func (d *Dashboard) Path(name string) (string, bool) {
	return d.store.Path(name)
}
