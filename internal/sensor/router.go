package sensor

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats counts what the router did with the lines it was given
type Stats struct {
	Routed    uint64 `json:"routed"`
	Unmatched uint64 `json:"unmatched"`
	Malformed uint64 `json:"malformed"`
}

// Routed is a decoded record together with the log it belongs to
type Routed struct {
	Log    string
	Record Record
}

// Router decodes producer lines and picks their destination log
type Router struct {
	catalog *Catalog
	logger  *zap.Logger
	now     func() time.Time

	routed    atomic.Uint64
	unmatched atomic.Uint64
	malformed atomic.Uint64
}

// NewRouter creates a router over catalog
func NewRouter(catalog *Catalog, logger *zap.Logger) *Router {
	return &Router{
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle decodes and routes one raw line. Malformed and unmatched lines are
// dropped: ok is false and the matching counter is bumped.
func (r *Router) Handle(raw string) (Routed, bool) {
	rec, err := ParseLine(raw, r.now())
	if err != nil {
		r.malformed.Add(1)
		r.logger.Debug("Dropping malformed line", zap.Error(err))
		return Routed{}, false
	}

	entry, ok := r.catalog.Route(rec.Sensor, rec.SubLabel)
	if !ok {
		r.unmatched.Add(1)
		r.logger.Debug("Dropping unmatched reading",
			zap.String("sensor", rec.Sensor),
			zap.String("sub_label", rec.SubLabel))
		return Routed{}, false
	}

	r.routed.Add(1)
	return Routed{Log: entry.Log, Record: rec.WithUnit(entry.Unit)}, true
}

// Stats returns a snapshot of the counters
func (r *Router) Stats() Stats {
	return Stats{
		Routed:    r.routed.Load(),
		Unmatched: r.unmatched.Load(),
		Malformed: r.malformed.Load(),
	}
}
