package sensor

import (
	"fmt"
)

// Entry maps a sensor (and optionally one of its sub-measurements) to a log
type Entry struct {
	Log      string
	Sensor   string
	SubLabel string // empty matches any sub-label
	Unit     string
	Label    string
}

type routeKey struct {
	sensor   string
	subLabel string
}

// Catalog is the immutable sensor → log lookup built once at startup
type Catalog struct {
	entries []Entry
	byLog   map[string]Entry
	exact   map[routeKey]Entry
	byName  map[string]Entry
}

// NewCatalog validates entries and builds the lookup tables
func NewCatalog(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog needs at least one entry")
	}

	c := &Catalog{
		entries: make([]Entry, len(entries)),
		byLog:   make(map[string]Entry, len(entries)),
		exact:   make(map[routeKey]Entry),
		byName:  make(map[string]Entry),
	}
	copy(c.entries, entries)

	for _, e := range c.entries {
		if e.Log == "" {
			return nil, fmt.Errorf("catalog entry for sensor %q has no log name", e.Sensor)
		}
		if e.Sensor == "" {
			return nil, fmt.Errorf("catalog entry for log %q has no sensor name", e.Log)
		}
		if _, dup := c.byLog[e.Log]; dup {
			return nil, fmt.Errorf("log %q is listed twice", e.Log)
		}
		c.byLog[e.Log] = e

		if e.SubLabel == "" {
			if prev, dup := c.byName[e.Sensor]; dup {
				return nil, fmt.Errorf("sensor %q routes to both %q and %q", e.Sensor, prev.Log, e.Log)
			}
			c.byName[e.Sensor] = e
			continue
		}

		key := routeKey{sensor: e.Sensor, subLabel: e.SubLabel}
		if prev, dup := c.exact[key]; dup {
			return nil, fmt.Errorf("sensor %q/%q routes to both %q and %q", e.Sensor, e.SubLabel, prev.Log, e.Log)
		}
		c.exact[key] = e
	}

	return c, nil
}

// Route picks the target for a reading. Exact (sensor, sub-label) entries win
// over sensor-only entries; ok is false when nothing matches.
func (c *Catalog) Route(sensorName, subLabel string) (Entry, bool) {
	if subLabel != "" {
		if e, ok := c.exact[routeKey{sensor: sensorName, subLabel: subLabel}]; ok {
			return e, true
		}
	}
	e, ok := c.byName[sensorName]
	return e, ok
}

// Entry returns the catalog entry for a log name
func (c *Catalog) Entry(logName string) (Entry, bool) {
	e, ok := c.byLog[logName]
	return e, ok
}

// Entries returns the entries in configuration order
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Logs returns every log name in configuration order
func (c *Catalog) Logs() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Log
	}
	return names
}
