package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oicur0t/sensorlog/pkg/models"
)

// TimestampLayout is the DD/MM/YYYY HH:MM:SS layout written in front of every row
const TimestampLayout = "02/01/2006 15:04:05"

// fieldSeparator is what the microcontroller puts between fields
const fieldSeparator = ", "

// ErrMalformedLine is returned for producer lines and rows that cannot be decoded
var ErrMalformedLine = errors.New("malformed sensor line")

// Record is a single decoded reading. It is never modified after it is built.
type Record struct {
	Timestamp time.Time
	Sensor    string
	SubLabel  string
	Value     float64
	Unit      string

	// raw is the producer line without its terminator
	raw string
}

// NewRecord builds a record from its fields, rendering the producer form itself
func NewRecord(ts time.Time, sensorName, subLabel string, value float64) Record {
	fields := []string{sensorName}
	if subLabel != "" {
		fields = append(fields, subLabel)
	}
	fields = append(fields, strconv.FormatFloat(value, 'f', -1, 64))

	return Record{
		Timestamp: ts,
		Sensor:    sensorName,
		SubLabel:  subLabel,
		Value:     value,
		raw:       strings.Join(fields, fieldSeparator),
	}
}

// ParseLine decodes a raw producer line of the form
// "<SENSOR>, [<SUB_LABEL>, ]<value>" and stamps it with now. Fields must be
// separated by ", " so that every stored row has the same shape.
func ParseLine(raw string, now time.Time) (Record, error) {
	line := strings.TrimRight(raw, "\r\n")
	rec, err := decodeFields(strings.Split(line, fieldSeparator))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q", err, line)
	}

	rec.Timestamp = now.Truncate(time.Second)
	rec.raw = line
	return rec, nil
}

// ParseRow decodes a row previously written to a log file
func ParseRow(row string) (Record, error) {
	row = strings.TrimRight(row, "\r\n")
	tsField, rest, ok := strings.Cut(row, fieldSeparator)
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedLine, row)
	}

	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(tsField), time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedLine, tsField)
	}

	rec, err := decodeFields(strings.Split(rest, fieldSeparator))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q", err, row)
	}

	rec.Timestamp = ts
	rec.raw = strings.TrimSpace(rest)
	return rec, nil
}

func decodeFields(fields []string) (Record, error) {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var rec Record
	var valueField string
	switch len(fields) {
	case 2:
		rec.Sensor, valueField = fields[0], fields[1]
	case 3:
		rec.Sensor, rec.SubLabel, valueField = fields[0], fields[1], fields[2]
		if rec.SubLabel == "" {
			return Record{}, ErrMalformedLine
		}
	default:
		return Record{}, ErrMalformedLine
	}

	if rec.Sensor == "" {
		return Record{}, ErrMalformedLine
	}

	value, err := strconv.ParseFloat(valueField, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return Record{}, ErrMalformedLine
	}
	rec.Value = value

	return rec, nil
}

// WithUnit returns a copy of the record carrying unit
func (r Record) WithUnit(unit string) Record {
	r.Unit = unit
	return r
}

// Line renders the row appended to a log file, terminator included.
// The producer line is kept verbatim after the timestamp.
func (r Record) Line() string {
	return r.Timestamp.Format(TimestampLayout) + fieldSeparator + r.raw + "\n"
}

// Model converts the record into its archive/API form
func (r Record) Model(logName string) models.Record {
	return models.Record{
		Log:       logName,
		Sensor:    r.Sensor,
		SubLabel:  r.SubLabel,
		Value:     r.Value,
		Unit:      r.Unit,
		Timestamp: r.Timestamp,
	}
}
