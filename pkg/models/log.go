package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record represents a single sensor reading with the log it was written to
type Record struct {
	ID        primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	Log       string             `json:"log" bson:"log"`
	Sensor    string             `json:"sensor" bson:"sensor"`
	SubLabel  string             `json:"sub_label,omitempty" bson:"sub_label,omitempty"`
	Value     float64            `json:"value" bson:"value"`
	Unit      string             `json:"unit,omitempty" bson:"unit,omitempty"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
}

// RecordBatch groups records of one log for a single archive insert
type RecordBatch struct {
	Log     string   `json:"log"`
	Records []Record `json:"records"`
}

// FileState tracks the reading position of a followed capture file
type FileState struct {
	Offset   int64     `json:"offset"`
	Lines    int64     `json:"lines"`
	LastRead time.Time `json:"last_read"`
}
