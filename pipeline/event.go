package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// Event is a bucket notification announcing newly created objects
type Event struct {
	Records []EventRecord `json:"Records"`
}

// EventRecord references one object
type EventRecord struct {
	EventName string      `json:"eventName,omitempty"`
	S3        EventEntity `json:"s3"`
}

// EventEntity holds the bucket and object of a record
type EventEntity struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size,omitempty"`
	} `json:"object"`
}

// NewEvent builds a single-record event
func NewEvent(bucket, key string) Event {
	var rec EventRecord
	rec.EventName = "ObjectCreated:Put"
	rec.S3.Bucket.Name = bucket
	rec.S3.Object.Key = key
	return Event{Records: []EventRecord{rec}}
}

// DecodeEvent reads a JSON event document
func DecodeEvent(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// ObjectKey returns the record's key with notification URL encoding removed
func (r EventRecord) ObjectKey() string {
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		return r.S3.Object.Key
	}
	return key
}
