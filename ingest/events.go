// Package ingest decodes event streams into core.Events. JSON input is a
// stream of objects (newline-delimited or not) or a single array of objects;
// msgpack input is a stream of maps. Each object is either an envelope with a
// "fields" map or a bare field map.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"argus/core"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is an event encoding
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

const maxFieldDepth = 20

// ErrMaxDepth is returned for field maps nested deeper than maxFieldDepth
var ErrMaxDepth = errors.New("maximum field depth exceeded")

// ParseFormat parses "json" or "msgpack"
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatMsgpack:
		return f, nil
	}
	return "", fmt.Errorf("unknown event format %q (want json or msgpack)", s)
}

// checkDepth rejects pathological nesting before the evaluator walks it
func checkDepth(fields map[string]interface{}, depth int) error {
	if depth > maxFieldDepth {
		return ErrMaxDepth
	}
	for _, v := range fields {
		switch val := v.(type) {
		case map[string]interface{}:
			if err := checkDepth(val, depth+1); err != nil {
				return err
			}
		case []interface{}:
			for _, elem := range val {
				if m, ok := elem.(map[string]interface{}); ok {
					if err := checkDepth(m, depth+1); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// ParseRecord builds an event from one decoded object
func ParseRecord(record map[string]interface{}) (*core.Event, error) {
	if record == nil {
		return nil, fmt.Errorf("empty record")
	}
	event := core.NewEvent()

	fields, isEnvelope := record["fields"].(map[string]interface{})
	if !isEnvelope {
		event.Fields = record
		if err := checkDepth(event.Fields, 0); err != nil {
			return nil, err
		}
		return event, nil
	}

	event.Fields = fields
	if id, ok := record["event_id"].(string); ok && id != "" {
		event.EventID = id
	}
	if src, ok := record["source"].(string); ok {
		event.Source = src
	}
	if raw, ok := record["timestamp"]; ok && raw != nil {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		event.Timestamp = ts
	}
	if err := checkDepth(event.Fields, 0); err != nil {
		return nil, err
	}
	return event, nil
}

// parseTimestamp accepts RFC 3339 strings, time.Time (msgpack) and Unix
// milliseconds
func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", t, err)
		}
		return ts.UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case uint64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int8, int16, int32, uint8, uint16, uint32:
		return time.UnixMilli(toInt64(t)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	}
	return 0
}

// Decoder reads events one at a time
type Decoder struct {
	next func() (map[string]interface{}, error)
}

// NewDecoder creates a decoder for r in format
func NewDecoder(r io.Reader, format Format) *Decoder {
	if format == FormatMsgpack {
		dec := msgpack.NewDecoder(r)
		return &Decoder{next: func() (map[string]interface{}, error) {
			m, err := dec.DecodeMap()
			if err != nil {
				return nil, err
			}
			return m, nil
		}}
	}
	return &Decoder{next: jsonRecords(r)}
}

// jsonRecords yields objects from an object stream or a top-level array
func jsonRecords(r io.Reader) func() (map[string]interface{}, error) {
	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)
	started, inArray := false, false

	return func() (map[string]interface{}, error) {
		if !started {
			started = true
			if b, err := peekNonSpace(br); err == nil && b == '[' {
				if _, err := dec.Token(); err != nil {
					return nil, err
				}
				inArray = true
			}
		}
		if inArray && !dec.More() {
			return nil, io.EOF
		}
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
			continue
		}
		return b[0], nil
	}
}

// Next returns the next event, or io.EOF at the end of input. A record that
// decodes but is not a valid event yields a *RecordError; decoding may
// continue after it.
func (d *Decoder) Next() (*core.Event, error) {
	record, err := d.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode event stream: %w", err)
	}
	event, err := ParseRecord(record)
	if err != nil {
		return nil, &RecordError{Err: err}
	}
	return event, nil
}

// RecordError reports one unusable record
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string { return "invalid event record: " + e.Err.Error() }

func (e *RecordError) Unwrap() error { return e.Err }

// SubmitFunc hands one event to the detector
type SubmitFunc func(ctx context.Context, event *core.Event) error

// ToChannel returns a SubmitFunc sending to out
func ToChannel(out chan<- *core.Event) SubmitFunc {
	return func(ctx context.Context, event *core.Event) error {
		select {
		case out <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stream submits every event until input ends, ctx is cancelled or submit
// fails. Invalid records are passed to onRecordError (when set) and skipped.
// It returns the number of events submitted.
func (d *Decoder) Stream(ctx context.Context, submit SubmitFunc, onRecordError func(error)) (int, error) {
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		event, err := d.Next()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		var recErr *RecordError
		if errors.As(err, &recErr) {
			if onRecordError != nil {
				onRecordError(err)
			}
			continue
		}
		if err != nil {
			return sent, err
		}
		if err := submit(ctx, event); err != nil {
			return sent, err
		}
		sent++
	}
}
