package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"chairlink/models"
)

// maxLoggedPayload bounds how much of a bad payload ends up in a DecodeError
const maxLoggedPayload = 256

// Codec decodes device frames into snapshots and classifies their fields
type Codec struct {
	CalendarPrefix string
}

func NewCodec(calendarPrefix string) *Codec {
	return &Codec{CalendarPrefix: calendarPrefix}
}

// Decode parses one frame as a flat JSON object. Field order is preserved and a
// repeated key keeps its first position with its last value. Non-scalar values
// are dropped and listed in Snapshot.Skipped.
func (c *Codec) Decode(raw []byte) (*models.Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, c.payloadError(raw, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, c.payloadError(raw, errors.New("payload is not a JSON object"))
	}

	snap := &models.Snapshot{}
	index := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, c.payloadError(raw, err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, c.payloadError(raw, fmt.Errorf("unexpected token %v", tok))
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, c.payloadError(raw, err)
		}

		v, ok, err := scalarValue(value)
		if err != nil {
			return nil, c.payloadError(raw, err)
		}
		if !ok {
			snap.Skipped = append(snap.Skipped, name)
			continue
		}

		if i, seen := index[name]; seen {
			snap.Fields[i].Value = v
			continue
		}
		index[name] = len(snap.Fields)
		snap.Fields = append(snap.Fields, models.Field{Name: name, Value: v})
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, c.payloadError(raw, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, c.payloadError(raw, errors.New("trailing data after object"))
	}

	return snap, nil
}

// Classify splits a snapshot into calendar fields and measurement fields
func (c *Codec) Classify(snap *models.Snapshot) (calendar, measurements []models.Field) {
	return snap.Split(c.CalendarPrefix)
}

func (c *Codec) payloadError(raw []byte, err error) *DecodeError {
	payload := raw
	if len(payload) > maxLoggedPayload {
		payload = payload[:maxLoggedPayload]
	}
	return &DecodeError{Payload: string(payload), Err: err}
}

// scalarValue converts one raw JSON value. ok is false for objects and arrays.
func scalarValue(raw json.RawMessage) (models.Value, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return models.Value{}, false, errors.New("empty value")
	}

	switch trimmed[0] {
	case '{', '[':
		return models.Value{}, false, nil
	case 'n':
		return models.NullValue(), true, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return models.Value{}, false, err
		}
		return models.BoolValue(b), true, nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return models.Value{}, false, err
		}
		return models.StringValue(s), true, nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return models.Value{}, false, err
		}
		return models.NumberValue(n.String()), true, nil
	}
}
