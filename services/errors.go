package services

import "fmt"

// DecodeError marks a payload, or a single field of it, that could not be decoded.
// It never affects connection state.
type DecodeError struct {
	Field   string
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed load or save of the calendar backing
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransportError wraps dial, handshake and read failures of the device socket
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
