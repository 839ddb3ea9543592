// Package registrytest provides an in-memory Transport for tests.
package registrytest

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrRejected is returned by Send when the transport is set to reject writes
var ErrRejected = errors.New("transport rejected write")

// Transport records every frame written to it
type Transport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reject bool
}

// NewTransport creates a Transport accepting writes
func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.reject {
		return ErrRejected
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Reject makes every later Send fail, as a full send queue would
func (t *Transport) Reject() {
	t.mu.Lock()
	t.reject = true
	t.mu.Unlock()
}

// Closed reports whether Close was called
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Frames returns a copy of the written frames
func (t *Transport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

// Types returns the "type" field of every written frame, in order
func (t *Transport) Types() []string {
	var types []string
	for _, frame := range t.Frames() {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err == nil {
			types = append(types, envelope.Type)
		}
	}
	return types
}

// Decode unmarshals every frame of the given type into a fresh value from newV
func (t *Transport) Decode(eventType string, newV func() any) []any {
	var out []any
	for _, frame := range t.Frames() {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil || envelope.Type != eventType {
			continue
		}
		v := newV()
		if err := json.Unmarshal(frame, v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Reset drops recorded frames
func (t *Transport) Reset() {
	t.mu.Lock()
	t.frames = nil
	t.mu.Unlock()
}
