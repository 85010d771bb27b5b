// Package bus provides the typed message backbone of lexhound: the universal
// envelope carried on every queue, the closed message/error taxonomy, bounded
// in-memory queues, and the one-bit Signal used to wake downstream workers.
//
// Every message that crosses a component boundary is an [Envelope]. Producers
// create envelopes with [New], queues move them, and consumers append to the
// processing and forwarding paths as they handle them. The envelope id never
// changes after creation and both path lists are append-only.
package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ProcessingStep records one processor's handling of an envelope.
type ProcessingStep struct {
	Processor   string  `json:"processor"`
	Status      string  `json:"status"`
	Timestamp   float64 `json:"timestamp"`
	CompletedAt float64 `json:"completed_at,omitempty"`
	Details     string  `json:"details,omitempty"`
}

// ForwardingHop records one queue-to-queue move performed by a router.
type ForwardingHop struct {
	Router    string  `json:"router"`
	FromQueue string  `json:"from_queue,omitempty"`
	ToQueue   string  `json:"to_queue,omitempty"`
	Timestamp float64 `json:"timestamp"`
	Details   string  `json:"details,omitempty"`
}

// Envelope is the single record type carried on every in-memory queue.
//
// The id is assigned at creation and never mutates. Payload schema is implied
// by Type; see the Type* constants in this package for the recognised set.
type Envelope struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Payload        map[string]any   `json:"payload,omitempty"`
	Timestamp      float64          `json:"timestamp"`
	Origin         string           `json:"origin,omitempty"`
	Destination    string           `json:"destination,omitempty"`
	ClientID       string           `json:"client_id,omitempty"`
	ProcessingPath []ProcessingStep `json:"processing_path,omitempty"`
	ForwardingPath []ForwardingHop  `json:"forwarding_path,omitempty"`
}

// New creates an envelope of the given type with a fresh id and the current
// timestamp. The payload map is used as-is; callers must not retain it.
func New(msgType string, payload map[string]any) *Envelope {
	return &Envelope{
		ID:        gonanoid.Must(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: Now(),
	}
}

// Now returns the current time as fractional seconds since the Unix epoch,
// the timestamp representation used throughout the bus.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// AppendProcessing records that processor handled this envelope with the
// given status. The path list grows append-only.
func (e *Envelope) AppendProcessing(processor, status, details string) {
	e.ProcessingPath = append(e.ProcessingPath, ProcessingStep{
		Processor: processor,
		Status:    status,
		Timestamp: Now(),
		Details:   details,
	})
}

// CompleteProcessing stamps completed_at on the most recent processing step
// added by processor. It is a no-op when no matching step exists.
func (e *Envelope) CompleteProcessing(processor string) {
	for i := len(e.ProcessingPath) - 1; i >= 0; i-- {
		if e.ProcessingPath[i].Processor == processor {
			e.ProcessingPath[i].CompletedAt = Now()
			return
		}
	}
}

// AppendForwarding records a queue hop performed by router.
func (e *Envelope) AppendForwarding(router, fromQueue, toQueue, details string) {
	e.ForwardingPath = append(e.ForwardingPath, ForwardingHop{
		Router:    router,
		FromQueue: fromQueue,
		ToQueue:   toQueue,
		Timestamp: Now(),
		Details:   details,
	})
}

// Encode returns the JSON projection of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("bus: encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from external input. Unknown top-level fields
// are rejected so that malformed or hostile client frames never reach the
// router half-parsed. A missing id or timestamp is filled in.
func Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var e Envelope
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("bus: decode envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("bus: decode envelope: missing type")
	}
	if e.ID == "" {
		e.ID = gonanoid.Must()
	}
	if e.Timestamp == 0 {
		e.Timestamp = Now()
	}
	return &e, nil
}

// Reply builds a response envelope addressed to the originator of req.
// The reply carries origin and the req id under payload["reply_to"].
func Reply(req *Envelope, msgType, origin string, payload map[string]any) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["reply_to"] = req.ID

	resp := New(msgType, payload)
	resp.Origin = origin
	resp.Destination = req.ClientID
	resp.ClientID = req.ClientID
	return resp
}
