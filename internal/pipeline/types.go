// Package pipeline defines the durable record types shared by the detector,
// explainer, and delivery service, together with their status lifecycles.
//
// Detections and explanations live in JSON-array file queues (see
// internal/filequeue). Records are never deleted; they move through their
// status lifecycle and stay in the file once terminal.
package pipeline

// Detection statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Explanation statuses. An explanation record only exists after a successful
// model call; a failed attempt is recorded on the detection as StatusFailed
// with its diagnostic, so no failed state is needed here.
const (
	StatusReadyForDelivery = "ready_for_delivery"
	StatusDelivered        = "delivered"
)

// Detection is one candidate term extracted from transcribed speech,
// waiting for (or carrying) its explanation.
type Detection struct {
	ID                string  `json:"id"`
	Term              string  `json:"term"`
	Context           string  `json:"context"`
	Confidence        float64 `json:"confidence"`
	Timestamp         float64 `json:"timestamp"`
	ClientID          string  `json:"client_id"`
	UserSessionID     string  `json:"user_session_id,omitempty"`
	OriginalMessageID string  `json:"original_message_id"`
	Status            string  `json:"status"`
	Explanation       string  `json:"explanation,omitempty"`

	// Attempts counts how many times the explainer has picked this record
	// up. A record explained after a failure emits explanation.retry.
	Attempts int `json:"attempts,omitempty"`

	// Error holds the diagnostic for a failed record.
	Error string `json:"error,omitempty"`
}

// RecordID implements filequeue.Record.
func (d Detection) RecordID() string { return d.ID }

// RecordStatus implements filequeue.Record.
func (d Detection) RecordStatus() string { return d.Status }

// Explanation is a finished term explanation queued for delivery to the
// connected frontends.
type Explanation struct {
	ID                  string  `json:"id"`
	Term                string  `json:"term"`
	Explanation         string  `json:"explanation"`
	Context             string  `json:"context"`
	Confidence          float64 `json:"confidence"`
	Timestamp           float64 `json:"timestamp"`
	ClientID            string  `json:"client_id"`
	UserSessionID       string  `json:"user_session_id,omitempty"`
	OriginalDetectionID string  `json:"original_detection_id"`
	Status              string  `json:"status"`
	DeliveredAt         float64 `json:"delivered_at,omitempty"`
	MessageType         string  `json:"message_type"`

	// DetectedAt carries the originating detection's timestamp so delivery
	// can report end-to-end pipeline latency.
	DetectedAt float64 `json:"detected_at,omitempty"`
}

// RecordID implements filequeue.Record.
func (e Explanation) RecordID() string { return e.ID }

// RecordStatus implements filequeue.Record.
func (e Explanation) RecordStatus() string { return e.Status }
