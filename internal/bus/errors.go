package bus

// Message types recognised on the bus. Anything outside this set is answered
// with [ErrUnknownMessageType] by the router.
const (
	// Client-originated.
	TypeTranscription   = "stt.transcription"
	TypeSTTInit         = "stt.init"
	TypeHeartbeat       = "stt.heartbeat"
	TypePing            = "ping"
	TypeSessionStart    = "session.start"
	TypeSessionJoin     = "session.join"
	TypeSettingsSave    = "settings.save"
	TypeManualRequest   = "manual.request"
	TypeSimulationStart = "simulation.start"
	TypeSimulationStop  = "simulation.stop"
	TypeRetryFailed     = "command.retry_failed"

	// Service-originated.
	TypeTranscriptionInterim = "stt.transcription.interim"
	TypePong                 = "pong"
	TypeAck                  = "system.acknowledgement"
	TypeSessionCreated       = "session.created"
	TypeSessionJoined        = "session.joined"
	TypeSettingsUpdated      = "settings.updated"
	TypeDetectionImmediate   = "detection.immediate"
	TypeExplanationNew       = "explanation.new"
	TypeExplanationRetry     = "explanation.retry"
)

// Error message types. This is a closed set; every failure surfaced to a
// client uses one of these as the envelope type.
const (
	ErrValidation           = "error.validation"
	ErrUnknownMessageType   = "error.unknown_message_type"
	ErrInvalidInput         = "error.invalid_input"
	ErrInvalidMessageFormat = "error.invalid_message_format"
	ErrInternalServerError  = "error.internal_server_error"
	ErrRoutingError         = "error.routing_error"
	ErrProcessingError      = "error.processing_error"
	ErrQueueOverload        = "error.queue_overload"
	ErrMessageUndeliverable = "error.message_undeliverable"
	ErrAuthenticationFailed = "error.authentication_failed"
	ErrPermissionDenied     = "error.permission_denied"
	ErrConnectionError      = "error.connection_error"
	ErrSystemError          = "error.system_error"
)

// Well-known origins and destinations.
const (
	OriginRouter    = "MessageRouter"
	OriginDelivery  = "explanation_delivery_service"
	OriginSTT       = "stt_module"
	OriginWebsocket = "websocket_client"

	// DestAllFrontends fans an envelope out to every connected client whose
	// id starts with [FrontendPrefix].
	DestAllFrontends = "all_frontends"

	// DestFrontend is the legacy singular destination; the router rewrites
	// it to DestAllFrontends before handing the envelope to the gateway.
	DestFrontend = "frontend"

	// FrontendPrefix marks client ids that belong to the broadcast group.
	FrontendPrefix = "frontend_"
)

var knownTypes = map[string]struct{}{
	TypeTranscription:        {},
	TypeSTTInit:              {},
	TypeHeartbeat:            {},
	TypePing:                 {},
	TypeSessionStart:         {},
	TypeSessionJoin:          {},
	TypeSettingsSave:         {},
	TypeManualRequest:        {},
	TypeSimulationStart:      {},
	TypeSimulationStop:       {},
	TypeRetryFailed:          {},
	TypeTranscriptionInterim: {},
	TypePong:                 {},
	TypeAck:                  {},
	TypeSessionCreated:       {},
	TypeSessionJoined:        {},
	TypeSettingsUpdated:      {},
	TypeDetectionImmediate:   {},
	TypeExplanationNew:       {},
	TypeExplanationRetry:     {},
	ErrValidation:            {},
	ErrUnknownMessageType:    {},
	ErrInvalidInput:          {},
	ErrInvalidMessageFormat:  {},
	ErrInternalServerError:   {},
	ErrRoutingError:          {},
	ErrProcessingError:       {},
	ErrQueueOverload:         {},
	ErrMessageUndeliverable:  {},
	ErrAuthenticationFailed:  {},
	ErrPermissionDenied:      {},
	ErrConnectionError:       {},
	ErrSystemError:           {},
}

// IsKnownType reports whether t belongs to the recognised message set.
func IsKnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}
