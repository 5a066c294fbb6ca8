package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches internal/middleware context keys)
	FieldUserID = "user_id"
	FieldEmail  = "email"

	// Chat domain
	FieldConversationID = "conversation_id"
	FieldMessageID      = "message_id"
	FieldParticipant    = "participant"
	FieldDeviceToken    = "device_token"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
