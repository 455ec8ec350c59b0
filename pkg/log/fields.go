package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Live room
	FieldRoomID     = "room_id"
	FieldRealRoomID = "real_room_id"
	FieldUID        = "uid"
	FieldHost       = "host"
	FieldState      = "state"
	FieldAttemptID  = "attempt_id"
	FieldCommand    = "cmd"

	// Service
	FieldService = "service"
)
