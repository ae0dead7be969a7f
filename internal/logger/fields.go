package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldPassID identifies one liveness verification pass
	FieldPassID = "pass_id"

	// FieldSearchID is the search request ID
	FieldSearchID = "search_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldProvider is the external provider name
	FieldProvider = "provider"

	// FieldTopicID is the topic a query was matched to
	FieldTopicID = "topic_id"
)

// Metric fields, used with the Entry API for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the HTTP response status
	FieldStatus = "status"

	// FieldPath is the search step that produced the answer
	FieldPath = "path"

	// FieldResult is an outcome label (created, duplicate, hit, dead, ...)
	FieldResult = "result"
)
