package tracing

// Span attribute keys used across the executor's traced operations.
const (
	// Task attributes
	AttrTaskID       = "task.id"
	AttrTaskCallable = "task.callable"
	AttrTaskState    = "task.state"

	// Message attributes
	AttrMessageType = "message.type"

	// Worker attributes
	AttrWorkerPID = "worker.pid"

	// Apply attributes
	AttrApplyModel     = "apply.model"
	AttrApplyEntityID  = "apply.entity_id"
	AttrApplyVersion   = "apply.version"
	AttrNewInstanceRef = "apply.temp_id"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// SpanKind constants for categorizing span types.
const (
	SpanKindExecutor = "executor"
	SpanKindListener = "listener"
	SpanKindApplier  = "applier"
	SpanKindWorker   = "worker"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixSubmit = "executor.submit."
	SpanPrefixDeliv  = "listener.message."
	SpanPrefixApply  = "applier.apply."
)

// Event names for span events.
const (
	EventTaskSubmitted    = "task.submitted"
	EventTaskStarted      = "task.started"
	EventTaskSucceeded    = "task.succeeded"
	EventTaskFailed       = "task.failed"
	EventDiffApplied      = "diff.applied"
	EventVersionConflict  = "version.conflict"
	EventTempIDResolved   = "temp_id.resolved"
	EventWorkerSpawned    = "worker.spawned"
	EventWorkerExited     = "worker.exited"
	EventListenerAccepted = "listener.accepted"
)
