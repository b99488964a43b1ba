package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	UserActionable  bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeAuthRejected: {
		Code:            CodeAuthRejected,
		UserActionable:  true,
		Description:     "Destination credential is invalid or expired",
		SuggestedAction: "Reconnect the integration: mailroute destinations connect <name>",
	},
	CodeUpstreamUnavailable: {
		Code:            CodeUpstreamUnavailable,
		UserActionable:  false,
		Description:     "Destination or extraction service unreachable",
		SuggestedAction: "Resubmit the original event once the upstream recovers",
	},
	CodeSchemaMismatch: {
		Code:            CodeSchemaMismatch,
		UserActionable:  false,
		Description:     "Mapped field name or value does not fit the discovered schema",
		SuggestedAction: "Inspect the run detail: mailroute runs --user <id>",
	},
	CodePartialWrite: {
		Code:            CodePartialWrite,
		UserActionable:  false,
		Description:     "Some records in the batch were rejected by the destination",
		SuggestedAction: "Per-record reasons are recorded on the run outcome",
	},
	CodeWriteRejected: {
		Code:            CodeWriteRejected,
		UserActionable:  false,
		Description:     "Destination rejected every record in the batch",
		SuggestedAction: "Per-record reasons are recorded on the run outcome",
	},
	CodeReasoningFailure: {
		Code:            CodeReasoningFailure,
		UserActionable:  false,
		Description:     "Triage or routing reasoning call failed",
		SuggestedAction: "Check reasoning service health and model configuration",
	},
	CodeTimeout: {
		Code:            CodeTimeout,
		UserActionable:  false,
		Description:     "Stage exceeded the pipeline time budget",
		SuggestedAction: "Resubmit the original event; no automatic retry is performed",
	},
	CodeContextCancelled: {
		Code:            CodeContextCancelled,
		UserActionable:  false,
		Description:     "Operation cancelled by caller or shutdown",
		SuggestedAction: "Check whether cancellation was intentional",
	},
	CodeProcessingError: {
		Code:            CodeProcessingError,
		UserActionable:  false,
		Description:     "Unclassified processing failure",
		SuggestedAction: "Inspect logs for the failing stage",
	},
}
