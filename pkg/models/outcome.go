package models

// OutcomeClass normalizes every tool return into one of four values. Control
// flow across subsystem boundaries is carried by these values, never by
// panics or sentinel errors.
type OutcomeClass string

const (
	OutcomeSuccess             OutcomeClass = "SUCCESS"
	OutcomePartialSuccess      OutcomeClass = "PARTIAL_SUCCESS"
	OutcomeRetryableFailure    OutcomeClass = "RETRYABLE_FAILURE"
	OutcomeNonRetryableFailure OutcomeClass = "NON_RETRYABLE_FAILURE"
)

// IsValid checks if the class is known.
func (c OutcomeClass) IsValid() bool {
	switch c {
	case OutcomeSuccess, OutcomePartialSuccess, OutcomeRetryableFailure, OutcomeNonRetryableFailure:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the outcome counts as a success for scoring and
// mission progress.
func (c OutcomeClass) Succeeded() bool {
	return c == OutcomeSuccess || c == OutcomePartialSuccess
}

// FailureKind is the engine-wide error taxonomy. Kinds classify behavior
// (retry, defer, halt), not Go error types.
type FailureKind string

const (
	// FailureInputRejected: the objective was unparseable or violated a hard
	// constraint; no mission is created.
	FailureInputRejected FailureKind = "INPUT_REJECTED"
	// FailurePolicyViolation: a safety invariant would be breached; the task
	// fails without retry.
	FailurePolicyViolation FailureKind = "POLICY_VIOLATION"
	// FailureRetryable: transient; retried with backoff up to max_attempts.
	FailureRetryable FailureKind = "RETRYABLE"
	// FailureNonRetryable: deterministic tool failure after its own budget.
	FailureNonRetryable FailureKind = "NON_RETRYABLE"
	// FailureResourceExhaustion: no worker or budget within deadline; deferred.
	FailureResourceExhaustion FailureKind = "RESOURCE_EXHAUSTION"
	// FailureStorageUnavailable: durable log write failed; fatal for the mission.
	FailureStorageUnavailable FailureKind = "STORAGE_UNAVAILABLE"
	// FailureCritical: runtime invariant violation; rollback and halt intake
	// until an operator acknowledges.
	FailureCritical FailureKind = "CRITICAL"
)

// Outcome is the normalized result of one tool invocation.
type Outcome struct {
	Class       OutcomeClass   `json:"class"`
	FailureKind FailureKind    `json:"failure_kind,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	LatencyMS   int64          `json:"latency_ms"`
}

// OutcomeOf builds a success outcome carrying a result payload.
func OutcomeOf(result map[string]any) *Outcome {
	return &Outcome{Class: OutcomeSuccess, Result: result}
}

// FailureOf builds a failure outcome of the given kind. Retryability follows
// the kind: only FailureRetryable produces a retryable class.
func FailureOf(kind FailureKind, reason string) *Outcome {
	class := OutcomeNonRetryableFailure
	if kind == FailureRetryable {
		class = OutcomeRetryableFailure
	}
	return &Outcome{Class: class, FailureKind: kind, Reason: reason}
}
