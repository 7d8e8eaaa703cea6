package reconcile

// Outcome is the reconciler's decision for one delivery.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeStale          Outcome = "stale"
	OutcomePending        Outcome = "pending"
	OutcomeConflict       Outcome = "conflict"
)

// Verdict is the transport-level classification of an outcome: what the
// event source should do with the delivery.
type Verdict string

const (
	// VerdictSettled covers applied, already-applied and stale deliveries.
	// The source must not redeliver.
	VerdictSettled Verdict = "settled"
	// VerdictAcknowledged covers pending deliveries: accepted, parked and
	// re-checked internally, so the source must not retry aggressively.
	VerdictAcknowledged Verdict = "acknowledged"
	// VerdictRejected covers authenticity and malformed-payload failures.
	VerdictRejected Verdict = "rejected"
	// VerdictRetry covers unexpected internal faults where redelivery helps.
	VerdictRetry Verdict = "retry"
)

// Classify maps a reconciliation outcome to its transport verdict.
// CONFLICT is settled from the source's perspective: redelivering the same
// disagreeing terminal event can never succeed, and the anomaly is already
// flagged for operator review.
func (o Outcome) Classify() Verdict {
	switch o {
	case OutcomePending:
		return VerdictAcknowledged
	case OutcomeApplied, OutcomeAlreadyApplied, OutcomeStale, OutcomeConflict:
		return VerdictSettled
	default:
		return VerdictRetry
	}
}

// Result is what one ingestion call reports back to the boundary.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	EventID       string  `json:"eventId"`
	EntityID      string  `json:"entityId,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
}
