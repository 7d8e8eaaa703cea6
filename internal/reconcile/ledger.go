package reconcile

// LedgerEntry records one already-seen source event id. Entries never expire
// within a record's active lifetime, so any redelivery is a no-op. Stale
// events are ledgered too ("seen") to stop reprocessing storms.
type LedgerEntry struct {
	EventID       string  `json:"eventId"`
	EntityID      string  `json:"entityId,omitempty"`
	Outcome       Outcome `json:"outcome"`
	RecordedAt    string  `json:"recordedAt"`
	CorrelationID string  `json:"correlationId,omitempty"`
}
