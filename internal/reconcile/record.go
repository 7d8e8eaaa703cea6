package reconcile

// ConflictInfo is attached to a record when two terminal outcomes disagree.
// It is never cleared automatically; an explicit administrative override is
// the only way out.
type ConflictInfo struct {
	StoredState   VerificationState `json:"storedState"`
	IncomingState VerificationState `json:"incomingState"`
	EventID       string            `json:"eventId"`
	FlaggedAt     string            `json:"flaggedAt"`
}

// Record is the internal entity being updated: the verification profile of a
// user, or the meter reading of an aircraft. It is mutated only by the
// reconciler.
type Record struct {
	EntityID       string            `json:"entityId"`
	Kind           RecordKind        `json:"kind"`
	State          VerificationState `json:"state,omitempty"`
	SessionID      string            `json:"sessionId,omitempty"`
	VerificationID string            `json:"verificationId,omitempty"`
	VendorTag      string            `json:"vendorTag,omitempty"`

	LastOrderingKey OrderingKey       `json:"lastOrderingKey"`
	LastEventID     string            `json:"lastEventId,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	Conflict        *ConflictInfo     `json:"conflict,omitempty"`

	// Version is the optimistic-concurrency token; every accepted mutation
	// increments it, and writers compare-and-swap against it.
	Version   uint64 `json:"version"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	copied := *r
	if r.Fields != nil {
		copied.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			copied.Fields[k] = v
		}
	}
	if r.Conflict != nil {
		conflict := *r.Conflict
		copied.Conflict = &conflict
	}
	return &copied
}

// mergeFields overwrites only the keys actually present in the event; keys
// the event leaves unset never erase previously stored values.
func mergeFields(current, incoming map[string]string) map[string]string {
	if len(incoming) == 0 {
		return current
	}
	merged := make(map[string]string, len(current)+len(incoming))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
