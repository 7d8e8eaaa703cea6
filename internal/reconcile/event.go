package reconcile

import (
	"strings"
	"time"
)

type RecordKind string

const (
	KindVerification RecordKind = "verification"
	KindReading      RecordKind = "reading"
)

type VerificationState string

const (
	StateNone      VerificationState = ""
	StateCreated   VerificationState = "created"
	StateSubmitted VerificationState = "submitted"
	StateApproved  VerificationState = "approved"
	StateDeclined  VerificationState = "declined"
)

func (s VerificationState) Rank() int {
	switch s {
	case StateCreated:
		return 1
	case StateSubmitted:
		return 2
	case StateApproved, StateDeclined:
		return 3
	default:
		return 0
	}
}

func (s VerificationState) Terminal() bool {
	return s == StateApproved || s == StateDeclined
}

type EventKind string

const (
	EventVerificationCreated   EventKind = "verification.created"
	EventVerificationSubmitted EventKind = "verification.submitted"
	EventVerificationApproved  EventKind = "verification.approved"
	EventVerificationDeclined  EventKind = "verification.declined"
	EventReadingUpdated        EventKind = "reading.updated"
	// EventAdminOverride is synthesized by the conflict-resolution API, never
	// accepted from the external source.
	EventAdminOverride EventKind = "admin.override"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventVerificationCreated, EventVerificationSubmitted,
		EventVerificationApproved, EventVerificationDeclined,
		EventReadingUpdated:
		return true
	default:
		return false
	}
}

func (k EventKind) RecordKind() RecordKind {
	if k == EventReadingUpdated {
		return KindReading
	}
	return KindVerification
}

func (k EventKind) VerificationState() VerificationState {
	switch k {
	case EventVerificationCreated:
		return StateCreated
	case EventVerificationSubmitted:
		return StateSubmitted
	case EventVerificationApproved:
		return StateApproved
	case EventVerificationDeclined:
		return StateDeclined
	default:
		return StateNone
	}
}

// OrderingKey decides whether an incoming event is newer than the stored state.
// Time carries the source-declared logical timestamp (or the reading date).
// Seq is a per-entity counter assigned when the source declares no timestamp,
// so ordering stays well-defined. Value is the meter reading, used only to
// break same-date ties for the reading variant.
type OrderingKey struct {
	Time  time.Time `json:"time"`
	Seq   uint64    `json:"seq,omitempty"`
	Value float64   `json:"value,omitempty"`
}

func (k OrderingKey) IsZero() bool {
	return k.Time.IsZero() && k.Seq == 0
}

// Compare orders two keys by time, then by the local sequence counter.
// Value ties are resolved by the variant tie-break rule, not here.
func (k OrderingKey) Compare(other OrderingKey) int {
	if k.Time.Before(other.Time) {
		return -1
	}
	if k.Time.After(other.Time) {
		return 1
	}
	switch {
	case k.Seq < other.Seq:
		return -1
	case k.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// ExternalRefs holds every opaque identifier the source may attach to an
// event. Any subset may be present; the resolver tries them in priority order.
type ExternalRefs struct {
	EntityID       string `json:"entityId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	VerificationID string `json:"verificationId,omitempty"`
	VendorTag      string `json:"vendorTag,omitempty"`
}

func (r ExternalRefs) Empty() bool {
	return r.EntityID == "" && r.SessionID == "" && r.VerificationID == "" && r.VendorTag == ""
}

// ExternalEvent is one inbound notification after normalization.
type ExternalEvent struct {
	SourceEventID string            `json:"sourceEventId"`
	Kind          EventKind         `json:"kind"`
	ReceivedAt    time.Time         `json:"receivedAt"`
	Refs          ExternalRefs      `json:"refs"`
	OrderingKey   OrderingKey       `json:"orderingKey"`
	// HasTimestamp distinguishes a source-declared ordering time from one the
	// normalizer had to assign locally.
	HasTimestamp  bool              `json:"hasTimestamp"`
	ReadingValue  *float64          `json:"readingValue,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	RawPayload    []byte            `json:"rawPayload,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

func normalizeRef(ref string) string {
	return strings.TrimSpace(ref)
}
