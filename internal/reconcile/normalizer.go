package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldPaths maps each canonical field to the payload paths tried in order.
// The source has shipped two shapes for the same data: a nested form
// ({decision:{person:{...},document:{...}}}) and a flattened form
// (personFirstName etc. at the top level). Nested paths come first so the
// more structured shape wins when both are present.
var fieldPaths = map[string][]string{
	"firstName":       {"decision.person.firstName", "person.firstName", "personFirstName"},
	"lastName":        {"decision.person.lastName", "person.lastName", "personLastName"},
	"dateOfBirth":     {"decision.person.dateOfBirth", "person.dateOfBirth", "personDateOfBirth"},
	"nationality":     {"decision.person.nationality", "person.nationality", "personNationality"},
	"idNumber":        {"decision.person.idNumber", "person.idNumber", "personIdNumber"},
	"documentNumber":  {"decision.document.number", "document.number", "documentNumber"},
	"documentType":    {"decision.document.type", "document.type", "documentType"},
	"documentCountry": {"decision.document.country", "document.country", "documentCountry"},
}

// timestampPaths lists ordering-timestamp candidates, most specific first:
// the moment the decision was made beats the moment the webhook was sent.
var timestampPaths = []string{"decision.decidedAt", "decidedAt", "sentAt"}

var readingDatePaths = []string{"reading.date", "readingDate"}
var readingValuePaths = []string{"reading.value", "readingValue"}

// Normalize flattens one raw payload into a canonical ExternalEvent.
// It fills Kind, Refs, Fields and the source-declared part of the ordering
// key. When the source declares no timestamp the key is left zero with
// HasTimestamp=false; the store assigns a per-entity sequence on ingest.
func Normalize(raw []byte, receivedAt time.Time, correlationID string) (ExternalEvent, error) {
	if err := ValidateEventPayload(raw); err != nil {
		return ExternalEvent{}, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ExternalEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	kind := EventKind(strings.TrimSpace(toString(payload["type"])))
	if !kind.Valid() {
		return ExternalEvent{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedPayload, kind)
	}

	ev := ExternalEvent{
		SourceEventID: strings.TrimSpace(toString(payload["eventId"])),
		Kind:          kind,
		ReceivedAt:    receivedAt.UTC(),
		RawPayload:    raw,
		CorrelationID: correlationID,
		Refs: ExternalRefs{
			EntityID:       normalizeRef(firstString(payload, "vendorData", "entityId")),
			SessionID:      normalizeRef(toString(payload["sessionId"])),
			VerificationID: normalizeRef(toString(payload["verificationId"])),
			VendorTag:      normalizeRef(toString(payload["vendorTag"])),
		},
	}
	if ev.SourceEventID == "" {
		return ExternalEvent{}, fmt.Errorf("%w: missing eventId", ErrMalformedPayload)
	}
	if ev.Refs.Empty() {
		return ExternalEvent{}, fmt.Errorf("%w: no identifying reference", ErrMalformedPayload)
	}

	switch kind.RecordKind() {
	case KindReading:
		if err := normalizeReading(&ev, payload); err != nil {
			return ExternalEvent{}, err
		}
	default:
		normalizeVerification(&ev, payload)
	}
	return ev, nil
}

func normalizeVerification(ev *ExternalEvent, payload map[string]any) {
	fields := map[string]string{}
	for name, paths := range fieldPaths {
		if value, ok := lookupString(payload, paths); ok {
			// Present-but-empty is a real value; only absent fields stay unset.
			fields[name] = value
		}
	}
	if len(fields) > 0 {
		ev.Fields = fields
	}
	if ts, ok := lookupTimestamp(payload, timestampPaths); ok {
		ev.OrderingKey = OrderingKey{Time: ts}
		ev.HasTimestamp = true
	}
}

func normalizeReading(ev *ExternalEvent, payload map[string]any) error {
	rawDate, ok := lookupString(payload, readingDatePaths)
	if !ok || strings.TrimSpace(rawDate) == "" {
		return fmt.Errorf("%w: reading event without date", ErrMalformedPayload)
	}
	date, err := parseDate(rawDate)
	if err != nil {
		return fmt.Errorf("%w: invalid reading date %q", ErrMalformedPayload, rawDate)
	}
	value, ok := lookupFloat(payload, readingValuePaths)
	if !ok {
		return fmt.Errorf("%w: reading event without value", ErrMalformedPayload)
	}
	if value < 0 {
		return fmt.Errorf("%w: negative reading value", ErrMalformedPayload)
	}
	ev.OrderingKey = OrderingKey{Time: date, Value: value}
	ev.HasTimestamp = true
	ev.ReadingValue = &value
	return nil
}

func lookupPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupString(payload map[string]any, paths []string) (string, bool) {
	for _, path := range paths {
		if value, ok := lookupPath(payload, path); ok {
			if s, isString := value.(string); isString {
				return s, true
			}
		}
	}
	return "", false
}

func lookupFloat(payload map[string]any, paths []string) (float64, bool) {
	for _, path := range paths {
		value, ok := lookupPath(payload, path)
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case float64:
			return typed, true
		case json.Number:
			if f, err := typed.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func lookupTimestamp(payload map[string]any, paths []string) (time.Time, bool) {
	for _, path := range paths {
		raw, ok := lookupPath(payload, path)
		if !ok {
			continue
		}
		text, isString := raw.(string)
		if !isString || strings.TrimSpace(text) == "" {
			continue
		}
		if ts, err := parseTimestamp(text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts.UTC(), nil
	}
	return parseTimestamp(raw)
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := toString(payload[key]); s != "" {
			return s
		}
	}
	return ""
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
