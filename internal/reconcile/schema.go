package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// eventPayloadSchema is intentionally permissive about which identifiers and
// data blocks are present (the source varies), but strict about their types,
// so a structurally broken payload is rejected before any extraction runs.
const eventPayloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"eventId": {"type": "string"},
		"type": {"type": "string"},
		"sessionId": {"type": "string"},
		"verificationId": {"type": "string"},
		"vendorData": {"type": "string"},
		"entityId": {"type": "string"},
		"vendorTag": {"type": "string"},
		"sentAt": {"type": "string"},
		"decidedAt": {"type": "string"},
		"decision": {"type": "object"},
		"person": {"type": "object"},
		"document": {"type": "object"},
		"reading": {"type": "object"},
		"readingDate": {"type": "string"},
		"readingValue": {"type": ["number", "string"]}
	}
}`

var (
	eventSchemaOnce sync.Once
	eventSchema     *jsonschema.Schema
	eventSchemaErr  error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventPayloadSchema))
		if err != nil {
			eventSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("event.json", doc); err != nil {
			eventSchemaErr = err
			return
		}
		eventSchema, eventSchemaErr = compiler.Compile("event.json")
	})
	return eventSchema, eventSchemaErr
}

// ValidateEventPayload checks the raw payload against the inbound event
// schema. Failures are reported as ErrMalformedPayload so the caller maps
// them to a non-retryable rejection.
func ValidateEventPayload(raw []byte) error {
	schema, err := compiledEventSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
