package reconcile

import "time"

// Resolution strategies run in fixed priority order and stop at the first
// match. Each one is a pure lookup over store state: no strategy mutates
// anything, and a later, weaker strategy never overrides an earlier exact
// match. All of them run under the store lock.
type resolverStrategy struct {
	name    string
	resolve func(s *Store, ev ExternalEvent, now time.Time) (string, bool)
}

var resolverStrategies = []resolverStrategy{
	{name: "entity_id", resolve: resolveByEntityID},
	{name: "session_id", resolve: resolveBySessionID},
	{name: "verification_id", resolve: resolveByVerificationID},
	{name: "vendor_tag", resolve: resolveByVendorTag},
	{name: "single_candidate", resolve: resolveBySingleCandidate},
}

// resolveLocked maps an event's opaque references to exactly one entity id,
// or reports no match. The second return names the strategy that matched.
func (s *Store) resolveLocked(ev ExternalEvent, now time.Time) (string, string, bool) {
	for _, strategy := range resolverStrategies {
		if entityID, ok := strategy.resolve(s, ev, now); ok {
			return entityID, strategy.name, true
		}
	}
	return "", "", false
}

// resolveByEntityID trusts a vendor-data passthrough of our own primary key.
// The record may not exist yet; it is created lazily on first apply.
func resolveByEntityID(s *Store, ev ExternalEvent, _ time.Time) (string, bool) {
	if ev.Refs.EntityID == "" {
		return "", false
	}
	return ev.Refs.EntityID, true
}

func resolveBySessionID(s *Store, ev ExternalEvent, _ time.Time) (string, bool) {
	if ev.Refs.SessionID == "" {
		return "", false
	}
	entityID, ok := s.sessionIndex[ev.Refs.SessionID]
	return entityID, ok
}

func resolveByVerificationID(s *Store, ev ExternalEvent, _ time.Time) (string, bool) {
	if ev.Refs.VerificationID == "" {
		return "", false
	}
	entityID, ok := s.verificationIndex[ev.Refs.VerificationID]
	return entityID, ok
}

func resolveByVendorTag(s *Store, ev ExternalEvent, _ time.Time) (string, bool) {
	if ev.Refs.VendorTag == "" {
		return "", false
	}
	entityID, ok := s.vendorTagIndex[ev.Refs.VendorTag]
	return entityID, ok
}

// resolveBySingleCandidate is the heuristic fallback: if exactly one
// recently-created record of the event's kind has never been touched by any
// event, it is the plausible target. Two or more candidates mean the match
// is ambiguous and the event stays unresolved rather than guessed at.
func resolveBySingleCandidate(s *Store, ev ExternalEvent, now time.Time) (string, bool) {
	var candidate string
	for entityID, rec := range s.records {
		if rec.Kind != ev.Kind.RecordKind() || rec.LastEventID != "" {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		if err != nil || now.Sub(createdAt) > s.resolverRecency {
			continue
		}
		if candidate != "" {
			return "", false
		}
		candidate = entityID
	}
	return candidate, candidate != ""
}
