package reconcile

import "time"

// decision is the reconciler's plan for one (record, event) pair. It is
// computed without side effects so the store can re-run it after a lost
// compare-and-swap race.
type decision struct {
	outcome  Outcome
	state    VerificationState
	key      OrderingKey
	fields   map[string]string
	conflict *ConflictInfo
}

// decide applies the acceptance rule: given the current record and a
// normalized event, choose whether the event may mutate state and what the
// new state is. Ledger and existence checks happen before this is called.
//
// The rule is strictly ordering-first. An event older than the last applied
// one never mutates anything. On an ordering tie the variant tie-break runs:
// a strictly greater meter value wins for readings, a strictly later lattice
// position wins for verification, and an identical terminal repeat is
// idempotent. Terminal states are exclusive: a newer event proposing a
// different terminal state is flagged, not applied.
func decide(rec *Record, ev ExternalEvent, now time.Time) decision {
	cmp := ev.OrderingKey.Compare(rec.LastOrderingKey)
	if cmp < 0 {
		return decision{outcome: OutcomeStale}
	}

	if rec.Kind == KindReading {
		return decideReading(rec, ev, cmp)
	}
	return decideVerification(rec, ev, cmp, now)
}

func decideReading(rec *Record, ev ExternalEvent, cmp int) decision {
	if ev.ReadingValue == nil {
		return decision{outcome: OutcomeStale}
	}
	value := *ev.ReadingValue
	if cmp == 0 && rec.LastEventID != "" && value <= rec.LastOrderingKey.Value {
		// Same date: only a strictly greater reading wins. The tie-break is
		// skipped only while the record has never applied an event, so a
		// zero-dated first reading still lands.
		return decision{outcome: OutcomeStale}
	}
	key := ev.OrderingKey
	key.Value = value
	return decision{
		outcome: OutcomeApplied,
		key:     key,
		fields:  mergeFields(rec.Fields, ev.Fields),
	}
}

func decideVerification(rec *Record, ev ExternalEvent, cmp int, now time.Time) decision {
	incoming := ev.Kind.VerificationState()

	if rec.State.Terminal() {
		switch {
		case incoming == rec.State:
			// Identical terminal repeat: idempotent, advance the key so a
			// later replay of the repeat is recognized as stale.
			return decision{
				outcome: OutcomeApplied,
				state:   rec.State,
				key:     ev.OrderingKey,
				fields:  mergeFields(rec.Fields, ev.Fields),
			}
		case incoming.Terminal():
			return decision{
				outcome: OutcomeConflict,
				conflict: &ConflictInfo{
					StoredState:   rec.State,
					IncomingState: incoming,
					EventID:       ev.SourceEventID,
					FlaggedAt:     now.UTC().Format(time.RFC3339Nano),
				},
			}
		default:
			// Non-terminal events never regress a settled record.
			return decision{outcome: OutcomeStale}
		}
	}

	if cmp == 0 && rec.LastEventID != "" && incoming.Rank() <= rec.State.Rank() {
		return decision{outcome: OutcomeStale}
	}

	state := incoming
	if state.Rank() < rec.State.Rank() {
		// A newer timestamp with a lower lattice position updates fields and
		// the ordering key but keeps the higher state: the lattice is
		// monotonic independently of the ordering key.
		state = rec.State
	}
	return decision{
		outcome: OutcomeApplied,
		state:   state,
		key:     ev.OrderingKey,
		fields:  mergeFields(rec.Fields, ev.Fields),
	}
}
