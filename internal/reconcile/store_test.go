package reconcile

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingMonitor struct {
	mu           sync.Mutex
	observations []Observation
}

func (m *recordingMonitor) Record(obs Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs)
}

func (m *recordingMonitor) outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Outcome, len(m.observations))
	for i, obs := range m.observations {
		out[i] = obs.Outcome
	}
	return out
}

type panicMonitor struct{}

func (panicMonitor) Record(Observation) {
	panic("monitor exploded")
}

func newTestStore(t *testing.T, opts StoreOptions) *Store {
	t.Helper()
	if opts.PendingRetryDelay == 0 {
		opts.PendingRetryDelay = 5 * time.Millisecond
	}
	s := NewStoreWithOptions(opts)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ingestPayload(t *testing.T, s *Store, fields map[string]any) Result {
	t.Helper()
	res, err := s.Ingest(mustJSON(t, fields), "corr-test")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return res
}

func TestIngestAppliesAndDeduplicatesByEventID(t *testing.T) {
	s := newTestStore(t, StoreOptions{Monitor: &recordingMonitor{}})

	payload := map[string]any{
		"eventId":    "evt-1",
		"type":       "verification.created",
		"vendorData": "user-1",
		"sentAt":     "2026-03-01T10:00:00Z",
	}
	res := ingestPayload(t, s, payload)
	if res.Outcome != OutcomeApplied {
		t.Fatalf("first delivery outcome = %s", res.Outcome)
	}
	rec, err := s.Record("user-1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.State != StateCreated {
		t.Fatalf("state = %s", rec.State)
	}
	version := rec.Version

	// Change the payload body too: the ledger must win on event id alone.
	payload["type"] = "verification.declined"
	res = ingestPayload(t, s, payload)
	if res.Outcome != OutcomeAlreadyApplied {
		t.Fatalf("redelivery outcome = %s", res.Outcome)
	}
	rec, _ = s.Record("user-1")
	if rec.Version != version || rec.State != StateCreated {
		t.Fatalf("redelivery mutated the record: %+v", rec)
	}
}

func TestOutOfOrderDeliveryNeverRegresses(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-approved",
		"type":       "verification.approved",
		"vendorData": "user-2",
		"decidedAt":  "2026-03-01T12:00:00Z",
	})
	res := ingestPayload(t, s, map[string]any{
		"eventId":    "evt-submitted",
		"type":       "verification.submitted",
		"vendorData": "user-2",
		"sentAt":     "2026-03-01T11:00:00Z",
	})
	if res.Outcome != OutcomeStale {
		t.Fatalf("late submitted outcome = %s", res.Outcome)
	}
	rec, _ := s.Record("user-2")
	if rec.State != StateApproved {
		t.Fatalf("state regressed to %s", rec.State)
	}
	if entry, ok := s.EventStatus("evt-submitted"); !ok || entry.Outcome != OutcomeStale {
		t.Fatalf("stale event not ledgered: %+v ok=%v", entry, ok)
	}
}

func TestLateEventWithNewDataMergesWithoutRegressing(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-sub",
		"type":       "verification.submitted",
		"vendorData": "user-3",
		"sentAt":     "2026-03-01T10:00:00Z",
	})
	res := ingestPayload(t, s, map[string]any{
		"eventId":    "evt-created-late",
		"type":       "verification.created",
		"vendorData": "user-3",
		"sentAt":     "2026-03-01T10:30:00Z",
		"decision": map[string]any{
			"person": map[string]any{"firstName": "Ada"},
		},
	})
	if res.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	rec, _ := s.Record("user-3")
	if rec.State != StateSubmitted {
		t.Fatalf("state = %s, want submitted kept", rec.State)
	}
	if rec.Fields["firstName"] != "Ada" {
		t.Fatalf("fields not merged: %v", rec.Fields)
	}
}

func TestConflictFlaggingAndOverride(t *testing.T) {
	monitor := &recordingMonitor{}
	s := newTestStore(t, StoreOptions{Monitor: monitor})

	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-a",
		"type":       "verification.approved",
		"vendorData": "user-4",
		"decidedAt":  "2026-03-01T12:00:00Z",
	})
	res := ingestPayload(t, s, map[string]any{
		"eventId":    "evt-d",
		"type":       "verification.declined",
		"vendorData": "user-4",
		"decidedAt":  "2026-03-01T12:05:00Z",
	})
	if res.Outcome != OutcomeConflict {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	rec, _ := s.Record("user-4")
	if rec.State != StateApproved {
		t.Fatalf("stored terminal changed: %s", rec.State)
	}
	if rec.Conflict == nil || rec.Conflict.IncomingState != StateDeclined || rec.Conflict.EventID != "evt-d" {
		t.Fatalf("conflict info = %+v", rec.Conflict)
	}

	if _, err := s.ResolveConflict("user-4", StateSubmitted, 0, "corr"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("non-terminal override err = %v", err)
	}
	if _, err := s.ResolveConflict("user-4", StateDeclined, rec.Version+7, "corr"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("version mismatch err = %v", err)
	}

	resolved, err := s.ResolveConflict("user-4", StateDeclined, rec.Version, "corr")
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if resolved.State != StateDeclined || resolved.Conflict != nil {
		t.Fatalf("override result = %+v", resolved)
	}
	if entry, ok := s.EventStatus(resolved.LastEventID); !ok || entry.Outcome != OutcomeApplied {
		t.Fatalf("override not ledgered: %+v ok=%v", entry, ok)
	}
}

func TestConflictedRecordStillAcceptsIdenticalTerminal(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-1",
		"type":       "verification.approved",
		"vendorData": "user-5",
		"decidedAt":  "2026-03-01T12:00:00Z",
	})
	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-2",
		"type":       "verification.declined",
		"vendorData": "user-5",
		"decidedAt":  "2026-03-01T12:05:00Z",
	})
	res := ingestPayload(t, s, map[string]any{
		"eventId":    "evt-3",
		"type":       "verification.approved",
		"vendorData": "user-5",
		"decidedAt":  "2026-03-01T12:10:00Z",
	})
	if res.Outcome != OutcomeApplied {
		t.Fatalf("identical terminal repeat on conflicted record = %s", res.Outcome)
	}
	rec, _ := s.Record("user-5")
	if rec.Conflict == nil {
		t.Fatal("conflict flag must survive until an explicit override")
	}
}

func TestArrivalOrderFallbackAssignsSequence(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	res := ingestPayload(t, s, map[string]any{
		"eventId":    "evt-1",
		"type":       "verification.created",
		"vendorData": "user-6",
	})
	if res.Outcome != OutcomeApplied {
		t.Fatalf("first outcome = %s", res.Outcome)
	}
	res = ingestPayload(t, s, map[string]any{
		"eventId":    "evt-2",
		"type":       "verification.submitted",
		"vendorData": "user-6",
	})
	if res.Outcome != OutcomeApplied {
		t.Fatalf("second outcome = %s", res.Outcome)
	}
	rec, _ := s.Record("user-6")
	if rec.State != StateSubmitted {
		t.Fatalf("state = %s", rec.State)
	}
	if rec.LastOrderingKey.Seq != 2 {
		t.Fatalf("sequence = %d, want 2", rec.LastOrderingKey.Seq)
	}
}

func TestUnresolvedEventParksThenAppliesAfterRecordCreated(t *testing.T) {
	monitor := &recordingMonitor{}
	s := newTestStore(t, StoreOptions{Monitor: monitor, MaxPendingAttempts: 100})

	res := ingestPayload(t, s, map[string]any{
		"eventId":   "evt-park",
		"type":      "verification.approved",
		"sessionId": "sess-unknown",
		"decidedAt": "2026-03-01T12:00:00Z",
	})
	if res.Outcome != OutcomePending {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := len(s.PendingEvents()); got != 1 {
		t.Fatalf("pending = %d", got)
	}

	rec, err := s.CreateRecord(CreateRecordRequest{
		Kind:      KindVerification,
		SessionID: "sess-unknown",
	})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	waitFor(t, "parked event to apply", func() bool {
		got, err := s.Record(rec.EntityID)
		return err == nil && got.State == StateApproved
	})
	if got := len(s.PendingEvents()); got != 0 {
		t.Fatalf("pending after apply = %d", got)
	}
	if entry, ok := s.EventStatus("evt-park"); !ok || entry.Outcome != OutcomeApplied {
		t.Fatalf("parked event not ledgered: %+v ok=%v", entry, ok)
	}
}

func TestResolutionBindsReferencesForLaterEvents(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-1",
		"type":       "verification.created",
		"vendorData": "user-7",
		"sessionId":  "sess-7",
		"sentAt":     "2026-03-01T10:00:00Z",
	})
	// Second delivery carries only the session id.
	res := ingestPayload(t, s, map[string]any{
		"eventId":   "evt-2",
		"type":      "verification.submitted",
		"sessionId": "sess-7",
		"sentAt":    "2026-03-01T10:05:00Z",
	})
	if res.Outcome != OutcomeApplied || res.EntityID != "user-7" {
		t.Fatalf("session resolution failed: %+v", res)
	}
}

func TestSingleCandidateResolutionRequiresExactlyOne(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	if _, err := s.CreateRecord(CreateRecordRequest{EntityID: "cand-1", Kind: KindVerification}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	res := ingestPayload(t, s, map[string]any{
		"eventId":   "evt-one",
		"type":      "verification.created",
		"sessionId": "sess-new",
		"sentAt":    "2026-03-01T10:00:00Z",
	})
	if res.Outcome != OutcomeApplied || res.EntityID != "cand-1" {
		t.Fatalf("single candidate not matched: %+v", res)
	}

	// With two untouched records the match is ambiguous and must park.
	if _, err := s.CreateRecord(CreateRecordRequest{EntityID: "cand-2", Kind: KindVerification}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if _, err := s.CreateRecord(CreateRecordRequest{EntityID: "cand-3", Kind: KindVerification}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	res = ingestPayload(t, s, map[string]any{
		"eventId":   "evt-two",
		"type":      "verification.created",
		"sessionId": "sess-other",
		"sentAt":    "2026-03-01T10:01:00Z",
	})
	if res.Outcome != OutcomePending {
		t.Fatalf("ambiguous match outcome = %s", res.Outcome)
	}
}

func TestPendingEscalatesToDeadLetterAndReplays(t *testing.T) {
	s := newTestStore(t, StoreOptions{
		MaxPendingAttempts: 2,
		PendingRetryDelay:  2 * time.Millisecond,
	})

	res := ingestPayload(t, s, map[string]any{
		"eventId":   "evt-lost",
		"type":      "verification.approved",
		"sessionId": "sess-lost",
		"decidedAt": "2026-03-01T12:00:00Z",
	})
	if res.Outcome != OutcomePending {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	waitFor(t, "escalation to dead letters", func() bool {
		return len(s.DeadLetters()) == 1
	})
	if got := len(s.PendingEvents()); got != 0 {
		t.Fatalf("pending after escalation = %d", got)
	}

	if err := s.ReplayDeadLetter("evt-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown replay err = %v", err)
	}

	if _, err := s.CreateRecord(CreateRecordRequest{Kind: KindVerification, SessionID: "sess-lost"}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := s.ReplayDeadLetter("evt-lost"); err != nil {
		t.Fatalf("ReplayDeadLetter: %v", err)
	}
	waitFor(t, "replayed event to apply", func() bool {
		entry, ok := s.EventStatus("evt-lost")
		return ok && entry.Outcome == OutcomeApplied
	})
	if got := len(s.DeadLetters()); got != 0 {
		t.Fatalf("dead letters after replay = %d", got)
	}
}

func TestReadingIngestFlow(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	apply := func(eventID string, date string, value float64) Result {
		return ingestPayload(t, s, map[string]any{
			"eventId":    eventID,
			"type":       "reading.updated",
			"vendorData": "aircraft-1",
			"reading":    map[string]any{"date": date, "value": value},
		})
	}

	if res := apply("r-1", "2026-03-01", 120); res.Outcome != OutcomeApplied {
		t.Fatalf("first reading = %s", res.Outcome)
	}
	if res := apply("r-2", "2026-03-01", 145); res.Outcome != OutcomeApplied {
		t.Fatalf("same-day higher reading = %s", res.Outcome)
	}
	if res := apply("r-3", "2026-03-01", 130); res.Outcome != OutcomeStale {
		t.Fatalf("same-day lower reading = %s", res.Outcome)
	}
	if res := apply("r-4", "2026-02-27", 500); res.Outcome != OutcomeStale {
		t.Fatalf("older-day reading = %s", res.Outcome)
	}
	rec, _ := s.Record("aircraft-1")
	if rec.LastOrderingKey.Value != 145 {
		t.Fatalf("final value = %v", rec.LastOrderingKey.Value)
	}
}

func TestReadingZeroDateTieBreakHolds(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	apply := func(eventID string, value float64) Result {
		return ingestPayload(t, s, map[string]any{
			"eventId":    eventID,
			"type":       "reading.updated",
			"vendorData": "aircraft-1",
			"reading":    map[string]any{"date": "0001-01-01", "value": value},
		})
	}

	if res := apply("rz-1", 200); res.Outcome != OutcomeApplied {
		t.Fatalf("first zero-dated reading = %s", res.Outcome)
	}
	if res := apply("rz-2", 100); res.Outcome != OutcomeStale {
		t.Fatalf("lower zero-dated reading = %s", res.Outcome)
	}
	rec, _ := s.Record("aircraft-1")
	if rec.LastOrderingKey.Value != 200 {
		t.Fatalf("lower reading overwrote higher: %v", rec.LastOrderingKey.Value)
	}
}

func TestCountersSurviveCrash(t *testing.T) {
	backend := NewMemoryStateBackend()
	s := newTestStore(t, StoreOptions{StateBackend: backend})

	payload := map[string]any{
		"eventId":    "evt-crash",
		"type":       "verification.submitted",
		"vendorData": "user-c",
		"decidedAt":  "2026-03-01T12:00:00Z",
	}
	if res := ingestPayload(t, s, payload); res.Outcome != OutcomeApplied {
		t.Fatalf("first delivery = %s", res.Outcome)
	}
	if res := ingestPayload(t, s, payload); res.Outcome != OutcomeAlreadyApplied {
		t.Fatalf("redelivery = %s", res.Outcome)
	}
	if _, err := s.Ingest([]byte("not json"), ""); err == nil {
		t.Fatal("malformed payload accepted")
	}

	// No Close here: every counter bump must reach the snapshot on its own,
	// or the totals rewind after a crash.
	restarted := newTestStore(t, StoreOptions{StateBackend: backend})
	c := restarted.Status().Counters
	if c.Received != 3 || c.Applied != 1 || c.AlreadyApplied != 1 || c.Malformed != 1 {
		t.Fatalf("counters after restart = %+v", c)
	}
}

func TestRetrySchedulingAfterCloseIsInert(t *testing.T) {
	s := newTestStore(t, StoreOptions{})
	s.Close()

	s.scheduleRetry("evt-late", time.Millisecond)
	s.wg.Wait()
	if got := s.queue.Depth(); got != 0 {
		t.Fatalf("retry scheduled after close, queue depth = %d", got)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	backend := NewMemoryStateBackend()

	s := newTestStore(t, StoreOptions{StateBackend: backend})
	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-persist",
		"type":       "verification.approved",
		"vendorData": "user-8",
		"sessionId":  "sess-8",
		"decidedAt":  "2026-03-01T12:00:00Z",
	})
	s.Close()

	restarted := newTestStore(t, StoreOptions{StateBackend: backend})
	rec, err := restarted.Record("user-8")
	if err != nil {
		t.Fatalf("record lost across restart: %v", err)
	}
	if rec.State != StateApproved {
		t.Fatalf("state after restart = %s", rec.State)
	}

	// The ledger must survive too, so redeliveries stay idempotent.
	res, err := restarted.Ingest(mustJSON(t, map[string]any{
		"eventId":    "evt-persist",
		"type":       "verification.approved",
		"vendorData": "user-8",
		"decidedAt":  "2026-03-01T12:00:00Z",
	}), "")
	if err != nil {
		t.Fatalf("Ingest after restart: %v", err)
	}
	if res.Outcome != OutcomeAlreadyApplied {
		t.Fatalf("redelivery after restart = %s", res.Outcome)
	}

	// Rebuilt indexes must resolve by session id again.
	res, err = restarted.Ingest(mustJSON(t, map[string]any{
		"eventId":   "evt-after",
		"type":      "verification.approved",
		"sessionId": "sess-8",
		"decidedAt": "2026-03-01T13:00:00Z",
	}), "")
	if err != nil {
		t.Fatalf("Ingest by session after restart: %v", err)
	}
	if res.EntityID != "user-8" {
		t.Fatalf("session index not rebuilt: %+v", res)
	}
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	_, err := s.Ingest([]byte(`{"type": 42}`), "corr")
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if s.Status().Counters.Malformed != 1 {
		t.Fatalf("malformed counter = %d", s.Status().Counters.Malformed)
	}
}

func TestMonitorPanicDoesNotAffectResult(t *testing.T) {
	s := newTestStore(t, StoreOptions{Monitor: panicMonitor{}})

	res := ingestPayload(t, s, map[string]any{
		"eventId":    "evt-boom",
		"type":       "verification.created",
		"vendorData": "user-9",
		"sentAt":     "2026-03-01T10:00:00Z",
	})
	if res.Outcome != OutcomeApplied {
		t.Fatalf("outcome with panicking monitor = %s", res.Outcome)
	}
	if _, err := s.Record("user-9"); err != nil {
		t.Fatalf("record missing: %v", err)
	}
}

func TestMonitorObservesEveryOutcome(t *testing.T) {
	monitor := &recordingMonitor{}
	s := newTestStore(t, StoreOptions{Monitor: monitor})

	payload := map[string]any{
		"eventId":    "evt-obs",
		"type":       "verification.created",
		"vendorData": "user-10",
		"sentAt":     "2026-03-01T10:00:00Z",
	}
	ingestPayload(t, s, payload)
	ingestPayload(t, s, payload)

	outcomes := monitor.outcomes()
	if len(outcomes) != 2 || outcomes[0] != OutcomeApplied || outcomes[1] != OutcomeAlreadyApplied {
		t.Fatalf("observed outcomes = %v", outcomes)
	}
}

func TestCreateRecordValidation(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	if _, err := s.CreateRecord(CreateRecordRequest{Kind: "mystery"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown kind err = %v", err)
	}
	if _, err := s.CreateRecord(CreateRecordRequest{EntityID: "dup", Kind: KindVerification, SessionID: "sess-dup"}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if _, err := s.CreateRecord(CreateRecordRequest{EntityID: "dup", Kind: KindVerification}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate entity err = %v", err)
	}
	if _, err := s.CreateRecord(CreateRecordRequest{Kind: KindVerification, SessionID: "sess-dup"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate session binding err = %v", err)
	}

	rec, err := s.CreateRecord(CreateRecordRequest{Kind: KindReading})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if rec.EntityID == "" {
		t.Fatal("expected a generated entity id")
	}
}

func TestRecordsListingFilters(t *testing.T) {
	s := newTestStore(t, StoreOptions{})

	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-1",
		"type":       "verification.approved",
		"vendorData": "user-a",
		"decidedAt":  "2026-03-01T12:00:00Z",
	})
	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-2",
		"type":       "verification.declined",
		"vendorData": "user-a",
		"decidedAt":  "2026-03-01T12:05:00Z",
	})
	ingestPayload(t, s, map[string]any{
		"eventId":    "evt-3",
		"type":       "reading.updated",
		"vendorData": "aircraft-a",
		"reading":    map[string]any{"date": "2026-03-01", "value": 10},
	})

	if got := len(s.Records("", false)); got != 2 {
		t.Fatalf("all records = %d", got)
	}
	if got := len(s.Records(KindReading, false)); got != 1 {
		t.Fatalf("reading records = %d", got)
	}
	conflicted := s.Records("", true)
	if len(conflicted) != 1 || conflicted[0].EntityID != "user-a" {
		t.Fatalf("conflicted records = %+v", conflicted)
	}

	status := s.Status()
	if status.Records != 2 || status.Conflicted != 1 || status.LedgerSize != 3 {
		t.Fatalf("status = %+v", status)
	}
	if status.Counters.Applied != 2 || status.Counters.Conflicts != 1 {
		t.Fatalf("counters = %+v", status.Counters)
	}
}

func TestPersistedStateRoundTripsThroughJSON(t *testing.T) {
	value := 42.5
	state := persistedState{
		Records: map[string]*Record{
			"e-1": {EntityID: "e-1", Kind: KindReading, LastOrderingKey: OrderingKey{Value: value}},
		},
		Ledger: map[string]LedgerEntry{
			"evt": {EventID: "evt", EntityID: "e-1", Outcome: OutcomeApplied},
		},
		EntitySeq: map[string]uint64{"e-1": 3},
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded persistedState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Records["e-1"].LastOrderingKey.Value != value {
		t.Fatalf("ordering key lost: %+v", decoded.Records["e-1"])
	}
	if decoded.EntitySeq["e-1"] != 3 {
		t.Fatalf("entity sequence lost: %v", decoded.EntitySeq)
	}
}
