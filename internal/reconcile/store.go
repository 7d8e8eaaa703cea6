package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxPendingAttempts = 8
	defaultPendingRetryDelay  = 30 * time.Second
	defaultResolverRecency    = 24 * time.Hour
	defaultPendingWorkers     = 2
	defaultQueueCapacity      = 1024
)

// Counters are cumulative ingestion totals, persisted with the snapshot.
type Counters struct {
	Received       uint64 `json:"received"`
	Applied        uint64 `json:"applied"`
	AlreadyApplied uint64 `json:"alreadyApplied"`
	Stale          uint64 `json:"stale"`
	Conflicts      uint64 `json:"conflicts"`
	Parked         uint64 `json:"parked"`
	Malformed      uint64 `json:"malformed"`
	Escalated      uint64 `json:"escalated"`
	Replayed       uint64 `json:"replayed"`
}

// PendingEvent is a normalized event parked because no record matched its
// references yet. It is retried until it resolves or the attempt cap is hit.
type PendingEvent struct {
	Event       ExternalEvent `json:"event"`
	Attempts    int           `json:"attempts"`
	FirstSeenAt string        `json:"firstSeenAt"`
	NextAttempt string        `json:"nextAttempt,omitempty"`
}

// DeadLetter is a pending event that exhausted its resolution attempts. It
// keeps the full event so an operator can replay it after fixing the data.
type DeadLetter struct {
	Event       ExternalEvent `json:"event"`
	Attempts    int           `json:"attempts"`
	Reason      string        `json:"reason"`
	EscalatedAt string        `json:"escalatedAt"`
}

// StatusReport is the operational summary returned by Status.
type StatusReport struct {
	Records       int      `json:"records"`
	Conflicted    int      `json:"conflicted"`
	Pending       int      `json:"pending"`
	DeadLetters   int      `json:"deadLetters"`
	LedgerSize    int      `json:"ledgerSize"`
	QueueDepth    int      `json:"queueDepth"`
	QueueCapacity int      `json:"queueCapacity"`
	Counters      Counters `json:"counters"`
}

// CreateRecordRequest pre-registers an internal record so later external
// events can resolve against it.
type CreateRecordRequest struct {
	EntityID       string     `json:"entityId,omitempty"`
	Kind           RecordKind `json:"kind"`
	SessionID      string     `json:"sessionId,omitempty"`
	VerificationID string     `json:"verificationId,omitempty"`
	VendorTag      string     `json:"vendorTag,omitempty"`
}

// StoreOptions configures a Store. Zero values pick the in-memory defaults.
type StoreOptions struct {
	StateBackend       StateBackend
	PendingQueue       EventQueue
	Monitor            Monitor
	MaxPendingAttempts int
	PendingRetryDelay  time.Duration
	ResolverRecency    time.Duration
	PendingWorkers     int
}

// Store owns all reconciliation state: records, the idempotency ledger,
// parked events and dead letters. Every mutation happens under one lock and
// is snapshotted to the state backend before the lock is released, so a
// ledger entry and the record change it describes are never persisted apart.
type Store struct {
	mu                sync.RWMutex
	records           map[string]*Record
	sessionIndex      map[string]string
	verificationIndex map[string]string
	vendorTagIndex    map[string]string
	ledger            map[string]LedgerEntry
	pending           map[string]*PendingEvent
	deadLetters       map[string]*DeadLetter
	entitySeq         map[string]uint64
	counters          Counters

	backend StateBackend
	queue   EventQueue
	monitor Monitor

	maxPendingAttempts int
	pendingRetryDelay  time.Duration
	resolverRecency    time.Duration

	now func() time.Time

	closed    bool
	queueCtx  context.Context
	queueStop context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	if opts.StateBackend == nil {
		opts.StateBackend = NewMemoryStateBackend()
	}
	if opts.PendingQueue == nil {
		opts.PendingQueue = NewInMemoryEventQueue(defaultQueueCapacity)
	}
	if opts.Monitor == nil {
		opts.Monitor = NewLogMonitor()
	}
	if opts.MaxPendingAttempts <= 0 {
		opts.MaxPendingAttempts = defaultMaxPendingAttempts
	}
	if opts.PendingRetryDelay <= 0 {
		opts.PendingRetryDelay = defaultPendingRetryDelay
	}
	if opts.ResolverRecency <= 0 {
		opts.ResolverRecency = defaultResolverRecency
	}
	if opts.PendingWorkers <= 0 {
		opts.PendingWorkers = defaultPendingWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		records:            make(map[string]*Record),
		sessionIndex:       make(map[string]string),
		verificationIndex:  make(map[string]string),
		vendorTagIndex:     make(map[string]string),
		ledger:             make(map[string]LedgerEntry),
		pending:            make(map[string]*PendingEvent),
		deadLetters:        make(map[string]*DeadLetter),
		entitySeq:          make(map[string]uint64),
		backend:            opts.StateBackend,
		queue:              opts.PendingQueue,
		monitor:            opts.Monitor,
		maxPendingAttempts: opts.MaxPendingAttempts,
		pendingRetryDelay:  opts.PendingRetryDelay,
		resolverRecency:    opts.ResolverRecency,
		now:                time.Now,
		queueCtx:           ctx,
		queueStop:          cancel,
	}

	if err := s.loadFromBackend(); err != nil {
		log.Printf("reconcile: loading persisted state: %v", err)
	}

	for i := 0; i < opts.PendingWorkers; i++ {
		s.wg.Add(1)
		go s.pendingWorker()
	}
	return s
}

// Ingest normalizes one raw payload and runs it through the acceptance rule.
// Authenticity is the caller's problem; by the time a payload reaches here it
// is trusted. The returned Result is committed: record, ledger and snapshot
// are already durable when Ingest returns.
func (s *Store) Ingest(raw []byte, correlationID string) (Result, error) {
	now := s.now().UTC()
	ev, err := Normalize(raw, now, correlationID)
	if err != nil {
		s.mu.Lock()
		s.counters.Received++
		s.counters.Malformed++
		s.saveLocked()
		s.mu.Unlock()
		return Result{CorrelationID: correlationID}, err
	}
	return s.submit(ev)
}

func (s *Store) submit(ev ExternalEvent) (Result, error) {
	now := s.now().UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("store closed: %w", ErrInvalidInput)
	}
	s.counters.Received++

	// Ledger gate first: a source event id seen before is settled no matter
	// what its payload claims now.
	if entry, ok := s.ledger[ev.SourceEventID]; ok {
		s.counters.AlreadyApplied++
		// Counters are part of the snapshot; without this they rewind on
		// restart.
		s.saveLocked()
		s.mu.Unlock()
		res := Result{
			Outcome:       OutcomeAlreadyApplied,
			EventID:       ev.SourceEventID,
			EntityID:      entry.EntityID,
			CorrelationID: ev.CorrelationID,
		}
		s.notify(observationFor(res, ev.Kind, now))
		return res, nil
	}

	entityID, _, ok := s.resolveLocked(ev, now)
	if !ok {
		res := s.parkLocked(ev, now)
		s.saveLocked()
		s.mu.Unlock()
		s.notify(observationFor(res, ev.Kind, now))
		s.requestRecheck(ev.SourceEventID, s.pendingRetryDelay)
		return res, nil
	}

	res := s.applyResolvedLocked(entityID, ev, now)
	s.saveLocked()
	s.mu.Unlock()
	s.notify(observationFor(res, ev.Kind, now))
	return res, nil
}

// applyResolvedLocked commits one resolved event against its record. The
// record is created lazily for a vendor-data passthrough of an unknown
// entity id.
func (s *Store) applyResolvedLocked(entityID string, ev ExternalEvent, now time.Time) Result {
	rec, ok := s.records[entityID]
	if !ok {
		rec = &Record{
			EntityID:  entityID,
			Kind:      ev.Kind.RecordKind(),
			CreatedAt: now.Format(time.RFC3339Nano),
			UpdatedAt: now.Format(time.RFC3339Nano),
		}
		s.records[entityID] = rec
	}
	s.bindRefsLocked(rec, ev.Refs)

	if !ev.HasTimestamp {
		// Arrival-order fallback: synthesize a key that sorts directly after
		// whatever the record last accepted.
		seq := s.entitySeq[entityID]
		if rec.LastOrderingKey.Seq > seq {
			seq = rec.LastOrderingKey.Seq
		}
		seq++
		s.entitySeq[entityID] = seq
		ev.OrderingKey.Time = rec.LastOrderingKey.Time
		ev.OrderingKey.Seq = seq
	}

	d := decide(rec, ev, now)
	switch d.outcome {
	case OutcomeApplied:
		rec.State = d.state
		rec.LastOrderingKey = d.key
		rec.LastEventID = ev.SourceEventID
		rec.Fields = d.fields
		rec.Version++
		rec.UpdatedAt = now.Format(time.RFC3339Nano)
		s.counters.Applied++
	case OutcomeConflict:
		rec.Conflict = d.conflict
		rec.Version++
		rec.UpdatedAt = now.Format(time.RFC3339Nano)
		s.counters.Conflicts++
	case OutcomeStale:
		s.counters.Stale++
	}

	s.ledger[ev.SourceEventID] = LedgerEntry{
		EventID:       ev.SourceEventID,
		EntityID:      entityID,
		Outcome:       d.outcome,
		RecordedAt:    now.Format(time.RFC3339Nano),
		CorrelationID: ev.CorrelationID,
	}

	return Result{
		Outcome:       d.outcome,
		EventID:       ev.SourceEventID,
		EntityID:      entityID,
		CorrelationID: ev.CorrelationID,
	}
}

// bindRefsLocked records any identifier the event carries that the record
// has not learned yet, so the next delivery resolves by exact match instead
// of the heuristic fallback.
func (s *Store) bindRefsLocked(rec *Record, refs ExternalRefs) {
	if rec.SessionID == "" && refs.SessionID != "" {
		if _, taken := s.sessionIndex[refs.SessionID]; !taken {
			rec.SessionID = refs.SessionID
			s.sessionIndex[refs.SessionID] = rec.EntityID
		}
	}
	if rec.VerificationID == "" && refs.VerificationID != "" {
		if _, taken := s.verificationIndex[refs.VerificationID]; !taken {
			rec.VerificationID = refs.VerificationID
			s.verificationIndex[refs.VerificationID] = rec.EntityID
		}
	}
	if rec.VendorTag == "" && refs.VendorTag != "" {
		if _, taken := s.vendorTagIndex[refs.VendorTag]; !taken {
			rec.VendorTag = refs.VendorTag
			s.vendorTagIndex[refs.VendorTag] = rec.EntityID
		}
	}
}

func (s *Store) parkLocked(ev ExternalEvent, now time.Time) Result {
	if _, ok := s.pending[ev.SourceEventID]; !ok {
		s.pending[ev.SourceEventID] = &PendingEvent{
			Event:       ev,
			FirstSeenAt: now.Format(time.RFC3339Nano),
			NextAttempt: now.Add(s.pendingRetryDelay).Format(time.RFC3339Nano),
		}
		s.counters.Parked++
	}
	return Result{
		Outcome:       OutcomePending,
		EventID:       ev.SourceEventID,
		CorrelationID: ev.CorrelationID,
	}
}

// requestRecheck enqueues a parked event id for a resolution re-check, and
// falls back to a delayed retry when the queue is saturated.
func (s *Store) requestRecheck(eventID string, fallbackDelay time.Duration) {
	if s.queue.TryEnqueue(eventID) {
		return
	}
	s.scheduleRetry(eventID, fallbackDelay)
}

func (s *Store) scheduleRetry(eventID string, delay time.Duration) {
	// wg.Add must not race Close's wg.Wait: the closed flag and the Add are
	// decided under the same lock Close uses to set the flag.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(delay):
			s.queue.Enqueue(s.queueCtx, eventID)
		case <-s.queueCtx.Done():
		}
	}()
}

func (s *Store) pendingWorker() {
	defer s.wg.Done()
	for {
		eventID, ok := s.queue.Dequeue(s.queueCtx)
		if !ok {
			return
		}
		s.processPending(eventID)
	}
}

// processPending makes one resolution attempt for a parked event. Exhausting
// the attempt cap escalates it to the dead-letter set for operator review.
func (s *Store) processPending(eventID string) {
	now := s.now().UTC()

	s.mu.Lock()
	pe, ok := s.pending[eventID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	pe.Attempts++

	entityID, _, resolved := s.resolveLocked(pe.Event, now)
	if resolved {
		delete(s.pending, eventID)
		res := s.applyResolvedLocked(entityID, pe.Event, now)
		s.saveLocked()
		s.mu.Unlock()
		s.notify(observationFor(res, pe.Event.Kind, now))
		return
	}

	if pe.Attempts >= s.maxPendingAttempts {
		s.deadLetters[eventID] = &DeadLetter{
			Event:       pe.Event,
			Attempts:    pe.Attempts,
			Reason:      "entity resolution exhausted",
			EscalatedAt: now.Format(time.RFC3339Nano),
		}
		delete(s.pending, eventID)
		s.counters.Escalated++
		s.saveLocked()
		s.mu.Unlock()
		log.Printf("reconcile: event %s unresolved after %d attempts, escalated", eventID, s.maxPendingAttempts)
		return
	}

	pe.NextAttempt = now.Add(s.pendingRetryDelay).Format(time.RFC3339Nano)
	s.saveLocked()
	s.mu.Unlock()
	s.scheduleRetry(eventID, s.pendingRetryDelay)
}

// kickPendingLocked re-enqueues every parked event. Called after a record is
// created or gains a reference binding: an event that failed to resolve
// before may match now.
func (s *Store) kickPendingLocked() {
	queued := map[string]struct{}{}
	if snap, ok := s.queue.(eventQueueSnapshotter); ok {
		// A durable queue may already hold some of these ids.
		for _, eventID := range snap.SnapshotEventIDs() {
			queued[eventID] = struct{}{}
		}
	}
	for eventID := range s.pending {
		if _, alreadyQueued := queued[eventID]; alreadyQueued {
			continue
		}
		s.queue.TryEnqueue(eventID)
	}
}

// CreateRecord pre-registers a record and its known external references.
func (s *Store) CreateRecord(req CreateRecordRequest) (*Record, error) {
	if req.Kind != KindVerification && req.Kind != KindReading {
		return nil, fmt.Errorf("unknown record kind %q: %w", req.Kind, ErrInvalidInput)
	}
	entityID := normalizeRef(req.EntityID)
	if entityID == "" {
		entityID = uuid.NewString()
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store closed: %w", ErrInvalidInput)
	}
	if _, exists := s.records[entityID]; exists {
		return nil, fmt.Errorf("record %s already exists: %w", entityID, ErrInvalidInput)
	}
	refs := ExternalRefs{
		SessionID:      normalizeRef(req.SessionID),
		VerificationID: normalizeRef(req.VerificationID),
		VendorTag:      normalizeRef(req.VendorTag),
	}
	if refs.SessionID != "" {
		if _, taken := s.sessionIndex[refs.SessionID]; taken {
			return nil, fmt.Errorf("session id %s already bound: %w", refs.SessionID, ErrInvalidInput)
		}
	}
	if refs.VerificationID != "" {
		if _, taken := s.verificationIndex[refs.VerificationID]; taken {
			return nil, fmt.Errorf("verification id %s already bound: %w", refs.VerificationID, ErrInvalidInput)
		}
	}
	if refs.VendorTag != "" {
		if _, taken := s.vendorTagIndex[refs.VendorTag]; taken {
			return nil, fmt.Errorf("vendor tag %s already bound: %w", refs.VendorTag, ErrInvalidInput)
		}
	}

	rec := &Record{
		EntityID:  entityID,
		Kind:      req.Kind,
		CreatedAt: now.Format(time.RFC3339Nano),
		UpdatedAt: now.Format(time.RFC3339Nano),
	}
	s.records[entityID] = rec
	s.bindRefsLocked(rec, refs)
	s.kickPendingLocked()
	s.saveLocked()
	return rec.clone(), nil
}

// ResolveConflict is the administrative override for a flagged record: it
// settles the record at the given terminal state, clears the flag and writes
// a synthesized ledger entry so the override is auditable like any event.
// expectedVersion guards against overriding a record that changed since the
// operator last read it; zero skips the check.
func (s *Store) ResolveConflict(entityID string, state VerificationState, expectedVersion uint64, correlationID string) (*Record, error) {
	if !state.Terminal() {
		return nil, fmt.Errorf("override state %q is not terminal: %w", state, ErrInvalidInput)
	}
	now := s.now().UTC()

	s.mu.Lock()
	rec, ok := s.records[entityID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("record %s: %w", entityID, ErrNotFound)
	}
	if rec.Conflict == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("record %s is not conflicted: %w", entityID, ErrInvalidInput)
	}
	if expectedVersion != 0 && rec.Version != expectedVersion {
		s.mu.Unlock()
		return nil, fmt.Errorf("record %s is at version %d, expected %d: %w",
			entityID, rec.Version, expectedVersion, ErrStateConflict)
	}

	overrideID := "override-" + uuid.NewString()
	seq := s.entitySeq[entityID]
	if rec.LastOrderingKey.Seq > seq {
		seq = rec.LastOrderingKey.Seq
	}
	seq++
	s.entitySeq[entityID] = seq

	rec.State = state
	rec.Conflict = nil
	rec.LastOrderingKey.Seq = seq
	rec.LastEventID = overrideID
	rec.Version++
	rec.UpdatedAt = now.Format(time.RFC3339Nano)
	s.ledger[overrideID] = LedgerEntry{
		EventID:       overrideID,
		EntityID:      entityID,
		Outcome:       OutcomeApplied,
		RecordedAt:    now.Format(time.RFC3339Nano),
		CorrelationID: correlationID,
	}
	s.saveLocked()
	out := rec.clone()
	s.mu.Unlock()

	s.notify(Observation{
		EntityID:      entityID,
		EventID:       overrideID,
		Kind:          EventAdminOverride,
		Outcome:       OutcomeApplied,
		CorrelationID: correlationID,
		At:            now.Format(time.RFC3339Nano),
	})
	return out, nil
}

// ReplayDeadLetter moves an escalated event back into the pending set with a
// fresh attempt budget and triggers an immediate re-check.
func (s *Store) ReplayDeadLetter(eventID string) error {
	now := s.now().UTC()

	s.mu.Lock()
	dl, ok := s.deadLetters[eventID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("dead letter %s: %w", eventID, ErrNotFound)
	}
	delete(s.deadLetters, eventID)
	s.pending[eventID] = &PendingEvent{
		Event:       dl.Event,
		FirstSeenAt: now.Format(time.RFC3339Nano),
	}
	s.counters.Replayed++
	s.saveLocked()
	s.mu.Unlock()

	s.requestRecheck(eventID, s.pendingRetryDelay)
	return nil
}

// Record returns a copy of one record.
func (s *Store) Record(entityID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[entityID]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", entityID, ErrNotFound)
	}
	return rec.clone(), nil
}

// Records lists record copies, optionally filtered by kind or conflict flag,
// ordered by entity id.
func (s *Store) Records(kind RecordKind, conflictedOnly bool) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		if conflictedOnly && rec.Conflict == nil {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// EventStatus returns the ledger entry for a source event id, if any.
func (s *Store) EventStatus(eventID string) (LedgerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.ledger[eventID]
	return entry, ok
}

// PendingEvents lists parked events ordered by first arrival.
func (s *Store) PendingEvents() []PendingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingEvent, 0, len(s.pending))
	for _, pe := range s.pending {
		out = append(out, *pe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt < out[j].FirstSeenAt })
	return out
}

// DeadLetters lists escalated events ordered by escalation time.
func (s *Store) DeadLetters() []DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeadLetter, 0, len(s.deadLetters))
	for _, dl := range s.deadLetters {
		out = append(out, *dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EscalatedAt < out[j].EscalatedAt })
	return out
}

func (s *Store) Status() StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conflicted := 0
	for _, rec := range s.records {
		if rec.Conflict != nil {
			conflicted++
		}
	}
	return StatusReport{
		Records:       len(s.records),
		Conflicted:    conflicted,
		Pending:       len(s.pending),
		DeadLetters:   len(s.deadLetters),
		LedgerSize:    len(s.ledger),
		QueueDepth:    s.queue.Depth(),
		QueueCapacity: s.queue.Capacity(),
		Counters:      s.counters,
	}
}

// Close stops the workers and writes a final snapshot.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.saveLocked()
		s.mu.Unlock()
		s.queueStop()
		s.wg.Wait()
		if err := s.queue.Close(); err != nil {
			log.Printf("reconcile: closing pending queue: %v", err)
		}
		if err := s.backend.Close(); err != nil {
			log.Printf("reconcile: closing state backend: %v", err)
		}
	})
}

// notify delivers an observation outside the store lock. A broken monitor
// must not poison a committed result, so panics are contained here.
func (s *Store) notify(obs Observation) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("reconcile: monitor panic: %v", r)
		}
	}()
	s.monitor.Record(obs)
}

func observationFor(res Result, kind EventKind, now time.Time) Observation {
	return Observation{
		EntityID:      res.EntityID,
		EventID:       res.EventID,
		Kind:          kind,
		Outcome:       res.Outcome,
		CorrelationID: res.CorrelationID,
		At:            now.Format(time.RFC3339Nano),
	}
}

type persistedState struct {
	Records     map[string]*Record       `json:"records"`
	Ledger      map[string]LedgerEntry   `json:"ledger"`
	Pending     map[string]*PendingEvent `json:"pending,omitempty"`
	DeadLetters map[string]*DeadLetter   `json:"deadLetters,omitempty"`
	EntitySeq   map[string]uint64        `json:"entitySeq,omitempty"`
	Counters    Counters                 `json:"counters"`
}

func (s *Store) saveLocked() {
	state := persistedState{
		Records:     s.records,
		Ledger:      s.ledger,
		Pending:     s.pending,
		DeadLetters: s.deadLetters,
		EntitySeq:   s.entitySeq,
		Counters:    s.counters,
	}
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("reconcile: encoding snapshot: %v", err)
		return
	}
	if err := s.backend.Save(context.Background(), data); err != nil {
		log.Printf("reconcile: saving snapshot: %v", err)
	}
}

func (s *Store) loadFromBackend() error {
	data, err := s.backend.Load(context.Background())
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state.Records != nil {
		s.records = state.Records
	}
	if state.Ledger != nil {
		s.ledger = state.Ledger
	}
	if state.Pending != nil {
		s.pending = state.Pending
	}
	if state.DeadLetters != nil {
		s.deadLetters = state.DeadLetters
	}
	if state.EntitySeq != nil {
		s.entitySeq = state.EntitySeq
	}
	s.counters = state.Counters

	// Reference indexes are derived state; rebuild them from the records.
	for entityID, rec := range s.records {
		if rec.SessionID != "" {
			s.sessionIndex[rec.SessionID] = entityID
		}
		if rec.VerificationID != "" {
			s.verificationIndex[rec.VerificationID] = entityID
		}
		if rec.VendorTag != "" {
			s.vendorTagIndex[rec.VendorTag] = entityID
		}
	}
	s.kickPendingLocked()
	return nil
}
