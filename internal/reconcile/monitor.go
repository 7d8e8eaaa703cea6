package reconcile

import "log"

// Observation is the fire-and-forget record of one reconciliation outcome.
type Observation struct {
	EntityID      string    `json:"entityId,omitempty"`
	EventID       string    `json:"eventId"`
	Kind          EventKind `json:"kind,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	CorrelationID string    `json:"correlationId,omitempty"`
	At            string    `json:"at"`
}

// Monitor receives post-commit observations. Implementations must be safe
// for concurrent use; a panicking or failing monitor never affects the
// already-decided verdict.
type Monitor interface {
	Record(obs Observation)
}

type logMonitor struct{}

// NewLogMonitor returns a Monitor that prints each outcome.
func NewLogMonitor() Monitor {
	return logMonitor{}
}

func (logMonitor) Record(obs Observation) {
	log.Printf("reconcile outcome=%s event=%s entity=%s kind=%s", obs.Outcome, obs.EventID, obs.EntityID, obs.Kind)
}

type fanoutMonitor struct {
	monitors []Monitor
}

// NewFanoutMonitor forwards each observation to every given monitor.
func NewFanoutMonitor(monitors ...Monitor) Monitor {
	kept := make([]Monitor, 0, len(monitors))
	for _, m := range monitors {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &fanoutMonitor{monitors: kept}
}

func (f *fanoutMonitor) Record(obs Observation) {
	for _, m := range f.monitors {
		m.Record(obs)
	}
}
