package store

import "fmt"

// SimulationStatus is a SimulationRecord's position in spec.md §4.G's
// state machine.
type SimulationStatus string

const (
	StatusPending     SimulationStatus = "pending"
	StatusQueued      SimulationStatus = "queued"
	StatusRunning     SimulationStatus = "running"
	StatusFinished    SimulationStatus = "finished"
	StatusRetrieved   SimulationStatus = "retrieved"
	StatusAnalyzed    SimulationStatus = "analyzed"
	StatusCrashed     SimulationStatus = "crashed"
	StatusCancelled   SimulationStatus = "cancelled"
	StatusAborted     SimulationStatus = "aborted"
	StatusDry         SimulationStatus = "dry"
)

// validNextStatuses enumerates the state machine's edges (spec.md §4.G):
//
//	pending → queued → running → finished → retrieved → analyzed
//	                    │        │
//	                    │        ├─→ crashed
//	                    ├─→ cancelled
//	                    └─→ aborted
var validNextStatuses = map[SimulationStatus][]SimulationStatus{
	StatusPending:   {StatusQueued, StatusAborted, StatusDry},
	StatusQueued:    {StatusRunning, StatusCancelled, StatusAborted},
	StatusRunning:   {StatusFinished, StatusCrashed, StatusAborted},
	StatusFinished:  {StatusRetrieved},
	StatusRetrieved: {StatusAnalyzed},
}

// CheckTransition reports whether moving a SimulationRecord from from to
// to is a legal edge in the state machine. Terminal states (analyzed,
// crashed, cancelled, aborted, dry) have no outgoing edges.
func CheckTransition(from, to SimulationStatus) error {
	for _, allowed := range validNextStatuses[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("store: illegal status transition %s -> %s", from, to)
}
