package domain

// JobStatus is the lifecycle state of a scheduled publish job
type JobStatus string

// Job status constants
const (
	JobStatusPending         JobStatus = "pending"
	JobStatusAwaitingPublish JobStatus = "awaiting_publish"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
)

// transitions maps each status to the statuses it may move to.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:         {JobStatusAwaitingPublish, JobStatusCompleted, JobStatusFailed},
	JobStatusAwaitingPublish: {JobStatusCompleted, JobStatusFailed},
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusAwaitingPublish, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// CanTransition reports whether a job in status from may move to status to
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status that may transition into to
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusAwaitingPublish, JobStatusCompleted, JobStatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
