package models

// Status is the lifecycle state of a single download
type Status string

const (
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompressing Status = "compressing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// successPath orders the non-failure states; a record only moves forward along it
var successPath = map[Status]int{
	StatusStarting:    0,
	StatusDownloading: 1,
	StatusProcessing:  2,
	StatusCompressing: 3,
	StatusCompleted:   4,
}

// IsTerminal reports whether no further transition may occur
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is allowed.
// Failure states are reachable from any non-terminal state; the success path
// only moves forward, although intermediate states may be skipped.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusError || next == StatusCancelled {
		return true
	}
	from, ok := successPath[s]
	if !ok {
		return false
	}
	to, ok := successPath[next]
	if !ok {
		return false
	}
	return to > from
}

// BatchStatus is the aggregate state of a batch
type BatchStatus string

const (
	BatchStarting   BatchStatus = "starting"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)
