package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	ScanAborted
	FileAdded
	FileModified
	FileUnchanged
	FileFailed
	SweepStarted
	EntryRemoved
	SweepComplete
	ReconcileStarted
	ReconcileComplete
)

var typeNames = [...]string{
	ScanStarted:       "ScanStarted",
	ScanComplete:      "ScanComplete",
	ScanAborted:       "ScanAborted",
	FileAdded:         "FileAdded",
	FileModified:      "FileModified",
	FileUnchanged:     "FileUnchanged",
	FileFailed:        "FileFailed",
	SweepStarted:      "SweepStarted",
	EntryRemoved:      "EntryRemoved",
	SweepComplete:     "SweepComplete",
	ReconcileStarted:  "ReconcileStarted",
	ReconcileComplete: "ReconcileComplete",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from a scan, sweep, or
// reconciliation cycle.
type Event struct {
	Type      Type
	Timestamp time.Time
	Cycle     uuid.UUID // scan cycle this event belongs to
	Path      string
	Size      int64
	Digest    string // BLAKE3 hex digest, where applicable
	Total     int64  // total entries (ScanComplete, SweepComplete)
	Error     error
}

// Emit sends e on ch without blocking, stamping the timestamp. Events are
// best-effort progress reporting; a full channel drops the event.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
