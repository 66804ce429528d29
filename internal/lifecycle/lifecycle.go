// Package lifecycle holds the document and session state rules. It performs no
// I/O: the store executes transitions atomically and consults Check before
// every write.
package lifecycle

import (
	"fmt"
	"slices"
	"strings"

	"docpipe/internal/services"
)

// Status is a document's processing state.
type Status string

const (
	StatusSynced            Status = "synced"
	StatusNeedsManipulation Status = "needs_manipulation"
	StatusQueued            Status = "queued"
	StatusProcessing        Status = "processing"
	StatusObsolete          Status = "obsolete"
	StatusDeleted           Status = "deleted"
)

// ParseStatus accepts a status name, case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusSynced, StatusNeedsManipulation, StatusQueued, StatusProcessing, StatusObsolete, StatusDeleted:
		return status, true
	}
	return "", false
}

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusObsolete || s == StatusDeleted
}

// Op names a state machine operation.
type Op string

const (
	OpMarkDirty Op = "mark_dirty"
	OpEnqueue   Op = "enqueue"
	OpClaim     Op = "claim"
	OpComplete  Op = "complete"
	OpCancel    Op = "cancel"
)

var sources = map[Op][]Status{
	OpMarkDirty: {StatusSynced, StatusNeedsManipulation},
	OpEnqueue:   {StatusNeedsManipulation},
	OpClaim:     {StatusQueued},
	OpComplete:  {StatusProcessing},
	OpCancel:    {StatusQueued},
}

// Allowed reports whether op may run from status.
func Allowed(op Op, from Status) bool {
	return slices.Contains(sources[op], from)
}

// Check returns a TransitionError when op may not run from status.
func Check(documentID string, op Op, from Status) error {
	if Allowed(op, from) {
		return nil
	}
	return &services.TransitionError{Entity: "document", ID: documentID, Op: string(op), From: string(from)}
}

// SessionStatus is a processing session's state.
type SessionStatus string

const (
	SessionQueued    SessionStatus = "queued"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the session has finished.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// ActiveSessionStatuses are the statuses that hold a document's single-flight slot.
var ActiveSessionStatuses = []SessionStatus{SessionQueued, SessionRunning}

// Active reports whether the session still holds its document's slot.
func (s SessionStatus) Active() bool {
	return slices.Contains(ActiveSessionStatuses, s)
}

// OutcomeKind classifies how a processing job ended.
type OutcomeKind string

const (
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeSplit     OutcomeKind = "split"
	OutcomeDeleted   OutcomeKind = "deleted"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result a worker reports for a session.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Reason    string      `json:"reason,omitempty"`
	PageCount int         `json:"pageCount,omitempty"`
	Redacted  bool        `json:"redacted,omitempty"`
	Corrupted bool        `json:"corrupted,omitempty"`
}

// Unchanged reports an in-place edit that kept the document.
func Unchanged(pageCount int, redacted bool) Outcome {
	return Outcome{Kind: OutcomeUnchanged, PageCount: pageCount, Redacted: redacted}
}

// Split reports that the document was replaced by children.
func Split() Outcome { return Outcome{Kind: OutcomeSplit} }

// Deleted reports that every page was removed.
func Deleted() Outcome { return Outcome{Kind: OutcomeDeleted} }

// Failed reports a processing failure.
func Failed(reason string) Outcome { return Outcome{Kind: OutcomeFailed, Reason: reason} }

// Validate checks the outcome is well formed.
func (o Outcome) Validate() error {
	switch o.Kind {
	case OutcomeUnchanged:
		if o.PageCount <= 0 {
			return services.Invalid("pageCount", "unchanged outcome requires a positive page count")
		}
	case OutcomeSplit, OutcomeDeleted:
	case OutcomeFailed:
		if strings.TrimSpace(o.Reason) == "" {
			return services.Invalid("reason", "failed outcome requires a reason")
		}
	default:
		return services.Invalid("kind", "unknown outcome %q", o.Kind)
	}
	return nil
}

// DocumentStatus is the document state the outcome leads to.
func (o Outcome) DocumentStatus() Status {
	switch o.Kind {
	case OutcomeUnchanged:
		return StatusSynced
	case OutcomeSplit:
		return StatusObsolete
	case OutcomeDeleted:
		return StatusDeleted
	default:
		return StatusNeedsManipulation
	}
}

// SessionStatus is the session state the outcome leads to.
func (o Outcome) SessionStatus() SessionStatus {
	if o.Kind == OutcomeFailed {
		return SessionFailed
	}
	return SessionCompleted
}

// RetiresIntents reports whether the outcome folds pending intents into the result.
func (o Outcome) RetiresIntents() bool {
	return o.Kind != OutcomeFailed
}

func (o Outcome) String() string {
	if o.Kind == OutcomeFailed {
		return fmt.Sprintf("failed(%s)", o.Reason)
	}
	return string(o.Kind)
}
