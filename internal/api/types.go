package api

import (
	"docpipe/internal/lifecycle"
	"docpipe/internal/planner"
	"docpipe/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ProcessingRequest is everything a worker needs to process one session.
type ProcessingRequest struct {
	SessionID  string                 `json:"sessionId"`
	DocumentID string                 `json:"documentId"`
	ActingUser string                 `json:"actingUser"`
	PageCount  int                    `json:"pageCount"`
	BlobPrefix string                 `json:"blobPrefix"`
	Parent     planner.Classification `json:"parent"`
	Plan       planner.Plan           `json:"plan"`
	Intents    store.PendingIntents   `json:"intents"`
}

// OutcomeRequest is the body of PUT /processing/{sessionId}/status.
type OutcomeRequest struct {
	Outcome lifecycle.Outcome `json:"outcome"`
}

// LinkResultsRequest is the body of POST /documents/{id}/link-results.
type LinkResultsRequest struct {
	SessionID string              `json:"sessionId"`
	Children  []store.ChildRecord `json:"children"`
}

// SessionView is the polling projection of a processing session.
type SessionView struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	Strategy     string `json:"strategy"`
	Status       string `json:"status"`
	Terminal     bool   `json:"terminal"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ChildCount   int    `json:"childCount,omitempty"`
	DispatchedAt string `json:"dispatchedAt,omitempty"`
	ClaimedAt    string `json:"claimedAt,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// DocumentView describes a document for listing and detail endpoints.
type DocumentView struct {
	ID             string `json:"id"`
	ParentID       string `json:"parentId,omitempty"`
	PageCount      int    `json:"pageCount"`
	Status         string `json:"status"`
	DocumentTypeID string `json:"documentTypeId,omitempty"`
	Date           string `json:"date,omitempty"`
	Comment        string `json:"comment,omitempty"`
	Corrupted      bool   `json:"corrupted"`
	Deleted        bool   `json:"deleted"`
	Redacted       bool   `json:"redacted"`
	UnsavedSince   string `json:"unsavedSince,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`

	// Detail endpoint only.
	ActiveSessionID string        `json:"activeSessionId,omitempty"`
	Sessions        []SessionView `json:"sessions,omitempty"`
}

// IntentsView lists a document's pending intents.
type IntentsView struct {
	DocumentID string               `json:"documentId"`
	Pending    store.PendingIntents `json:"pending"`
}

// WorkflowStatus summarizes worker lanes and session counts.
type WorkflowStatus struct {
	Running       bool           `json:"running"`
	Mode          string         `json:"mode"`
	SessionStats  map[string]int `json:"sessionStats"`
	DocumentStats map[string]int `json:"documentStats"`
	LastError     string         `json:"lastError,omitempty"`
	LastSweep     string         `json:"lastSweep,omitempty"`
	Reclaimed     int            `json:"reclaimed"`
	Lanes         []LaneHealth   `json:"lanes"`
}

// LaneHealth reports one worker lane.
type LaneHealth struct {
	Name    string `json:"name"`
	Busy    bool   `json:"busy"`
	Session string `json:"session,omitempty"`
	Handled int    `json:"handled"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	LogPath      string             `json:"logPath,omitempty"`
	APIBind      string             `json:"apiBind"`
	Storage      string             `json:"storage"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckResult      `json:"checks"`
}

// ErrorResponse is the body of every failed HTTP call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}
