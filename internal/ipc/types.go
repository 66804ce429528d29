package ipc

import "docpipe/internal/api"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status report.
type StatusResponse = api.DaemonStatus

// SweepRequest runs the stale-claim sweeper once.
type SweepRequest struct{}

// SweepResponse reports how many sessions were failed.
type SweepResponse struct {
	Reclaimed int `json:"reclaimed"`
}

// IngestRequest registers a PDF on the daemon host.
type IngestRequest struct {
	Path           string `json:"path"`
	Owner          string `json:"owner"`
	DocumentTypeID string `json:"documentTypeId"`
	Date           string `json:"date"`
	Comment        string `json:"comment"`
}

// IngestResponse returns the created document.
type IngestResponse struct {
	Document api.DocumentView `json:"document"`
}

// DocumentListRequest filters documents by status.
type DocumentListRequest struct {
	Statuses []string `json:"statuses"`
}

// DocumentListResponse lists documents.
type DocumentListResponse struct {
	Documents []api.DocumentView `json:"documents"`
}

// TypeAddRequest registers a document type.
type TypeAddRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DocumentType is a registered classification target.
type DocumentType struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// TypeAddResponse returns the stored type.
type TypeAddResponse struct {
	Type DocumentType `json:"type"`
}

// TypeListRequest lists document types.
type TypeListRequest struct{}

// TypeListResponse lists document types.
type TypeListResponse struct {
	Types []DocumentType `json:"types"`
}

// GrantRequest gives a user access to a document.
type GrantRequest struct {
	User       string `json:"user"`
	DocumentID string `json:"documentId"`
}

// GrantResponse confirms a grant.
type GrantResponse struct {
	Granted bool `json:"granted"`
}

// TokenIssueRequest signs an API token.
type TokenIssueRequest struct {
	Subject  string `json:"subject"`
	Role     string `json:"role"`
	TTLHours int    `json:"ttlHours"`
}

// TokenIssueResponse carries the signed token.
type TokenIssueResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}
