package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/services"
	"docpipe/internal/store"
)

func TestClientReportOutcomeSendsBearerAndBody(t *testing.T) {
	var got OutcomeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/processing/s-1/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "tok")
	if err := client.ReportOutcome(context.Background(), "s-1", lifecycle.Failed("bad pdf")); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	if got.Outcome.Kind != lifecycle.OutcomeFailed || got.Outcome.Reason != "bad pdf" {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", WithRetryBackoff(4, time.Millisecond, 2*time.Millisecond))
	err := client.LinkResults(context.Background(), "doc-1", "s-1", []store.ChildRecord{{DocumentID: "c"}})
	if err != nil {
		t.Fatalf("LinkResults: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestClientMapsErrorCodes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "nope", Code: "invalid_state_transition"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", WithRetryBackoff(4, time.Millisecond, time.Millisecond))
	err := client.ReportOutcome(context.Background(), "s-1", lifecycle.Split())
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, calls = %d", calls.Load())
	}
}
