package dispatch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	"docpipe/internal/api"
	"docpipe/internal/dispatch"
	"docpipe/internal/lifecycle"
	"docpipe/internal/planner"
	"docpipe/internal/services"
)

func sampleRequest() api.ProcessingRequest {
	return api.ProcessingRequest{
		SessionID:  "sess-1",
		DocumentID: "doc-1",
		ActingUser: "alice",
		PageCount:  10,
		Plan: planner.Plan{
			Strategy:  planner.DocumentSplitting,
			PageCount: 10,
			Ranges:    []planner.Range{{Start: 0, End: 4}, {Start: 4, End: 10, BreakID: 2}},
		},
	}
}

func TestEventRoundTrip(t *testing.T) {
	event, err := dispatch.NewEvent("docpipe/test", sampleRequest())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if event.Subject() != "sess-1" || event.Type() != dispatch.EventType {
		t.Fatalf("event = %s", event)
	}
	req, err := dispatch.DecodeEvent(event)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if req.SessionID != "sess-1" || len(req.Plan.Ranges) != 2 || req.Plan.Ranges[1].BreakID != 2 {
		t.Fatalf("decoded = %+v", req)
	}

	event.SetType("something.else")
	if _, err := dispatch.DecodeEvent(event); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("wrong type err = %v", err)
	}
}

func TestSenderDeliversToSink(t *testing.T) {
	var (
		mu  sync.Mutex
		got []api.ProcessingRequest
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event, err := cehttp.NewEventFromHTTPRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := dispatch.DecodeEvent(*event)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sink.Close()

	sender, err := dispatch.NewSender(sink.URL, "docpipe/test", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	if err := sender.Publish(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].DocumentID != "doc-1" {
		t.Fatalf("sink received %+v", got)
	}
}

func TestSenderReportsRejection(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()
	sender, err := dispatch.NewSender(sink.URL, "docpipe/test", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	if err := sender.Publish(context.Background(), sampleRequest()); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
}

type fakeProcessor struct {
	calls int
	err   error
}

func (p *fakeProcessor) Process(context.Context, api.ProcessingRequest) (lifecycle.Outcome, error) {
	p.calls++
	return lifecycle.Split(), p.err
}

type fakeStatus struct {
	status string
	err    error
}

func (s fakeStatus) SessionStatus(context.Context, string) (api.SessionView, error) {
	return api.SessionView{Status: s.status}, s.err
}

func TestReceiverHandle(t *testing.T) {
	event, err := dispatch.NewEvent("docpipe/test", sampleRequest())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	notFound := services.Wrap(services.ErrNotFound, "api", "status", "gone", nil)
	tests := []struct {
		name      string
		status    dispatch.StatusReader
		procErr   error
		wantCalls int
		wantErr   bool
	}{
		{"no status reader", nil, nil, 1, false},
		{"running session", fakeStatus{status: "running"}, nil, 1, false},
		{"already completed", fakeStatus{status: "completed"}, nil, 0, false},
		{"session gone", fakeStatus{err: notFound}, nil, 0, false},
		{"status unavailable", fakeStatus{err: errors.New("dial tcp")}, nil, 0, true},
		{"report failed", fakeStatus{status: "running"}, errors.New("report outcome"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.procErr}
			r := dispatch.NewReceiver(proc, tt.status, nil)
			err := r.Handle(context.Background(), event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle err = %v, wantErr %v", err, tt.wantErr)
			}
			if proc.calls != tt.wantCalls {
				t.Fatalf("process calls = %d, want %d", proc.calls, tt.wantCalls)
			}
		})
	}
}

func TestReceiverDropsMalformedEvents(t *testing.T) {
	proc := &fakeProcessor{}
	r := dispatch.NewReceiver(proc, nil, nil)
	event := cloudevents.NewEvent()
	event.SetID("x")
	event.SetSource("test")
	event.SetType("unrelated")
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proc.calls != 0 {
		t.Fatal("malformed event was processed")
	}
}
