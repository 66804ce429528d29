// Package dispatch carries processing requests to remote workers as
// CloudEvents and turns received events back into requests.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"docpipe/internal/api"
	"docpipe/internal/logging"
	"docpipe/internal/services"
)

// EventType identifies a processing request event.
const EventType = "dev.docpipe.processing.requested"

// NewEvent wraps req in a CloudEvent.
func NewEvent(source string, req api.ProcessingRequest) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(EventType)
	event.SetSubject(req.SessionID)
	event.SetExtension("documentid", req.DocumentID)
	if err := event.SetData(cloudevents.ApplicationJSON, req); err != nil {
		return event, fmt.Errorf("encode event data: %w", err)
	}
	return event, nil
}

// DecodeEvent extracts the processing request from event.
func DecodeEvent(event cloudevents.Event) (api.ProcessingRequest, error) {
	var req api.ProcessingRequest
	if event.Type() != EventType {
		return req, services.Invalid("type", "unexpected event type %q", event.Type())
	}
	if err := event.DataAs(&req); err != nil {
		return req, services.Invalid("data", "decode processing request: %v", err)
	}
	if req.SessionID == "" || req.DocumentID == "" {
		return req, services.Invalid("data", "event %s carries no session", event.ID())
	}
	return req, nil
}

// Sender publishes processing requests to an HTTP CloudEvents sink.
type Sender struct {
	client cloudevents.Client
	target string
	source string
	logger *slog.Logger
}

// NewSender builds a Sender that posts to target.
func NewSender(target, source string, logger *slog.Logger) (*Sender, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "dispatch", "init", "create cloudevents client", err)
	}
	return &Sender{
		client: client,
		target: target,
		source: source,
		logger: logging.NewComponentLogger(logger, "dispatch"),
	}, nil
}

// Publish sends req and waits for the sink to acknowledge it.
func (s *Sender) Publish(ctx context.Context, req api.ProcessingRequest) error {
	event, err := NewEvent(s.source, req)
	if err != nil {
		return err
	}
	result := s.client.Send(ctx, event)
	switch {
	case cloudevents.IsUndelivered(result):
		return services.Wrap(services.ErrTransient, "dispatch", "publish", "event undelivered", result)
	case !cloudevents.IsACK(result):
		return services.Wrap(services.ErrTransient, "dispatch", "publish", "event rejected by sink", result)
	}
	logging.WithContext(services.WithSessionID(ctx, req.SessionID), s.logger).Debug("event published",
		logging.String("event_id", event.ID()),
		logging.String("target", s.target),
	)
	return nil
}
