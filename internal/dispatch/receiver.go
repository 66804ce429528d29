package dispatch

import (
	"context"
	"errors"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"docpipe/internal/api"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/services"
)

// Processor runs a processing request to completion.
type Processor interface {
	Process(ctx context.Context, req api.ProcessingRequest) (lifecycle.Outcome, error)
}

// StatusReader looks up a session before work starts.
type StatusReader interface {
	SessionStatus(ctx context.Context, sessionID string) (api.SessionView, error)
}

// Receiver handles processing request events.
type Receiver struct {
	proc   Processor
	status StatusReader
	logger *slog.Logger
}

// NewReceiver builds a Receiver. status may be nil, in which case redelivered
// events are processed again and rejected by the daemon on report.
func NewReceiver(proc Processor, status StatusReader, logger *slog.Logger) *Receiver {
	return &Receiver{
		proc:   proc,
		status: status,
		logger: logging.NewComponentLogger(logger, "receiver"),
	}
}

// Handle processes one event. Malformed events are acknowledged and dropped
// since redelivery cannot fix them; a failed outcome report is returned so
// the transport redelivers.
func (r *Receiver) Handle(ctx context.Context, event cloudevents.Event) error {
	req, err := DecodeEvent(event)
	if err != nil {
		logging.WarnWithContext(r.logger, "dropping malformed event", "event_malformed",
			logging.String("event_id", event.ID()),
			logging.String(logging.FieldErrorHint, "check the publisher's event type and payload"),
			logging.String(logging.FieldImpact, "no session was processed"),
			logging.Error(err),
		)
		return nil
	}
	ctx = services.WithSessionID(services.WithDocumentID(ctx, req.DocumentID), req.SessionID)
	logger := logging.WithContext(ctx, r.logger)

	if r.status != nil {
		view, err := r.status.SessionStatus(ctx, req.SessionID)
		switch {
		case errors.Is(err, services.ErrNotFound):
			logger.Info("session no longer exists; skipping", logging.String("event_id", event.ID()))
			return nil
		case err != nil:
			return err
		case view.Status != string(lifecycle.SessionRunning):
			logger.Info("session not running; skipping redelivered event",
				logging.String("event_id", event.ID()),
				logging.String("status", view.Status),
			)
			return nil
		}
	}

	outcome, err := r.proc.Process(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("event processed",
		logging.String("event_id", event.ID()),
		logging.String("outcome", string(outcome.Kind)),
	)
	return nil
}

// Serve runs an HTTP CloudEvents receiver on port until ctx is cancelled.
func (r *Receiver) Serve(ctx context.Context, port int) error {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithPort(port))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "dispatch", "serve", "create cloudevents receiver", err)
	}
	r.logger.Info("cloudevents receiver listening", logging.Int("port", port))
	return client.StartReceiver(ctx, r.Handle)
}
