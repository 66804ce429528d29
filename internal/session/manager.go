// Package session runs processing sessions: it snapshots a document's
// pending intents into a request, enqueues it, hands it to a worker, and
// records what the worker reports back.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/api"
	"docpipe/internal/auth"
	"docpipe/internal/intents"
	"docpipe/internal/lifecycle"
	"docpipe/internal/logging"
	"docpipe/internal/planner"
	"docpipe/internal/services"
	"docpipe/internal/store"
)

// Runner executes a processing request and reports its outcome.
type Runner interface {
	Process(ctx context.Context, req api.ProcessingRequest) (lifecycle.Outcome, error)
}

// Publisher hands a claimed request to a remote worker.
type Publisher interface {
	Publish(ctx context.Context, req api.ProcessingRequest) error
}

// Options configures a Manager.
type Options struct {
	Store         *store.Store
	Runner        Runner
	Publisher     Publisher
	Deadline      time.Duration
	StatusTimeout time.Duration
	Logger        *slog.Logger
}

// Manager is the processing session entry point.
type Manager struct {
	store         *store.Store
	runner        Runner
	publisher     Publisher
	deadline      time.Duration
	statusTimeout time.Duration
	logger        *slog.Logger
}

// NewManager builds a Manager. Runner may be set later with SetRunner since
// the local worker reports back through the manager itself.
func NewManager(opts Options) *Manager {
	if opts.Deadline <= 0 {
		opts.Deadline = 15 * time.Minute
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 5 * time.Second
	}
	return &Manager{
		store:         opts.Store,
		runner:        opts.Runner,
		publisher:     opts.Publisher,
		deadline:      opts.Deadline,
		statusTimeout: opts.StatusTimeout,
		logger:        logging.NewComponentLogger(opts.Logger, "session"),
	}
}

// SetRunner installs the in-process worker.
func (m *Manager) SetRunner(r Runner) { m.runner = r }

// Remote reports whether split sessions go to remote workers.
func (m *Manager) Remote() bool { return m.publisher != nil }

// Start snapshots the document's pending intents and enqueues a session.
// Unchanged and index-only saves are processed before Start returns and the
// terminal session is returned; splits stay queued until dispatched.
func (m *Manager) Start(ctx context.Context, who auth.Identity, documentID string) (*store.Session, error) {
	doc, err := intents.Authorize(ctx, m.store, who, documentID)
	if err != nil {
		return nil, err
	}
	pending, err := m.store.ListPending(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	plan, err := planner.Build(doc.PageCount, doc.Classification(), pending.PlannerBreaks())
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	req := api.ProcessingRequest{
		SessionID:  uuid.NewString(),
		DocumentID: doc.ID,
		ActingUser: who.UserID,
		PageCount:  doc.PageCount,
		BlobPrefix: doc.BlobPrefix,
		Parent:     doc.Classification(),
		Plan:       plan,
		Intents:    *pending,
	}
	snapshot, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode processing request: %w", err)
	}
	sess, err := m.store.Enqueue(ctx, store.EnqueueParams{
		ID:         req.SessionID,
		DocumentID: doc.ID,
		ActingUser: who.UserID,
		Plan:       plan,
		Request:    snapshot,
	})
	if err != nil {
		return nil, err
	}
	ctx = services.WithSessionID(services.WithDocumentID(ctx, doc.ID), sess.ID)
	logging.WithContext(ctx, m.logger).Info("session queued",
		logging.String(logging.FieldEventType, "session_queued"),
		logging.String("strategy", string(plan.Strategy)),
		logging.String("acting_user", who.UserID),
	)
	if plan.Strategy.Async() {
		return sess, nil
	}

	claimed, err := m.store.Claim(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := m.Run(context.WithoutCancel(ctx), claimed); err != nil {
		return nil, err
	}
	return m.store.GetSession(ctx, sess.ID)
}

// Dispatch hands a queued split session to the worker pool. In local mode
// the session is flagged for the lanes; in remote mode it is claimed and
// published, and a failed publish fails the session. Other strategies were
// completed by Start and dispatching them is a no-op.
func (m *Manager) Dispatch(ctx context.Context, who auth.Identity, documentID, sessionID string) (*store.Session, error) {
	sess, err := m.authorizedSession(ctx, who, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.DocumentID != documentID {
		return nil, services.Wrap(services.ErrNotFound, "session", "dispatch",
			fmt.Sprintf("session %s does not belong to document %s", sessionID, documentID), nil)
	}
	if !sess.Strategy.Async() || sess.Status != lifecycle.SessionQueued {
		return sess, nil
	}
	ctx = services.WithSessionID(services.WithDocumentID(ctx, documentID), sessionID)
	logger := logging.WithContext(ctx, m.logger)

	if m.publisher == nil {
		out, err := m.store.MarkDispatched(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		logger.Info("session dispatched to local lanes", logging.String(logging.FieldEventType, "session_dispatched"))
		return out, nil
	}

	claimed, err := m.store.Claim(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			return m.store.GetSession(ctx, sessionID)
		}
		return nil, err
	}
	req, err := DecodeRequest(claimed)
	if err == nil {
		err = m.publisher.Publish(ctx, req)
	}
	if err != nil {
		logging.ErrorWithContext(logger, "dispatch failed", "dispatch_failure",
			logging.String(logging.FieldErrorHint, "check the dispatch sink and start a new session"),
			logging.Error(err),
		)
		if _, cerr := m.ReportOutcome(context.WithoutCancel(ctx), sessionID, lifecycle.Failed("dispatch failed: "+err.Error())); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, services.Wrap(services.ErrTransient, "session", "dispatch", "publish processing request", err)
	}
	logger.Info("session published to remote worker", logging.String(logging.FieldEventType, "session_dispatched"))
	return m.store.GetSession(ctx, sessionID)
}

// Status returns the session, bounded by the status timeout. Workers may
// read any session.
func (m *Manager) Status(ctx context.Context, who auth.Identity, sessionID string) (*store.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.statusTimeout)
	defer cancel()
	var (
		sess *store.Session
		err  error
	)
	if who.Role == auth.RoleWorker {
		sess, err = m.store.GetSession(ctx, sessionID)
	} else {
		sess, err = m.authorizedSession(ctx, who, sessionID)
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, services.Wrap(services.ErrTimeout, "session", "status", sessionID, err)
	}
	return sess, err
}

// ReportOutcome records a worker's outcome. Reports for a session that is
// already terminal are accepted and ignored.
func (m *Manager) ReportOutcome(ctx context.Context, sessionID string, outcome lifecycle.Outcome) (*store.Session, error) {
	sess, applied, err := m.store.Complete(ctx, sessionID, outcome)
	if err != nil {
		return nil, err
	}
	ctx = services.WithSessionID(services.WithDocumentID(ctx, sess.DocumentID), sessionID)
	logger := logging.WithContext(ctx, m.logger)
	switch {
	case !applied:
		logger.Info("duplicate outcome ignored",
			logging.String(logging.FieldEventType, "outcome_duplicate"),
			logging.String("status", string(sess.Status)),
		)
	case outcome.Kind == lifecycle.OutcomeFailed:
		logging.WarnWithContext(logger, "session failed", "session_failed",
			logging.String("reason", outcome.Reason),
			logging.String(logging.FieldErrorHint, "pending intents are kept; start a new session to retry"),
			logging.String(logging.FieldImpact, "document returned to needs_manipulation"),
		)
	default:
		logger.Info("session completed",
			logging.String(logging.FieldEventType, "session_completed"),
			logging.String("outcome", string(outcome.Kind)),
		)
	}
	return sess, nil
}

// LinkResults records split children for a running session.
func (m *Manager) LinkResults(ctx context.Context, documentID, sessionID string, children []store.ChildRecord) ([]store.SplitAudit, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.DocumentID != documentID {
		return nil, services.Wrap(services.ErrNotFound, "session", "link_results",
			fmt.Sprintf("session %s does not belong to document %s", sessionID, documentID), nil)
	}
	if len(children) == 0 {
		return nil, services.Invalid("children", "at least one child is required")
	}
	return m.store.LinkResults(ctx, sessionID, sess.ActingUser, children)
}

// Cancel deletes a session that no worker has claimed.
func (m *Manager) Cancel(ctx context.Context, who auth.Identity, sessionID string) (*store.Session, error) {
	if _, err := m.authorizedSession(ctx, who, sessionID); err != nil {
		return nil, err
	}
	sess, err := m.store.CancelQueued(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithSessionID(services.WithDocumentID(ctx, sess.DocumentID), sessionID)
	logging.WithContext(ctx, m.logger).Info("session cancelled",
		logging.String(logging.FieldEventType, "session_cancelled"),
		logging.String("acting_user", who.UserID),
	)
	return sess, nil
}

// Run processes a claimed session in-process under the processing deadline.
func (m *Manager) Run(ctx context.Context, sess *store.Session) error {
	if m.runner == nil {
		return services.Wrap(services.ErrConfiguration, "session", "run", "no in-process worker configured", nil)
	}
	req, err := DecodeRequest(sess)
	if err != nil {
		_, cerr := m.ReportOutcome(ctx, sess.ID, lifecycle.Failed(err.Error()))
		return errors.Join(err, cerr)
	}
	runCtx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()
	_, err = m.runner.Process(runCtx, req)
	return err
}

// Reporter adapts the manager to the worker's result sink.
func (m *Manager) Reporter() LocalReporter { return LocalReporter{m: m} }

// LocalReporter delivers worker results straight to the manager.
type LocalReporter struct{ m *Manager }

func (r LocalReporter) LinkResults(ctx context.Context, documentID, sessionID string, children []store.ChildRecord) error {
	_, err := r.m.LinkResults(ctx, documentID, sessionID, children)
	return err
}

func (r LocalReporter) ReportOutcome(ctx context.Context, sessionID string, outcome lifecycle.Outcome) error {
	_, err := r.m.ReportOutcome(ctx, sessionID, outcome)
	return err
}

// DecodeRequest returns the request snapshot stored on a session.
func DecodeRequest(sess *store.Session) (api.ProcessingRequest, error) {
	var req api.ProcessingRequest
	if len(sess.Request) == 0 {
		return req, services.Invalid("request", "session %s has no request snapshot", sess.ID)
	}
	if err := json.Unmarshal(sess.Request, &req); err != nil {
		return req, fmt.Errorf("decode request for session %s: %w", sess.ID, err)
	}
	return req, nil
}

func (m *Manager) authorizedSession(ctx context.Context, who auth.Identity, sessionID string) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := intents.Authorize(ctx, m.store, who, sess.DocumentID); err != nil {
		return nil, err
	}
	return sess, nil
}
