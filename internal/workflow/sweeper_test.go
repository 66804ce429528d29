package workflow_test

import (
	"context"
	"testing"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/workflow"
)

func TestSweepFailsStaleClaimsWithoutRequeue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.queueSplit(t, 5, 2)
	fresh := h.queueSplit(t, 5, 3)

	now := time.Now()
	h.st.SetClock(func() time.Time { return now.Add(-2 * time.Hour) })
	if _, err := h.st.Claim(ctx, stale.ID); err != nil {
		t.Fatalf("Claim stale: %v", err)
	}
	h.st.SetClock(func() time.Time { return now })
	if _, err := h.st.Claim(ctx, fresh.ID); err != nil {
		t.Fatalf("Claim fresh: %v", err)
	}

	sweeper := workflow.NewSweeper(h.st, h.sessions, time.Hour, nil)
	sweeper.SetClock(func() time.Time { return now })
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	got, err := h.st.GetSession(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != lifecycle.SessionFailed || got.ErrorMessage != workflow.StaleClaimReason {
		t.Fatalf("stale session = %+v", got)
	}
	doc, err := h.st.GetDocument(ctx, stale.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != lifecycle.StatusNeedsManipulation {
		t.Fatalf("document status = %s, want needs_manipulation", doc.Status)
	}
	pending, err := h.st.ListPending(ctx, stale.DocumentID)
	if err != nil || len(pending.Breaks) != 1 {
		t.Fatalf("pending = %+v, %v", pending, err)
	}

	other, err := h.st.GetSession(ctx, fresh.ID)
	if err != nil || other.Status != lifecycle.SessionRunning {
		t.Fatalf("fresh session = %+v, %v", other, err)
	}

	n, err = sweeper.SweepOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}
	next, err := h.st.NextDispatched(ctx)
	if err != nil || next != nil {
		t.Fatalf("reclaimed session was re-enqueued: %+v, %v", next, err)
	}
	last, total := sweeper.Stats()
	if !last.Equal(now) || total != 1 {
		t.Fatalf("stats = %v, %d", last, total)
	}
}

func TestSweepDisabledWithoutThreshold(t *testing.T) {
	h := newHarness(t)
	sweeper := workflow.NewSweeper(h.st, h.sessions, 0, nil)
	if n, err := sweeper.SweepOnce(context.Background()); n != 0 || err != nil {
		t.Fatalf("SweepOnce = %d, %v", n, err)
	}
}
