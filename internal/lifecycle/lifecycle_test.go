package lifecycle_test

import (
	"errors"
	"testing"

	"docpipe/internal/lifecycle"
	"docpipe/internal/services"
)

var allStatuses = []lifecycle.Status{
	lifecycle.StatusSynced,
	lifecycle.StatusNeedsManipulation,
	lifecycle.StatusQueued,
	lifecycle.StatusProcessing,
	lifecycle.StatusObsolete,
	lifecycle.StatusDeleted,
}

func TestTransitionTable(t *testing.T) {
	legal := map[lifecycle.Op][]lifecycle.Status{
		lifecycle.OpMarkDirty: {lifecycle.StatusSynced, lifecycle.StatusNeedsManipulation},
		lifecycle.OpEnqueue:   {lifecycle.StatusNeedsManipulation},
		lifecycle.OpClaim:     {lifecycle.StatusQueued},
		lifecycle.OpComplete:  {lifecycle.StatusProcessing},
		lifecycle.OpCancel:    {lifecycle.StatusQueued},
	}
	for op, allowed := range legal {
		for _, from := range allStatuses {
			want := false
			for _, s := range allowed {
				if s == from {
					want = true
				}
			}
			err := lifecycle.Check("d1", op, from)
			if want && err != nil {
				t.Fatalf("%s from %s: unexpected error %v", op, from, err)
			}
			if !want {
				if err == nil {
					t.Fatalf("%s from %s: expected InvalidStateTransition", op, from)
				}
				if !errors.Is(err, services.ErrInvalidTransition) {
					t.Fatalf("%s from %s: wrong error kind %v", op, from, err)
				}
			}
		}
	}
}

func TestTerminalStatusesAllowNothing(t *testing.T) {
	for _, status := range []lifecycle.Status{lifecycle.StatusObsolete, lifecycle.StatusDeleted} {
		if !status.Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
		for _, op := range []lifecycle.Op{lifecycle.OpMarkDirty, lifecycle.OpEnqueue, lifecycle.OpClaim, lifecycle.OpComplete, lifecycle.OpCancel} {
			if lifecycle.Allowed(op, status) {
				t.Fatalf("%s allowed from terminal %s", op, status)
			}
		}
	}
}

func TestOutcomeTargets(t *testing.T) {
	cases := []struct {
		outcome lifecycle.Outcome
		doc     lifecycle.Status
		session lifecycle.SessionStatus
		retires bool
	}{
		{lifecycle.Unchanged(3, false), lifecycle.StatusSynced, lifecycle.SessionCompleted, true},
		{lifecycle.Split(), lifecycle.StatusObsolete, lifecycle.SessionCompleted, true},
		{lifecycle.Deleted(), lifecycle.StatusDeleted, lifecycle.SessionCompleted, true},
		{lifecycle.Failed("stale claim"), lifecycle.StatusNeedsManipulation, lifecycle.SessionFailed, false},
	}
	for _, tc := range cases {
		if err := tc.outcome.Validate(); err != nil {
			t.Fatalf("%s: unexpected validation error %v", tc.outcome, err)
		}
		if got := tc.outcome.DocumentStatus(); got != tc.doc {
			t.Fatalf("%s: document status %s want %s", tc.outcome, got, tc.doc)
		}
		if got := tc.outcome.SessionStatus(); got != tc.session {
			t.Fatalf("%s: session status %s want %s", tc.outcome, got, tc.session)
		}
		if got := tc.outcome.RetiresIntents(); got != tc.retires {
			t.Fatalf("%s: retires %v want %v", tc.outcome, got, tc.retires)
		}
	}
}

func TestOutcomeValidateRejectsMalformed(t *testing.T) {
	for _, o := range []lifecycle.Outcome{
		{Kind: "exploded"},
		{Kind: lifecycle.OutcomeFailed},
		{Kind: lifecycle.OutcomeUnchanged},
	} {
		if err := o.Validate(); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", o, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, status := range allStatuses {
		got, ok := lifecycle.ParseStatus(" " + string(status) + " ")
		if !ok || got != status {
			t.Fatalf("ParseStatus(%q) = %q, %v", status, got, ok)
		}
	}
	if got, ok := lifecycle.ParseStatus("QUEUED"); !ok || got != lifecycle.StatusQueued {
		t.Fatalf("expected case-insensitive parse, got %q %v", got, ok)
	}
	if _, ok := lifecycle.ParseStatus("dirty"); ok {
		t.Fatal("unknown status should not parse")
	}
}

func TestSessionStatusActive(t *testing.T) {
	for status, want := range map[lifecycle.SessionStatus]bool{
		lifecycle.SessionQueued:    true,
		lifecycle.SessionRunning:   true,
		lifecycle.SessionCompleted: false,
		lifecycle.SessionFailed:    false,
	} {
		if got := status.Active(); got != want {
			t.Fatalf("%s.Active() = %v, want %v", status, got, want)
		}
	}
}
