package planner_test

import (
	"errors"
	"testing"

	"docpipe/internal/planner"
	"docpipe/internal/services"
)

var parent = planner.Classification{DocumentTypeID: "P", Date: "2020-01-01", Comment: "orig"}

func brk(id int64, page int, typ string) planner.Break {
	return planner.Break{ID: id, PageIndex: page, Classification: planner.Classification{DocumentTypeID: typ}}
}

func TestStrategySelection(t *testing.T) {
	cases := []struct {
		name   string
		pages  int
		breaks []planner.Break
		want   planner.Strategy
	}{
		{"no breaks", 10, nil, planner.Unchanged},
		{"single break at zero", 5, []planner.Break{brk(1, 0, "A")}, planner.IndexOnly},
		{"single break mid", 10, []planner.Break{brk(1, 3, "A")}, planner.DocumentSplitting},
		{"break at zero plus more", 10, []planner.Break{brk(1, 0, "A"), brk(2, 4, "B")}, planner.DocumentSplitting},
		{"break on last page", 4, []planner.Break{brk(1, 3, "A")}, planner.DocumentSplitting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := planner.Build(tc.pages, parent, tc.breaks)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if plan.Strategy != tc.want {
				t.Fatalf("strategy %s want %s", plan.Strategy, tc.want)
			}
			if err := plan.Validate(); err != nil {
				t.Fatalf("plan invalid: %v", err)
			}
		})
	}
}

func TestThreeBreaksProduceThreeChildren(t *testing.T) {
	plan, err := planner.Build(10, parent, []planner.Break{brk(3, 7, "C"), brk(1, 0, "A"), brk(2, 4, "B")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []struct {
		start, end int
		typ        string
		breakID    int64
	}{{0, 4, "A", 1}, {4, 7, "B", 2}, {7, 10, "C", 3}}
	if len(plan.Ranges) != len(want) {
		t.Fatalf("got %d ranges want %d: %+v", len(plan.Ranges), len(want), plan.Ranges)
	}
	for i, w := range want {
		r := plan.Ranges[i]
		if r.Start != w.start || r.End != w.end || r.DocumentTypeID != w.typ || r.BreakID != w.breakID || r.Implicit {
			t.Fatalf("range %d = %+v, want %+v", i, r, w)
		}
	}
}

func TestImplicitLeadingChildInheritsParent(t *testing.T) {
	plan, err := planner.Build(10, parent, []planner.Break{brk(9, 3, "B")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %+v", plan.Ranges)
	}
	lead := plan.Ranges[0]
	if !lead.Implicit || lead.Start != 0 || lead.End != 3 || lead.BreakID != 0 {
		t.Fatalf("unexpected leading range %+v", lead)
	}
	if lead.Classification != parent {
		t.Fatalf("leading child should inherit parent classification, got %+v", lead.Classification)
	}
	if tail := plan.Ranges[1]; tail.Start != 3 || tail.End != 10 || tail.DocumentTypeID != "B" {
		t.Fatalf("unexpected break range %+v", tail)
	}
}

func TestIndexOnlyKeepsDocument(t *testing.T) {
	b := brk(4, 0, "A")
	b.Date = "2024-05-06"
	plan, err := planner.Build(5, parent, []planner.Break{b})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Index == nil || plan.Index.ID != 4 || plan.Index.DocumentTypeID != "A" || plan.Index.Date != "2024-05-06" {
		t.Fatalf("unexpected index break %+v", plan.Index)
	}
	if len(plan.Ranges) != 0 {
		t.Fatalf("index-only plan must not split: %+v", plan.Ranges)
	}
}

func TestGenericBreakTakesParentType(t *testing.T) {
	plan, err := planner.Build(6, parent, []planner.Break{brk(1, 2, planner.GenericType)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := plan.Ranges[1].DocumentTypeID; got != "P" {
		t.Fatalf("generic break type = %q want parent type", got)
	}
}

func TestBuildRejectsBadBreaks(t *testing.T) {
	cases := []struct {
		name   string
		pages  int
		breaks []planner.Break
	}{
		{"duplicate page", 10, []planner.Break{brk(1, 2, "A"), brk(2, 2, "B")}},
		{"negative page", 10, []planner.Break{brk(1, -1, "A")}},
		{"past end", 10, []planner.Break{brk(1, 10, "A")}},
		{"no pages", 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := planner.Build(tc.pages, parent, tc.breaks)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRangesPartitionForEveryBreakSubset(t *testing.T) {
	const pages = 7
	for mask := 0; mask < 1<<pages; mask++ {
		var breaks []planner.Break
		for p := 0; p < pages; p++ {
			if mask&(1<<p) != 0 {
				breaks = append(breaks, brk(int64(p+1), p, "T"))
			}
		}
		plan, err := planner.Build(pages, parent, breaks)
		if err != nil {
			t.Fatalf("mask %b: %v", mask, err)
		}
		if err := plan.Validate(); err != nil {
			t.Fatalf("mask %b: %v", mask, err)
		}
		again, _ := planner.Build(pages, parent, breaks)
		if again.Strategy != plan.Strategy || len(again.Ranges) != len(plan.Ranges) {
			t.Fatalf("mask %b: Build not deterministic", mask)
		}
	}
}

func TestPageMapDescendingRemoval(t *testing.T) {
	m := planner.NewPageMap(6, []int{1, 4, 4, 9})
	if m.Remaining() != 4 {
		t.Fatalf("remaining %d want 4", m.Remaining())
	}
	want := map[int]int{0: 0, 2: 1, 3: 2, 5: 3}
	for orig, idx := range want {
		got, ok := m.Translate(orig)
		if !ok || got != idx {
			t.Fatalf("Translate(%d) = %d,%v want %d", orig, got, ok, idx)
		}
	}
	for _, gone := range []int{1, 4} {
		if _, ok := m.Translate(gone); ok {
			t.Fatalf("page %d should be deleted", gone)
		}
	}
	if order := planner.DeletionOrder(6, []int{1, 4, 4, 9}); len(order) != 2 || order[0] != 4 || order[1] != 1 {
		t.Fatalf("unexpected deletion order %v", order)
	}
}

func TestPageMapProject(t *testing.T) {
	m := planner.NewPageMap(10, []int{4, 5, 6})
	cases := []struct {
		r          planner.Range
		start, end int
		ok         bool
	}{
		{planner.Range{Start: 0, End: 4}, 0, 4, true},
		{planner.Range{Start: 4, End: 7}, 0, 0, false},
		{planner.Range{Start: 7, End: 10}, 4, 7, true},
		{planner.Range{Start: 3, End: 8}, 3, 5, true},
	}
	for _, tc := range cases {
		start, end, ok := m.Project(tc.r)
		if ok != tc.ok || (ok && (start != tc.start || end != tc.end)) {
			t.Fatalf("Project(%+v) = %d,%d,%v want %d,%d,%v", tc.r, start, end, ok, tc.start, tc.end, tc.ok)
		}
	}
}
