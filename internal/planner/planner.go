// Package planner decides how a document's pending page breaks are applied.
// Build is pure: the same page count, parent classification, and breaks always
// produce the same Plan.
package planner

import (
	"cmp"
	"slices"

	"docpipe/internal/services"
)

// Strategy is the processing path chosen for a save.
type Strategy string

const (
	Unchanged         Strategy = "unchanged"
	IndexOnly         Strategy = "index_only"
	DocumentSplitting Strategy = "document_splitting"
)

// Async reports whether the strategy is handed to a worker instead of being
// applied inline.
func (s Strategy) Async() bool { return s == DocumentSplitting }

// GenericType is the document type sentinel for breaks without a classification.
const GenericType = "generic"

// Classification is the metadata a break assigns to the document it starts.
type Classification struct {
	DocumentTypeID string `json:"documentTypeId"`
	Date           string `json:"date,omitempty"`
	Comment        string `json:"comment,omitempty"`
}

// Break is a pending page break.
type Break struct {
	ID        int64 `json:"id"`
	PageIndex int   `json:"pageIndex"`
	Classification
}

// Range is a half-open page range [Start, End) that becomes one document.
type Range struct {
	Start    int   `json:"start"`
	End      int   `json:"end"`
	BreakID  int64 `json:"breakId,omitempty"`
	Implicit bool  `json:"implicit,omitempty"`
	Classification
}

// Len returns the number of pages in the range.
func (r Range) Len() int { return r.End - r.Start }

// Plan is the planner's decision for one save.
type Plan struct {
	Strategy  Strategy `json:"strategy"`
	PageCount int      `json:"pageCount"`
	Ranges    []Range  `json:"ranges,omitempty"`
	Index     *Break   `json:"index,omitempty"`
}

// Build classifies the save and computes child ranges. parent is the
// document's classification before any edit; it labels the implicit leading
// child and fills in the type of generic breaks.
func Build(pageCount int, parent Classification, breaks []Break) (Plan, error) {
	if pageCount <= 0 {
		return Plan{}, services.Invalid("pageCount", "must be positive, got %d", pageCount)
	}
	sorted := slices.Clone(breaks)
	slices.SortStableFunc(sorted, func(a, b Break) int {
		return cmp.Or(cmp.Compare(a.PageIndex, b.PageIndex), cmp.Compare(a.ID, b.ID))
	})
	for i, b := range sorted {
		if b.PageIndex < 0 || b.PageIndex >= pageCount {
			return Plan{}, services.Invalid("pageIndex", "break %d at page %d outside [0,%d)", b.ID, b.PageIndex, pageCount)
		}
		if i > 0 && sorted[i-1].PageIndex == b.PageIndex {
			return Plan{}, services.Invalid("pageIndex", "breaks %d and %d share page %d", sorted[i-1].ID, b.ID, b.PageIndex)
		}
	}

	plan := Plan{PageCount: pageCount}
	switch {
	case len(sorted) == 0:
		plan.Strategy = Unchanged
		return plan, nil
	case len(sorted) == 1 && sorted[0].PageIndex == 0:
		index := sorted[0]
		index.Classification = Resolve(index.Classification, parent)
		plan.Strategy = IndexOnly
		plan.Index = &index
		return plan, nil
	}

	plan.Strategy = DocumentSplitting
	if first := sorted[0].PageIndex; first > 0 {
		plan.Ranges = append(plan.Ranges, Range{Start: 0, End: first, Implicit: true, Classification: parent})
	}
	for i, b := range sorted {
		end := pageCount
		if i+1 < len(sorted) {
			end = sorted[i+1].PageIndex
		}
		plan.Ranges = append(plan.Ranges, Range{
			Start:          b.PageIndex,
			End:            end,
			BreakID:        b.ID,
			Classification: Resolve(b.Classification, parent),
		})
	}
	return plan, nil
}

// Resolve fills a generic break's type from the parent.
func Resolve(c, parent Classification) Classification {
	if c.DocumentTypeID == GenericType || c.DocumentTypeID == "" {
		c.DocumentTypeID = parent.DocumentTypeID
	}
	return c
}

// Validate checks that a splitting plan's ranges partition [0, PageCount)
// with no gap or overlap.
func (p Plan) Validate() error {
	if p.Strategy != DocumentSplitting {
		if len(p.Ranges) != 0 {
			return services.Invalid("ranges", "%s plan must not carry ranges", p.Strategy)
		}
		return nil
	}
	next := 0
	for _, r := range p.Ranges {
		if r.Start != next {
			return services.Invalid("ranges", "range [%d,%d) does not start at %d", r.Start, r.End, next)
		}
		if r.Len() <= 0 {
			return services.Invalid("ranges", "empty range at %d", r.Start)
		}
		next = r.End
	}
	if next != p.PageCount {
		return services.Invalid("ranges", "ranges end at %d, want %d", next, p.PageCount)
	}
	return nil
}
