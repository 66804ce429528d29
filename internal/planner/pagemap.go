package planner

import (
	"slices"
)

// PageMap translates original page indices to their position after page
// deletions were applied.
type PageMap struct {
	next      []int
	remaining int
}

// DeletionOrder returns the distinct in-range pages sorted descending, the
// order in which they must be removed so that pending indices stay valid.
func DeletionOrder(pageCount int, pages []int) []int {
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p >= 0 && p < pageCount {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	slices.Reverse(out)
	return out
}

// NewPageMap removes deleted pages one at a time in descending order and
// records where every surviving original page ends up.
func NewPageMap(pageCount int, deleted []int) PageMap {
	pages := make([]int, pageCount)
	for i := range pages {
		pages[i] = i
	}
	for _, d := range DeletionOrder(pageCount, deleted) {
		pages = slices.Delete(pages, d, d+1)
	}
	next := make([]int, pageCount)
	for i := range next {
		next[i] = -1
	}
	for newIdx, orig := range pages {
		next[orig] = newIdx
	}
	return PageMap{next: next, remaining: len(pages)}
}

// Remaining is the page count after deletions.
func (m PageMap) Remaining() int { return m.remaining }

// Translate returns the post-deletion index of an original page, or false
// when the page was deleted.
func (m PageMap) Translate(orig int) (int, bool) {
	if orig < 0 || orig >= len(m.next) || m.next[orig] < 0 {
		return 0, false
	}
	return m.next[orig], true
}

// Project maps an original range onto the surviving pages. Survivors of a
// contiguous range stay contiguous, so the result is again a half-open range.
// ok is false when every page of the range was deleted.
func (m PageMap) Project(r Range) (start, end int, ok bool) {
	first, last := -1, -1
	for p := r.Start; p < r.End; p++ {
		idx, kept := m.Translate(p)
		if !kept {
			continue
		}
		if first < 0 {
			first = idx
		}
		last = idx
	}
	if first < 0 {
		return 0, 0, false
	}
	return first, last + 1, true
}
