package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"docpipe/internal/api"
	"docpipe/internal/ipc"
	"docpipe/internal/textutil"
)

func buildCountRows(stats map[string]int) [][]string {
	keys := api.SortedKeys(stats)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{textutil.Title(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildDocumentRows(docs []api.DocumentView, now time.Time) [][]string {
	sorted := make([]api.DocumentView, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := parseTime(sorted[i].UpdatedAt), parseTime(sorted[j].UpdatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID < sorted[j].ID
		}
		return ti.After(tj)
	})

	rows := make([][]string, 0, len(sorted))
	for _, doc := range sorted {
		typ := textutil.Title(doc.DocumentTypeID)
		if typ == "" {
			typ = "-"
		}
		parent := doc.ParentID
		if parent == "" {
			parent = "-"
		}
		rows = append(rows, []string{
			doc.ID,
			textutil.Title(doc.Status),
			typ,
			fmt.Sprintf("%d", doc.PageCount),
			parent,
			relativeTime(doc.UpdatedAt, now),
		})
	}
	return rows
}

func buildTypeRows(types []ipc.DocumentType, now time.Time) [][]string {
	rows := make([][]string, 0, len(types))
	for _, typ := range types {
		rows = append(rows, []string{typ.ID, typ.Name, relativeTime(typ.CreatedAt, now)})
	}
	return rows
}

func buildLaneRows(lanes []api.LaneHealth) [][]string {
	rows := make([][]string, 0, len(lanes))
	for _, lane := range lanes {
		session := lane.Session
		if session == "" {
			session = "-"
		}
		state := "idle"
		if lane.Busy {
			state = "busy"
		}
		rows = append(rows, []string{lane.Name, state, session, humanize.Comma(int64(lane.Handled))})
	}
	return rows
}

func relativeTime(value string, now time.Time) string {
	t := parseTime(value)
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
