// Package blob owns the storage layout of document artifacts and the
// backends that hold them.
//
// Every document has up to four stage copies under its prefix:
//
//	original    immutable first upload
//	working     mutable staging copy edited by the worker
//	backup      pre-edit snapshot, written once and never replaced
//	production  the artifact served to readers once the document is synced
//
// Resolve is pure; only Manager performs I/O.
package blob

import (
	"fmt"
	"path"
	"strings"
)

// Stage is one lifecycle copy of a document's bytes.
type Stage string

const (
	StageOriginal   Stage = "original"
	StageWorking    Stage = "working"
	StageBackup     Stage = "backup"
	StageProduction Stage = "production"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{StageOriginal, StageWorking, StageBackup, StageProduction}

// ParseStage converts a string to a Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown blob stage %q", s)
}

// Prefix is the key prefix that holds every stage of a document.
func Prefix(documentID string) string {
	return path.Join("documents", documentID)
}

// Resolve returns the key of a document's stage copy.
func Resolve(documentID string, stage Stage) string {
	return KeyAt(Prefix(documentID), stage)
}

// KeyAt returns the key of a stage copy under an explicit prefix.
func KeyAt(prefix string, stage Stage) string {
	return path.Join(prefix, string(stage)+".pdf")
}
