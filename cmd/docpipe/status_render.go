package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// level grades one line of the status report.
type level int

const (
	levelInfo level = iota
	levelOK
	levelWarn
	levelError
)

var levelStyles = map[level]struct {
	tag   string
	color string
}{
	levelInfo:  {"INFO", "\x1b[34m"},
	levelOK:    {"OK", "\x1b[32m"},
	levelWarn:  {"WARN", "\x1b[33m"},
	levelError: {"ERROR", "\x1b[31m"},
}

const (
	colorReset = "\x1b[0m"
	labelWidth = 20
)

// reportWriter prints the sectioned status report, optionally with ANSI colors.
type reportWriter struct {
	out   io.Writer
	color bool
}

func newReportWriter(out io.Writer, color bool) *reportWriter {
	return &reportWriter{out: out, color: color}
}

func (w *reportWriter) paint(code, text string) string {
	if !w.color || code == "" {
		return text
	}
	return code + text + colorReset
}

func (w *reportWriter) format(label string, lvl level, message string) string {
	style := levelStyles[lvl]
	text := "[" + style.tag + "]"
	if message != "" {
		text += " " + message
	}
	return w.paint(style.color, fmt.Sprintf("  %-*s %s", labelWidth, label+":", text))
}

func (w *reportWriter) line(label string, lvl level, message string) {
	fmt.Fprintln(w.out, w.format(label, lvl, message))
}

func (w *reportWriter) section(title string) {
	heading := "== " + strings.TrimSpace(title) + " =="
	fmt.Fprintln(w.out, w.paint(levelStyles[levelInfo].color, heading))
	fmt.Fprintln(w.out, w.paint(levelStyles[levelInfo].color, strings.Repeat("-", len(heading))))
}

func (w *reportWriter) blank() {
	fmt.Fprintln(w.out)
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
