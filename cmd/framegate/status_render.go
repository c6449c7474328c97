package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 22

var statusLabels = map[statusKind]string{
	statusInfo:  "INFO",
	statusOK:    "OK",
	statusWarn:  "WARN",
	statusError: "ERROR",
}

var statusColors = map[statusKind]string{
	statusInfo:  ansiBlue,
	statusOK:    ansiGreen,
	statusWarn:  ansiYellow,
	statusError: ansiRed,
}

// statusPrinter writes aligned "label: [KIND] detail" lines grouped under
// section headers, colored when writing to a terminal.
type statusPrinter struct {
	out      io.Writer
	colorize bool
	sections int
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, colorize: shouldColorize(out)}
}

func (p *statusPrinter) section(title string) {
	if p.sections > 0 {
		fmt.Fprintln(p.out)
	}
	p.sections++
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	fmt.Fprintln(p.out, p.paint(statusInfo, line))
}

func (p *statusPrinter) line(label string, kind statusKind, detail string) {
	text := fmt.Sprintf("[%s]", statusLabels[kind])
	if detail = strings.TrimSpace(detail); detail != "" {
		text += " " + detail
	}
	fmt.Fprintln(p.out, p.paint(kind, fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", text)))
}

func (p *statusPrinter) paint(kind statusKind, s string) string {
	if !p.colorize {
		return s
	}
	return statusColors[kind] + s + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
