package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"transcribeflow/internal/store"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiBlue   = "\x1b[34m"
)

func statusColor(status store.Status) string {
	switch status {
	case store.StatusApproved:
		return ansiGreen
	case store.StatusAwaitingReview, store.StatusAdjustmentsRequired:
		return ansiYellow
	case store.StatusFailed, store.StatusRejected:
		return ansiRed
	case store.StatusPending:
		return ansiBlue
	default:
		return ""
	}
}

func renderStatus(status store.Status, colorize bool) string {
	if !colorize {
		return string(status)
	}
	color := statusColor(status)
	if color == "" {
		return string(status)
	}
	return color + string(status) + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
