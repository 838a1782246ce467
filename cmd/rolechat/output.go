package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kalambet/rolechat/internal/ingest"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printReports prints one line per role of an ingestion run.
func printReports(reports []ingest.Report) {
	for _, r := range reports {
		switch r.Status {
		case ingest.StatusBuilt:
			printSuccess("%s: %d documents, %d chunks (%d files, %d unreadable) in %s",
				r.Role, r.Documents, r.Chunks, r.Files, r.Failed, r.Duration.Round(time.Millisecond))
		case ingest.StatusSkipped:
			printWarning("%s: skipped, %s", r.Role, r.Reason)
		default:
			printError("%s: failed, %s", r.Role, r.Reason)
		}
	}
}
