package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"machtest/framework"
)

var (
	passLabel  = color.New(color.FgGreen).Sprint("ok")
	failLabel  = color.New(color.FgRed, color.Bold).Sprint("FAILED")
	errorLabel = color.New(color.FgMagenta, color.Bold).Sprint("ERROR")
	skipLabel  = color.New(color.FgYellow).Sprint("SKIPPED")
)

// consoleTestLogger streams per-test progress to the console. Debug output
// (the remote commands a test issued) is dumped for failing tests, and for
// passing ones too in verbose mode.
type consoleTestLogger struct {
	out     io.Writer
	verbose bool
	quiet   bool
}

func (c *consoleTestLogger) TestStarted(id framework.TestID) {
	if !c.quiet {
		fmt.Fprintf(c.out, "[%s]\n", id)
	}
}

func (c *consoleTestLogger) TestError(id framework.TestID, err error) {
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(c.out, "  %s\n", line)
	}
}

func (c *consoleTestLogger) TestFinished(id framework.TestID, status framework.Status, debugOutput framework.CapturedOutput) {
	switch status {
	case framework.StatusFailed:
		fmt.Fprintf(c.out, "  %s: %s\n", failLabel, id)
	case framework.StatusErrored:
		fmt.Fprintf(c.out, "  %s: %s\n", errorLabel, id)
	case framework.StatusPassed:
		if c.verbose {
			fmt.Fprintf(c.out, "  %s: %s\n", passLabel, id)
		}
	}
	if len(debugOutput) > 0 && (status != framework.StatusPassed || c.verbose) && !c.quiet {
		debugOutput.Dump(c.out, "    DEBUG ")
	}
}

func (c *consoleTestLogger) TestSkipped(id framework.TestID, reason string) {
	if c.quiet {
		return
	}
	if reason == "" {
		fmt.Fprintf(c.out, "  %s: %s\n", skipLabel, id)
	} else {
		fmt.Fprintf(c.out, "  %s: %s (%s)\n", skipLabel, id, reason)
	}
}

func (c *consoleTestLogger) CleanupError(id framework.TestID, err error) {
	if !c.quiet {
		fmt.Fprintf(c.out, "  cleanup action failed (continuing): %s\n", err)
	}
}

func printSummary(out io.Writer, results framework.Results) {
	passed, failed, errored, skipped := results.Counts()

	if !results.OK() {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failed tests:")
		for _, f := range results.Failures {
			label := failLabel
			if f.Status == framework.StatusErrored {
				label = errorLabel
			}
			fmt.Fprintf(out, "  %s: %s\n", label, f.TestID)
			for _, a := range f.Artifacts {
				fmt.Fprintf(out, "    artifact: %s\n", a)
			}
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d errored, %d skipped\n",
		passed, failed, errored, skipped)
}
