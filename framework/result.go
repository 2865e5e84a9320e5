package framework

import (
	"fmt"
	"strings"
)

// Status is the final disposition of a single test case.
type Status int

const (
	// StatusPassed means the test body and all post-test checks succeeded.
	StatusPassed Status = iota

	// StatusFailed means an assertion failed, or a post-test health check
	// downgraded an otherwise-passing test.
	StatusFailed

	// StatusErrored means the test could not be run at all, for instance
	// because the target machine was unreachable during setup. This is
	// deliberately distinct from StatusFailed.
	StatusErrored

	// StatusSkipped means the test chose not to run, or was excluded by
	// filter parameters.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

type Results struct {
	Tests    []TestResult
	Failures []TestResult
}

type TestResult struct {
	TestID     TestID
	Status     Status
	Errors     []error
	Artifacts  []string
	SkipReason string
}

func (r Results) OK() bool {
	return len(r.Failures) == 0
}

// Counts returns per-status totals for the leaf tests that were recorded.
func (r Results) Counts() (passed, failed, errored, skipped int) {
	for _, t := range r.Tests {
		switch t.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusErrored:
			errored++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

type TestID struct {
	Path []string
}

// Append returns a new TestID with an added path component, leaving the
// receiver's backing array untouched so sibling IDs cannot alias.
func (t TestID) Append(name string) TestID {
	path := make([]string, 0, len(t.Path)+1)
	path = append(path, t.Path...)
	return TestID{Path: append(path, name)}
}

func (t TestID) String() string {
	return strings.Join(t.Path, "/")
}
