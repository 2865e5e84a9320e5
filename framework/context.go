package framework

import (
	"errors"
	"fmt"
	"runtime/debug"
)

type environment struct {
	results    Results
	testLogger TestLogger
	filter     Filter
}

// Context is used similarly to *testing.T. It implements require.TestingT so
// standard testify assertions work against it, has a Run method for subtests,
// and supports skipping. Beyond the usual surface it carries a cleanup stack
// (reversal actions run after the test body in reverse registration order)
// and teardown hooks (post-cleanup checks that may still fail the test).
type Context struct {
	env         *environment
	id          TestID
	debugLogger CapturingLogger
	failed      bool
	errored     bool
	skipped     bool
	skipReason  string
	errors      []error
	artifacts   []string
	cleanups    []func() error
	teardowns   []func(*Context)
}

// Run executes a top-level test group and returns the accumulated results.
func Run(
	filter Filter,
	testLogger TestLogger,
	action func(*Context),
) Results {
	if testLogger == nil {
		testLogger = nullTestLogger{}
	}
	env := &environment{
		filter:     filter,
		testLogger: testLogger,
	}
	c := &Context{env: env}
	c.runGroup(action)
	return env.results
}

// runGroup runs a non-leaf action: panics from FailNow/Skip are recovered but
// no result is recorded for the group itself, only for the leaves within it.
func (c *Context) runGroup(action func(*Context)) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*Context); !ok {
				err := fmt.Errorf("unexpected panic outside of any test: %+v\n%s", r, string(debug.Stack()))
				c.env.testLogger.TestError(c.id, err)
			}
		}
	}()
	action(c)
}

func (c *Context) ID() TestID {
	return c.id
}

// Run executes a named leaf test. The action's panics (from FailNow, Skip, or
// genuine bugs) are recovered; cleanups and teardowns always run; exactly one
// TestResult is recorded.
func (c *Context) Run(name string, action func(*Context)) {
	id := c.id.Append(name)

	if c.env.filter != nil && !c.env.filter(id) {
		c.env.testLogger.TestSkipped(id, "excluded by filter parameters")
		c.env.results.Tests = append(c.env.results.Tests, TestResult{
			TestID:     id,
			Status:     StatusSkipped,
			SkipReason: "excluded by filter parameters",
		})
		return
	}

	c.env.testLogger.TestStarted(id)
	c1 := &Context{
		id:  id,
		env: c.env,
	}
	c1.run(action)
	if c1.skipped {
		c.env.testLogger.TestSkipped(id, c1.skipReason)
	} else {
		c.env.testLogger.TestFinished(id, c1.status(), c1.debugLogger.Output())
	}
}

// RunGroup executes a named group of subtests. Filtering applies to the
// leaves, not the group name, so a group runs whenever any leaf inside it
// would run.
func (c *Context) RunGroup(name string, action func(*Context)) {
	c1 := &Context{
		id:  c.id.Append(name),
		env: c.env,
	}
	c1.runGroup(action)
}

func (c *Context) run(action func(*Context)) {
	defer func() {
		if r := recover(); r != nil && !c.skipped {
			c.failed = true
			var addError error
			if _, ok := r.(*Context); ok {
				if len(c.errors) == 0 {
					addError = errors.New("test failed with no failure message")
				}
			} else {
				addError = fmt.Errorf("unexpected panic in test: %+v\n%s", r, string(debug.Stack()))
			}
			if addError != nil {
				c.errors = append(c.errors, addError)
				c.env.testLogger.TestError(c.id, addError)
			}
		}
		c.runCleanups()
		if !c.skipped {
			c.runTeardowns()
		}
		result := TestResult{
			TestID:     c.id,
			Status:     c.status(),
			Errors:     c.errors,
			Artifacts:  c.artifacts,
			SkipReason: c.skipReason,
		}
		c.env.results.Tests = append(c.env.results.Tests, result)
		if result.Status == StatusFailed || result.Status == StatusErrored {
			c.env.results.Failures = append(c.env.results.Failures, result)
		}
	}()

	action(c)
}

func (c *Context) status() Status {
	switch {
	case c.skipped:
		return StatusSkipped
	case c.errored:
		return StatusErrored
	case c.failed:
		return StatusFailed
	}
	return StatusPassed
}

// Cleanup registers a reversal action to run after the test body finishes,
// whether it passed, failed, or panicked. Actions run in reverse registration
// order; a failing action is logged and does not stop the remaining ones.
func (c *Context) Cleanup(fn func() error) {
	c.cleanups = append(c.cleanups, fn)
}

// Teardown registers a post-cleanup hook, such as a machine health check.
// Hooks run in registration order after all cleanups, and may call Errorf to
// downgrade an otherwise-passing test. They must not call FailNow or Skip.
func (c *Context) Teardown(fn func(*Context)) {
	c.teardowns = append(c.teardowns, fn)
}

func (c *Context) runCleanups() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		fn := c.cleanups[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.env.testLogger.CleanupError(c.id, fmt.Errorf("panic in cleanup action: %+v", r))
				}
			}()
			if err := fn(); err != nil {
				c.env.testLogger.CleanupError(c.id, err)
			}
		}()
	}
	c.cleanups = nil
}

func (c *Context) runTeardowns() {
	for _, fn := range c.teardowns {
		fn := fn
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.failed = true
					err := fmt.Errorf("unexpected panic in teardown: %+v", r)
					c.errors = append(c.errors, err)
					c.env.testLogger.TestError(c.id, err)
				}
			}()
			fn(c)
		}()
	}
	c.teardowns = nil
}

func (c *Context) Errorf(format string, args ...interface{}) {
	c.failed = true
	err := fmt.Errorf(format, args...)
	c.errors = append(c.errors, err)
	c.env.testLogger.TestError(c.id, err)
}

func (c *Context) FailNow() {
	panic(c)
}

// AbortWithError records err and unwinds the test with an errored outcome,
// distinct from a failure. Used when the test could not run at all (for
// instance the target machine is unreachable during setup).
func (c *Context) AbortWithError(err error) {
	c.errored = true
	c.errors = append(c.errors, err)
	c.env.testLogger.TestError(c.id, err)
	panic(c)
}

func (c *Context) Failed() bool {
	return c.failed || c.errored
}

func (c *Context) Skipped() bool {
	return c.skipped
}

func (c *Context) Skip() {
	c.skipped = true
	panic(c)
}

func (c *Context) SkipWithReason(reason string) {
	c.skipReason = reason
	c.Skip()
}

// AddArtifact associates a downloaded file (journal excerpt, core dump) with
// this test's result.
func (c *Context) AddArtifact(path string) {
	c.artifacts = append(c.artifacts, path)
}

func (c *Context) Debug(message string, args ...interface{}) {
	c.debugLogger.Printf(message, args...)
}

func (c *Context) DebugLogger() Logger {
	return &c.debugLogger
}
