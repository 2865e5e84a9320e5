package framework

// TestLogger receives status updates as tests run. Implementations decide how
// much of this ends up on the console.
type TestLogger interface {
	TestStarted(id TestID)
	TestError(id TestID, err error)
	TestFinished(id TestID, status Status, debugOutput CapturedOutput)
	TestSkipped(id TestID, reason string)
	CleanupError(id TestID, err error)
}

type nullTestLogger struct{}

func (n nullTestLogger) TestStarted(TestID)                          {}
func (n nullTestLogger) TestError(TestID, error)                     {}
func (n nullTestLogger) TestFinished(TestID, Status, CapturedOutput) {}
func (n nullTestLogger) TestSkipped(TestID, string)                  {}
func (n nullTestLogger) CleanupError(TestID, error)                  {}

// NullTestLogger returns a TestLogger that discards everything.
func NullTestLogger() TestLogger { return nullTestLogger{} }
