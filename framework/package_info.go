// Package framework contains the low-level test harness infrastructure that
// is independent of what is being tested.
//
// The general model is:
//
// 1. There is a notion of a test context which is similar to Go's *testing.T,
// allowing pieces of test logic to be associated with a test identifier and to
// accumulate success/failure/error/skip results.
//
// 2. A test may register cleanup actions (reversal operations) which are
// guaranteed to run after the test body in reverse registration order, and
// teardown hooks which run after all cleanups and may still fail the test.
//
// 3. Regex filters select which tests run, and a TestLogger abstraction
// decouples result reporting from the console.
//
// The domain-specific code that knows what is being tested (here, remote
// machines driven over SSH) lives on top of this package.
package framework
