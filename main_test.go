package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machtest/framework"
	"machtest/machine"
)

func TestListPrintsTestIDsWithoutConnectingAnywhere(t *testing.T) {
	var stdout, stderr bytes.Buffer
	// no --address: listing must not need machine coordinates at all
	code := run([]string{"--list"}, &stdout, &stderr, strings.NewReader(""))

	assert.Equal(t, 0, code)
	out := stdout.String()
	assert.Contains(t, out, "filesystem/write file")
	assert.Contains(t, out, "filesystem/sed file")
	assert.Contains(t, out, "system/os release")
	assert.Empty(t, stderr.String())
}

func TestMissingAddressIsAUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{}, &stdout, &stderr, strings.NewReader(""))

	assert.Equal(t, 3, code)
	assert.Contains(t, stderr.String(), "--address is required")
}

func TestUnknownFlagIsAUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--no-such-flag"}, &stdout, &stderr, strings.NewReader(""))
	assert.Equal(t, 3, code)
}

func TestResolveTargetFromFlags(t *testing.T) {
	p := &commandParams{address: "10.0.0.7", port: 2222, user: "tester", identity: "/keys/id"}
	target, err := resolveTarget(p)
	require.NoError(t, err)
	assert.Equal(t, machine.Target{
		Address:      "10.0.0.7",
		Port:         2222,
		User:         "tester",
		IdentityFile: "/keys/id",
	}, target)
}

func TestResolveTargetFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machines.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  default:
    address: 192.168.1.50
    port: 2200
    user: core
    identity: /keys/ci
  lab:
    address: 192.168.1.60
    user: admin
`), 0o644))

	p := &commandParams{configFile: path, targetName: "default", user: "admin", port: 22}
	target, err := resolveTarget(p)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", target.Address)
	assert.Equal(t, 2200, target.Port)
	assert.Equal(t, "core", target.User)
	assert.Equal(t, "/keys/ci", target.IdentityFile)
}

func TestResolveTargetFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machines.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  default:
    address: 192.168.1.50
    port: 2200
    user: core
`), 0o644))

	p := &commandParams{configFile: path, targetName: "default", address: "10.9.9.9", user: "operator", userSet: true, port: 22}
	target, err := resolveTarget(p)
	require.NoError(t, err)
	assert.Equal(t, "10.9.9.9", target.Address)
	assert.Equal(t, "operator", target.User)
	assert.Equal(t, 2200, target.Port)
}

func TestResolveTargetExplicitDefaultValuesOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machines.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  default:
    address: 192.168.1.50
    port: 2200
    user: core
`), 0o644))

	// --user admin --port 22 passed explicitly must beat the config file,
	// even though they equal the flag defaults
	p := &commandParams{configFile: path, targetName: "default", user: "admin", userSet: true, port: 22, portSet: true}
	target, err := resolveTarget(p)
	require.NoError(t, err)
	assert.Equal(t, "admin", target.User)
	assert.Equal(t, 22, target.Port)
}

func TestResolveTargetUnknownName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machines.yml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  lab:\n    address: 10.0.0.1\n"), 0o644))

	p := &commandParams{configFile: path, targetName: "default", user: "admin", port: 22}
	_, err := resolveTarget(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no target "default"`)
}

func TestLoadTargetsRejectsEmptyConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machines.yml")
	require.NoError(t, os.WriteFile(path, []byte("targets: {}\n"), 0o644))
	_, err := loadTargets(path)
	assert.Error(t, err)
}

func TestBuildFilterPositionalNames(t *testing.T) {
	p := &commandParams{tests: []string{"filesystem"}}
	filter := buildFilter(p)
	assert.True(t, filter(framework.TestID{Path: []string{"filesystem", "write file"}}))
	assert.False(t, filter(framework.TestID{Path: []string{"system", "os release"}}))

	p = &commandParams{tests: []string{"system/os release"}}
	filter = buildFilter(p)
	assert.True(t, filter(framework.TestID{Path: []string{"system", "os release"}}))
	assert.False(t, filter(framework.TestID{Path: []string{"system", "clock"}}))
}

func TestBuildFilterCombinesRegexAndNames(t *testing.T) {
	p := &commandParams{tests: []string{"filesystem"}}
	require.NoError(t, p.filters.MustNotMatch.Set("sed"))
	filter := buildFilter(p)
	assert.True(t, filter(framework.TestID{Path: []string{"filesystem", "write file"}}))
	assert.False(t, filter(framework.TestID{Path: []string{"filesystem", "sed file"}}))
}

func TestConsoleLoggerOutput(t *testing.T) {
	var out bytes.Buffer
	logger := &consoleTestLogger{out: &out}
	id := framework.TestID{Path: []string{"suite", "case"}}

	logger.TestStarted(id)
	logger.TestFinished(id, framework.StatusFailed, nil)
	logger.TestSkipped(id, "not supported")

	s := out.String()
	assert.Contains(t, s, "[suite/case]")
	assert.Contains(t, s, "FAILED")
	assert.Contains(t, s, "(not supported)")
}

func TestConsoleLoggerQuietSuppressesNonFailures(t *testing.T) {
	var out bytes.Buffer
	logger := &consoleTestLogger{out: &out, quiet: true}
	id := framework.TestID{Path: []string{"suite", "case"}}

	logger.TestStarted(id)
	logger.TestSkipped(id, "reason")
	logger.TestFinished(id, framework.StatusPassed, nil)
	assert.Empty(t, out.String())

	logger.TestFinished(id, framework.StatusFailed, nil)
	assert.Contains(t, out.String(), "FAILED")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	results := framework.Results{
		Tests: []framework.TestResult{
			{TestID: framework.TestID{Path: []string{"a"}}, Status: framework.StatusPassed},
			{TestID: framework.TestID{Path: []string{"b"}}, Status: framework.StatusFailed},
		},
		Failures: []framework.TestResult{
			{TestID: framework.TestID{Path: []string{"b"}}, Status: framework.StatusFailed, Artifacts: []string{"results/b-journal.log"}},
		},
	}
	printSummary(&out, results)
	s := out.String()
	assert.Contains(t, s, "Failed tests:")
	assert.Contains(t, s, "results/b-journal.log")
	assert.Contains(t, s, "1 passed, 1 failed, 0 errored, 0 skipped")
}
