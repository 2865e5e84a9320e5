package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"machtest/framework"
	"machtest/machine"
	"machtest/machinetest"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Stdin))
}

type commandParams struct {
	address       string
	port          int
	portSet       bool
	user          string
	userSet       bool
	identity      string
	configFile    string
	targetName    string
	verbose       bool
	trace         bool
	quiet         bool
	sit           bool
	list          bool
	sharedSession bool
	resultsDir    string
	cmdTimeout    time.Duration
	dialTimeout   time.Duration
	filters       framework.RegexFilters
	tests         []string
}

func run(args []string, stdout, stderr io.Writer, stdin io.Reader) int {
	exitCode := 0
	cmd := newRootCommand(stdout, stderr, stdin, &exitCode)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		return 3
	}
	return exitCode
}

func newRootCommand(stdout, stderr io.Writer, stdin io.Reader, exitCode *int) *cobra.Command {
	var p commandParams

	cmd := &cobra.Command{
		Use:   "machtest [tests...]",
		Short: "Run machine test suites against a remote target over SSH",
		Long: "Runs the registered machine test suites against a remote target machine. " +
			"Each test gets an SSH session, helper operations for remote interaction, " +
			"guaranteed cleanup of registered reversal actions, and post-test machine " +
			"health checks (journal scan, core-dump scan) that can fail an " +
			"otherwise-passing test.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.tests = args
			p.userSet = cmd.Flags().Changed("user")
			p.portSet = cmd.Flags().Changed("port")
			applyEnvOverrides(&p)
			*exitCode = execute(&p, stdout, stderr, stdin)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&p.verbose, "verbose", "v", false, "verbose output, including debug output of passing tests")
	fl.BoolVarP(&p.trace, "trace", "t", false, "trace remote commands as they are issued")
	fl.BoolVarP(&p.quiet, "quiet", "q", false, "quiet output")
	fl.BoolVarP(&p.sit, "sit", "s", false, "sit and wait after a test failure, holding the session open")
	fl.BoolVarP(&p.list, "list", "l", false, "print the list of tests that would be executed")
	fl.StringVar(&p.address, "address", "", "test machine address")
	fl.IntVar(&p.port, "port", 22, "SSH port")
	fl.StringVar(&p.user, "user", "admin", "SSH login username")
	fl.StringVar(&p.identity, "identity", "", "SSH private key")
	fl.StringVar(&p.configFile, "config", "", "YAML file with target machine definitions")
	fl.StringVar(&p.targetName, "target", "default", "named target from the config file")
	fl.Var(&p.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fl.Var(&p.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fl.BoolVar(&p.sharedSession, "shared-session", false, "share one SSH session across all tests instead of dialing per test")
	fl.StringVar(&p.resultsDir, "results-dir", "test-results", "directory for downloaded artifacts")
	fl.DurationVar(&p.cmdTimeout, "timeout", 0, "per-command timeout (e.g. 30s), 0 disables")
	fl.DurationVar(&p.dialTimeout, "dial-timeout", 15*time.Second, "connection timeout")

	viper.SetEnvPrefix("MACHTEST")
	viper.AutomaticEnv()
	for _, name := range []string{"address", "port", "user", "identity", "results-dir"} {
		_ = viper.BindPFlag(name, fl.Lookup(name))
	}

	return cmd
}

// applyEnvOverrides pulls in MACHTEST_* environment values for flags the
// operator did not set on the command line.
func applyEnvOverrides(p *commandParams) {
	p.address = viper.GetString("address")
	p.identity = viper.GetString("identity")
	p.resultsDir = viper.GetString("results-dir")
	if user := viper.GetString("user"); user != p.user {
		p.user = user
		p.userSet = true
	}
	if port := viper.GetInt("port"); port != 0 && port != p.port {
		p.port = port
		p.portSet = true
	}
}

func execute(p *commandParams, stdout, stderr io.Writer, stdin io.Reader) int {
	suites := machinetest.AllSuites()

	if p.list {
		printTests(stdout, suites)
		return 0
	}

	target, err := resolveTarget(p)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 3
	}

	// Sit should always imply verbose
	if p.sit {
		p.verbose = true
	}

	cfg := machinetest.Config{
		Target:         target,
		SessionMode:    machinetest.SessionPerTest,
		Sit:            p.sit,
		Trace:          p.trace,
		ResultsDir:     p.resultsDir,
		DialTimeout:    p.dialTimeout,
		CommandTimeout: p.cmdTimeout,
		Stdin:          stdin,
		Stdout:         stdout,
	}
	if p.sharedSession {
		cfg.SessionMode = machinetest.SessionShared
	}

	printFilterDescription(stdout, p.filters)

	logger := &consoleTestLogger{
		out:     stdout,
		verbose: p.verbose,
		quiet:   p.quiet,
	}

	results := machinetest.RunSuites(cfg, suites, buildFilter(p), logger)

	printSummary(stdout, results)

	passed, failed, errored, skipped := results.Counts()
	switch {
	case skipped > 0 && passed == 0 && failed == 0 && errored == 0:
		// tell the caller that nothing actually ran
		return 77
	case !results.OK():
		return 1
	}
	return 0
}

func printTests(out io.Writer, suites []machinetest.Suite) {
	for _, id := range machinetest.TestIDs(suites) {
		fmt.Fprintln(out, id)
	}
}

func printFilterDescription(out io.Writer, filters framework.RegexFilters) {
	if !filters.IsDefined() {
		return
	}
	fmt.Fprintln(out, "Some tests will be skipped based on the filter criteria for this test run:")
	if filters.MustMatch.IsDefined() {
		fmt.Fprintf(out, "  skip any not matching %s\n", filters.MustMatch)
	}
	if filters.MustNotMatch.IsDefined() {
		fmt.Fprintf(out, "  skip any matching %s\n", filters.MustNotMatch)
	}
	fmt.Fprintln(out)
}

// resolveTarget merges the optional YAML config file with the command line;
// command-line values win.
func resolveTarget(p *commandParams) (machine.Target, error) {
	target := machine.Target{}
	if p.configFile != "" {
		targets, err := loadTargets(p.configFile)
		if err != nil {
			return machine.Target{}, err
		}
		named, ok := targets[p.targetName]
		if !ok {
			return machine.Target{}, fmt.Errorf("no target %q in %s", p.targetName, p.configFile)
		}
		target = named
	}

	if p.address != "" {
		target.Address = p.address
	}
	if target.User == "" || p.userSet {
		target.User = p.user
	}
	if target.Port == 0 || p.portSet {
		target.Port = p.port
	}
	if p.identity != "" {
		target.IdentityFile = p.identity
	}

	if target.Address == "" {
		return machine.Target{}, fmt.Errorf("--address is required (or supply --config with a named target)")
	}
	return target, nil
}

// buildFilter combines the regex run/skip filters with any positional test
// names: a name selects a whole suite, a single case, or a full identifier.
func buildFilter(p *commandParams) framework.Filter {
	return func(id framework.TestID) bool {
		if !p.filters.AsFilter(id) {
			return false
		}
		if len(p.tests) == 0 {
			return true
		}
		for _, name := range p.tests {
			if name == id.String() {
				return true
			}
			for _, part := range id.Path {
				if name == part {
					return true
				}
			}
		}
		return false
	}
}
