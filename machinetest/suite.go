package machinetest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"machtest/framework"
	"machtest/machine"
)

// SessionMode controls whether each test case dials its own connection to the
// target machine or all cases in a run share one. Per-test is the default:
// it isolates connection state between cases at the cost of one SSH handshake
// each. Shared mode exists for slow-to-dial targets.
type SessionMode string

const (
	SessionPerTest SessionMode = "per-test"
	SessionShared  SessionMode = "shared"
)

// Config is the per-run configuration, threaded explicitly through the runner
// and into each test case rather than living in package globals.
type Config struct {
	Target      machine.Target
	SessionMode SessionMode

	// Sit holds the session open after a failing test and waits for the
	// operator before tearing down, for live inspection.
	Sit bool

	// Trace streams every remote command to Stdout as it is issued.
	Trace bool

	// ResultsDir receives downloaded artifacts (journal excerpts, core dumps).
	ResultsDir string

	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// AllowedJournalMessages are extra full-match regexes that the journal
	// health check tolerates, in addition to the built-in allow list.
	AllowedJournalMessages []string

	Stdin  io.Reader
	Stdout io.Writer

	// Dialer overrides how sessions are established; nil uses machine.Dial.
	Dialer func(machine.Target, machine.Options) (machine.Machine, error)
}

func (c *Config) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *Config) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

// CaseFunc is a test body. It receives a Case bound to a live machine
// session; assertion failures unwind to cleanup via panic, as with testing.T.
type CaseFunc func(*Case)

type CaseDef struct {
	Name string
	Run  CaseFunc
}

type Suite struct {
	Name  string
	Cases []CaseDef
}

var registry struct {
	mu     sync.Mutex
	suites []Suite
}

// Register adds a suite to the global registry. The built-in suites register
// themselves in package init; listing and filtering operate on this registry
// without touching any machine.
func Register(s Suite) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.suites = append(registry.suites, s)
}

// AllSuites returns the registered suites sorted by name.
func AllSuites() []Suite {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	suites := append([]Suite(nil), registry.suites...)
	sort.Slice(suites, func(i, j int) bool { return suites[i].Name < suites[j].Name })
	return suites
}

// TestIDs returns the identifiers of every case in the given suites, in
// execution order. This is what --list prints; it issues no remote commands.
func TestIDs(suites []Suite) []framework.TestID {
	var ids []framework.TestID
	for _, s := range suites {
		base := framework.TestID{}.Append(s.Name)
		for _, c := range s.Cases {
			ids = append(ids, base.Append(c.Name))
		}
	}
	return ids
}

// RunSuites executes the given suites sequentially against the configured
// target and returns aggregated results. Tests run one at a time; the remote
// shell channel is never used concurrently.
func RunSuites(cfg Config, suites []Suite, filter framework.Filter, testLogger framework.TestLogger) framework.Results {
	r := newSuiteRunner(cfg)
	defer r.shutdown()

	return framework.Run(filter, testLogger, func(t *framework.Context) {
		for _, s := range suites {
			s := s
			t.RunGroup(s.Name, func(t *framework.Context) {
				for _, def := range s.Cases {
					def := def
					t.Run(def.Name, func(t *framework.Context) {
						r.runCase(t, def)
					})
				}
			})
		}
	})
}

type suiteRunner struct {
	cfg    Config
	dialer func(machine.Target, machine.Options) (machine.Machine, error)
	logs   *logHub
	shared machine.Machine
}

func newSuiteRunner(cfg Config) *suiteRunner {
	r := &suiteRunner{cfg: cfg, logs: &logHub{}}
	if cfg.Trace {
		r.logs.trace = framework.WriterLogger{Dest: cfg.stdout(), Prefix: "  > "}
	}
	r.dialer = cfg.Dialer
	if r.dialer == nil {
		r.dialer = func(t machine.Target, o machine.Options) (machine.Machine, error) {
			return machine.Dial(t, o)
		}
	}
	return r
}

func (r *suiteRunner) runCase(t *framework.Context, def CaseDef) {
	r.logs.setCurrent(t.DebugLogger())

	m, err := r.acquire()
	if err != nil {
		t.AbortWithError(err)
	}

	c := newCase(t, m, &r.cfg)

	// registered before setUp: a setup abort must still release the session
	// and honor sit mode
	t.Teardown(c.healthCheck)
	t.Teardown(r.sitOnFailure(c))
	if r.cfg.SessionMode != SessionShared {
		// teardowns do not run for skipped tests, so a skip releases the
		// session from this cleanup instead
		t.Cleanup(func() error {
			if t.Skipped() {
				return m.Close()
			}
			return nil
		})
		t.Teardown(func(*framework.Context) {
			_ = m.Close()
		})
	}

	c.setUp()
	def.Run(c)
}

func (r *suiteRunner) acquire() (machine.Machine, error) {
	opts := machine.Options{
		DialTimeout:    r.cfg.DialTimeout,
		CommandTimeout: r.cfg.CommandTimeout,
		Logger:         r.logs,
	}
	if r.cfg.SessionMode == SessionShared {
		if r.shared == nil {
			m, err := r.dialer(r.cfg.Target, opts)
			if err != nil {
				return nil, err
			}
			r.shared = m
		}
		return r.shared, nil
	}
	return r.dialer(r.cfg.Target, opts)
}

func (r *suiteRunner) sitOnFailure(c *Case) func(*framework.Context) {
	return func(t *framework.Context) {
		if !r.cfg.Sit || !t.Failed() {
			return
		}
		out := r.cfg.stdout()
		fmt.Fprintf(out, "\n[%s] failed. The machine is held open for inspection:\n", t.ID())
		fmt.Fprintf(out, "  %s\n", c.m.Target().SSHCommand())
		fmt.Fprint(out, "Press RET to continue...\n")
		_, _ = bufio.NewReader(r.cfg.stdin()).ReadString('\n')
	}
}

func (r *suiteRunner) shutdown() {
	if r.shared != nil {
		_ = r.shared.Close()
		r.shared = nil
	}
}

// logHub routes session command logging to the current test's capturing
// logger, plus the console in trace mode. It exists so a shared session dialed
// once still attributes commands to the test that issued them.
type logHub struct {
	mu      sync.Mutex
	current framework.Logger
	trace   framework.Logger
}

func (h *logHub) setCurrent(l framework.Logger) {
	h.mu.Lock()
	h.current = l
	h.mu.Unlock()
}

func (h *logHub) Printf(format string, args ...interface{}) {
	h.mu.Lock()
	current, trace := h.current, h.trace
	h.mu.Unlock()
	if current != nil {
		current.Printf(format, args...)
	}
	if trace != nil {
		trace.Printf(format, args...)
	}
}
