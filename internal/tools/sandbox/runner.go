// Package sandbox runs model-authored code in a disposable container with
// a persistent per-session workspace.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	safeexec "github.com/haasonsaas/augur/internal/exec"
	"github.com/haasonsaas/augur/internal/observability"
)

const (
	defaultImage  = "python:3.12-slim"
	defaultMemory = "512m"

	// execBudget bounds a single code or install run.
	execBudget = 120 * time.Second
)

// Package repositories reachable from a time-restricted sandbox. Their
// addresses are resolved once at container start.
var packageRepoHosts = []string{
	"pypi.org",
	"files.pythonhosted.org",
}

// Options configures a sandbox runner.
type Options struct {
	SessionID string
	Image     string
	Memory    string
	// Retrodict restricts network egress to package repositories.
	Retrodict bool
	Log       *observability.Logger
}

// Runner manages one container per session. The container is created
// lazily on first use and holds a named volume mounted at /workspace, so
// files persist across tool calls within the session.
type Runner struct {
	dockerBin string
	image     string
	memory    string
	name      string
	volume    string
	retrodict bool
	log       *observability.Logger
	resolve   func(ctx context.Context, host string) ([]string, error)

	mu      sync.Mutex
	started bool
}

// NewRunner builds a runner; the container is not created until the first
// execution.
func NewRunner(opts Options) *Runner {
	image := opts.Image
	if image == "" {
		image = defaultImage
	}
	memory := opts.Memory
	if memory == "" {
		memory = defaultMemory
	}
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	log := opts.Log
	if log == nil {
		log = observability.Nop()
	}
	return &Runner{
		dockerBin: "docker",
		image:     image,
		memory:    memory,
		name:      "augur-sbx-" + id,
		volume:    "augur-ws-" + id,
		retrodict: opts.Retrodict,
		log:       log,
		resolve:   net.DefaultResolver.LookupHost,
	}
}

// execResult carries the outcome of one in-container command.
type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes argv inside the session container, feeding stdin when
// non-empty. The container is started on first call.
func (r *Runner) Run(ctx context.Context, argv []string, stdin string) (*execResult, error) {
	if err := r.ensureStarted(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, execBudget)
	defer cancel()

	args := []string{"exec", "-i", r.name}
	args = append(args, argv...)
	return r.docker(ctx, args, stdin)
}

func (r *Runner) ensureStarted(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	// The image comes from configuration and lands on the docker command
	// line; validate before anything reaches the daemon.
	image, err := safeexec.ImageRef(r.image)
	if err != nil {
		return fmt.Errorf("sandbox image: %w", err)
	}

	if _, err := r.docker(ctx, []string{"volume", "create", r.volume}, ""); err != nil {
		return fmt.Errorf("creating workspace volume: %w", err)
	}

	runArgs := []string{
		"run", "-d",
		"--name", r.name,
		"--memory", r.memory,
		"--network", "bridge",
		"-v", r.volume + ":/workspace",
		"-w", "/workspace",
	}
	if r.retrodict {
		// Egress filtering needs iptables inside the container.
		runArgs = append(runArgs, "--cap-add", "NET_ADMIN")
	}
	runArgs = append(runArgs, image, "sleep", "infinity")

	if res, err := r.docker(ctx, runArgs, ""); err != nil {
		return fmt.Errorf("starting sandbox container: %w", err)
	} else if res.ExitCode != 0 {
		return fmt.Errorf("starting sandbox container: %s", res.Stderr)
	}

	if r.retrodict {
		if err := r.restrictEgress(ctx); err != nil {
			r.teardownLocked(ctx)
			return fmt.Errorf("restricting sandbox egress: %w", err)
		}
	}

	r.started = true
	r.log.Info(ctx, "sandbox started",
		"container", r.name, "image", r.image, "retrodict", r.retrodict)
	return nil
}

// restrictEgress drops all outbound traffic except DNS and the package
// repository addresses resolved at start. Resolution happens on the host
// so the rule set is fixed for the container's lifetime.
func (r *Runner) restrictEgress(ctx context.Context) error {
	var allowed []string
	for _, host := range packageRepoHosts {
		addrs, err := r.resolve(ctx, host)
		if err != nil {
			r.log.Warn(ctx, "package repo resolution failed", "host", host, "error", err)
			continue
		}
		allowed = append(allowed, addrs...)
	}
	if len(allowed) == 0 {
		return fmt.Errorf("no package repository addresses resolved")
	}

	var script strings.Builder
	script.WriteString("set -e\n")
	script.WriteString("apt-get update -qq && apt-get install -y -qq iptables >/dev/null\n")
	script.WriteString("iptables -P OUTPUT DROP\n")
	script.WriteString("iptables -A OUTPUT -o lo -j ACCEPT\n")
	script.WriteString("iptables -A OUTPUT -p udp --dport 53 -j ACCEPT\n")
	script.WriteString("iptables -A OUTPUT -m state --state ESTABLISHED,RELATED -j ACCEPT\n")
	for _, addr := range allowed {
		if strings.Contains(addr, ":") {
			continue // v4 rules only; the bridge network is v4
		}
		fmt.Fprintf(&script, "iptables -A OUTPUT -d %s -j ACCEPT\n", addr)
	}

	res, err := r.docker(ctx, []string{"exec", "-i", r.name, "sh", "-s"}, script.String())
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("iptables setup failed: %s", res.Stderr)
	}
	return nil
}

// Close removes the container. The workspace volume is kept so a later
// session for the same id can resume from it.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.teardownLocked(ctx)
	r.started = false
	return nil
}

func (r *Runner) teardownLocked(ctx context.Context) {
	if _, err := r.docker(ctx, []string{"rm", "-f", r.name}, ""); err != nil {
		r.log.Warn(ctx, "sandbox teardown failed", "container", r.name, "error", err)
	}
}

func (r *Runner) docker(ctx context.Context, args []string, stdin string) (*execResult, error) {
	cmd := exec.CommandContext(ctx, r.dockerBin, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &execResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}
