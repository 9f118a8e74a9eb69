package liveness

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"time"
)

const DefaultProbeTimeout = 2 * time.Second

// DefaultSignatures match the command lines the two agents are launched
// with.
var DefaultSignatures = map[string]string{
	"claude_code": `claude.*\s-p(\s|$)`,
	"clawbot":     `openclaw.agent`,
}

// Prober reports, per agent id, whether a process for that agent is
// currently running. Implementations must not fail: an unavailable signal
// is reported as false.
type Prober interface {
	Probe(ctx context.Context) map[string]bool
}

type ProberFunc func(ctx context.Context) map[string]bool

func (f ProberFunc) Probe(ctx context.Context) map[string]bool { return f(ctx) }

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// ProcessProber lists command lines with ps and matches each against the
// agent's signature.
type ProcessProber struct {
	runner     Runner
	timeout    time.Duration
	signatures map[string]*regexp.Regexp
	logger     *slog.Logger
}

func NewProcessProber(signatures map[string]string, timeout time.Duration, logger *slog.Logger) (*ProcessProber, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make(map[string]*regexp.Regexp, len(signatures))
	for agent, pattern := range signatures {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("agent %s signature: %w", agent, err)
		}
		compiled[agent] = re
	}
	return &ProcessProber{runner: OSRunner{}, timeout: timeout, signatures: compiled, logger: logger}, nil
}

func NewProcessProberWithRunner(signatures map[string]string, timeout time.Duration, logger *slog.Logger, runner Runner) (*ProcessProber, error) {
	p, err := NewProcessProber(signatures, timeout, logger)
	if err != nil {
		return nil, err
	}
	p.runner = runner
	return p, nil
}

func (p *ProcessProber) Probe(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(p.signatures))
	for agent := range p.signatures {
		out[agent] = false
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	listing, err := p.runner.Run(runCtx, "ps", "-eo", "args=")
	if err != nil {
		p.logger.Debug("process probe failed", "error", err)
		return out
	}
	if runCtx.Err() != nil {
		return out
	}

	scanner := bufio.NewScanner(bytes.NewReader(listing))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for agent, re := range p.signatures {
			if !out[agent] && re.MatchString(line) {
				out[agent] = true
			}
		}
	}
	return out
}
