package agents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/pkg/assistant"
)

// killEscalation is how long a child gets after SIGTERM before SIGKILL.
const killEscalation = 2 * time.Second

// SpawnConfig describes one child invocation.
type SpawnConfig struct {
	Command        string
	WorkingDir     string
	Model          string
	AllowedTools   []string
	PermissionMode string
}

// ChildProcess is the supervisor's view of a running child. *Child is the
// real implementation; tests substitute fakes.
type ChildProcess interface {
	OnMessage(h assistant.MessageHandler)
	OnRawLine(h assistant.RawLineHandler)
	Send(text string) error
	SendRaw(line string) error
	Alive() bool
	Interrupt()
	Run(ctx context.Context) (exitCode int, stderr string)
}

// Spawner creates children. Runner is the production implementation.
type Spawner interface {
	Spawn(cfg SpawnConfig) (ChildProcess, error)
}

// Runner spawns assistant CLI subprocesses speaking the stream-JSON
// protocol over their pipes.
type Runner struct {
	logger *logger.Logger
}

// NewRunner creates a runner.
func NewRunner(log *logger.Logger) *Runner {
	return &Runner{logger: log.WithComponent("agent-runner")}
}

// buildArgs renders the child argv for a spawn config.
func buildArgs(cfg SpawnConfig) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if cfg.WorkingDir != "" {
		args = append(args, "--add-dir", cfg.WorkingDir)
	}
	args = append(args, "--permission-mode", cfg.PermissionMode)
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	return args
}

// childEnv is the inherited environment with PATH prepended by the broker
// executable's directory, so the child can find the sidecar CLI.
func childEnv() []string {
	env := os.Environ()
	exe, err := os.Executable()
	if err != nil {
		return env
	}
	dir := filepath.Dir(exe)
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + dir + string(os.PathListSeparator) + kv[len("PATH="):]
			return env
		}
	}
	return append(env, "PATH="+dir)
}

// Spawn starts the child process and wires its pipes. The caller attaches
// handlers, then runs Run in a goroutine to pump output until exit.
func (r *Runner) Spawn(cfg SpawnConfig) (ChildProcess, error) {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}

	// exec.Command, not CommandContext: shutdown is driven by Interrupt so
	// the child gets SIGTERM before SIGKILL.
	cmd := exec.Command(cfg.Command, buildArgs(cfg)...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = childEnv()
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	r.logger.Info("Spawned assistant child",
		zap.String("command", cfg.Command),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("working_dir", cfg.WorkingDir))

	return &Child{
		cmd:    cmd,
		client: assistant.NewClient(stdin, stdout, r.logger),
		stdin:  stdin,
		stderr: stderr,
		exited: make(chan struct{}),
		logger: r.logger,
	}, nil
}

// Child is one live subprocess plus its protocol client.
type Child struct {
	cmd    *exec.Cmd
	client *assistant.Client
	stdin  io.WriteCloser
	stderr io.Reader
	logger *logger.Logger

	exited   chan struct{}
	exitOnce sync.Once
}

// OnMessage attaches the parsed-message handler. Attach before Run.
func (c *Child) OnMessage(h assistant.MessageHandler) { c.client.OnMessage(h) }

// OnRawLine attaches the non-protocol line handler. Attach before Run.
func (c *Child) OnRawLine(h assistant.RawLineHandler) { c.client.OnRawLine(h) }

// Send writes one user message frame to the child's stdin.
func (c *Child) Send(text string) error { return c.client.SendUserMessage(text) }

// SendRaw writes one raw JSON line to the child's stdin.
func (c *Child) SendRaw(line string) error { return c.client.SendLine(line) }

// Alive reports whether the child has not yet exited.
func (c *Child) Alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Interrupt signals the child's process group with SIGTERM and escalates
// to SIGKILL after a grace period, without waiting for either.
func (c *Child) Interrupt() {
	if c.cmd.Process == nil {
		return
	}
	pid := c.cmd.Process.Pid
	if err := terminateProcessGroup(pid); err != nil {
		c.logger.Debug("SIGTERM failed", zap.Int("pid", pid), zap.Error(err))
	}
	time.AfterFunc(killEscalation, func() {
		select {
		case <-c.exited:
		default:
			_ = killProcessGroup(pid)
		}
	})
}

// Run pumps stdout and stderr until the child exits, then reaps it.
// It returns the exit code and whatever the child wrote to stderr.
// Run blocks; callers start it in a goroutine after attaching handlers.
func (c *Child) Run(ctx context.Context) (int, string) {
	var errBuf bytes.Buffer

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.client.Run(gctx)
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, c.stderr)
		return err
	})
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		c.logger.Debug("Child pipe reader stopped", zap.Error(err))
	}

	// Pipes are drained; now the process can be reaped.
	err := c.cmd.Wait()
	c.exitOnce.Do(func() { close(c.exited) })

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	return code, strings.TrimSpace(errBuf.String())
}
