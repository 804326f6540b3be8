package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
)

// ExitKilled is reported when the child had to be force killed.
const ExitKilled = 137

// OutputHandler receives every logged output line of the child.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser extracts a level and message from one output line.
type LogParser func(line string) (level, msg string)

// Options configures a Process.
type Options struct {
	ID string
	// Args is the argv of the child. When empty, Command is split with
	// shell-like quoting.
	Args    []string
	Command string

	Logger        logging.Logger
	OutputLogger  logging.Logger // logger for child output, defaults to Logger
	LogParser     LogParser
	OutputHandler OutputHandler
	OnStateChange StateChangeCallback

	// Stdin exposes a pipe to the child's standard input.
	Stdin bool
	// RawStdout hands standard output to the caller instead of logging it.
	RawStdout bool

	GracefulTimeout time.Duration
	KillTimeout     time.Duration
}

// Process manages one subprocess.
type Process struct {
	opts Options
	args []string

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	lastErr   error

	stdin  io.WriteCloser
	stdout *os.File

	done     chan struct{}
	stopOnce sync.Once
}

// New prepares a process. Nothing is started until Start.
func New(opts Options) *Process {
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = 5 * time.Second
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("process")
	}
	return &Process{
		opts:  opts,
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// Command returns the command line for display.
func (p *Process) Command() string {
	if len(p.opts.Args) > 0 {
		return strings.Join(p.opts.Args, " ")
	}
	return p.opts.Command
}

// Start launches the child. It fails if the command cannot be parsed or
// executed; it does not wait for the child to become ready.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return fmt.Errorf("process %s already started", p.opts.ID)
	}
	p.setState(StateStarting, nil)

	args := p.opts.Args
	if len(args) == 0 {
		parsed, err := parseCommand(p.opts.Command)
		if err != nil {
			return p.failStart(err)
		}
		args = parsed
	}
	if len(args) == 0 {
		return p.failStart(errors.New("empty command"))
	}
	p.args = args

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if p.opts.Stdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			return p.failStart(err)
		}
		p.stdin = w
	}

	// os.Pipe instead of cmd.StdoutPipe so that Wait does not close the read
	// side while buffered output is still unread.
	var closeAfterStart []*os.File
	var readers []namedReader

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return p.failStart(err)
	}
	cmd.Stderr = stderrW
	closeAfterStart = append(closeAfterStart, stderrW)
	readers = append(readers, namedReader{"stderr", stderrR})

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stderrR.Close()
		stderrW.Close()
		return p.failStart(err)
	}
	cmd.Stdout = stdoutW
	closeAfterStart = append(closeAfterStart, stdoutW)
	if p.opts.RawStdout {
		p.stdout = stdoutR
	} else {
		readers = append(readers, namedReader{"stdout", stdoutR})
	}

	if err := cmd.Start(); err != nil {
		for _, f := range closeAfterStart {
			f.Close()
		}
		stderrR.Close()
		stdoutR.Close()
		return p.failStart(err)
	}
	for _, f := range closeAfterStart {
		f.Close()
	}

	p.cmd = cmd
	p.startedAt = time.Now()
	p.opts.Logger.Debug("Process started", "id", p.opts.ID, "pid", cmd.Process.Pid, "command", p.Command())
	p.setState(StateRunning, nil)

	var outputs sync.WaitGroup
	for _, r := range readers {
		outputs.Add(1)
		go func() {
			defer outputs.Done()
			defer r.file.Close()
			p.logOutput(r.file, r.name)
		}()
	}

	go func() {
		waitErr := cmd.Wait()
		outputs.Wait()
		p.finish(waitErr)
	}()

	return nil
}

type namedReader struct {
	name string
	file *os.File
}

func (p *Process) failStart(err error) error {
	p.lastErr = err
	p.exitCode = 1
	p.setState(StateError, err)
	close(p.done)
	p.opts.Logger.Error("Failed to start process", "id", p.opts.ID, "command", p.Command(), "error", err)
	return err
}

func (p *Process) finish(waitErr error) {
	code := exitCode(waitErr)

	p.mu.Lock()
	if p.state == StateStopping && code < 0 {
		code = ExitKilled
	}
	p.exitCode = code
	var reported error
	if code != 0 && p.state != StateStopping {
		reported = fmt.Errorf("exited with code %d", code)
		p.lastErr = reported
	}
	p.setState(StateExited, reported)
	p.mu.Unlock()

	p.opts.Logger.Debug("Process exited", "id", p.opts.ID, "exit_code", code)
	close(p.done)
}

// setState must be called with mu held.
func (p *Process) setState(next State, err error) {
	prev := p.state
	p.state = next
	if p.opts.OnStateChange != nil && prev != next {
		p.opts.OnStateChange(p.opts.ID, prev, next, err)
	}
}

// Stdin returns the child's standard input, or nil if Options.Stdin is unset.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Stdout returns the child's standard output when Options.RawStdout is set.
// It reaches EOF once the child exits and its output has been drained.
func (p *Process) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

// Done is closed when the child has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits and returns its exit code.
func (p *Process) Wait() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Run starts the child and waits for it to exit or for ctx to end, in which
// case the child is stopped.
func (p *Process) Run(ctx context.Context) int {
	if err := p.Start(); err != nil {
		return 1
	}
	select {
	case <-p.done:
		return p.Wait()
	case <-ctx.Done():
		return p.Stop()
	}
}

// Stop ends the child: stdin is closed, SIGINT is sent, and after
// GracefulTimeout the child is killed. Safe to call more than once and on a
// process that has already exited.
func (p *Process) Stop() int {
	p.stopOnce.Do(p.stop)
	return p.Wait()
}

func (p *Process) stop() {
	p.mu.Lock()
	if p.state == StateIdle {
		p.state = StateExited
		close(p.done)
		p.mu.Unlock()
		return
	}
	running := p.state == StateRunning
	if running {
		p.setState(StateStopping, nil)
	}
	cmd := p.cmd
	p.mu.Unlock()

	defer func() {
		if p.stdout != nil {
			p.stdout.Close()
		}
	}()
	if !running {
		return
	}

	// Encoders flush and exit on their own once stdin reaches EOF.
	if p.stdin != nil {
		_ = p.stdin.Close()
		select {
		case <-p.done:
			return
		case <-time.After(p.opts.GracefulTimeout):
		}
	}
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.opts.Logger.Warn("Failed to send SIGINT", "id", p.opts.ID, "error", err)
	}

	select {
	case <-p.done:
		return
	case <-time.After(p.opts.GracefulTimeout):
	}

	p.opts.Logger.Warn("Graceful shutdown timed out, killing", "id", p.opts.ID, "timeout", p.opts.GracefulTimeout)
	// The child leads its own process group; kill the group so helpers
	// holding the output pipes go too.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.opts.Logger.Error("Failed to kill process", "id", p.opts.ID, "error", err)
	}
	select {
	case <-p.done:
	case <-time.After(p.opts.KillTimeout):
		p.opts.Logger.Error("Process did not exit after kill", "id", p.opts.ID)
	}
}

// Info returns the current state of the process.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:        p.opts.ID,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// exitCode maps a Wait error to an exit code. Signals yield -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) logOutput(r io.Reader, source string) {
	logger := p.opts.OutputLogger
	if logger == nil {
		logger = p.opts.Logger
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if p.opts.OutputHandler != nil {
			p.opts.OutputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.opts.LogParser != nil {
			level, msg = p.opts.LogParser(line)
		}
		switch level {
		case "fatal", "error":
			logger.Error(msg, "id", p.opts.ID)
		case "warning":
			logger.Warn(msg, "id", p.opts.ID)
		case "debug", "trace":
			logger.Debug(msg, "id", p.opts.ID)
		default:
			logger.Info(msg, "id", p.opts.ID)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.opts.Logger.Warn("Error reading process output", "id", p.opts.ID, "source", source, "error", err)
	}
}

// Output runs args to completion and returns its standard output.
func Output(ctx context.Context, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	return out, nil
}

// parseCommand splits a command line, honouring single and double quotes
// and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		pending bool
	)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			pending = true
		case quote == 0 && r == ' ':
			if pending {
				args = append(args, current.String())
				current.Reset()
				pending = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			pending = true
		default:
			current.WriteRune(r)
			pending = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unclosed quote in command")
	}
	if pending {
		args = append(args, current.String())
	}
	return args, nil
}
