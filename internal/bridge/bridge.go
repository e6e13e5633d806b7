// Package bridge supervises the per-vehicle link bridge processes of a run.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

// ErrTerminate wraps failures to stop a bridge process.
var ErrTerminate = errors.New("bridge termination failed")

// Config describes the bridge command. Args are text/template strings
// rendered with a Target.
type Config struct {
	Command     string
	Args        []string
	StopTimeout time.Duration
}

// Target is the per-vehicle data available to argument templates.
type Target struct {
	ID         int
	SourcePort int
	LinkPort   int
}

type process struct {
	target Target
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
}

// Group owns the bridge processes started for one run. Stop releases all
// of them and is safe to call more than once.
type Group struct {
	cfg    Config
	args   []*template.Template
	logger *slog.Logger
	output zerolog.Logger

	mu    sync.Mutex
	procs []*process
}

// NewGroup parses the argument templates. Process output goes to output.
func NewGroup(cfg Config, logger *slog.Logger, output zerolog.Logger) (*Group, error) {
	if cfg.Command == "" {
		return nil, errors.New("bridge command is empty")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Group{cfg: cfg, logger: logger, output: output}
	for i, a := range cfg.Args {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("parsing bridge argument %q: %w", a, err)
		}
		g.args = append(g.args, t)
	}
	return g, nil
}

// Args renders the command arguments for target.
func (g *Group) Args(target Target) ([]string, error) {
	out := make([]string, 0, len(g.args))
	for _, t := range g.args {
		var b strings.Builder
		if err := t.Execute(&b, target); err != nil {
			return nil, fmt.Errorf("rendering bridge argument: %w", err)
		}
		out = append(out, b.String())
	}
	return out, nil
}

// Start spawns the bridge for one vehicle.
func (g *Group) Start(target Target) error {
	args, err := g.Args(target)
	if err != nil {
		return err
	}

	cmd := exec.Command(g.cfg.Command, args...)
	out := g.output.With().Int("vehicle", target.ID).Str("process", g.cfg.Command).Logger()
	cmd.Stdout = &lineWriter{log: out, stream: "stdout"}
	cmd.Stderr = &lineWriter{log: out, stream: "stderr"}
	cmd.WaitDelay = g.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting bridge for vehicle %d: %w", target.ID, err)
	}

	p := &process{target: target, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	g.mu.Lock()
	g.procs = append(g.procs, p)
	g.mu.Unlock()

	g.logger.Info("bridge started", "vehicle", target.ID, "pid", cmd.Process.Pid,
		"command", g.cfg.Command, "args", args)
	return nil
}

// Running returns the number of bridges that have not exited.
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.procs {
		select {
		case <-p.done:
		default:
			n++
		}
	}
	return n
}

// Stop terminates every bridge: SIGTERM first, kill after the stop timeout.
// Failures are logged and returned wrapped in ErrTerminate.
func (g *Group) Stop() error {
	g.mu.Lock()
	procs := g.procs
	g.procs = nil
	g.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range procs {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			if err := g.terminate(p); err != nil {
				g.logger.Error("bridge termination failed", "vehicle", p.target.ID, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (g *Group) terminate(p *process) error {
	select {
	case <-p.done:
		g.logger.Warn("bridge already exited", "vehicle", p.target.ID, "error", p.err)
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		g.logger.Warn("bridge did not accept SIGTERM", "vehicle", p.target.ID, "error", err)
	}

	select {
	case <-p.done:
		g.logger.Info("bridge stopped", "vehicle", p.target.ID)
		return nil
	case <-time.After(g.cfg.StopTimeout):
	}

	g.logger.Warn("bridge ignored SIGTERM, killing", "vehicle", p.target.ID, "timeout", g.cfg.StopTimeout)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%w: vehicle %d: %v", ErrTerminate, p.target.ID, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(g.cfg.StopTimeout):
		return fmt.Errorf("%w: vehicle %d: process did not exit after kill", ErrTerminate, p.target.ID)
	}
}

// lineWriter forwards process output to the logger one line at a time.
type lineWriter struct {
	log    zerolog.Logger
	stream string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if line != "" {
			w.log.Info().Str("stream", w.stream).Msg(line)
		}
	}
	return len(p), nil
}
