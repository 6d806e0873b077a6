package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"termbridge/internal/config"
	"termbridge/internal/termio"
)

// killGracePeriod is how long a closing worker gets to exit on its own
// after its control stdin is closed before it is killed.
const killGracePeriod = 3 * time.Second

// ExecLauncher launches workers by re-executing this binary with the
// worker subcommand. The child opens the segment by path and handshakes
// over it; stdin and stdout carry only the newline-framed control
// protocol.
type ExecLauncher struct {
	binary string
	cfg    *config.Config
}

// NewExecLauncher resolves the current executable once so later launches
// cannot be redirected by a changing working directory.
func NewExecLauncher(cfg *config.Config) (*ExecLauncher, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecLauncher{binary: bin, cfg: cfg}, nil
}

// Launch starts a worker process attached to seg.
func (l *ExecLauncher) Launch(ctx context.Context, seg *termio.Segment) (Worker, error) {
	cmd := exec.Command(l.binary, "worker",
		"--segment", seg.Path(),
		"--poll-interval", l.cfg.Bridge.PollInterval.String(),
		"--run-timeout", l.cfg.Script.RunTimeout.String(),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	// The worker logs to stderr; let it interleave with ours.
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	log.Debug().
		Int("pid", cmd.Process.Pid).
		Str("segment", seg.Path()).
		Msg("Worker launched")

	return &procWorker{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(bufio.NewReader(stdout)),
	}, nil
}

// procWorker drives one worker process over its control pipes.
type procWorker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder

	closeOnce sync.Once
	closeErr  error
}

func (w *procWorker) Run(ctx context.Context, source string) (Reply, error) {
	if err := w.enc.Encode(Command{Op: OpRun, Source: source}); err != nil {
		return Reply{}, fmt.Errorf("send run command: %w", err)
	}
	var reply Reply
	if err := w.dec.Decode(&reply); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Reply{}, fmt.Errorf("worker exited during run")
		}
		return Reply{}, fmt.Errorf("read run reply: %w", err)
	}
	return reply, nil
}

// Close closes the worker's control stdin, which the worker treats as an
// exit request, then waits briefly before killing it.
func (w *procWorker) Close() error {
	w.closeOnce.Do(func() {
		w.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- w.cmd.Wait() }()
		select {
		case err := <-done:
			w.closeErr = err
		case <-time.After(killGracePeriod):
			log.Warn().
				Int("pid", w.cmd.Process.Pid).
				Msg("Worker did not exit, killing")
			w.cmd.Process.Kill()
			w.closeErr = <-done
		}
	})
	return w.closeErr
}
