// Package worker is the compute side of a bridge: it owns the worker
// channel of one segment and executes submitted programs against it,
// speaking the session control protocol on a pair of byte streams.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"termbridge/internal/script"
	"termbridge/internal/session"
	"termbridge/internal/termio"
)

// Options tune one worker.
type Options struct {
	// PollInterval bounds how long blocking bridge reads sleep between
	// checks. Zero means the bridge default.
	PollInterval time.Duration

	// RunTimeout caps a single program run. Zero means no cap.
	RunTimeout time.Duration
}

// Worker executes programs on the worker side of a segment.
type Worker struct {
	ch         *termio.Channel
	bridge     *termio.Bridge
	engine     *script.Engine
	runTimeout time.Duration
}

// New claims the worker role on seg. Creating the worker is what
// completes the segment handshake the host is waiting on.
func New(seg *termio.Segment, opts Options) *Worker {
	var chOpts []termio.ChannelOption
	if opts.PollInterval > 0 {
		chOpts = append(chOpts, termio.WithPollInterval(opts.PollInterval))
	}
	ch := termio.NewChannel(seg, termio.RoleWorker, chOpts...)
	bridge := termio.NewBridge(ch)
	return &Worker{
		ch:         ch,
		bridge:     bridge,
		engine:     script.NewEngine(bridge),
		runTimeout: opts.RunTimeout,
	}
}

// RunProgram executes one program and reports how it ended. Failure text
// goes to the terminal, where the user is looking, not just into the
// reply.
func (w *Worker) RunProgram(ctx context.Context, source string) session.Reply {
	runCtx := ctx
	if w.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.runTimeout)
		defer cancel()
	}

	started := time.Now()
	w.ch.Activate()
	err := w.engine.Run(runCtx, source)

	reply := session.Reply{
		Op:         session.OpRun,
		DurationMs: time.Since(started).Milliseconds(),
	}
	switch {
	case err == nil:
		reply.Status = session.StatusOK
	case errors.Is(err, termio.ErrCancelled):
		reply.Status = session.StatusCancelled
		w.bridge.Write("\n[interrupted]\n")
	case errors.Is(err, context.DeadlineExceeded):
		reply.Status = session.StatusTimeout
		reply.Error = "run timeout exceeded"
		w.bridge.Write("\n[time limit exceeded]\n")
	default:
		reply.Status = session.StatusError
		reply.Error = err.Error()
		w.bridge.Write("\n" + err.Error() + "\n")
	}
	w.bridge.Complete()

	log.Debug().
		Str("status", reply.Status).
		Int64("duration_ms", reply.DurationMs).
		Msg("Program run finished")
	return reply
}

// Serve reads commands from in and answers on out until in closes, which
// is the host's exit request. Each command is handled to completion
// before the next is read; the host enforces one run at a time.
func (w *Worker) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(bufio.NewReader(in))
	enc := json.NewEncoder(out)
	for {
		var cmd session.Command
		if err := dec.Decode(&cmd); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var reply session.Reply
		switch cmd.Op {
		case session.OpRun:
			reply = w.RunProgram(ctx, cmd.Source)
		default:
			reply = session.Reply{
				Op:     cmd.Op,
				Status: session.StatusError,
				Error:  "unknown op: " + cmd.Op,
			}
		}
		if err := enc.Encode(reply); err != nil {
			return err
		}
	}
}
