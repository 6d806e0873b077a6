// Package console mirrors a session's terminal onto the local tty for the
// one-shot CLI runner: program output flows to stdout, keystrokes flow back
// through the input ring, with the terminal in raw mode so the program sees
// individual key presses.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"termbridge/internal/termio"
)

// Console attaches the local terminal to a bridge channel. Ctrl+C is
// intercepted and turned into a cancellation request; Ctrl+] followed by q
// detaches without touching the program.
type Console struct {
	ch  *termio.Channel
	in  io.Reader
	out io.Writer

	// rawFile is the tty to place in raw mode, when in is one.
	rawFile  *os.File
	oldState *term.State

	exitPressed bool

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a console over stdin/stdout.
func New(ch *termio.Channel) *Console {
	return &Console{
		ch:      ch,
		in:      os.Stdin,
		out:     os.Stdout,
		rawFile: os.Stdin,
		done:    make(chan struct{}),
	}
}

// Run mirrors the terminal until the program completes, the user detaches,
// or ctx ends. The tty is restored before returning. A nil error means the
// program ran to completion or the user detached.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintf(c.out, "Connected. Ctrl+C interrupts the program, Ctrl+] then q detaches.\r\n")

	if err := c.makeRaw(); err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer c.restore()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	go func() {
		errCh <- c.pumpOutput(ctx)
	}()
	go func() {
		errCh <- c.pumpKeys(ctx)
	}()

	select {
	case <-ctx.Done():
		c.finish()
		return ctx.Err()
	case <-sigCh:
		c.finish()
		return nil
	case <-c.done:
		return nil
	case err := <-errCh:
		c.finish()
		return err
	}
}

// makeRaw switches the tty to raw mode. Reading from a pipe or a file is
// left alone, which keeps `termbridge run < input.txt` working.
func (c *Console) makeRaw() error {
	if c.rawFile == nil || !term.IsTerminal(int(c.rawFile.Fd())) {
		return nil
	}
	state, err := term.MakeRaw(int(c.rawFile.Fd()))
	if err != nil {
		return err
	}
	c.oldState = state
	return nil
}

func (c *Console) restore() {
	if c.oldState != nil {
		term.Restore(int(c.rawFile.Fd()), c.oldState)
		c.oldState = nil
	}
	// Leave the cursor on a fresh line after raw output.
	fmt.Fprint(c.out, "\r\n")
}

func (c *Console) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// pumpOutput copies program output to the local terminal, translating bare
// newlines for the raw tty. Returns nil when the run completes.
func (c *Console) pumpOutput(ctx context.Context) error {
	w := crlfWriter{w: c.out}
	buf := make([]byte, 4096)
	for {
		n, err := c.ch.ReadOutput(ctx, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// pumpKeys forwards local keystrokes into the input ring. Ctrl+C and the
// detach sequence are handled here, before key decoding, so they work even
// while the program ignores its input.
func (c *Console) pumpKeys(ctx context.Context) error {
	var dec keyDecoder
	buf := make([]byte, 256)
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		n, err := c.in.Read(buf)
		if n > 0 {
			data, cancel, exit := c.siftInput(buf[:n])
			if cancel {
				c.ch.Cancel()
			}
			for _, ev := range dec.feed(data) {
				if werr := c.ch.WriteKey(ctx, ev); werr != nil {
					return werr
				}
			}
			if exit {
				c.finish()
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Input exhausted (piped stdin); keep mirroring output.
				<-c.done
				return nil
			}
			return err
		}
	}
}

// siftInput strips console-level control bytes out of a raw chunk before
// key decoding. Ctrl+C (0x03) requests cancellation and Ctrl+] (0x1d)
// followed by q detaches; neither reaches the program as input.
func (c *Console) siftInput(data []byte) (out []byte, cancel, exit bool) {
	out = make([]byte, 0, len(data))
	for _, b := range data {
		if c.exitPressed {
			c.exitPressed = false
			if b == 'q' {
				exit = true
				return
			}
			// Not the detach key; deliver it normally.
		}
		switch b {
		case 0x1d:
			c.exitPressed = true
		case 0x03:
			cancel = true
		default:
			out = append(out, b)
		}
	}
	return
}

// crlfWriter expands bare line feeds to CR LF for a tty in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (cw crlfWriter) Write(p []byte) (int, error) {
	start := 0
	for i, b := range p {
		if b != '\n' {
			continue
		}
		if i > start {
			if _, err := cw.w.Write(p[start:i]); err != nil {
				return start, err
			}
		}
		if _, err := cw.w.Write([]byte{'\r', '\n'}); err != nil {
			return i, err
		}
		start = i + 1
	}
	if start < len(p) {
		if _, err := cw.w.Write(p[start:]); err != nil {
			return start, err
		}
	}
	return len(p), nil
}
