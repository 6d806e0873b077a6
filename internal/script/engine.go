// Package script runs user programs inside the worker against the terminal
// bridge. Programs are Lua; they talk to the terminal through the global
// term module and an output-redirected print.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"termbridge/internal/termio"
)

// Console is the terminal surface a running program sees. *termio.Bridge
// satisfies it; tests substitute in-memory fakes. Blocking reads take the
// run context so a timed-out run unwinds even while parked in a read.
type Console interface {
	Write(text string)
	Clear()
	ReadKeyContext(ctx context.Context) (termio.KeyEvent, error)
	TryReadKey() (termio.KeyEvent, bool, error)
	InputAvailable() bool
	Cancelled() bool
}

// cancelWatchInterval is how often a run checks the bridge cancel flag to
// interrupt Lua between instructions.
const cancelWatchInterval = 2 * time.Millisecond

// Engine executes one program at a time against a Console.
//
// The underlying Lua state is rebuilt per run, so one run cannot leak
// globals, monkey patches, or leftover coroutines into the next. Run is not
// reentrant: the engine is single-threaded by design, matching the one
// worker goroutine that owns the bridge's input ring.
type Engine struct {
	console Console
}

// NewEngine builds an engine over console.
func NewEngine(console Console) *Engine {
	return &Engine{console: console}
}

// Run executes source until it finishes, fails, or is interrupted. It
// returns termio.ErrCancelled when the host cancelled the run, ctx's error
// when the deadline cut it off, and a script error (with the Lua message)
// when the program itself failed.
func (e *Engine) Run(ctx context.Context, source string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(runCtx)

	sandbox(L)
	registerTermModule(L, e.console, runCtx)
	registerPrint(L, e.console)

	// Lua only observes the context between instructions, so a host
	// cancel must be translated into a context cancel. The watcher also
	// covers programs that never call into term.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(cancelWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if e.console.Cancelled() {
					cancel()
					return
				}
			}
		}
	}()

	err := L.DoString(source)
	cancel()
	<-watchDone

	return e.classify(ctx, err)
}

// classify folds the three ways a run ends into stable error values:
// host cancellation wins, then the caller's deadline, then the script's own
// failure.
func (e *Engine) classify(ctx context.Context, err error) error {
	if e.console.Cancelled() {
		return termio.ErrCancelled
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		// The context watcher unwinds Lua with a cancel error too;
		// surface that as cancellation rather than a script bug.
		if errors.Is(apiErr.Cause, context.Canceled) || errors.Is(apiErr.Cause, context.DeadlineExceeded) {
			return termio.ErrCancelled
		}
		log.Debug().Str("lua_error", apiErr.Object.String()).Msg("script failed")
		return fmt.Errorf("script error: %s", apiErr.Object.String())
	}
	return fmt.Errorf("script error: %w", err)
}

// registerPrint redirects Lua's print to the console, joining arguments
// with tabs and appending a newline like stock Lua.
func registerPrint(L *lua.LState, console Console) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		out := make([]byte, 0, 64)
		for i := 1; i <= top; i++ {
			if i > 1 {
				out = append(out, '\t')
			}
			out = append(out, L.ToStringMeta(L.Get(i)).String()...)
		}
		out = append(out, '\n')
		console.Write(string(out))
		return 0
	}))
}
