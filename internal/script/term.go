package script

import (
	"context"
	"errors"
	"io"
	"time"

	lua "github.com/yuin/gopher-lua"

	"termbridge/internal/termio"
)

// keyNames maps the non-printing key codes to the names programs match on.
var keyNames = map[byte]string{
	termio.KeyCodeBackspace: "backspace",
	termio.KeyCodeTab:       "tab",
	termio.KeyCodeEnter:     "enter",
	termio.KeyCodeEscape:    "escape",
	termio.KeyCodeSpace:     "space",
	termio.KeyCodeLeft:      "left",
	termio.KeyCodeUp:        "up",
	termio.KeyCodeRight:     "right",
	termio.KeyCodeDown:      "down",
}

// registerTermModule installs the global term table. ctx is the run
// context: every blocking term call waits on it so a cancelled or timed-out
// run unwinds even while parked inside a Go call, where the Lua
// interpreter's own context check cannot reach.
func registerTermModule(L *lua.LState, console Console, ctx context.Context) {
	raiseReadErr := func(L *lua.LState, err error) {
		switch {
		case errors.Is(err, termio.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			L.RaiseError("interrupted")
		case errors.Is(err, io.EOF):
			L.RaiseError("input closed")
		default:
			L.RaiseError("read key: %v", err)
		}
	}

	funcs := map[string]lua.LGFunction{
		"write": func(L *lua.LState) int {
			top := L.GetTop()
			out := make([]byte, 0, 64)
			for i := 1; i <= top; i++ {
				out = append(out, L.ToStringMeta(L.Get(i)).String()...)
			}
			console.Write(string(out))
			return 0
		},

		"clear": func(L *lua.LState) int {
			console.Clear()
			return 0
		},

		"key_available": func(L *lua.LState) int {
			L.Push(lua.LBool(console.InputAvailable()))
			return 1
		},

		// read_key() blocks for the next key and returns it as a table:
		// {code, char, name, shift, alt, ctrl}.
		"read_key": func(L *lua.LState) int {
			ev, err := console.ReadKeyContext(ctx)
			if err != nil {
				raiseReadErr(L, err)
				return 0
			}
			L.Push(keyToTable(L, ev))
			return 1
		},

		// try_read_key() returns the next key if one is already waiting,
		// nil otherwise. Never blocks.
		"try_read_key": func(L *lua.LState) int {
			ev, ok, err := console.TryReadKey()
			if err != nil {
				raiseReadErr(L, err)
				return 0
			}
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(keyToTable(L, ev))
			return 1
		},

		// read_line() collects echoed keystrokes until enter, handling
		// backspace, and returns the line without the terminator.
		"read_line": func(L *lua.LState) int {
			var line []rune
			for {
				ev, err := console.ReadKeyContext(ctx)
				if err != nil {
					raiseReadErr(L, err)
					return 0
				}
				switch {
				case ev.Code == termio.KeyCodeEnter:
					console.Write("\n")
					L.Push(lua.LString(string(line)))
					return 1
				case ev.Code == termio.KeyCodeBackspace:
					if len(line) > 0 {
						line = line[:len(line)-1]
						console.Write("\b \b")
					}
				case ev.Printable():
					line = append(line, ev.Char)
					console.Write(string(ev.Char))
				}
			}
		},

		// sleep(ms) pauses the program, still interruptible by
		// cancellation within the watch interval.
		"sleep": func(L *lua.LState) int {
			ms := float64(L.CheckNumber(1))
			if ms < 0 {
				ms = 0
			}
			timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
			defer timer.Stop()
			select {
			case <-ctx.Done():
				L.RaiseError("interrupted")
			case <-timer.C:
			}
			return 0
		},
	}

	mod := L.SetFuncs(L.NewTable(), funcs)
	L.SetGlobal("term", mod)
}

func keyToTable(L *lua.LState, ev termio.KeyEvent) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("code", lua.LNumber(ev.Code))
	if ev.Printable() {
		t.RawSetString("char", lua.LString(string(ev.Char)))
	} else {
		t.RawSetString("char", lua.LString(""))
	}
	if name, ok := keyNames[ev.Code]; ok {
		t.RawSetString("name", lua.LString(name))
	}
	t.RawSetString("shift", lua.LBool(ev.Shift))
	t.RawSetString("alt", lua.LBool(ev.Alt))
	t.RawSetString("ctrl", lua.LBool(ev.Ctrl))
	return t
}
