package script

import (
	lua "github.com/yuin/gopher-lua"
)

// osAllowlist is the subset of the os library that playground programs
// keep: clock and date utilities, nothing that touches the process or the
// filesystem.
var osAllowlist = []string{"time", "clock", "date", "difftime"}

// sandbox trims the Lua state down to the playground surface. How tight
// this needs to be depends on deployment; the baseline removes the loaders
// that reach the filesystem, the io library, and process-level os calls,
// and closes the module search path so require only sees preloaded
// modules.
func sandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("io", lua.LNil)

	if osMod, ok := L.GetGlobal("os").(*lua.LTable); ok {
		trimmed := L.NewTable()
		for _, name := range osAllowlist {
			trimmed.RawSetString(name, osMod.RawGetString(name))
		}
		L.SetGlobal("os", trimmed)
	}

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}
}
