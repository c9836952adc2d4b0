package config

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed from every configuration VM. Configs are
// declarative: no commands, no filesystem, no loading other code and no
// metatable tricks that could unlock the read-only platform table.
var blockedGlobals = []string{
	"os", "io", "debug",
	"require", "dofile", "loadfile", "load", "loadstring", "module",
	"getmetatable", "setmetatable", "rawget", "rawset", "rawequal",
	"getfenv", "setfenv", "collectgarbage", "newproxy",
}

// sandboxLuaVM strips everything in blockedGlobals. string, table, math
// and the basic helpers (type, tostring, pairs, ...) stay available.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a Lua VM with sandboxing applied and a bounded
// call stack.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize:       256,
		RegistrySize:        1024 * 8,
		IncludeGoStackTrace: false,
	})
	sandboxLuaVM(L)
	return L
}
