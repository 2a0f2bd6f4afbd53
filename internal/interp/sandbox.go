package interp

import (
	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts a state to in-memory computation plus the host builtins.
type Sandbox struct {
	L *lua.LState

	modules map[string]bool
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L: L,
		modules: map[string]bool{
			"string":    true,
			"table":     true,
			"math":      true,
			"coroutine": true,
		},
	}
}

// Install removes code and file loading functions and installs a require
// that only resolves the opened standard modules.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// Allows reports whether require may resolve name.
func (s *Sandbox) Allows(name string) bool {
	return s.modules[name]
}

func (s *Sandbox) installSafeRequire() {
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.modules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))
}
