package scripting

import (
	"context"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

// Script is a compiled Lua chunk that can be instantiated into any number of
// independent VMs.
type Script struct {
	path  string
	proto *lua.FunctionProto
}

// Compile parses and compiles the Lua file at path.
//
// Postcondition: Returns a Script or a syntax error naming path.
func Compile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: opening %q: %w", path, err)
	}
	defer f.Close()

	chunk, err := parse.Parse(f, path)
	if err != nil {
		return nil, fmt.Errorf("scripting: parsing %q: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("scripting: compiling %q: %w", path, err)
	}
	return &Script{path: path, proto: proto}, nil
}

// Path returns the source path of the script.
func (s *Script) Path() string { return s.path }

// VM is one sandboxed Lua state with the script's top level already executed.
// A VM is not safe for concurrent use.
type VM struct {
	L         *lua.LState
	instLimit int
}

// NewVM creates a sandboxed state and executes the script's top level under
// the instruction limit.
//
// Precondition: instLimit >= 0; 0 uses DefaultInstructionLimit. logger must be non-nil.
// Postcondition: Returns a VM whose globals hold the script's hooks, or an error.
func (s *Script) NewVM(instLimit int, logger *zap.Logger) (*VM, error) {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	vm := &VM{L: NewSandboxedState(), instLimit: instLimit}
	registerModules(vm.L, logger, s.path)

	ctx, cancel := newCountingContext(context.Background(), instLimit)
	defer cancel()
	vm.L.SetContext(ctx)
	defer vm.L.RemoveContext()

	vm.L.Push(vm.L.NewFunctionFromProto(s.proto))
	if err := vm.L.PCall(0, lua.MultRet, nil); err != nil {
		vm.L.Close()
		return nil, fmt.Errorf("scripting: running %q: %w", s.path, err)
	}
	return vm, nil
}

// Has reports whether the script defines a global function named hook.
func (vm *VM) Has(hook string) bool {
	return vm.L.GetGlobal(hook).Type() == lua.LTFunction
}

// Call invokes the global function hook with args, bounded by the
// instruction limit and by ctx. A missing hook returns (LNil, nil).
//
// Postcondition: Returns the hook's first return value, or an error on Lua
// runtime failure, instruction exhaustion or ctx cancellation.
func (vm *VM) Call(ctx context.Context, hook string, args ...lua.LValue) (lua.LValue, error) {
	fn := vm.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, nil
	}

	callCtx, cancel := newCountingContext(ctx, vm.instLimit)
	defer cancel()
	vm.L.SetContext(callCtx)
	defer vm.L.RemoveContext()

	if err := vm.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, fmt.Errorf("scripting: %s: %w", hook, err)
	}

	ret := vm.L.Get(-1)
	vm.L.Pop(1)
	return ret, nil
}

// StringList converts values into a Lua array table.
func (vm *VM) StringList(values []string) *lua.LTable {
	tbl := vm.L.NewTable()
	for _, v := range values {
		tbl.Append(lua.LString(v))
	}
	return tbl
}

// Close releases the Lua state.
func (vm *VM) Close() {
	vm.L.Close()
}
