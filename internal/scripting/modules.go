package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerModules installs the engine.* table into L.
//
// Precondition: L must be from NewSandboxedState; logger must be non-nil.
// Postcondition: engine global is defined in L.
func registerModules(L *lua.LState, logger *zap.Logger, source string) {
	engine := L.NewTable()
	L.SetField(engine, "log", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log",
			zap.String("script", source),
			zap.String("message", L.CheckString(1)),
		)
		return 0
	}))
	L.SetGlobal("engine", engine)
}
