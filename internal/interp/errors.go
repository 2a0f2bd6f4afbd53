package interp

import (
	"errors"
	"fmt"
	"regexp"

	lua "github.com/yuin/gopher-lua"
)

// Errors for runtime operations.
var (
	// ErrRuntimeClosed is returned when operating on a closed runtime.
	ErrRuntimeClosed = errors.New("lua runtime is closed")

	// ErrAborted is raised inside the script when the debugger aborts it.
	ErrAborted = errors.New("evaluation aborted")
)

// Error causes reported in ScriptError.Cause.
const (
	CauseSyntax  = "syntax"
	CauseRuntime = "runtime"
	CauseError   = "error"
	CauseFile    = "file"
	CausePanic   = "panic"
)

// ScriptError is a script-level error recovered at the evaluation boundary.
type ScriptError struct {
	Message   string
	CallSite  string
	Cause     string
	Traceback string
}

func (e *ScriptError) Error() string {
	if e.CallSite != "" {
		return fmt.Sprintf("%s: %s", e.CallSite, e.Message)
	}
	return e.Message
}

var callSitePattern = regexp.MustCompile(`(?s)^([^\s:]+:\d+):\s*(.*)$`)

// newScriptError converts an error returned by gopher-lua.
func newScriptError(err error) *ScriptError {
	se := &ScriptError{Message: err.Error(), Cause: CauseRuntime}

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if apiErr.Object != nil {
			se.Message = apiErr.Object.String()
		}
		se.Traceback = apiErr.StackTrace
		switch apiErr.Type {
		case lua.ApiErrorSyntax:
			se.Cause = CauseSyntax
		case lua.ApiErrorFile:
			se.Cause = CauseFile
		case lua.ApiErrorError:
			se.Cause = CauseError
		case lua.ApiErrorPanic:
			se.Cause = CausePanic
		}
	}

	if m := callSitePattern.FindStringSubmatch(se.Message); m != nil {
		se.CallSite = m[1]
		se.Message = m[2]
	}
	return se
}
