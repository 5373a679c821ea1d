package logger

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// Module makes fx report its lifecycle through this package instead of its own console logger.
var Module = fx.WithLogger(NewFxLoggerAdapter)

// FxLoggerAdapter routes fx lifecycle events through the level-filtered logger.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new instance of FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs events from fx.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("fx: OnStart hook %s failed: %v", trimFuncName(e.FunctionName), e.Err)
			return
		}
		Debugf("fx: OnStart hook %s executed in %s", trimFuncName(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("fx: OnStop hook %s failed: %v", trimFuncName(e.FunctionName), e.Err)
			return
		}
		Debugf("fx: OnStop hook %s executed in %s", trimFuncName(e.FunctionName), e.Runtime)
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s failed: %v", trimFuncName(e.ConstructorName), e.Err)
			return
		}
		for _, name := range e.OutputTypeNames {
			Debugf("fx: provided %s", name)
		}
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("fx: supply %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", trimFuncName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Infof("fx: received signal %s, stopping.", strings.ToUpper(e.Signal.String()))
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("fx: rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: start failed: %v", e.Err)
			return
		}
		Debugf("fx: application started.")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: custom logger initialization failed: %v", e.Err)
		}
	}
}

// trimFuncName drops the ".funcN" suffix fx reports for closures.
func trimFuncName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
