// Package jsengine evaluates JavaScript assertions against execution results.
package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
)

// ErrInterrupted is returned when an evaluation is cut short by its context.
var ErrInterrupted = errors.New("JS evaluation interrupted")

// Engine wraps a goja runtime with assertion helpers
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	mu        sync.Mutex
}

// New creates a new JS engine instance
func New() *Engine {
	e := &Engine{
		runtime:   goja.New(),
		variables: make(map[string]interface{}),
	}
	e.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()

	// JSON helper
	e.runtime.Set("json", e.jsonFunc())

	// contains(haystack, needle) for case-insensitive text checks
	e.runtime.Set("contains", func(haystack, needle string) bool {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	})
}

// setupConsole routes console.log, console.error and console.warn to the log file.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			log("[js] %s", strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(logger.Info))
	console.Set("error", makeConsoleFunc(logger.Error))
	console.Set("warn", makeConsoleFunc(logger.Warn))
	e.runtime.Set("console", console)
}

// jsonFunc returns the json() helper function
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}

		var v interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &v); err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return e.runtime.ToValue(v)
	}
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// SetJSON exposes v to scripts as a plain object, using its JSON shape.
func (e *Engine) SetJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	var plain interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	e.SetVariable(name, plain)
	return nil
}

// Eval evaluates a JavaScript expression and returns the result
func (e *Engine) Eval(script string) (interface{}, error) {
	return e.EvalContext(context.Background(), script)
}

// EvalContext evaluates script, interrupting it when ctx ends.
func (e *Engine) EvalContext(ctx context.Context, script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.run(ctx, script)
	if err != nil {
		return nil, err
	}
	return result.Export(), nil
}

// EvalString evaluates a JavaScript expression and returns string result
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}

	if result == nil {
		return "", nil
	}

	return fmt.Sprintf("%v", result), nil
}

// Assert evaluates expr and reports its truthiness.
func (e *Engine) Assert(ctx context.Context, expr string) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, fmt.Errorf("empty assertion")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.run(ctx, expr)
	if err != nil {
		return false, err
	}
	return result.ToBoolean(), nil
}

func (e *Engine) run(ctx context.Context, script string) (goja.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrInterrupted
	}
	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ErrInterrupted)
	})
	defer func() {
		if !stop() {
			e.runtime.ClearInterrupt()
		}
	}()

	result, err := e.runtime.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, ErrInterrupted
		}
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result, nil
}

// ExpandVariables expands ${...} expressions in a string using JS evaluation
func (e *Engine) ExpandVariables(text string) (string, error) {
	result := text
	start := 0

	for {
		// Find ${
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		// Find matching }
		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			if result[end] == '{' {
				depth++
			} else if result[end] == '}' {
				depth--
			}
			end++
		}

		if depth != 0 {
			// Unmatched brace, skip
			start = idx + 2
			continue
		}

		expr := result[idx+2 : end-1]
		value, err := e.EvalString(expr)
		if err != nil {
			// leave unresolved expressions as-is
			start = end
			continue
		}

		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}

	return result, nil
}
