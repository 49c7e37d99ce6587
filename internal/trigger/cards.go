// Package trigger implements the call contract behind the platform's
// automation cards. Each card resolves a script through the registry
// (autocomplete backs the selection UI) and hands it to the engine.
package trigger

import (
	"context"
	"fmt"

	"scripthub/internal/registry"
	"scripthub/internal/sandbox"
)

// StringResult wraps a card result into a string-typed field, as the
// inline-code card contract requires.
type StringResult struct {
	Returns string `json:"returns"`
}

// Cards binds the automation-trigger surface to the engine.
type Cards struct {
	engine   *sandbox.Engine
	registry *registry.Registry
}

// NewCards creates the card bindings.
func NewCards(engine *sandbox.Engine, reg *registry.Registry) *Cards {
	return &Cards{engine: engine, registry: reg}
}

// Autocomplete lists scripts matching query for card argument selection.
func (c *Cards) Autocomplete(query string) ([]registry.Match, error) {
	return c.registry.Search(query)
}

// RunScript runs a stored script with no arguments ("run script" card).
func (c *Cards) RunScript(ctx context.Context, id string) (*sandbox.Result, error) {
	return c.engine.Run(ctx, sandbox.Request{ScriptID: id})
}

// RunScriptWithArg runs a stored script with one text argument.
func (c *Cards) RunScriptWithArg(ctx context.Context, id, arg string) (*sandbox.Result, error) {
	return c.engine.Run(ctx, sandbox.Request{ScriptID: id, Args: []any{arg}})
}

// RunCodeWithArg runs inline code with one text argument and wraps the
// return value into a string-typed field.
func (c *Cards) RunCodeWithArg(ctx context.Context, code, arg string) (*StringResult, error) {
	res, err := c.engine.Run(ctx, sandbox.Request{Code: code, Args: []any{arg}})
	if err != nil {
		return nil, err
	}
	return &StringResult{Returns: stringify(res.Value)}, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
