package sandbox

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Kind classifies a normalized execution error.
type Kind string

const (
	// KindCompile is malformed code; Line and Column point into the
	// user-visible source.
	KindCompile Kind = "compile"
	// KindRuntime is a value thrown during execution, including
	// failures inside injected capability functions.
	KindRuntime Kind = "runtime"
	// KindTimeout is an exceeded wall-clock budget.
	KindTimeout Kind = "timeout"
)

// Error is the single shape every execution-path failure is normalized
// into before it crosses back to the caller. It carries only message
// and stack, independent of the VM's internal error representation.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// position patterns emitted by the VM: "chunk.lua:12:" in runtime
// messages, "line:12(column:3)" in parse errors.
var (
	posPrefixRe = regexp.MustCompile(`^\S+\.lua:\d+:\s*`)
	parsePosRe  = regexp.MustCompile(`line:(\d+)\(column:(\d+)\)`)
)

// normalize maps an error coming out of the VM (or the surrounding
// context) onto the public taxonomy.
func normalize(ctx context.Context, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	msg := err.Error()
	stack := ""

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg = apiErr.Object.String()
		stack = strings.TrimSpace(apiErr.StackTrace)
		if apiErr.Type == lua.ApiErrorSyntax {
			e := &Error{Kind: KindCompile, Message: msg, Stack: stack}
			if m := parsePosRe.FindStringSubmatch(msg); m != nil {
				e.Line, _ = strconv.Atoi(m[1])
				e.Column, _ = strconv.Atoi(m[2])
			}
			return e
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || strings.Contains(msg, "context deadline exceeded") {
		return &Error{Kind: KindTimeout, Message: "execution timed out", Stack: stack}
	}

	if stack == "" {
		stack = msg
	}
	return &Error{
		Kind:    KindRuntime,
		Message: stripPosition(msg),
		Stack:   stack,
	}
}

// stripPosition removes the "chunk.lua:N:" prefix the VM prepends to
// thrown string values, so error("x") surfaces with message "x".
func stripPosition(msg string) string {
	return posPrefixRe.ReplaceAllString(msg, "")
}
