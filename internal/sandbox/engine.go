package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"scripthub/internal/hostapi"
	"scripthub/internal/registry"
	"scripthub/internal/store"
	"scripthub/internal/token"
)

// DefaultTimeout is the hard wall-clock budget for a single run. It is
// enforced by the VM boundary, not cooperatively by the script.
const DefaultTimeout = 30 * time.Second

// InlineScriptID is the sentinel id used for ad-hoc code that has no
// persisted definition.
const InlineScriptID = "_inline"

// Request describes one execution. Either ScriptID or Code is set.
type Request struct {
	ScriptID string
	Code     string
	Args     []any
	Realtime bool
}

// Result is the outcome of a successful run.
type Result struct {
	Value    any      `json:"value"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// LogEvent is one live log line pushed to realtime subscribers.
type LogEvent struct {
	Text   string `json:"text"`
	Script string `json:"script"`
}

// Publisher receives realtime log events. The websocket hub implements it.
type Publisher interface {
	Publish(ev LogEvent)
}

// Engine compiles and runs scripts in isolated Lua VMs. Any number of
// runs may execute concurrently; each gets its own VM and host-API
// session. The only state shared across runs is the token registry and
// the global namespace, both intentionally last-write-wins.
type Engine struct {
	registry *registry.Registry
	tokens   *token.Registry
	store    store.Store
	hostAPI  hostapi.Provider
	logger   *slog.Logger

	hub        Publisher
	timeout    time.Duration
	httpClient *http.Client

	// One-time deprecation warning for setTagValue.
	deprecatedTagOnce sync.Once
}

// Option configures the engine.
type Option func(*Engine)

// WithTimeout overrides the wall-clock budget.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithPublisher sets the realtime log subscriber channel.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.hub = p }
}

// WithHTTPClient overrides the client behind the http capability.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// New creates an execution engine.
func New(reg *registry.Registry, tokens *token.Registry, st store.Store, hostAPI hostapi.Provider, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:   reg,
		tokens:     tokens,
		store:      st,
		hostAPI:    hostAPI,
		logger:     logger.With("component", "sandbox"),
		timeout:    DefaultTimeout,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is the per-run mutable state shared between the engine and
// the injected capability functions.
type runState struct {
	def      *store.ScriptDefinition
	realtime bool
	session  hostapi.Session
	ctx      context.Context

	mu   sync.Mutex
	logs []string
}

// log records a line locally and, for realtime runs, pushes it to the
// live subscriber channel.
func (e *Engine) log(run *runState, text string) {
	run.mu.Lock()
	run.logs = append(run.logs, text)
	run.mu.Unlock()

	e.logger.Info("script log", "script", run.def.ID, "msg", text)
	if run.realtime && e.hub != nil {
		e.hub.Publish(LogEvent{Text: text, Script: run.def.ID})
	}
}

// Run executes a stored script or ad-hoc code. Registry misses propagate
// as store.ErrNotFound; every execution failure comes back as *Error.
// The host-API session is released on every exit path.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	def, err := e.resolve(req, start)
	if err != nil {
		return nil, err
	}

	session, err := e.hostAPI.Acquire(ctx)
	if err != nil {
		return nil, &Error{Kind: KindRuntime, Message: "acquire host api: " + err.Error()}
	}
	defer session.Release()

	// Every attempted run counts as an execution, failed ones included.
	defer e.recordRun(req, def, start)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()

	// Sandbox: remove dangerous libs and functions
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	L.SetContext(runCtx)

	run := &runState{
		def:      def,
		realtime: req.Realtime,
		session:  session,
		ctx:      runCtx,
	}
	e.bind(L, run)

	// A Lua chunk compiles to a vararg function over the verbatim
	// source, so reported positions match the user-visible code and the
	// timeout context covers everything evaluated after this point.
	fn, err := L.Load(strings.NewReader(def.Code), def.ID+".lua")
	if err != nil {
		serr := normalize(runCtx, err)
		e.logFailure(run, serr, time.Since(start))
		return nil, serr
	}

	// Positional arguments: exposed both as the args table and as chunk
	// varargs.
	argsTable := L.NewTable()
	luaArgs := make([]lua.LValue, 0, len(req.Args))
	for i, a := range req.Args {
		lv := goToLua(L, a)
		argsTable.RawSetInt(i+1, lv)
		luaArgs = append(luaArgs, lv)
	}
	L.SetGlobal("args", argsTable)

	err = L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, luaArgs...)
	if err != nil {
		serr := normalize(runCtx, err)
		e.logFailure(run, serr, time.Since(start))
		return nil, serr
	}

	ret := L.Get(-1)
	L.Pop(1)
	value := luaToGo(ret)

	dur := time.Since(start)
	e.logSuccess(run, value, dur)

	run.mu.Lock()
	logs := append([]string(nil), run.logs...)
	run.mu.Unlock()

	return &Result{Value: value, Logs: logs, Duration: dur.String()}, nil
}

// recordRun sets the last-executed timestamp for persisted scripts.
// Ad-hoc code has no stored definition and is skipped.
func (e *Engine) recordRun(req Request, def *store.ScriptDefinition, start time.Time) {
	if req.ScriptID == "" {
		return
	}
	if err := e.registry.RecordExecution(def.ID, start); err != nil {
		e.logger.Warn("record execution", "script", def.ID, "err", err)
	}
}

// resolve produces the effective definition for a run. Ad-hoc code gets
// the sentinel id and the current time as its last execution.
func (e *Engine) resolve(req Request, now time.Time) (*store.ScriptDefinition, error) {
	if req.ScriptID != "" {
		return e.registry.Get(req.ScriptID)
	}
	ts := now
	return &store.ScriptDefinition{
		ID:           InlineScriptID,
		Name:         InlineScriptID,
		Code:         req.Code,
		LastExecuted: &ts,
	}, nil
}

func (e *Engine) logSuccess(run *runState, value any, dur time.Duration) {
	// Serialization failure on a non-serializable value is accepted:
	// the marker is still logged, just without the payload.
	if data, err := json.Marshal(value); err == nil {
		e.logger.Info("script run complete", "script", run.def.ID, "result", string(data), "duration", dur)
	} else {
		e.logger.Info("script run complete", "script", run.def.ID, "duration", dur)
	}
}

func (e *Engine) logFailure(run *runState, serr *Error, dur time.Duration) {
	e.logger.Warn("script run failed",
		"script", run.def.ID,
		"kind", serr.Kind,
		"err", serr.Message,
		"stack", serr.Stack,
		"duration", dur)
}
