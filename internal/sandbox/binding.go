package sandbox

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"scripthub/internal/store"
)

// maxHTTPBody caps response bodies handed to scripts.
const maxHTTPBody = 1 << 20

// bind injects the capability surface into a run's VM. The injected
// name set is a versioned public contract: removing an entry is a
// breaking change for stored scripts.
func (e *Engine) bind(L *lua.LState, run *runState) {
	// args is set by Run once the request values are converted; an empty
	// table here keeps argument-less scripts from indexing nil.
	L.SetGlobal("args", L.NewTable())

	// Structured log, always recorded locally, streamed when realtime.
	logFn := L.NewFunction(func(L *lua.LState) int {
		e.log(run, joinArgs(L))
		return 0
	})
	L.SetGlobal("log", logFn)

	// Console-like shim routing log/error/info through the same log.
	console := L.NewTable()
	console.RawSetString("log", logFn)
	console.RawSetString("error", logFn)
	console.RawSetString("info", logFn)
	L.SetGlobal("console", console)

	e.bindHTTP(L, run)
	e.bindMetadata(L, run)
	e.bindHome(L, run)
	e.bindTokens(L, run)
	e.bindGlobalNS(L, run)

	// wait(ms) — delay primitive, interruptible by the run deadline.
	L.SetGlobal("wait", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckNumber(1)
		timer := time.NewTimer(time.Duration(float64(ms)) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-run.ctx.Done():
			L.RaiseError("%s", run.ctx.Err().Error())
		}
		return 0
	}))
}

// bindHTTP registers the http client and URL-query helper.
func (e *Engine) bindHTTP(L *lua.LState, run *runState) {
	mod := L.NewTable()

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		target := L.CheckString(1)
		return e.httpDo(L, run, http.MethodGet, target, "", "")
	}))

	mod.RawSetString("post", L.NewFunction(func(L *lua.LState) int {
		target := L.CheckString(1)
		body := L.CheckString(2)
		contentType := L.OptString(3, "application/json")
		return e.httpDo(L, run, http.MethodPost, target, body, contentType)
	}))

	L.SetGlobal("http", mod)

	query := L.NewTable()
	query.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		values := url.Values{}
		tbl.ForEach(func(k, v lua.LValue) {
			values.Set(k.String(), v.String())
		})
		L.Push(lua.LString(values.Encode()))
		return 1
	}))
	L.SetGlobal("urlquery", query)
}

// httpDo performs a capability HTTP call. Failures are raised into the
// script and surface to the caller as runtime errors.
func (e *Engine) httpDo(L *lua.LState, run *runState, method, target, body, contentType string) int {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(run.ctx, method, target, reader)
	if err != nil {
		L.RaiseError("http %s %s: %s", method, target, err.Error())
		return 0
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		L.RaiseError("http %s %s: %s", method, target, err.Error())
		return 0
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		L.RaiseError("http %s %s: read body: %s", method, target, err.Error())
		return 0
	}

	L.Push(lua.LString(data))
	L.Push(lua.LNumber(resp.StatusCode))
	return 2
}

// bindMetadata sets the per-run metadata globals.
func (e *Engine) bindMetadata(L *lua.LState, run *runState) {
	L.SetGlobal("__filename__", lua.LString(run.def.ID+".lua"))
	L.SetGlobal("__script_id__", lua.LString(run.def.ID))

	if run.def.LastExecuted != nil {
		last := *run.def.LastExecuted
		L.SetGlobal("__last_executed__", lua.LNumber(last.UnixMilli()))
		L.SetGlobal("__ms_since_last_execution__", lua.LNumber(time.Since(last).Milliseconds()))
	} else {
		L.SetGlobal("__last_executed__", lua.LNil)
		L.SetGlobal("__ms_since_last_execution__", lua.LNil)
	}
}

// bindHome exposes the per-run host-API session.
func (e *Engine) bindHome(L *lua.LState, run *runState) {
	sayFn := L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		if err := run.session.Say(run.ctx, text); err != nil {
			L.RaiseError("say: %s", err.Error())
		}
		return 0
	})

	home := L.NewTable()
	home.RawSetString("say", sayFn)
	L.SetGlobal("home", home)

	// say(text) — speech-output shortcut
	L.SetGlobal("say", sayFn)
}

// bindTokens registers tag() and the deprecated setTagValue shim.
func (e *Engine) bindTokens(L *lua.LState, run *runState) {
	setToken := func(L *lua.LState, id string, v lua.LValue) {
		if err := e.tokens.Set(id, luaToGo(v)); err != nil {
			L.RaiseError("tag %s: %s", id, err.Error())
		}
	}

	L.SetGlobal("tag", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		setToken(L, id, L.Get(2))
		return 0
	}))

	// setTagValue(id, opts, value) predates tag() and is kept as a thin
	// forwarding adapter for stored scripts.
	L.SetGlobal("setTagValue", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		e.deprecatedTagOnce.Do(func() {
			e.logger.Warn("setTagValue is deprecated, use tag(id, value)")
		})
		setToken(L, id, L.Get(3))
		return 0
	}))
}

// bindGlobalNS exposes the cross-script key-value namespace. It is
// deliberately shared and unscoped across all scripts, last write wins.
func (e *Engine) bindGlobalNS(L *lua.LState, run *runState) {
	mod := L.NewTable()

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		value, err := e.store.GetGlobal(key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				L.Push(lua.LNil)
				return 1
			}
			L.RaiseError("global.get %s: %s", key, err.Error())
			return 0
		}
		L.Push(goToLua(L, value))
		return 1
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if err := e.store.SetGlobal(key, luaToGo(L.Get(2))); err != nil {
			L.RaiseError("global.set %s: %s", key, err.Error())
		}
		return 0
	}))

	mod.RawSetString("keys", L.NewFunction(func(L *lua.LState) int {
		keys, err := e.store.GlobalKeys()
		if err != nil {
			L.RaiseError("global.keys: %s", err.Error())
			return 0
		}
		tbl := L.NewTable()
		for i, k := range keys {
			tbl.RawSetInt(i+1, lua.LString(k))
		}
		L.Push(tbl)
		return 1
	}))

	L.SetGlobal("global", mod)
}

// joinArgs renders every argument of a capability call as one log line.
func joinArgs(L *lua.LState) string {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.Get(i).String())
	}
	return strings.Join(parts, " ")
}
