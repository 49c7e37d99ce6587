package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"scripthub/internal/registry"
	"scripthub/internal/sandbox"
	"scripthub/internal/store"
	"scripthub/internal/token"
)

// runResponse is the wire shape of a run outcome. Failed runs still
// answer 200: the error is part of the result, not a transport fault.
type runResponse struct {
	OK       bool           `json:"ok"`
	Value    any            `json:"value,omitempty"`
	Logs     []string       `json:"logs,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Error    *sandbox.Error `json:"error,omitempty"`
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.registry.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	script, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
			return
		}
		s.logger.Error("get script", "id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

type createScriptRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var req createScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	script, err := s.registry.Create(req.Name, req.Code)
	if err != nil {
		s.logger.Error("create script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusCreated, script)
}

func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req registry.Partial
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	script, err := s.registry.Update(id, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
			return
		}
		s.logger.Error("update script", "id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Delete(id); err != nil {
		s.logger.Error("delete script", "id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearchScripts(w http.ResponseWriter, r *http.Request) {
	matches, err := s.registry.Search(r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("search scripts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, matches)
}

type runRequest struct {
	Code     string `json:"code,omitempty"`
	Args     []any  `json:"args,omitempty"`
	Realtime bool   `json:"realtime,omitempty"`
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// An absent or empty body means "run with no arguments".
	var req runRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = runRequest{}
	}

	s.respondRun(w, r, sandbox.Request{ScriptID: id, Args: req.Args, Realtime: req.Realtime})
}

func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	s.respondRun(w, r, sandbox.Request{Code: req.Code, Args: req.Args, Realtime: req.Realtime})
}

func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, req sandbox.Request) {
	res, err := s.engine.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
			return
		}
		var serr *sandbox.Error
		if errors.As(err, &serr) {
			s.writeJSON(w, http.StatusOK, runResponse{OK: false, Error: serr})
			return
		}
		s.logger.Error("run script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, runResponse{
		OK:       true,
		Value:    res.Value,
		Logs:     res.Logs,
		Duration: res.Duration,
	})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.tokens.List()
	if err != nil {
		s.logger.Error("list tokens", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, tokens)
}

type setTokenRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req setTokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.tokens.Set(id, req.Value); err != nil {
		if errors.Is(err, token.ErrUnsupportedType) {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value must be a boolean, number or string"})
			return
		}
		s.logger.Error("set token", "id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
