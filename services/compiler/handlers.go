package compilersvc

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/R3E-Network/compile_service/internal/errors"
	"github.com/R3E-Network/compile_service/internal/httputil"
)

// Response headers set on a successful compile.
const (
	WasmExportsHeader = "X-Wasm-Exports"
	helloText         = "Hello, World!"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

func (s *Service) handleHello(w http.ResponseWriter, r *http.Request) {
	httputil.WriteText(w, http.StatusOK, helloText)
}

func (s *Service) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := httputil.DecodeJSON(w, r, s.maxRequestBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	art, err := s.Compile(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, errors.From(err))
		return
	}
	defer func() {
		if err := art.Close(); err != nil {
			s.Logger().WithContext(r.Context()).WithError(err).Warn("failed to release artifact")
		}
	}()

	w.Header().Set("Content-Type", httputil.WasmContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	w.Header().Set(httputil.ModelNameHeader, req.Name)
	if len(art.Exports) > 0 {
		w.Header().Set(WasmExportsHeader, strings.Join(art.Exports, ","))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, art); err != nil {
		s.Logger().WithContext(r.Context()).WithError(err).WithField("model", req.Name).Warn("artifact stream interrupted")
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err *errors.ServiceError) {
	if err.HTTPStatus < http.StatusInternalServerError {
		s.Logger().WithContext(r.Context()).WithField("code", err.Code).Debug(err.Message)
	}
	httputil.WriteError(w, err)
}
