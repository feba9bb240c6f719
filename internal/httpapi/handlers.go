package httpapi

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mx37/grapheneos-ai/internal/manager"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

type handlers struct {
	svc Service
}

func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ModelsResponse{Models: h.svc.ListModels()})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Status())
}

func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Info()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, info)
}

// decodeJSONBody enforces the content type and body limit, then decodes
// into v. An empty body leaves v untouched when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if allowEmpty && r.ContentLength == 0 {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	// Oversized bodies surface as a decode error; report 400 without size details.
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}
	if req.ContextSize < 0 || req.Threads < 0 {
		writeJSONError(w, http.StatusBadRequest, "context_size and threads must not be negative")
		return
	}
	opts := manager.LoadOptions{ContextSize: req.ContextSize, Threads: req.Threads, UseGPU: req.UseGPU}
	log := requestLogger(r)
	if req.Async {
		op, err := h.svc.Switch(r.Context(), req.Model, opts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		log.Info().Str("model", req.Model).Str("op_id", op).Msg("load queued")
		writeJSONStatus(w, http.StatusAccepted, types.LoadResponse{OpID: op, Model: req.Model, State: string(manager.StateLoading)})
		return
	}
	start := time.Now()
	if err := h.svc.Load(r.Context(), req.Model, opts); err != nil {
		status := writeServiceError(w, err)
		log.Error().Err(err).Int("status", status).Str("model", req.Model).Msg("load failed")
		return
	}
	st := h.svc.Status()
	resp := types.LoadResponse{Model: req.Model, State: st.State}
	if st.Model != nil {
		resp.Model = st.Model.ID
	}
	log.Info().Str("model", resp.Model).Dur("dur", time.Since(start)).Msg("load done")
	writeJSON(w, resp)
}

func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unload(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, h.svc.Status())
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.StopResponse{Stopped: h.svc.Stop()})
}

// validateInfer rejects parameters the engine cannot honor.
func validateInfer(req types.InferRequest) string {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return "prompt is required"
	case req.MaxTokens < 0:
		return "max_tokens must not be negative"
	case req.Temperature < 0 || math.IsNaN(req.Temperature):
		return "temperature must not be negative"
	case req.TopP < 0 || req.TopP > 1 || math.IsNaN(req.TopP):
		return "top_p must be within [0, 1]"
	}
	for _, s := range req.Stop {
		if s == "" {
			return "stop markers must not be empty"
		}
	}
	return ""
}

func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if msg := validateInfer(req); msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}

	lvl := requestLogLevel(r)
	log := requestLogger(r)
	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Str("path", r.URL.Path).Str("model", req.Model).Bool("stream", req.StreamEnabled()).Msg("infer start")
	}
	ctx, cancel := generationContext(r)
	defer cancel()

	status := http.StatusOK
	var err error
	if req.StreamEnabled() {
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &lineLogger{log: log})
		}
		err = h.svc.Infer(ctx, req, writer, flush)
	} else {
		var resp types.InferResponse
		resp, err = h.svc.Complete(ctx, req)
		if err == nil {
			writeJSON(w, resp)
		}
	}
	if err != nil {
		// Client disconnect or shutdown: nobody is listening for a status.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status = writeServiceError(w, err)
	}
	if lvl >= LevelError && err != nil {
		log.Error().Err(err).Int("status", status).Dur("dur", time.Since(start)).Msg("infer end")
		return
	}
	if lvl >= LevelInfo {
		log.Info().Int("status", status).Dur("dur", time.Since(start)).Msg("infer end")
	}
}
