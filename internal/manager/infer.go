package manager

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/mx37/grapheneos-ai/internal/session"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

// Infer runs one generation and streams it to w as NDJSON: one TokenLine per
// chunk, then a FinalLine. flush, when non-nil, is called after every line.
//
// Errors raised before anything is written are returned so the caller can
// pick a status code. A failure mid-stream is reported in the final line's
// error field instead, since the status has already been sent.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	release, err := m.beginGeneration(ctx)
	if err != nil {
		return err
	}
	defer release()

	modelID, err := m.resolveForInfer(ctx, req.Model)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	var writeErr error
	sink := func(chunk string) {
		if writeErr != nil {
			return
		}
		if err := enc.Encode(types.TokenLine{Token: chunk}); err != nil {
			// Client is gone; nobody will read the rest.
			writeErr = err
			m.sess.RequestStop()
			return
		}
		if flush != nil {
			flush()
		}
	}

	id := newOpID()
	res, genErr := m.generate(ctx, id, modelID, req, sink)
	if writeErr != nil {
		return writeErr
	}
	var gerr *session.GenerationError
	if genErr != nil && !errors.As(genErr, &gerr) {
		return classify(genErr, modelID)
	}
	final := types.FinalLine{
		Done:         true,
		ID:           id,
		Model:        modelID,
		Content:      res.Text,
		FinishReason: string(res.Finish),
		Usage:        usageOf(res),
	}
	if gerr != nil {
		final.Error = gerr.Error()
	}
	if err := enc.Encode(final); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}

// Complete runs one generation and returns the whole text at once.
func (m *Manager) Complete(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	release, err := m.beginGeneration(ctx)
	if err != nil {
		return types.InferResponse{}, err
	}
	defer release()

	modelID, err := m.resolveForInfer(ctx, req.Model)
	if err != nil {
		return types.InferResponse{}, err
	}
	id := newOpID()
	res, genErr := m.generate(ctx, id, modelID, req, nil)
	var gerr *session.GenerationError
	if genErr != nil && !errors.As(genErr, &gerr) {
		return types.InferResponse{}, classify(genErr, modelID)
	}
	out := types.InferResponse{
		ID:           id,
		Model:        modelID,
		Content:      res.Text,
		FinishReason: string(res.Finish),
		Usage:        usageOf(res),
	}
	if gerr != nil {
		out.Error = gerr.Error()
	}
	return out, nil
}

// generate calls into the session and records the outcome. A
// GenerationError's partial result is returned as the result.
func (m *Manager) generate(ctx context.Context, id, modelID string, req types.InferRequest, sink session.Sink) (session.Result, error) {
	m.publish(Event{Name: EventGenerationStart, ModelID: modelID, Fields: map[string]any{"id": id}})
	inflightGenerations.Inc()
	res, err := m.sess.Generate(ctx, m.sessionRequest(req, sink))
	inflightGenerations.Dec()

	var gerr *session.GenerationError
	if errors.As(err, &gerr) {
		res = gerr.Partial
	}
	m.generationsTotal.Add(1)
	if res.Finish == session.FinishCancelled {
		m.cancelledTotal.Add(1)
	}
	if err != nil {
		m.mu.Lock()
		m.err = err.Error()
		m.mu.Unlock()
	}
	observeGeneration(res)

	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("id", id).Str("model", modelID).Str("finish", string(res.Finish)).
		Int("prompt_tokens", res.PromptTokens).Int("tokens", res.CompletionTokens).
		Dur("ttft", res.TTFT).Dur("took", res.Duration).Msg("generation finished")
	fields := map[string]any{
		"id":     id,
		"finish": string(res.Finish),
		"tokens": res.CompletionTokens,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.publish(Event{Name: EventGenerationDone, ModelID: modelID, Time: time.Now(), Fields: fields})
	return res, err
}
