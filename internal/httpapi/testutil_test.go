package httpapi

import (
	"context"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/mx37/grapheneos-ai/internal/manager"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

type mockService struct {
	mu        sync.Mutex
	models    []types.Model
	status    types.StatusResponse
	info      types.ModelInfo
	infoErr   error
	ready     bool
	inferErr  error
	loadErr   error
	stopped   bool
	lastInfer types.InferRequest
	lastLoad  string
	lastOpts  manager.LoadOptions
	unloads   int
	inferCtx  context.Context
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) Info() (types.ModelInfo, error) {
	if m.infoErr != nil {
		return types.ModelInfo{}, m.infoErr
	}
	return m.info, nil
}

func (m *mockService) record(ctx context.Context, req types.InferRequest) {
	m.mu.Lock()
	m.lastInfer = req
	m.inferCtx = ctx
	m.mu.Unlock()
}

// Infer writes two chunks and a final line unless inferErr is set.
func (m *mockService) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	m.record(ctx, req)
	if m.inferErr != nil {
		return m.inferErr
	}
	enc := json.NewEncoder(w)
	for _, tok := range []string{"Hi", " there"} {
		_ = enc.Encode(types.TokenLine{Token: tok})
		if flush != nil {
			flush()
		}
	}
	_ = enc.Encode(types.FinalLine{Done: true, ID: "op", Content: "Hi there", FinishReason: "stop"})
	if flush != nil {
		flush()
	}
	return nil
}

func (m *mockService) Complete(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	m.record(ctx, req)
	if m.inferErr != nil {
		return types.InferResponse{}, m.inferErr
	}
	return types.InferResponse{ID: "op", Content: "Hi there", FinishReason: "stop"}, nil
}

func (m *mockService) Load(ctx context.Context, id string, opts manager.LoadOptions) error {
	m.lastLoad, m.lastOpts = id, opts
	return m.loadErr
}

func (m *mockService) Switch(ctx context.Context, id string, opts manager.LoadOptions) (string, error) {
	m.lastLoad, m.lastOpts = id, opts
	if m.loadErr != nil {
		return "", m.loadErr
	}
	return "op-1", nil
}

func (m *mockService) Unload() error {
	m.unloads++
	return nil
}

func (m *mockService) Stop() bool { return m.stopped }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }
