package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Optional model identifier. If empty, the loaded model (or the server
	// default) is used.
	// example: qwen2.5-0.5b-instruct-q4_k_m
	Model string `json:"model,omitempty" example:"qwen2.5-0.5b-instruct-q4_k_m"`
	// Required prompt text to generate a completion for.
	// example: <|im_start|>user\nWrite a haiku about the ocean.<|im_end|>\n<|im_start|>assistant\n
	Prompt string `json:"prompt"`
	// Stream results as NDJSON lines. Defaults to true; false returns one
	// JSON object when generation ends.
	// example: true
	Stream *bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate. 0 uses the server default.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Optional stop markers replacing the server defaults. Output never
	// contains any part of a marker.
	// example: ["<|im_end|>","<|im_start|>"]
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 or omitted lets the engine choose.
	// example: 42
	Seed uint32 `json:"seed,omitempty" example:"42"`
}

// StreamEnabled reports whether the response should be streamed.
func (r InferRequest) StreamEnabled() bool { return r.Stream == nil || *r.Stream }

// TokenLine is one streamed NDJSON chunk.
type TokenLine struct {
	Token string `json:"token"`
}

// Usage contains token accounting and timings for one generation.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	TTFTMillis       int64 `json:"ttft_ms"`
	DurationMillis   int64 `json:"duration_ms"`
}

// FinalLine ends an NDJSON stream.
type FinalLine struct {
	Done         bool   `json:"done"`
	ID           string `json:"id"`
	Model        string `json:"model,omitempty"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
	// Set when generation failed after streaming started.
	Error string `json:"error,omitempty"`
}

// InferResponse is returned by POST /infer when streaming is disabled.
type InferResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model,omitempty"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
	Error        string `json:"error,omitempty"`
}

// LoadRequest asks the server to load a model from the registry.
type LoadRequest struct {
	// Model identifier; empty selects the configured default.
	// example: qwen2.5-0.5b-instruct-q4_k_m
	Model string `json:"model,omitempty"`
	// Context window size in tokens. 0 uses the server default.
	// example: 4096
	ContextSize int `json:"context_size,omitempty" example:"4096"`
	// CPU threads. 0 uses the server default.
	// example: 4
	Threads int `json:"threads,omitempty" example:"4"`
	// Offload layers to the accelerator. Omitted uses the server default.
	UseGPU *bool `json:"use_gpu,omitempty"`
	// Return immediately with an operation id instead of waiting.
	Async bool `json:"async,omitempty"`
}

// LoadResponse reports the outcome of POST /load.
type LoadResponse struct {
	// Operation id for async loads.
	OpID  string `json:"op_id,omitempty"`
	Model string `json:"model"`
	State string `json:"state"`
}

// StopResponse reports whether POST /stop interrupted a generation.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// LoadedModel describes the model currently held by the session.
type LoadedModel struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	ContextSize int    `json:"context_size"`
	Threads     int    `json:"threads"`
	UseGPU      bool   `json:"use_gpu"`
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall state: empty, loading, ready, draining or error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Engine serving generations (llama or replay).
	// example: llama
	Engine string `json:"engine" example:"llama"`
	// Loaded model, if any.
	Model *LoadedModel `json:"model,omitempty"`
	// Whether a generation is running.
	Generating bool `json:"generating"`
	// Generation loop phase (idle, sampling, decoding, ...).
	// example: idle
	Phase string `json:"phase" example:"idle"`
	// Context state size in bytes.
	// example: 25165824
	MemoryBytes int64 `json:"memory_bytes" example:"25165824"`
	// Requests waiting for the generation slot, including the running one.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// example: 120
	GenerationsTotal uint64 `json:"generations_total" example:"120"`
	// example: 4
	CancelledTotal uint64 `json:"cancelled_total" example:"4"`
}

// ModelInfo is returned by GET /info.
type ModelInfo struct {
	ID           string `json:"id,omitempty"`
	Path         string `json:"path"`
	Description  string `json:"description"`
	Architecture string `json:"architecture,omitempty"`
	Params       int64  `json:"n_params"`
	ContextSize  int    `json:"n_ctx"`
	TrainContext int    `json:"n_ctx_train,omitempty"`
	VocabSize    int    `json:"n_vocab"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	MemoryBytes  int64  `json:"memory_bytes"`
}
