package manager

import "time"

// State represents the lifecycle state of the managed session.
type State string

const (
	StateEmpty    State = "empty"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateError    State = "error"
)

// ModelInfo is a minimal view of the loaded model and how it was loaded.
type ModelInfo struct {
	ID          string
	Name        string
	Path        string
	Quant       string
	Family      string
	ContextSize int
	Threads     int
	UseGPU      bool
	LoadedAt    time.Time
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
	Generating   bool
}

// LoadOptions override the configured load defaults for one load.
// Zero values keep the defaults.
type LoadOptions struct {
	ContextSize int
	Threads     int
	UseGPU      *bool
}
