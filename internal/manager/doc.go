// Package manager fronts a single generation session for the HTTP and CLI
// layers. It resolves model ids against the registry, loads and unloads the
// model, admits at most one generation at a time behind a bounded queue, and
// reports status and lifecycle events.
//
// File layout:
//   - manager.go: Manager struct and small accessors.
//   - config.go: ManagerConfig and NewWithConfig.
//   - admission.go: queue and single-flight admission.
//   - ensure.go: EnsureModel and Load.
//   - unload.go: Unload.
//   - ops.go: Switch and Stop.
//   - infer.go: streamed and buffered generation.
//   - status_report.go: Snapshot, Status and Info.
//   - sanity.go: startup checks.
//   - metrics.go: generation and load metrics.
//   - events.go, eventpub_memory.go: lifecycle events.
package manager
