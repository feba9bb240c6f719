package manager

import (
	"context"
	"time"
)

// Switch starts loading modelID in the background and returns an operation
// id right away. Completion is reported through switch_done or switch_error
// events carrying that id. Unknown ids fail synchronously.
func (m *Manager) Switch(ctx context.Context, modelID string, opts LoadOptions) (string, error) {
	if modelID == "" {
		modelID = m.defaultModel
		if modelID == "" {
			return "", noModelError{}
		}
	}
	if _, ok := m.getModelByID(modelID); !ok {
		return "", ErrModelNotFound(modelID)
	}
	op := newOpID()
	// The load outlives the request that started it.
	bg := context.WithoutCancel(ctx)
	go func() {
		start := time.Now()
		err := m.Load(bg, modelID, opts)
		fields := map[string]any{"op_id": op, "took_ms": time.Since(start).Milliseconds()}
		if err != nil {
			fields["error"] = err.Error()
			m.publish(Event{Name: EventSwitchError, ModelID: modelID, Fields: fields})
			return
		}
		m.publish(Event{Name: EventSwitchDone, ModelID: modelID, Fields: fields})
	}()
	return op, nil
}

// Stop asks the running generation to end after its current token. It
// reports whether a generation was running. Calling it when idle is harmless.
func (m *Manager) Stop() bool {
	running := m.sess.Generating()
	m.sess.RequestStop()
	if running {
		m.publish(Event{Name: EventStopRequested, ModelID: m.currentID()})
	}
	return running
}
