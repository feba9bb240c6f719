package manager

// Unload stops any running generation, waits for it to exit and releases the
// model. It is a no-op when nothing is loaded. New generations are rejected
// with a too-busy error while the unload drains.
func (m *Manager) Unload() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	if m.cur == nil && !m.sess.IsLoaded() {
		m.mu.Unlock()
		return nil
	}
	modelID := m.currentIDLocked()
	m.state = StateDraining
	m.mu.Unlock()

	m.publish(Event{Name: EventUnloadStart, ModelID: modelID})
	m.sess.Unload()

	m.mu.Lock()
	m.cur = nil
	m.state = StateEmpty
	m.mu.Unlock()
	modelLoaded.Set(0)
	m.log.Info().Str("model", modelID).Msg("model unloaded")
	m.publish(Event{Name: EventUnloadDone, ModelID: modelID})
	return nil
}
