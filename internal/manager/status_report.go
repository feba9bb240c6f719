package manager

import (
	"time"

	"github.com/mx37/grapheneos-ai/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		State:      m.state,
		Err:        m.err,
		Generating: m.sess.Generating(),
	}
	if m.cur != nil {
		cp := *m.cur
		s.CurrentModel = &cp
	}
	return s
}

// Status builds the GET /status payload. It never blocks on the session.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:            string(m.state),
		Engine:           m.engine,
		Generating:       m.sess.Generating(),
		Phase:            m.sess.Phase().String(),
		MemoryBytes:      m.sess.MemoryUsage(),
		QueueLen:         len(m.queueCh),
		MaxQueueDepth:    m.maxQueueDepth,
		LastError:        m.err,
		UptimeSeconds:    int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:   now.Unix(),
		LoadsTotal:       m.loadsTotal.Load(),
		GenerationsTotal: m.generationsTotal.Load(),
		CancelledTotal:   m.cancelledTotal.Load(),
	}
	if m.cur != nil {
		resp.Model = &types.LoadedModel{
			ID:          m.cur.ID,
			Path:        m.cur.Path,
			ContextSize: m.cur.ContextSize,
			Threads:     m.cur.Threads,
			UseGPU:      m.cur.UseGPU,
			LoadedAt:    m.cur.LoadedAt.Unix(),
		}
	}
	return resp
}

// Info describes the loaded model as reported by the engine.
func (m *Manager) Info() (types.ModelInfo, error) {
	info, err := m.sess.Info()
	if err != nil {
		return types.ModelInfo{}, classify(err, "")
	}
	return types.ModelInfo{
		ID:           m.currentID(),
		Path:         info.Path,
		Description:  info.Description,
		Architecture: info.Architecture,
		Params:       info.Params,
		ContextSize:  info.ContextSize,
		TrainContext: info.TrainContext,
		VocabSize:    info.VocabSize,
		SizeBytes:    info.SizeBytes,
		MemoryBytes:  m.sess.MemoryUsage(),
	}, nil
}
