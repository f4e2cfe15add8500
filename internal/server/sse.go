package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleProgressStream serves the tenant's live progress feed as
// server-sent events. A connection frame is sent immediately so clients
// can confirm the subscription before any job activity.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, cancel := s.bus.Subscribe(tenantID)
	defer cancel()

	if err := writeSSE(w, progress.Connected()); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				s.logger.Debug("sse write failed",
					zap.String("tenant_id", tenantID), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev progress.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

// handleProgressLatest returns the durable status rows so reconnecting
// clients can render current state without waiting for the next event.
// With process_type it returns that single row.
func (s *Server) handleProgressLatest(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	if pt := r.URL.Query().Get("process_type"); pt != "" {
		if pt != progress.ProcessUpload && pt != progress.ProcessExtraction {
			s.writeError(w, http.StatusBadRequest, "unknown process_type")
			return
		}
		st, err := s.store.GetProcessStatus(r.Context(), tenantID, pt)
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no status recorded")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to load process status")
			return
		}
		s.writeJSON(w, http.StatusOK, st)
		return
	}
	out := make(map[string]*types.ProcessStatus, 2)
	for _, pt := range []string{progress.ProcessUpload, progress.ProcessExtraction} {
		st, err := s.store.GetProcessStatus(r.Context(), tenantID, pt)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to load process status")
			return
		}
		out[pt] = st
	}
	s.writeJSON(w, http.StatusOK, out)
}
