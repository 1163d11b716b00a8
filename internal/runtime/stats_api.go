package runtime

import (
	"net/http"

	"github.com/drblury/pktflow/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/pktflow/internal/runtime/metrics"
)

type snapshotter interface {
	Snapshot() metricspkg.Snapshot
}

// registerStatsAPI mounts the JSON stats endpoints next to /metrics.
func (s *Service) registerStatsAPI() {
	if s.Conf == nil || !s.Conf.MetricsEnabled || s.Conf.MetricsPort <= 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/api/packets", http.HandlerFunc(s.handleGetPackets))
}

// Handlers returns the registered packet handlers and their stats.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]*HandlerInfo(nil), s.handlers...)
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handlers := s.Handlers()
	if handlers == nil {
		handlers = []*HandlerInfo{}
	}
	s.writeJSON(w, handlers)
}

func (s *Service) handleGetPackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.recorder.(snapshotter)
	if !ok {
		http.Error(w, "packet counters are not available", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap.Snapshot())
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
