package http

import (
	"net/http"

	applog "gasto/internal/log"
)

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Sync.Status(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpSync, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSync runs one cycle now and returns its report.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Sync.Sync(r.Context())
	if err != nil {
		writeSyncError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
