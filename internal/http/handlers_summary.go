package http

import (
	"context"
	"log/slog"
	"net/http"

	"gasto/internal/core"
	applog "gasto/internal/log"
)

// handleSummary serves ?month=YYYY-MM, the current month when omitted.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	month := sanitizeInput(r.URL.Query().Get("month"))
	if month == "" {
		month = core.CurrentMonth(s.deps.Now())
	}

	sum, err := s.monthSummary(r.Context(), month)
	if err != nil {
		writeDomainError(r.Context(), w, applog.OpSummary, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) monthSummary(ctx context.Context, month string) (core.MonthSummary, error) {
	if sum, ok := s.summaries.Get(month); ok {
		slog.DebugContext(ctx, "Summary cache hit", applog.FieldMonth, month)
		return sum, nil
	}

	sum, err := s.deps.Summary.MonthSummary(ctx, month)
	if err != nil {
		return core.MonthSummary{}, err
	}
	s.summaries.Set(month, sum)
	return sum, nil
}
