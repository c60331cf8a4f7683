package api

import (
	"net/http"
)

// handleDomainLogs returns the query decision log, newest first. A keyword
// parameter switches to fuzzy search ranked by match score.
func (s *Server) handleDomainLogs(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	keyword := r.URL.Query().Get("keyword")

	logs, total, err := s.store.ListLogs(r.Context(), offset, limit, keyword)
	if err != nil {
		s.logger.Error("Failed to list domain logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list domain logs")
		return
	}

	resp := DomainLogsResponse{
		Logs: make([]DomainLogResponse, 0, len(logs)),
		Meta: PageMeta{Total: total, Offset: offset, Limit: limit},
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, convertDomainLog(l))
	}

	s.writeJSON(w, http.StatusOK, resp)
}
