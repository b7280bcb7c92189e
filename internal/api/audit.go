package api

import (
	"fmt"
	"net/http"

	"github.com/rpattn/lexsign/internal/audit"
	"github.com/rpattn/lexsign/pkg/httpx"
)

func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	_, entries, err := s.engine.AuditTrail(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) auditTrailXLSX(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	doc, entries, err := s.engine.AuditTrail(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := audit.ExportXLSX(doc, entries)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("export audit trail: %w", err))
		return
	}

	w.Header().Set("Content-Type", audit.XLSXMediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.xlsx"`, doc.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
