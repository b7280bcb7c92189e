package api

import (
	"net/http"

	"github.com/rpattn/lexsign/internal/lifecycle"
	"github.com/rpattn/lexsign/internal/provider"
	"github.com/rpattn/lexsign/pkg/httpx"
)

type createSubmissionRequest struct {
	TemplateID *int64 `json:"templateId"`
	SendEmail  *bool  `json:"sendEmail"`
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req createSubmissionRequest
	if r.ContentLength != 0 {
		if err := httpx.ReadJSON(r, &req); err != nil {
			badRequest(w, err.Error(), nil)
			return
		}
	}

	in := lifecycle.SubmissionInput{TemplateID: s.defaultTemplateID, SendEmail: true}
	if req.TemplateID != nil {
		in.TemplateID = *req.TemplateID
	}
	if req.SendEmail != nil {
		in.SendEmail = *req.SendEmail
	}
	if in.TemplateID <= 0 {
		badRequest(w, "templateId is required", nil)
		return
	}

	doc, err := s.engine.CreateSubmission(r.Context(), actor, id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, doc)
}

func (s *Server) submissionStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	view, err := s.engine.SubmissionStatus(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) embedInfo(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	info, err := s.engine.EmbedInfo(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) signedDocuments(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	docs, err := s.engine.SignedDocuments(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []provider.SignedDocument{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}
