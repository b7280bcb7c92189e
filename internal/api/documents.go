package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/lexsign/internal/auth"
	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/lifecycle"
	lexmw "github.com/rpattn/lexsign/internal/middleware"
	"github.com/rpattn/lexsign/pkg/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createDocumentRequest struct {
	Title          string          `json:"title"`
	DocumentType   string          `json:"documentType"`
	TemplateFields json.RawMessage `json:"templateFields"`
	FieldValues    json.RawMessage `json:"fieldValues"`
}

type editDocumentRequest struct {
	Title          *string         `json:"title"`
	TemplateFields json.RawMessage `json:"templateFields"`
	FieldValues    json.RawMessage `json:"fieldValues"`
}

type partyRequest struct {
	ID    *uuid.UUID `json:"id"`
	Email string     `json:"email"`
}

func (p partyRequest) ref() lifecycle.PartyRef {
	return lifecycle.PartyRef{ID: p.ID, Email: p.Email}
}

type sendToPartyBRequest struct {
	PartyB partyRequest `json:"partyB"`
}

type sendToNotaryRequest struct {
	Notary partyRequest `json:"notary"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// signatureSummary is a signature without its payload.
type signatureSummary struct {
	ID         uuid.UUID              `json:"id"`
	SignerID   uuid.UUID              `json:"signerId"`
	Method     domain.SignatureMethod `json:"method"`
	CapturedAt time.Time              `json:"capturedAt"`
	SourceIP   string                 `json:"sourceIp"`
}

func summarize(sigs []domain.Signature) []signatureSummary {
	out := make([]signatureSummary, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, signatureSummary{
			ID:         sig.ID,
			SignerID:   sig.SignerID,
			Method:     sig.Method,
			CapturedAt: sig.CapturedAt,
			SourceIP:   sig.SourceIP,
		})
	}
	return out
}

type documentListItem struct {
	domain.Document
	Signatures []signatureSummary `json:"signatures"`
}

type documentListResponse struct {
	Documents []documentListItem `json:"documents"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// actorAndID resolves the authenticated actor and the {id} path parameter.
func (s *Server) actorAndID(w http.ResponseWriter, r *http.Request) (domain.Actor, uuid.UUID, bool) {
	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return domain.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "document id must be a UUID", nil)
		return domain.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func (s *Server) checkContent(w http.ResponseWriter, templateFields, fieldValues json.RawMessage) bool {
	result := s.content.Validate(templateFields, fieldValues)
	if !result.IsValid {
		badRequest(w, "document content is invalid", result.Errors)
		return false
	}
	return true
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createDocumentRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		badRequest(w, err.Error(), nil)
		return
	}
	if !s.checkContent(w, req.TemplateFields, req.FieldValues) {
		return
	}

	doc, err := s.engine.Create(r.Context(), actor, lifecycle.CreateInput{
		Title:          req.Title,
		DocumentType:   req.DocumentType,
		TemplateFields: req.TemplateFields,
		FieldValues:    req.FieldValues,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, doc)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	var status *domain.DocumentStatus
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		parsed, err := domain.ParseDocumentStatus(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status = &parsed
	}
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, q.Get("offset"), "offset")
	if !ok {
		return
	}
	pageNum, ok := intParam(w, q.Get("page"), "page")
	if !ok {
		return
	}
	// page is 1-based and only used when offset is absent.
	if pageNum > 1 && q.Get("offset") == "" {
		size := limit
		if size == 0 {
			size = lifecycle.DefaultPageSize
		}
		offset = (pageNum - 1) * size
	}

	page, err := s.engine.List(r.Context(), actor, status, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := documentListResponse{
		Documents: make([]documentListItem, 0, len(page.Documents)),
		Total:     page.Total,
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	ids := make([]uuid.UUID, len(page.Documents))
	for i, doc := range page.Documents {
		ids[i] = doc.ID
	}
	sigs := make([][]domain.Signature, len(ids))
	if loader := lexmw.SignatureLoaderFromContext(r.Context()); loader != nil && len(ids) > 0 {
		if sigs, err = loader.LoadMany(r.Context(), ids); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	for i, doc := range page.Documents {
		resp.Documents = append(resp.Documents, documentListItem{Document: doc, Signatures: summarize(sigs[i])})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(w, name+" must be a non-negative integer", nil)
		return 0, false
	}
	return n, true
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	doc, err := s.engine.Get(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) editDocument(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req editDocumentRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		badRequest(w, err.Error(), nil)
		return
	}

	template := req.TemplateFields
	if template == nil && req.FieldValues != nil {
		current, err := s.engine.Get(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		template = current.TemplateFields
	}
	if !s.checkContent(w, template, req.FieldValues) {
		return
	}

	doc, err := s.engine.Edit(r.Context(), actor, id, lifecycle.EditInput{
		Title:          req.Title,
		TemplateFields: req.TemplateFields,
		FieldValues:    req.FieldValues,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Delete(r.Context(), actor, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendToPartyB(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req sendToPartyBRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		badRequest(w, err.Error(), nil)
		return
	}
	doc, err := s.engine.SendToPartyB(r.Context(), actor, id, req.PartyB.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) sendToNotary(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req sendToNotaryRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		badRequest(w, err.Error(), nil)
		return
	}
	doc, err := s.engine.SendToNotary(r.Context(), actor, id, req.Notary.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.ReadJSON(r, &req); err != nil {
			badRequest(w, err.Error(), nil)
			return
		}
	}
	doc, err := s.engine.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}
