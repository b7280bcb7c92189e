package api

import (
	"net/http"

	"github.com/rpattn/lexsign/internal/auth"
	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/lifecycle"
	"github.com/rpattn/lexsign/pkg/httpx"
)

type signatureRequest struct {
	Method        string `json:"method"`
	SignatureData string `json:"signatureData"`
}

func (s signatureRequest) input() lifecycle.SignatureInput {
	return lifecycle.SignatureInput{
		Method:  domain.SignatureMethod(s.Method),
		Payload: []byte(s.SignatureData),
	}
}

type addSignatureResponse struct {
	Signature signatureSummary `json:"signature"`
	Document  domain.Document  `json:"document"`
}

type notarizeRequest struct {
	Signature           signatureRequest `json:"signature"`
	IDVerified          bool             `json:"idVerified"`
	AddressVerified     bool             `json:"addressVerified"`
	WillingnessVerified bool             `json:"willingnessVerified"`
	Notes               string           `json:"notes"`
}

func (s *Server) addSignature(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req signatureRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		badRequest(w, err.Error(), nil)
		return
	}
	sig, doc, err := s.engine.AddSignature(r.Context(), actor, id, req.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, addSignatureResponse{
		Signature: summarize([]domain.Signature{sig})[0],
		Document:  doc,
	})
}

func (s *Server) listSignatures(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	sigs, err := s.engine.Signatures(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"signatures": summarize(sigs)})
}

func (s *Server) notarize(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndID(w, r)
	if !ok {
		return
	}
	var req notarizeRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		badRequest(w, err.Error(), nil)
		return
	}
	doc, err := s.engine.Notarize(r.Context(), actor, id, lifecycle.NotarizeInput{
		Signature:           req.Signature.input(),
		IDVerified:          req.IDVerified,
		AddressVerified:     req.AddressVerified,
		WillingnessVerified: req.WillingnessVerified,
		Notes:               req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) pendingForNotary(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.engine.PendingForNotary(r.Context(), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) notaryStats(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.engine.NotaryStats(r.Context(), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}
