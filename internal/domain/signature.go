package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignatureMethod records how a signature was captured.
type SignatureMethod string

const (
	SignatureDrawn    SignatureMethod = "DRAWN"
	SignatureTyped    SignatureMethod = "TYPED"
	SignatureUploaded SignatureMethod = "UPLOADED"
)

// ParseSignatureMethod validates a capture method.
func ParseSignatureMethod(value string) (SignatureMethod, error) {
	method := SignatureMethod(strings.ToUpper(strings.TrimSpace(value)))
	switch method {
	case SignatureDrawn, SignatureTyped, SignatureUploaded:
		return method, nil
	}
	return "", Reject(ErrValidation, "unknown signature method %q", value)
}

// Signature is immutable once recorded. At most one exists per (DocumentID, SignerID).
type Signature struct {
	ID          uuid.UUID       `json:"id"`
	DocumentID  uuid.UUID       `json:"documentId"`
	SignerID    uuid.UUID       `json:"signerId"`
	Method      SignatureMethod `json:"method"`
	Payload     []byte          `json:"payload"`
	CapturedAt  time.Time       `json:"capturedAt"`
	SourceIP    string          `json:"sourceIp"`
	SourceAgent string          `json:"sourceAgent"`
}

// NewSignature validates and builds a signature ready to be recorded.
func NewSignature(documentID, signerID uuid.UUID, method SignatureMethod, payload []byte, sourceIP, sourceAgent string, now time.Time) (Signature, error) {
	if documentID == uuid.Nil || signerID == uuid.Nil {
		return Signature{}, Reject(ErrValidation, "document and signer are required")
	}
	if _, err := ParseSignatureMethod(string(method)); err != nil {
		return Signature{}, err
	}
	if len(payload) == 0 {
		return Signature{}, ErrEmptyPayload
	}
	if strings.TrimSpace(sourceIP) == "" {
		sourceIP = "unknown"
	}
	if strings.TrimSpace(sourceAgent) == "" {
		sourceAgent = "unknown"
	}
	return Signature{
		ID:          uuid.New(),
		DocumentID:  documentID,
		SignerID:    signerID,
		Method:      method,
		Payload:     append([]byte(nil), payload...),
		CapturedAt:  now,
		SourceIP:    sourceIP,
		SourceAgent: sourceAgent,
	}, nil
}
