// Package provider talks to the DocuSeal-compatible e-signature service.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"go.uber.org/zap"
)

const (
	defaultAPIURL      = "https://api.docuseal.com"
	defaultFormBaseURL = "https://docuseal.co"
	maxErrorBody       = 4 << 10
)

// Config holds the provider connection settings.
type Config struct {
	APIURL            string
	APIKey            string
	FormBaseURL       string
	DefaultTemplateID int64
	Timeout           time.Duration
}

// Submitter is one signer slot in a new submission.
type Submitter struct {
	Role  domain.SignerRole
	Name  string
	Email string
	Order int
}

// SubmissionRequest creates a submission from a template.
type SubmissionRequest struct {
	TemplateID int64
	Name       string
	Submitters []Submitter
	SendEmail  bool
}

// Submission is the result of creating a submission.
type Submission struct {
	ID         string
	Submitters map[domain.SignerRole]domain.SubmitterRef
}

// SubmitterStatus is the provider's view of a single submitter.
type SubmitterStatus struct {
	ID     int64  `json:"id,omitempty"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
	Role   string `json:"role,omitempty"`
}

// SubmissionStatus is the provider's view of a submission.
type SubmissionStatus struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Submitters []SubmitterStatus `json:"submitters,omitempty"`
}

// Completed reports whether the provider considers every submitter done.
func (s SubmissionStatus) Completed() bool {
	if strings.EqualFold(s.Status, "completed") {
		return true
	}
	if len(s.Submitters) == 0 {
		return false
	}
	for _, sub := range s.Submitters {
		if !strings.EqualFold(sub.Status, "completed") {
			return false
		}
	}
	return true
}

// SignedDocument is a downloadable artefact of a completed submission.
type SignedDocument struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Client is a small JSON client for the provider API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a client. A zero timeout falls back to 10 seconds.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.FormBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FormBaseURL), "/")
	if cfg.FormBaseURL == "" {
		cfg.FormBaseURL = defaultFormBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// DefaultTemplateID is used when a caller does not pick a template.
func (c *Client) DefaultTemplateID() int64 {
	return c.cfg.DefaultTemplateID
}

// EmbedURL builds the signing form URL for a submitter slug.
func (c *Client) EmbedURL(slug string) string {
	return c.cfg.FormBaseURL + "/s/" + url.PathEscape(slug)
}

// FormBaseURL is the root of the hosted signing form.
func (c *Client) FormBaseURL() string {
	return c.cfg.FormBaseURL
}

type submitterPayload struct {
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Order int    `json:"order"`
}

type createdSubmitter struct {
	ID           int64       `json:"id"`
	SubmissionID json.Number `json:"submission_id"`
	Slug         string      `json:"slug"`
	Role         string      `json:"role"`
}

// CreateSubmission creates a template submission and maps the returned submitters back to
// signer slots, by role name first and by request order otherwise.
func (c *Client) CreateSubmission(ctx context.Context, req SubmissionRequest) (Submission, error) {
	if !c.Configured() {
		return Submission{}, fmt.Errorf("%w: api key is not configured", domain.ErrExternalProvider)
	}
	templateID := req.TemplateID
	if templateID == 0 {
		templateID = c.cfg.DefaultTemplateID
	}
	if templateID == 0 {
		return Submission{}, domain.Reject(domain.ErrValidation, "template id is required")
	}

	submitters := make([]submitterPayload, 0, len(req.Submitters))
	for i, s := range req.Submitters {
		order := s.Order
		if order == 0 && i > 0 {
			order = i
		}
		submitters = append(submitters, submitterPayload{
			Role:  displayRole(s.Role),
			Name:  s.Name,
			Email: s.Email,
			Order: order,
		})
	}
	body := map[string]any{
		"template_id": templateID,
		"name":        req.Name,
		"send_email":  req.SendEmail,
		"order":       "preserved",
		"submitters":  submitters,
	}

	raw, err := c.do(ctx, http.MethodPost, "/submissions", body)
	if err != nil {
		return Submission{}, err
	}

	created, submissionID, err := decodeCreated(raw)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", domain.ErrExternalProvider, err)
	}

	out := Submission{ID: submissionID, Submitters: make(map[domain.SignerRole]domain.SubmitterRef, len(created))}
	for i, s := range created {
		role, ok := domain.ParseSignerRole(s.Role)
		if !ok && i < len(req.Submitters) {
			role, ok = req.Submitters[i].Role, true
		}
		if !ok {
			continue
		}
		out.Submitters[role] = domain.SubmitterRef{Slug: s.Slug, SubmitterID: s.ID}
	}
	if out.ID == "" {
		return Submission{}, fmt.Errorf("%w: response carried no submission id", domain.ErrExternalProvider)
	}
	c.logger.Info("provider submission created",
		zap.String("submission_id", out.ID),
		zap.Int("submitters", len(out.Submitters)),
	)
	return out, nil
}

// GetSubmission fetches the current status of a submission.
func (c *Client) GetSubmission(ctx context.Context, submissionID string) (SubmissionStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, "/submissions/"+url.PathEscape(submissionID), nil)
	if err != nil {
		return SubmissionStatus{}, err
	}
	var payload struct {
		ID         json.Number       `json:"id"`
		Status     string            `json:"status"`
		Submitters []SubmitterStatus `json:"submitters"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SubmissionStatus{}, fmt.Errorf("%w: failed to decode submission: %v", domain.ErrExternalProvider, err)
	}
	status := SubmissionStatus{
		ID:         payload.ID.String(),
		Status:     payload.Status,
		Submitters: payload.Submitters,
	}
	if status.ID == "" {
		status.ID = submissionID
	}
	return status, nil
}

// GetSubmissionDocuments lists the signed documents for a submission.
func (c *Client) GetSubmissionDocuments(ctx context.Context, submissionID string, merge bool) ([]SignedDocument, error) {
	path := "/submissions/" + url.PathEscape(submissionID) + "/documents"
	if merge {
		path += "?merge=true"
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Documents []SignedDocument `json:"documents"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: failed to decode documents: %v", domain.ErrExternalProvider, err)
	}
	if payload.Documents == nil {
		payload.Documents = []SignedDocument{}
	}
	return payload.Documents, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: api key is not configured", domain.ErrExternalProvider)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provider request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalProvider, err)
	}
	req.Header.Set("X-Auth-Token", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrExternalProvider, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrExternalProvider, err)
	}
	c.logger.Debug("provider request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode >= 300 {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrExternalProvider, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return raw, nil
}

// decodeCreated accepts both the array form and the object form of the create response.
func decodeCreated(raw []byte) ([]createdSubmitter, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []createdSubmitter
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, "", err
		}
		id := ""
		if len(list) > 0 {
			id = list[0].SubmissionID.String()
		}
		return list, id, nil
	}
	var obj struct {
		ID         json.Number        `json:"id"`
		Submitters []createdSubmitter `json:"submitters"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, "", err
	}
	return obj.Submitters, obj.ID.String(), nil
}

func displayRole(role domain.SignerRole) string {
	switch role {
	case domain.RolePartyA:
		return "Party A"
	case domain.RolePartyB:
		return "Party B"
	case domain.RoleNotary:
		return "Notary"
	}
	return string(role)
}

// ParseSubmissionID normalises ids that arrive either as JSON numbers or strings.
func ParseSubmissionID(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}
