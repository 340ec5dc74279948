package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stayward: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func statusIs(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsLocked reports whether err is a rejection caused by the record lock.
func IsLocked(err error) bool { return statusIs(err, http.StatusForbidden) }

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsConflict reports whether err is a 409 (duplicate pending petition or a
// petition that was already reviewed).
func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

// Stay is a guest booking.
type Stay struct {
	ID                string     `json:"id"`
	ApartmentID       string     `json:"apartment_id"`
	GuestName         string     `json:"guest_name"`
	Notes             string     `json:"notes"`
	Status            string     `json:"status"`
	ScheduledCheckIn  time.Time  `json:"scheduled_check_in"`
	ScheduledCheckOut time.Time  `json:"scheduled_check_out"`
	ActualCheckIn     *time.Time `json:"actual_check_in,omitempty"`
	ActualCheckOut    *time.Time `json:"actual_check_out,omitempty"`
	IsLocked          bool       `json:"is_locked"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewStay is the payload for CreateStay.
type NewStay struct {
	ApartmentID       string    `json:"apartment_id"`
	GuestName         string    `json:"guest_name"`
	Notes             string    `json:"notes,omitempty"`
	ScheduledCheckIn  time.Time `json:"scheduled_check_in"`
	ScheduledCheckOut time.Time `json:"scheduled_check_out"`
}

// StayUpdate is the payload for UpdateStay. Nil fields are left unchanged.
type StayUpdate struct {
	GuestName         *string    `json:"guest_name,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	Status            *string    `json:"status,omitempty"`
	ScheduledCheckIn  *time.Time `json:"scheduled_check_in,omitempty"`
	ScheduledCheckOut *time.Time `json:"scheduled_check_out,omitempty"`
}

// Petition decisions.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Petition is an unlock request for a locked stay.
type Petition struct {
	ID            string     `json:"id"`
	RecordID      string     `json:"record_id"`
	RequesterID   string     `json:"requester_id"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	ReviewerNotes *string    `json:"reviewer_notes,omitempty"`
	ReviewerID    *string    `json:"reviewer_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

// PetitionPage is one page of ListPetitions.
type PetitionPage struct {
	Petitions  []Petition `json:"data"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// PetitionFilter selects petitions for ListPetitions.
type PetitionFilter struct {
	Status   string
	RecordID string
	Page     int
	Limit    int
}

// AuditEntry is one entry of the hash-chained audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	Seq          int64          `json:"seq"`
	ActorID      *string        `json:"actor_id"`
	Action       string         `json:"action"`
	EntityName   string         `json:"entity_name"`
	EntityID     *string        `json:"entity_id"`
	Metadata     map[string]any `json:"metadata"`
	Timestamp    time.Time      `json:"timestamp"`
	Hash         string         `json:"hash"`
	PreviousHash *string        `json:"previous_hash"`
}

// AuditPage is one page of ListAudit, newest first.
type AuditPage struct {
	Entries    []AuditEntry `json:"data"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	Total      int          `json:"total"`
	TotalPages int          `json:"total_pages"`
}

// AuditFilter selects audit entries for ListAudit.
type AuditFilter struct {
	Actor  string
	Entity string
	Action string
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

// IntegrityReport is the result of VerifyAudit.
type IntegrityReport struct {
	Valid        bool     `json:"valid"`
	OffendingIDs []string `json:"offending_ids"`
	Entries      int      `json:"entries"`
}

// Client is the Stayward SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a user token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTokenFile reads the bearer token from a file written by SaveToken.
func WithTokenFile(path string) Option {
	return func(c *Client) error {
		tok, err := LoadToken(path)
		if err != nil {
			return err
		}
		c.bearerToken = tok
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CreateStay creates a stay.
func (c *Client) CreateStay(ctx context.Context, s NewStay) (*Stay, error) {
	return fetch[Stay](ctx, c, http.MethodPost, "/api/v1/stays", nil, s)
}

// GetStay returns a stay. Reading evaluates its lock.
func (c *Client) GetStay(ctx context.Context, id string) (*Stay, error) {
	return fetch[Stay](ctx, c, http.MethodGet, "/api/v1/stays/"+url.PathEscape(id), nil, nil)
}

// UpdateStay edits a stay. A locked stay yields an error for which IsLocked
// is true.
func (c *Client) UpdateStay(ctx context.Context, id string, u StayUpdate) (*Stay, error) {
	return fetch[Stay](ctx, c, http.MethodPatch, "/api/v1/stays/"+url.PathEscape(id), nil, u)
}

// DeleteStay deletes a stay. Administrators only.
func (c *Client) DeleteStay(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/stays/"+url.PathEscape(id), nil, nil, nil)
}

// CheckIn records the guest's arrival.
func (c *Client) CheckIn(ctx context.Context, id string) (*Stay, error) {
	return fetch[Stay](ctx, c, http.MethodPost, "/api/v1/stays/"+url.PathEscape(id)+"/check-in", nil, nil)
}

// CheckOut records the guest's departure.
func (c *Client) CheckOut(ctx context.Context, id string) (*Stay, error) {
	return fetch[Stay](ctx, c, http.MethodPost, "/api/v1/stays/"+url.PathEscape(id)+"/check-out", nil, nil)
}

// SubmitPetition files an unlock petition for a locked stay.
func (c *Client) SubmitPetition(ctx context.Context, recordID, reason string) (*Petition, error) {
	body := map[string]string{"record_id": recordID, "reason": reason}
	return fetch[Petition](ctx, c, http.MethodPost, "/api/v1/petitions", nil, body)
}

// GetPetition returns a petition.
func (c *Client) GetPetition(ctx context.Context, id string) (*Petition, error) {
	return fetch[Petition](ctx, c, http.MethodGet, "/api/v1/petitions/"+url.PathEscape(id), nil, nil)
}

// ListPetitions lists petitions, newest first. Administrators only.
func (c *Client) ListPetitions(ctx context.Context, f PetitionFilter) (*PetitionPage, error) {
	q := url.Values{}
	setIf(q, "status", f.Status)
	setIf(q, "record_id", f.RecordID)
	setInt(q, "page", f.Page)
	setInt(q, "limit", f.Limit)

	return fetch[PetitionPage](ctx, c, http.MethodGet, "/api/v1/petitions", q, nil)
}

// ReviewPetition approves or rejects a pending petition. Administrators only.
func (c *Client) ReviewPetition(ctx context.Context, id, decision, notes string) (*Petition, error) {
	body := map[string]string{"decision": decision, "notes": notes}
	return fetch[Petition](ctx, c, http.MethodPatch, "/api/v1/petitions/"+url.PathEscape(id)+"/review", nil, body)
}

// ListAudit returns a page of audit entries. Administrators only.
func (c *Client) ListAudit(ctx context.Context, f AuditFilter) (*AuditPage, error) {
	q := url.Values{}
	setIf(q, "actor", f.Actor)
	setIf(q, "entity", f.Entity)
	setIf(q, "action", f.Action)
	if !f.From.IsZero() {
		q.Set("from", f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.UTC().Format(time.RFC3339Nano))
	}
	setInt(q, "page", f.Page)
	setInt(q, "limit", f.Limit)

	return fetch[AuditPage](ctx, c, http.MethodGet, "/api/v1/audit", q, nil)
}

// VerifyAudit asks the server to walk the audit chain. Administrators only.
func (c *Client) VerifyAudit(ctx context.Context) (*IntegrityReport, error) {
	return fetch[IntegrityReport](ctx, c, http.MethodGet, "/api/v1/audit/verify", nil, nil)
}

func fetch[T any](ctx context.Context, c *Client, method, path string, query url.Values, in any) (*T, error) {
	var out T
	if err := c.call(ctx, method, path, query, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}

func setInt(q url.Values, key string, val int) {
	if val > 0 {
		q.Set(key, strconv.Itoa(val))
	}
}
