// Package client provides the Evidentry Go SDK for managing councils,
// submitting decisions, and reading the evidence ledger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError is a structured error response from the Evidentry API.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("evidentry: %s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("evidentry: %s (HTTP %d)", e.Message, e.StatusCode)
}

// Council mirrors the council resource returned by the API.
type Council struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Status           string         `json:"status"`
	Quorum           int            `json:"quorum"`
	RequireUnanimous bool           `json:"require_unanimous"`
	Policy           ApprovalPolicy `json:"policy"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ApprovalPolicy holds the per-council governance switches.
type ApprovalPolicy struct {
	RejectionVeto          bool           `json:"rejection_veto"`
	LedgerObserverComments bool           `json:"ledger_observer_comments"`
	Extra                  map[string]any `json:"extra,omitempty"`
}

// Membership mirrors the membership resource returned by the API.
type Membership struct {
	ID        string     `json:"id"`
	CouncilID string     `json:"council_id"`
	UserID    string     `json:"user_id"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	Notes     string     `json:"notes,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Decision mirrors the decision resource returned by the API.
type Decision struct {
	ID                 string    `json:"id"`
	AssessmentID       string    `json:"assessment_id"`
	CouncilID          string    `json:"council_id"`
	MembershipID       string    `json:"membership_id"`
	Step               string    `json:"step"`
	Status             string    `json:"status"`
	Notes              string    `json:"notes,omitempty"`
	ReasonCodes        []string  `json:"reason_codes"`
	EvidenceSnapshotID *string   `json:"evidence_snapshot_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// LedgerEntry is one link of an assessment's hash chain.
type LedgerEntry struct {
	ID           string          `json:"id"`
	AssessmentID string          `json:"assessment_id"`
	Seq          int             `json:"seq"`
	CouncilID    *string         `json:"council_id,omitempty"`
	MembershipID *string         `json:"membership_id,omitempty"`
	ApprovalID   *string         `json:"approval_id,omitempty"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role"`
	Type         string          `json:"entry_type"`
	Payload      json.RawMessage `json:"payload"`
	PrevHash     *string         `json:"prev_hash"`
	Hash         string          `json:"hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// QuorumResult is the council's current verdict on an assessment.
type QuorumResult struct {
	Approved          bool `json:"approved"`
	QuorumMet         bool `json:"quorum_met"`
	TotalApprovals    int  `json:"total_approvals"`
	RequiredQuorum    int  `json:"required_quorum"`
	RequiresUnanimous bool `json:"requires_unanimous"`
	Evaluated         int  `json:"evaluated"`
}

// VerifyResult is the outcome of a full chain verification.
type VerifyResult struct {
	AssessmentID string `json:"assessment_id"`
	Verified     bool   `json:"verified"`
	Entries      int    `json:"entries"`
	FailureIndex *int   `json:"failure_index,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// CreateCouncilRequest is the payload for CreateCouncil.
type CreateCouncilRequest struct {
	Name             string         `json:"name"`
	Quorum           int            `json:"quorum"`
	RequireUnanimous bool           `json:"require_unanimous"`
	Policy           ApprovalPolicy `json:"policy"`
}

// UpdateCouncilRequest carries the optional fields for UpdateCouncil.
// Nil fields are left unchanged.
type UpdateCouncilRequest struct {
	Name             *string         `json:"name,omitempty"`
	Quorum           *int            `json:"quorum,omitempty"`
	RequireUnanimous *bool           `json:"require_unanimous,omitempty"`
	Policy           *ApprovalPolicy `json:"policy,omitempty"`
}

// AddMemberRequest is the payload for AddMember.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Notes  string `json:"notes,omitempty"`
}

// SubmitDecisionRequest is the payload for SubmitDecision.
type SubmitDecisionRequest struct {
	CouncilID          string   `json:"council_id"`
	MembershipID       string   `json:"membership_id"`
	Step               string   `json:"step"`
	Status             string   `json:"status"`
	Notes              string   `json:"notes,omitempty"`
	ReasonCodes        []string `json:"reason_codes,omitempty"`
	EvidenceSnapshotID *string  `json:"evidence_snapshot_id,omitempty"`
}

// DecisionResult bundles the three artifacts a decision submission produces.
type DecisionResult struct {
	Decision    *Decision     `json:"decision"`
	LedgerEntry *LedgerEntry  `json:"ledger_entry"`
	Quorum      *QuorumResult `json:"quorum"`
}

// AppendEntryRequest is the payload for AppendLedgerEntry.
type AppendEntryRequest struct {
	Type         string         `json:"entry_type"`
	Payload      map[string]any `json:"payload"`
	CouncilID    *string        `json:"council_id,omitempty"`
	MembershipID *string        `json:"membership_id,omitempty"`
}

// LedgerPage is one page of ledger entries. NextCursor is empty on the
// last page.
type LedgerPage struct {
	Entries    []LedgerEntry `json:"entries"`
	Count      int           `json:"count"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// LedgerListOptions filters and paginates LedgerEntries.
type LedgerListOptions struct {
	EntryType string
	Cursor    string
	Limit     int
}

// Client is the Evidentry SDK entry point.
type Client struct {
	baseURL     string
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

// WithBearerToken attaches the given token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a new Evidentry SDK Client connected to baseURL.
//
//	c, err := client.New("https://evidentry.example.com",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
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
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Councils ─────────────────────────────────────────────────────────────────

// CreateCouncil registers a new approval council. Requires an admin token.
func (c *Client) CreateCouncil(ctx context.Context, req CreateCouncilRequest) (*Council, error) {
	var resp struct {
		Council *Council `json:"council"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/councils", req, &resp); err != nil {
		return nil, err
	}
	return resp.Council, nil
}

// GetCouncil fetches a council by its UUID.
func (c *Client) GetCouncil(ctx context.Context, id string) (*Council, error) {
	var resp struct {
		Council *Council `json:"council"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/councils/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Council, nil
}

// UpdateCouncil patches a council's configuration. Requires an admin token.
func (c *Client) UpdateCouncil(ctx context.Context, id string, req UpdateCouncilRequest) (*Council, error) {
	var resp struct {
		Council *Council `json:"council"`
	}
	if err := c.call(ctx, http.MethodPatch, "/api/v1/councils/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, err
	}
	return resp.Council, nil
}

// ArchiveCouncil retires a council. Its ledger history remains readable but
// no further decisions are accepted. Requires an admin token.
func (c *Client) ArchiveCouncil(ctx context.Context, id string) (*Council, error) {
	var resp struct {
		Council *Council `json:"council"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/councils/"+url.PathEscape(id)+"/archive", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Council, nil
}

// AddMember assigns a user to a council, reactivating a prior membership for
// the same user when one exists. Requires an admin token.
func (c *Client) AddMember(ctx context.Context, councilID string, req AddMemberRequest) (*Membership, error) {
	var resp struct {
		Membership *Membership `json:"membership"`
	}
	path := "/api/v1/councils/" + url.PathEscape(councilID) + "/assignments"
	if err := c.call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Membership, nil
}

// ListMembers returns a council's memberships. With activeOnly the response
// is restricted to the current voter roster.
func (c *Client) ListMembers(ctx context.Context, councilID string, activeOnly bool) ([]Membership, error) {
	path := "/api/v1/councils/" + url.PathEscape(councilID) + "/members"
	if activeOnly {
		path += "?active=true"
	}
	var resp struct {
		Members []Membership `json:"members"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// RevokeMember revokes a membership. Requires an admin token.
func (c *Client) RevokeMember(ctx context.Context, councilID, membershipID, notes string) (*Membership, error) {
	var resp struct {
		Membership *Membership `json:"membership"`
	}
	path := "/api/v1/councils/" + url.PathEscape(councilID) + "/members/" + url.PathEscape(membershipID) + "/revoke"
	body := map[string]string{"notes": notes}
	if err := c.call(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Membership, nil
}

// ReinstateMember reactivates a revoked membership. Requires an admin token.
func (c *Client) ReinstateMember(ctx context.Context, councilID, membershipID string) (*Membership, error) {
	var resp struct {
		Membership *Membership `json:"membership"`
	}
	path := "/api/v1/councils/" + url.PathEscape(councilID) + "/members/" + url.PathEscape(membershipID) + "/reinstate"
	if err := c.call(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Membership, nil
}

// ── Decisions ────────────────────────────────────────────────────────────────

// SubmitDecision records a council member's decision on an assessment and
// returns the decision, its chained ledger entry, and the fresh quorum
// verdict.
func (c *Client) SubmitDecision(ctx context.Context, assessmentID string, req SubmitDecisionRequest) (*DecisionResult, error) {
	var resp DecisionResult
	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/council/decision"
	if err := c.call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Quorum returns the council's current verdict on an assessment.
func (c *Client) Quorum(ctx context.Context, assessmentID, councilID string) (*QuorumResult, error) {
	var resp struct {
		Quorum *QuorumResult `json:"quorum"`
	}
	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/quorum?council_id=" + url.QueryEscape(councilID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Quorum, nil
}

// ListDecisions returns every decision for an assessment in creation order,
// revisions included.
func (c *Client) ListDecisions(ctx context.Context, assessmentID, councilID string) ([]Decision, error) {
	var resp struct {
		Decisions []Decision `json:"decisions"`
	}
	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/decisions?council_id=" + url.QueryEscape(councilID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// ── Ledger ───────────────────────────────────────────────────────────────────

// LedgerEntries returns one page of an assessment's ledger in chain order.
// Pass the returned NextCursor back via opts.Cursor to fetch the next page.
func (c *Client) LedgerEntries(ctx context.Context, assessmentID string, opts LedgerListOptions) (*LedgerPage, error) {
	q := url.Values{}
	if opts.EntryType != "" {
		q.Set("entryType", opts.EntryType)
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/ledger"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var page LedgerPage
	if err := c.call(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AppendLedgerEntry appends a non-decision entry (comment, escalation,
// evidence added, status change) to an assessment's ledger.
func (c *Client) AppendLedgerEntry(ctx context.Context, assessmentID string, req AppendEntryRequest) (*LedgerEntry, error) {
	var resp struct {
		Entry *LedgerEntry `json:"entry"`
	}
	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/ledger"
	if err := c.call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

// VerifyLedger replays an assessment's full hash chain. A broken chain is
// not an error: inspect result.Verified and result.FailureIndex.
func (c *Client) VerifyLedger(ctx context.Context, assessmentID string) (*VerifyResult, error) {
	var result VerifyResult
	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/ledger/verify"
	if err := c.call(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ── Webhooks ─────────────────────────────────────────────────────────────────

// Subscription is a webhook subscription to governance events.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscribeRequest is the payload for Subscribe.
type SubscribeRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Subscribe creates a webhook subscription. The returned secret signs every
// delivery (X-Evidentry-Signature) and is shown exactly once.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, string, error) {
	var resp struct {
		Subscription *Subscription `json:"subscription"`
		Secret       string        `json:"secret"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/webhooks", req, &resp); err != nil {
		return nil, "", err
	}
	return resp.Subscription, resp.Secret, nil
}

// ListSubscriptions returns the caller's webhook subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var resp struct {
		Subscriptions []Subscription `json:"subscriptions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

// Unsubscribe deletes one of the caller's webhook subscriptions.
func (c *Client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/webhooks/"+url.PathEscape(subscriptionID), nil, nil)
}

// ── Transport ────────────────────────────────────────────────────────────────

// call executes one JSON round trip. reqBody and respBody may be nil.
// Non-2xx responses are returned as *APIError.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
