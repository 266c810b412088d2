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
	"strings"
	"time"
)

// Submission is the payload for Submit.
type Submission struct {
	Content      string `json:"content"`
	SenderName   string `json:"sender_name,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	CaptchaToken string `json:"captcha_token,omitempty"`
}

// SubmitResult is an accepted (approved or pending) submission.
type SubmitResult struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Reason  string   `json:"reason,omitempty"`
	Content string   `json:"content"`
	Flags   []string `json:"flags,omitempty"`
}

// TermMatch is one wordlist or blocklist hit in an Assessment.
type TermMatch struct {
	Term     string `json:"term"`
	List     string `json:"list"`
	Severity string `json:"severity"`
}

// Assessment is the content-risk verdict for a piece of text.
type Assessment struct {
	Passed          bool        `json:"passed"`
	Score           int         `json:"score"`
	Category        string      `json:"category"`
	Action          string      `json:"action"`
	Flags           []string    `json:"flags"`
	FilteredContent string      `json:"filtered_content,omitempty"`
	Matches         []TermMatch `json:"matches,omitempty"`
}

// AnalyzeResult is returned by Analyze.
type AnalyzeResult struct {
	Normalized string     `json:"normalized"`
	Assessment Assessment `json:"assessment"`
}

// AnalyzeOptions toggles analyzer stages for Analyze. A nil
// ProfanityEnabled means enabled.
type AnalyzeOptions struct {
	ProfanityEnabled         *bool
	ExternalBlocklistEnabled bool
}

// TrustFactor is one scored event in a trust history.
type TrustFactor struct {
	Type      string    `json:"type"`
	Delta     int       `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

// TrustScore is a fingerprint's current trust.
type TrustScore struct {
	Score       int           `json:"score"`
	Level       string        `json:"level"`
	Factors     []TrustFactor `json:"factors"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Event is a recorded submission decision.
type Event struct {
	ID              string    `json:"id"`
	OccurredAt      time.Time `json:"occurred_at"`
	TargetID        string    `json:"target_id"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
	FingerprintHash string    `json:"fingerprint_hash"`
	Flags           []string  `json:"flags"`
	RiskScore       int       `json:"risk_score"`
}

// TrustReport is returned by GetTrust. RecentEvents is empty when the
// server has no event history configured.
type TrustReport struct {
	FingerprintHash string     `json:"fingerprint_hash"`
	Trust           TrustScore `json:"trust"`
	RecentEvents    []Event    `json:"recent_events,omitempty"`
}

// Preview is a link preview. Page or Image is set depending on Kind.
type Preview struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
	Page *struct {
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		SiteName    string `json:"site_name,omitempty"`
		ImageURL    string `json:"image_url,omitempty"`
	} `json:"page,omitempty"`
	Image *struct {
		ContentType   string `json:"content_type"`
		ContentLength int64  `json:"content_length,omitempty"`
	} `json:"image,omitempty"`
}

// APIError is a non-2xx response from fangate.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("fangate: HTTP %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

// ChallengeRequired reports whether the submission needs a captcha token.
func (e *APIError) ChallengeRequired() bool {
	return e.StatusCode == http.StatusForbidden && e.Code == "challenge_required"
}

// RateLimited reports whether the request was throttled.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Client is the fangate SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	userAgent   string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an admin token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithUserAgent overrides the User-Agent header. fangate folds it into the
// derived fingerprint when no explicit fingerprint is sent.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for the fangate server at base, e.g.
// "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "fangate-client",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Submit posts a fan message to targetID.
func (c *Client) Submit(ctx context.Context, targetID string, s Submission) (*SubmitResult, error) {
	var out SubmitResult
	path := "/api/v1/targets/" + url.PathEscape(targetID) + "/fan-messages"
	if err := c.do(ctx, http.MethodPost, path, s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview fetches a link preview for rawURL.
func (c *Client) Preview(ctx context.Context, rawURL string) (*Preview, error) {
	var out Preview
	path := "/api/v1/link-preview?url=" + url.QueryEscape(rawURL)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analyze dry-runs content through the server's analyzer. Admin only.
func (c *Client) Analyze(ctx context.Context, content string, opts AnalyzeOptions) (*AnalyzeResult, error) {
	body := map[string]any{
		"content":                    content,
		"external_blocklist_enabled": opts.ExternalBlocklistEnabled,
	}
	if opts.ProfanityEnabled != nil {
		body["profanity_enabled"] = *opts.ProfanityEnabled
	}
	var out AnalyzeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/analyze", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrust returns the trust report for a raw fingerprint. Admin only.
func (c *Client) GetTrust(ctx context.Context, fingerprint string) (*TrustReport, error) {
	var out TrustReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/trust/"+url.PathEscape(fingerprint), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetTrust clears a fingerprint's trust history. Admin only.
func (c *Client) ResetTrust(ctx context.Context, fingerprint string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/trust/"+url.PathEscape(fingerprint), nil, nil)
}

// Ready reports whether the server's readiness probe passes.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/readyz", nil, nil)
	if err == nil {
		return true, nil
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusServiceUnavailable {
		return false, nil
	}
	return false, err
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp, body)
	}
	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
