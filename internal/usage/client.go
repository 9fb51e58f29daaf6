package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	webOrigin = "https://claude.ai"
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// maxBodySize bounds how much of a response is read. Usage payloads
	// are a few hundred bytes; block pages are larger but still small.
	maxBodySize = 1 << 20
)

// Credentials authenticate requests against the web API.
type Credentials struct {
	SessionKey string
	OrgID      string
	// Clearance is the optional cf_clearance cookie some networks need to
	// pass the edge check.
	Clearance string
}

func (c Credentials) cookie() string {
	cookie := "sessionKey=" + c.SessionKey
	if c.Clearance != "" {
		cookie += "; cf_clearance=" + c.Clearance
	}
	return cookie
}

// Client calls the usage API. Every failure is returned as one of the
// package's error types.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Organizations lists the organizations the session belongs to.
func (c *Client) Organizations(ctx context.Context, creds Credentials) ([]Organization, error) {
	var orgs []Organization
	if err := c.get(ctx, creds, "/organizations", &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (c *Client) usage(ctx context.Context, creds Credentials) (usagePayload, error) {
	var p usagePayload
	err := c.get(ctx, creds, "/organizations/"+url.PathEscape(creds.OrgID)+"/usage", &p)
	return p, err
}

func (c *Client) overage(ctx context.Context, creds Credentials) (*overagePayload, error) {
	var p overagePayload
	if err := c.get(ctx, creds, "/organizations/"+url.PathEscape(creds.OrgID)+"/overage_spend_limit", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) get(ctx context.Context, creds Credentials, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("anthropic-client-platform", "web_claude_ai")
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Referer", webOrigin+"/settings/usage")
	req.Header.Set("Cookie", creds.cookie())

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{Err: err}
	}
	if err := classify(resp, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &DecodeError{Endpoint: path, Err: err}
	}
	return nil
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// classify maps a response to an error, or nil for a 2xx JSON response.
func classify(resp *http.Response, body []byte) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		var payload apiError
		if json.Unmarshal(body, &payload) == nil && payload.Error.Type == "permission_error" {
			if payload.Error.Message != "" {
				return fmt.Errorf("%w: %s", ErrSessionExpired, payload.Error.Message)
			}
			return ErrSessionExpired
		}
		return ErrBlocked
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if isHTML(resp, body) {
		return ErrBlocked
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode}
	}
	return nil
}

func isHTML(resp *http.Response, body []byte) bool {
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}
