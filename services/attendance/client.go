// Package attendancesvc is the HTTP client of the attendance API and its collaborators.
package attendancesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/biometric"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/verification"
)

// APIError is a non-2xx answer that carries no verification reason.
type APIError struct {
	Status int
	Body   string
}

func (err *APIError) Error() string {
	return "attendance api: " + http.StatusText(err.Status) + ": " + err.Body
}

// errorBody is the JSON error shape of the attendance API.
type errorBody struct {
	Error  string      `json:"error"`
	Reason core.Reason `json:"reason"`
	Hint   string      `json:"hint"`
}

// Client calls the attendance API on behalf of one authenticated user.
// Transport errors, 429 and 5xx answers are retried with exponential backoff up to Submit.RetryMax times.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

var (
	_ verification.Submitter    = (*Client)(nil)
	_ verification.ClassLocator = (*Client)(nil)
	_ verification.Redeemer     = (*Client)(nil)
	_ biometric.CredentialSource = (*Client)(nil)
)

func NewClient(conf *core.Config, logger core.Logger, token string) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = conf.Submit.RetryMax
	hc.RetryWaitMin = conf.Submit.RetryWaitMin
	hc.RetryWaitMax = conf.Submit.RetryWaitMax
	hc.HTTPClient.Timeout = conf.Collaborator.Timeout
	hc.Logger = logger // core.Logger is a retryablehttp.LeveledLogger

	return &Client{
		baseURL: strings.TrimRight(conf.Collaborator.BaseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// do sends a JSON request and decodes a 2xx answer into out.
// Non-2xx answers become a VerificationError when they carry a reason, an *APIError otherwise.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body interface{}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "json.Marshal")
		}
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Reason != "" {
			return core.NewVerificationError(eb.Reason, eb.Hint).With(&APIError{Status: resp.StatusCode, Body: eb.Error})
		}
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

// Submit posts the aggregate claim. A 4xx rejection is an unsuccessful MarkResponse, not an error.
func (c *Client) Submit(ctx context.Context, claim verification.Claim) (verification.MarkResponse, error) {
	var resp verification.MarkResponse
	err := c.do(ctx, http.MethodPost, "/attendance/mark", claim, &resp)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status >= 400 && apiErr.Status < 500 {
		return verification.MarkResponse{Success: false, Message: apiErr.Body}, nil
	}
	return resp, err
}

// ClassLocation implements verification.ClassLocator.
func (c *Client) ClassLocation(ctx context.Context, classID string) (geo.Point, float64, error) {
	var resp struct {
		Location struct {
			Latitude      float64 `json:"latitude"`
			Longitude     float64 `json:"longitude"`
			AllowedRadius float64 `json:"allowed_radius"`
		} `json:"location"`
	}
	if err := c.do(ctx, http.MethodGet, "/geofencing/class/"+url.PathEscape(classID), nil, &resp); err != nil {
		return geo.Point{}, 0, err
	}
	loc := resp.Location
	return geo.Point{Latitude: loc.Latitude, Longitude: loc.Longitude}, loc.AllowedRadius, nil
}

// Credentials implements biometric.CredentialSource.
func (c *Client) Credentials(ctx context.Context, studentID string) ([]biometric.Credential, error) {
	var creds []biometric.Credential
	if err := c.do(ctx, http.MethodGet, "/webauthn/credentials/"+url.PathEscape(studentID), nil, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// Session returns the student-facing configuration of a live session.
func (c *Client) Session(ctx context.Context, sessionID string) (verification.Session, error) {
	var sess verification.Session
	err := c.do(ctx, http.MethodGet, "/attendance/sessions/"+url.PathEscape(sessionID), nil, &sess)
	return sess, err
}

// Redeem implements verification.Redeemer. The student is the authenticated caller.
func (c *Client) Redeem(ctx context.Context, _ string, p qrproof.Payload) (qrproof.Redemption, error) {
	var rdm qrproof.Redemption
	err := c.do(ctx, http.MethodPost, "/attendance/qr/redeem", p, &rdm)
	return rdm, err
}

func (c *Client) StartQR(ctx context.Context, sessionID string) (qrproof.Token, error) {
	var tok qrproof.Token
	err := c.do(ctx, http.MethodPost, "/attendance/qr/start", map[string]string{"sessionId": sessionID}, &tok)
	return tok, err
}

func (c *Client) RefreshQR(ctx context.Context, sessionID string) (qrproof.Token, error) {
	var tok qrproof.Token
	err := c.do(ctx, http.MethodGet, "/attendance/qr/refresh/"+url.PathEscape(sessionID), nil, &tok)
	return tok, err
}

func (c *Client) StopQR(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/attendance/qr/stop/"+url.PathEscape(sessionID), nil, nil)
}
