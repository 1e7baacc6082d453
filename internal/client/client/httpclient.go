package client

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

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20

	ottPurposeLogin = "login"
)

type HTTPClient struct {
	base BaseURLSource
	http *http.Client
	log  logging.Logger
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

func WithLogger(l logging.Logger) Option {
	return func(c *HTTPClient) { c.log = l }
}

func NewHTTPClient(base BaseURLSource, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		base: base,
		http: &http.Client{Timeout: defaultTimeout},
		log:  logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type ottRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	OTT   string `json:"ott"`
}

type createSRPSessionRequest struct {
	SRPUserID string `json:"srpUserID"`
	SRPA      string `json:"srpA"`
}

type verifySRPSessionRequest struct {
	SessionID string `json:"sessionID"`
	SRPUserID string `json:"srpUserID"`
	SRPM1     string `json:"srpM1"`
}

type verifyTwoFactorRequest struct {
	SessionID string `json:"sessionID"`
	Code      string `json:"code"`
}

type srpAttributesResponse struct {
	Attributes *models.SRPAttributes `json:"attributes"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) GetSRPAttributes(ctx context.Context, email string) (*models.SRPAttributes, error) {
	var resp srpAttributesResponse
	q := url.Values{"email": {email}}

	err := c.do(ctx, "get srp attributes", http.MethodGet, "/users/srp/attributes", q, nil, &resp)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp.Attributes, nil
}

func (c *HTTPClient) SendOTT(ctx context.Context, email string) error {
	req := ottRequest{Email: email, Purpose: ottPurposeLogin}
	return c.do(ctx, "send ott", http.MethodPost, "/users/ott", nil, req, nil)
}

func (c *HTTPClient) VerifyEmail(ctx context.Context, email, ott string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	req := verifyEmailRequest{Email: email, OTT: ott}
	if err := c.do(ctx, "verify email", http.MethodPost, "/users/verify-email", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CreateSRPSession(ctx context.Context, srpUserID, srpA string) (*models.SRPSession, error) {
	var resp models.SRPSession
	req := createSRPSessionRequest{SRPUserID: srpUserID, SRPA: srpA}
	if err := c.do(ctx, "create srp session", http.MethodPost, "/users/srp/create-session", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) VerifySRPSession(ctx context.Context, srpUserID, sessionID, srpM1 string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	req := verifySRPSessionRequest{SessionID: sessionID, SRPUserID: srpUserID, SRPM1: srpM1}
	if err := c.do(ctx, "verify srp session", http.MethodPost, "/users/srp/verify-session", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) VerifyTwoFactor(ctx context.Context, sessionID, code string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	req := verifyTwoFactorRequest{SessionID: sessionID, Code: code}
	if err := c.do(ctx, "verify two-factor", http.MethodPost, "/users/two-factor/verify", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetPasskeyStatus(ctx context.Context, sessionID string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	q := url.Values{"sessionID": {sessionID}}

	err := c.do(ctx, "get passkey status", http.MethodGet, "/users/two-factor/passkeys/get-token", q, nil, &resp)
	if err != nil {
		switch StatusCode(err) {
		case http.StatusBadRequest:
			// verification not yet complete
			return nil, nil
		case http.StatusNotFound, http.StatusGone:
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	return &resp, nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// Non-2xx statuses become *ServerError, transport failures *NetworkError.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	u := strings.TrimRight(c.base.ServerURL(ctx), "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Package", common.ClientPackage)

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &ServerError{Op: op, Status: resp.StatusCode, Body: string(raw)}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Message = eb.Message
		}
		c.log.Debug(ctx, "identity provider returned error", "op", op, "status", resp.StatusCode)
		return se
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
