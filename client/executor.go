// Package client executes requests against the chat backend on behalf of the
// bound session. A 401 caused by an expired token is answered with exactly one
// refresh and one retry; any other 401 ends the session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	contentTypeJSON = "application/json"

	// CodeTokenExpired is the error code the backend sends with a 401 for an expired access token.
	CodeTokenExpired = "TOKEN_EXPIRED"

	HealthPath = "/api/health"
)

// CredentialSource yields the bearer credential of the bound session.
type CredentialSource interface {
	AccessToken(ctx context.Context) (*oauth2.Token, error)
}

// Refresher obtains a new access token for userID. staleAccessToken is the
// token the backend rejected; implementations use it to detect that another
// caller has already refreshed. When userID is no longer the bound user the
// refresher returns ErrStaleSession.
type Refresher interface {
	RefreshSession(ctx context.Context, userID, staleAccessToken string) error
}

// AuthFailureHandler tears down userID's session when a request made with its
// credentials cannot be authenticated. An empty userID means the bound session.
type AuthFailureHandler interface {
	HandleAuthFailure(ctx context.Context, userID, reason string)
}

// Request describes one call to the backend. Body is JSON encoded; RawBody is
// sent as is and wins when both are set. When UserID is set the request is
// only sent with that user's credentials.
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	Body    any
	RawBody io.Reader
	UserID  string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorBody is the error envelope returned by the backend.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type Executor struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	refresher  Refresher
	onFailure  AuthFailureHandler
	logger     zerolog.Logger
}

type Option func(*Executor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.httpClient = c
	}
}

// WithTimeout bounds every request, including reading the response body.
// A client given with WithHTTPClient is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		c := *e.httpClient
		c.Timeout = d
		e.httpClient = &c
	}
}

func WithRefresher(r Refresher) Option {
	return func(e *Executor) {
		e.refresher = r
	}
}

func WithAuthFailureHandler(h AuthFailureHandler) Option {
	return func(e *Executor) {
		e.onFailure = h
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func New(baseURL string, creds CredentialSource, options ...Option) *Executor {
	e := &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		creds:      creds,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *Executor) BaseURL() string {
	return e.baseURL
}

// Do sends req with the bound session's bearer token. Non-2xx answers are
// returned as *errors.RequestFailedError, transport failures as
// *errors.NetworkError and authentication failures as ErrAuthenticationRequired.
// ErrStaleSession is returned, and nothing is sent, when the bound user is not
// req.UserID or changes before the retry.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	tok, err := e.creds.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthenticationRequired, err)
	}
	owner := token.Owner(tok)
	if req.UserID != "" && owner != req.UserID {
		return nil, fmt.Errorf("%w: request belongs to %s", apperrors.ErrStaleSession, req.UserID)
	}

	resp, err := e.send(ctx, req, body, tok)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		return result(resp)
	}

	rejection := parseErrorBody(resp.Body)
	if !indicatesExpiry(rejection) || e.refresher == nil {
		e.logger.Warn().Str("path", req.Path).Str("code", rejection.Code).Msg("request rejected as unauthenticated")
		return nil, e.fail(ctx, owner, "authentication rejected")
	}

	e.logger.Debug().Str("path", req.Path).Msg("access token expired, refreshing")
	if err := e.refresher.RefreshSession(ctx, owner, tok.AccessToken); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, apperrors.ErrStaleSession) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthenticationRequired, err)
	}

	tok, err = e.creds.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthenticationRequired, err)
	}
	if token.Owner(tok) != owner {
		e.logger.Info().Str("path", req.Path).Str("user_id", owner).Msg("bound user changed, request not retried")
		return nil, fmt.Errorf("%w: request belongs to %s", apperrors.ErrStaleSession, owner)
	}
	resp, err = e.send(ctx, req, body, tok)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		e.logger.Warn().Str("path", req.Path).Msg("request rejected after refresh")
		return nil, e.fail(ctx, owner, "authentication rejected after refresh")
	}
	return result(resp)
}

// DoJSON is Do followed by decoding the response body into out.
func (e *Executor) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := e.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// DoUnauthenticated sends req without credentials and without the 401 handling.
func (e *Executor) DoUnauthenticated(ctx context.Context, req Request) (*Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	resp, err := e.send(ctx, req, body, nil)
	if err != nil {
		return nil, err
	}
	return result(resp)
}

// Ping checks that the backend is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	_, err := e.DoUnauthenticated(ctx, Request{Method: http.MethodGet, Path: HealthPath})
	return err
}

func (e *Executor) fail(ctx context.Context, userID, reason string) error {
	if e.onFailure != nil {
		e.onFailure.HandleAuthFailure(ctx, userID, reason)
	}
	return apperrors.ErrAuthenticationRequired
}

func (e *Executor) send(ctx context.Context, req Request, body []byte, tok *oauth2.Token) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, e.baseURL+req.Path, reader)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "build request %s %s", method, req.Path)
	}

	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentTypeJSON)
	}
	httpReq.Header.Set("Accept", contentTypeJSON)
	if tok != nil {
		// Set after the caller's headers so they cannot replace the credential.
		tok.SetAuthHeader(httpReq)
	}

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperrors.NetworkError{Op: method + " " + req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperrors.NetworkError{Op: "read " + req.Path, Err: err}
	}

	e.logger.Debug().Str("method", method).Str("path", req.Path).Int("status", httpResp.StatusCode).Msg("request completed")
	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
	}, nil
}

func readBody(req Request) ([]byte, error) {
	switch {
	case req.RawBody != nil:
		b, err := io.ReadAll(req.RawBody)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return b, nil
	case req.Body != nil:
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "encode request body: %v", err)
		}
		return b, nil
	}
	return nil, nil
}

func result(resp *Response) (*Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	body := parseErrorBody(resp.Body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	return nil, &apperrors.RequestFailedError{
		Status:  resp.Status,
		Code:    body.Code,
		Message: msg,
	}
}

func parseErrorBody(b []byte) errorBody {
	var body errorBody
	if err := json.Unmarshal(b, &body); err != nil {
		body.Message = strings.TrimSpace(string(b))
	}
	return body
}

// indicatesExpiry reports whether a 401 was caused by an expired access token
// rather than a revoked or unknown one.
func indicatesExpiry(body errorBody) bool {
	if body.Code == CodeTokenExpired {
		return true
	}
	for _, text := range []string{body.Message, body.Error} {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "expired") || strings.Contains(lower, "token") {
			return true
		}
	}
	return false
}

// IsAuthRequired reports whether err means the caller must log in again.
func IsAuthRequired(err error) bool {
	return errors.Is(err, apperrors.ErrAuthenticationRequired)
}
