// Package transport is the dashboard's HTTP/JSON client. Every endpoint
// returns model types that have passed schema validation; failures come back
// as *NetworkError, *AuthError, *ConflictError, *model.ValidationError or a
// platform error carrying a status-derived code.
package transport

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

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"

	"github.com/unkn0wn-root/deskquery"
)

const (
	defaultTimeout = 30 * time.Second
	defaultMaxBody = 8 << 20
)

// TokenSource supplies bearer tokens and is consulted when the server
// answers 401. session.Manager implements it.
type TokenSource interface {
	// Token returns the current token, or "" when logged out.
	Token() string
	// Refresh obtains a new token.
	Refresh(ctx context.Context) error
	// ForceLogout drops the session after an unrecoverable 401.
	ForceLogout(cause error)
}

type Options struct {
	// BaseURL is the API root, e.g. "https://desk.example.com/api".
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     deskquery.Logger
	// MaxBody caps response bodies. 0 => 8 MiB.
	MaxBody int64
}

// Client is safe for concurrent use.
type Client struct {
	base    string
	hc      *http.Client
	tokens  TokenSource
	log     deskquery.Logger
	maxBody int64
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.WithContext(
			errors.New(errors.CodeInvalidConfig, "transport: BaseURL must be an absolute URL"),
			"base_url", opts.BaseURL,
		)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	var log deskquery.Logger = deskquery.NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Client{
		base:    strings.TrimRight(u.String(), "/"),
		hc:      hc,
		tokens:  opts.Tokens,
		log:     log,
		maxBody: maxBody,
	}, nil
}

// request is replayable: body is rebuilt from payload on every attempt.
type request struct {
	method      string
	path        string
	query       url.Values
	payload     []byte
	contentType string
	noAuth      bool // send no Authorization header
	noRetry     bool // a 401 is final
}

func jsonRequest(method, path string, query url.Values, body any) (*request, error) {
	r := &request{method: method, path: path, query: query}
	if body == nil {
		return r, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport: encode %s %s body: %w", method, path, err)
	}
	r.payload = b
	r.contentType = "application/json"
	return r, nil
}

// Do sends a JSON request and decodes a 2xx body into out (skipped when out
// is nil). The body is not schema-checked; the typed endpoints are.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	r, err := jsonRequest(method, path, query, body)
	if err != nil {
		return err
	}
	b, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, errors.CodeSchemaFailed, "transport: decode %s %s", method, path)
	}
	return nil
}

// send runs r, refreshing the token and retrying once on 401.
func (c *Client) send(ctx context.Context, r *request) ([]byte, error) {
	body, err := c.roundTrip(ctx, r)
	var ae *AuthError
	if err == nil || r.noRetry || c.tokens == nil || !errors.As(err, &ae) {
		return body, err
	}

	c.log.Info("unauthorized, refreshing token", deskquery.Fields{"method": r.method, "path": r.path})
	if rerr := c.tokens.Refresh(ctx); rerr != nil {
		ae.Refresh = rerr
		c.tokens.ForceLogout(ae)
		return nil, ae
	}
	body, err = c.roundTrip(ctx, r)
	if errors.As(err, &ae) {
		ae.Retried = true
		c.tokens.ForceLogout(ae)
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, r *request) ([]byte, error) {
	target := c.base + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	var rd io.Reader
	if r.payload != nil {
		rd = bytes.NewReader(r.payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("transport: build %s %s: %w", r.method, r.path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if !r.noAuth && c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("request failed", deskquery.Fields{
			"method": r.method, "path": r.path, "request_id": reqID, "err": err,
		})
		return nil, &NetworkError{Method: r.method, Path: r.path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &NetworkError{Method: r.method, Path: r.path, Err: err}
	}
	c.log.Debug("request", deskquery.Fields{
		"method": r.method, "path": r.path, "status": resp.StatusCode,
		"request_id": reqID, "duration": time.Since(start).String(),
	})
	if int64(len(body)) > c.maxBody {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeSchemaFailed, "transport: %s %s: response exceeds %d bytes", r.method, r.path, c.maxBody),
			"request_id", reqID,
		)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Method: r.method, Path: r.path, Msg: serverMessage(body)}
	case resp.StatusCode == http.StatusConflict:
		return nil, &ConflictError{Method: r.method, Path: r.path, Msg: serverMessage(body)}
	default:
		return nil, statusError(r.method, r.path, resp.StatusCode, body)
	}
}
