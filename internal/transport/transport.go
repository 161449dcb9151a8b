// Package transport executes the JSON-over-HTTPS requests of the protocol.
// It owns the custom headers merged into every request and the
// trusted-domain guard applied before any I/O and to every redirect hop.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/MrEthical07/goMPin/status"
)

const (
	// DefaultMaxBodySize bounds every response body read.
	DefaultMaxBodySize = 1 << 20

	maxRedirects = 10

	HeaderRequestID = "X-Request-Id"
	HeaderCID       = "X-MIRACL-CID"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports protocol success. Only 200 counts.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

// Client sends protocol requests. The zero value uses http.DefaultClient and
// has an open trust guard.
type Client struct {
	// HTTP is the underlying client; its Timeout bounds each call.
	HTTP *http.Client

	// UserAgent, when set, is sent on every request.
	UserAgent string

	// MaxBodySize defaults to DefaultMaxBodySize.
	MaxBodySize int64

	mu         sync.RWMutex
	headers    map[string]string
	persistent map[string]string
	trust      TrustGuard
}

// SetHeaders merges h into the custom headers.
func (c *Client) SetHeaders(h map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headers == nil {
		c.headers = make(map[string]string, len(h))
	}
	for k, v := range h {
		c.headers[k] = v
	}
}

// ClearHeaders drops custom headers. Persistent headers survive.
func (c *Client) ClearHeaders() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = nil
}

// SetPersistentHeader sets a header that ClearHeaders keeps. An empty value
// removes it.
func (c *Client) SetPersistentHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		delete(c.persistent, key)
		return
	}
	if c.persistent == nil {
		c.persistent = make(map[string]string, 1)
	}
	c.persistent[key] = value
}

// Headers returns a copy of the headers that would be sent.
func (c *Client) Headers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.headers)+len(c.persistent))
	for k, v := range c.headers {
		out[k] = v
	}
	for k, v := range c.persistent {
		out[k] = v
	}
	return out
}

// SetTrustedDomains replaces the allow-list. An empty list opens the guard.
func (c *Client) SetTrustedDomains(domains []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trust = NewTrustGuard(domains)
}

// ClearTrustedDomains opens the guard.
func (c *Client) ClearTrustedDomains() {
	c.SetTrustedDomains(nil)
}

// TrustedDomains returns the active allow-list.
func (c *Client) TrustedDomains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trust.Domains()
}

// CheckURL applies the trust guard to rawURL.
func (c *Client) CheckURL(rawURL string) error {
	c.mu.RLock()
	guard := c.trust
	c.mu.RUnlock()
	return guard.Check(rawURL)
}

// guardedHTTP returns a copy of the underlying client whose redirects are
// checked against the trust guard hop by hop. Any CheckRedirect policy of
// the caller's client still applies after the guard.
func (c *Client) guardedHTTP() *http.Client {
	base := c.HTTP
	if base == nil {
		base = http.DefaultClient
	}
	hc := *base
	next := base.CheckRedirect
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if err := c.CheckURL(req.URL.String()); err != nil {
			return err
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &hc
}

// Do sends one request. body, when non-nil, is JSON encoded. The returned
// response is set for every status code; err is set only when no response
// was obtained, as a *status.Status.
func (c *Client) Do(ctx context.Context, method, rawURL string, body any) (*Response, error) {
	if err := c.CheckURL(rawURL); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, status.Newf(status.FlowError, "encode request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, status.Newf(status.NetworkError, "create request: %v", err)
	}
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("Accept", "text/plain")
	}

	res, err := c.guardedHTTP().Do(req)
	if err != nil {
		var s *status.Status
		if errors.As(err, &s) {
			return nil, s
		}
		return nil, status.Newf(status.NetworkError, "%s %s: %v", method, rawURL, err)
	}
	defer func() { _ = res.Body.Close() }()

	limit := c.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, status.Newf(status.NetworkError, "read response body: %v", err)
	}
	if int64(len(data)) > limit {
		return nil, status.Newf(status.ResponseParseError, "response body exceeds %d bytes", limit)
	}

	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

// Call sends a request for step and decodes a 200 body into out when out is
// non-nil. A non-200 response returns both the response and the translated
// status so callers can inspect the HTTP code.
func (c *Client) Call(ctx context.Context, step status.Step, method, rawURL string, body, out any) (*Response, error) {
	res, err := c.Do(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return res, status.FromHTTP(step, res.StatusCode, string(res.Body))
	}
	if out != nil {
		if err := json.Unmarshal(res.Body, out); err != nil {
			return res, status.Newf(status.ResponseParseError, "decode %s response: %v", step, err)
		}
	}
	return res, nil
}

// JSONObject decodes a 200 body into a generic object, used when the body is
// forwarded verbatim or read for optional fields.
func JSONObject(body []byte) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, status.Newf(status.ResponseParseError, "decode response object: %v", err)
	}
	if out == nil {
		return nil, status.New(status.ResponseParseError, "response is not a JSON object")
	}
	return out, nil
}
