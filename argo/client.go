package argo

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
)

// ErrUnavailable marks transport-level failures reaching the upstream:
// refused connections, DNS errors, resets, timeouts. Handlers map it to
// 503 Service Unavailable.
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError is a non-2xx reply from the upstream. Handlers mirror the
// status and body back to the client.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// Reply is a complete non-streaming upstream response.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is the shared upstream transport. One Client serves all requests
// and reuses its connection pool across them.
type Client struct {
	httpClient *http.Client
}

// NewClient builds the pooled transport. Timeouts are not set here; each
// call carries its own deadline through the request context.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// PostJSON sends payload to url and reads the whole reply. Transport
// failures come back wrapped in ErrUnavailable, non-2xx replies as a
// *StatusError carrying the upstream status and body text.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) (*Reply, error) {
	req, err := c.newRequest(ctx, url, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return &Reply{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Stream is a pull iterator over the raw bytes of one streaming upstream
// reply. Next returns chunks until io.EOF; Close releases the connection.
type Stream struct {
	Status int
	Header http.Header

	body io.ReadCloser
	buf  []byte
}

// Next returns the next raw chunk. The returned slice is only valid until
// the following Next call.
func (s *Stream) Next() ([]byte, error) {
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, wrapUnavailable(err)
	}
}

// Close releases the underlying connection. Safe to call after EOF.
func (s *Stream) Close() error {
	return s.body.Close()
}

// PostStream sends payload to url and returns the reply as a chunk
// iterator. A non-2xx status is read in full and returned as a
// *StatusError, so the caller can surface it before committing stream
// headers to its own client.
func (c *Client) PostStream(ctx context.Context, url string, payload any) (*Stream, error) {
	req, err := c.newRequest(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return &Stream{
		Status: resp.StatusCode,
		Header: resp.Header,
		body:   resp.Body,
		buf:    make([]byte, 4096),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// wrapUnavailable classifies a transport error. Client-side cancellation
// passes through untouched so handlers can tell a gone client from a dead
// upstream.
func wrapUnavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// skippedHeaders are never propagated to the client: entity headers the
// proxy rewrites plus the hop-by-hop set from RFC 7230 section 6.1.
var skippedHeaders = map[string]struct{}{
	"content-type":        {},
	"content-encoding":    {},
	"content-length":      {},
	"transfer-encoding":   {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"upgrade":             {},
}

// PropagateHeaders copies upstream reply headers onto dst, leaving out the
// entity and hop-by-hop headers the proxy manages itself.
func PropagateHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, skip := skippedHeaders[strings.ToLower(key)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
