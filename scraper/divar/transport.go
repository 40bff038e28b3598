package divar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBody bounds how much of a response is read into memory.
const maxBody = 4 << 20

// Request is a transport-neutral outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the raw outcome of a Request. Non-2xx statuses are returned as
// responses, not errors; the client classifies them.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs requests against the marketplace.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// HTTPTransport issues requests directly with net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
