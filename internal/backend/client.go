// Package backend is the backend client: a single outbound HTTP call
// to a specified node reported back as a tagged result.
package backend

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/lbproxy/lbproxy/internal/node"
)

// ForwardResult is the tagged outcome of one forward call.
type ForwardResult struct {
	Success    bool
	StatusCode int
	Latency    time.Duration
	Body       []byte
	Err        error // set iff !Success; human-readable transport failure
}

// Client issues forward calls against backend nodes through one shared
// http.Client, so connections are pooled across forwards. Health probes
// do not go through it; the prober has its own client.
type Client struct {
	httpClient     *http.Client
	connectTimeout time.Duration
}

// New builds a Client. requestTimeout bounds an entire forward exchange
// (connect+send+receive); connectTimeout additionally caps the dial
// step alone.
func New(requestTimeout, connectTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
		connectTimeout: connectTimeout,
	}
}

// Forward constructs the target URL from the node's endpoint and path,
// issues the request, and measures wall-clock latency from send to
// response received. Any 2xx..5xx response is a Success — the backend's
// answer, not a transport error. Only transport-level failures (dial
// refused/reset, timeout, DNS, TLS, abrupt close) produce a Failure.
func (c *Client) Forward(ctx context.Context, n node.Node, path, method string, headers http.Header, body []byte) ForwardResult {
	url := n.Endpoint.URL() + path

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return ForwardResult{Err: err}
	}
	for k, vv := range headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if body != nil && methodPermitsBody(method) {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ForwardResult{Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ForwardResult{Latency: latency, Err: err}
	}

	return ForwardResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Body:       respBody,
	}
}

func methodPermitsBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return false
	default:
		return true
	}
}
