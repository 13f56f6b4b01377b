package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/lbproxy/lbproxy/internal/node"
)

func nodeForServer(t *testing.T, srv *httptest.Server) node.Node {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return node.Node{
		ID:       "n1",
		Endpoint: node.Endpoint{Scheme: node.SchemeHTTP, Host: u.Hostname(), Port: port},
	}
}

func TestForwardSuccessOn5xxIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"x":1}`))
	}))
	defer srv.Close()

	c := New(time.Second, time.Second)
	result := c.Forward(context.Background(), nodeForServer(t, srv), "/test", http.MethodPost, nil, nil)

	if !result.Success {
		t.Fatalf("5xx must be reported as Success, got err=%v", result.Err)
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want 500", result.StatusCode)
	}
	if string(result.Body) != `{"x":1}` {
		t.Fatalf("Body = %q, want raw passthrough", result.Body)
	}
}

func TestForwardSetsContentTypeWhenBodyPresent(t *testing.T) {
	var gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(time.Second, time.Second)
	c.Forward(context.Background(), nodeForServer(t, srv), "/test", http.MethodPost, nil, []byte(`{}`))

	if gotCT != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", gotCT)
	}
}

func TestForwardTimeoutIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(20*time.Millisecond, 20*time.Millisecond)
	result := c.Forward(context.Background(), nodeForServer(t, srv), "/test", http.MethodGet, nil, nil)

	if result.Success {
		t.Fatal("expected a transport failure on timeout")
	}
	if result.Err == nil {
		t.Fatal("expected a non-nil error on timeout")
	}
}

func TestForwardConnectionRefused(t *testing.T) {
	c := New(time.Second, time.Second)
	n := node.Node{ID: "n1", Endpoint: node.Endpoint{Scheme: node.SchemeHTTP, Host: "127.0.0.1", Port: 1}}
	result := c.Forward(context.Background(), n, "/test", http.MethodGet, nil, nil)

	if result.Success {
		t.Fatal("expected a transport failure on connection refused")
	}
}
