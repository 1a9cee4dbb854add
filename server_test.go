package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

type echoService struct{}

func (echoService) Echo(ctx context.Context, s string) (string, error) {
	return s, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("test", echoService{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rpcServer.Stop)
	srv := httptest.NewServer(newServer(rpcServer, "https://example.com").handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServerHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"test_echo","params":["hi"]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got, want := resp.Header.Get("Access-Control-Allow-Origin"), "https://example.com"; got != want {
		t.Errorf("got: %q; want: %q", got, want)
	}

	client, err := rpc.DialHTTP(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	var got string
	if err := client.CallContext(context.Background(), &got, "test_echo", "hello"); err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("got: %q; want: %q", got, "hello")
	}
}

func TestServerWebSocket(t *testing.T) {
	srv := newTestServer(t)

	client, err := rpc.DialWebsocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	var got string
	if err := client.CallContext(context.Background(), &got, "test_echo", "hello"); err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("got: %q; want: %q", got, "hello")
	}
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t)

	testcases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/", http.StatusBadRequest},
		{http.MethodPut, "/", http.StatusUnsupportedMediaType},
	}
	for i, tc := range testcases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("[case %d] got: %d; want: %d", i, resp.StatusCode, tc.want)
		}
	}
}
