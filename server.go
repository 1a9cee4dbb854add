package main

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// server serves JSON-RPC over HTTP POST and WebSocket on the same path.
type server struct {
	rpc    *rpc.Server
	ws     http.Handler
	header http.Header
}

func newServer(rpcServer *rpc.Server, allowOrigin string) *server {
	origins := []string{"*"}
	header := http.Header{}
	if allowOrigin != "" {
		origins = []string{allowOrigin}
		header.Set("Access-Control-Allow-Origin", allowOrigin)
	}
	return &server{
		rpc:    rpcServer,
		ws:     rpcServer.WebsocketHandler(origins),
		header: header,
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		// Assume RPC over HTTP
		for k, values := range s.header {
			for _, v := range values {
				w.Header().Set(k, v)
			}
		}
		s.rpc.ServeHTTP(w, r)
	case http.MethodGet:
		if !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") {
			http.Error(w, "incorrect gateway api handshake", http.StatusBadRequest)
			return
		}
		// Assume WebSocket upgrade request
		s.ws.ServeHTTP(w, r)
	default:
		http.Error(w, "unsupported method", http.StatusUnsupportedMediaType)
	}
}

// handler routes /metrics to prometheus and everything else to the RPC
// server.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s)
	return mux
}
