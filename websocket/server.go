// Package websocket streams occupancy grids to browser clients and accepts
// start/stop commands from them.
package websocket

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"
)

// HttpParams defines where and what the server serves.
type HttpParams struct {
	Address string
	Prefix  string
	Root    string
}

// NewServer serves the static files under p.Root at p.Prefix and the hub at /ws.
func NewServer(p HttpParams, hub *Hub, logger *log.Logger) (*http.Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	if p.Prefix == "" {
		p.Prefix = "/"
	}
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", p.Root, err)
	}

	logger.Printf("serving %s as %s on %s", root, p.Prefix, p.Address)

	mux := http.NewServeMux()
	mux.Handle(p.Prefix, http.StripPrefix(p.Prefix, http.FileServer(http.Dir(root))))
	mux.HandleFunc("/ws", hub.ServeWS)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Print(r.RemoteAddr + " " + r.Method + " " + r.URL.String())
		mux.ServeHTTP(w, r)
	})
	return &http.Server{
		Addr:    p.Address,
		Handler: handler,
	}, nil
}
