// Package transport hosts the router's local HTTP control surface:
// health checking, gRPC reflection, and Prometheus metrics. The I2P
// wire transports (NTCP/SSU session establishment) are external
// collaborators; besides the operational endpoints the router binary
// exposes on localhost, this package holds only the Outbound framing
// sender that hands I2NP frames to a pluggable session layer and the
// empty Peers view (outbound.go).
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// MountFunc defines a function that registers handlers onto the provided ServeMux.
// By passing *http.ServeMux, we allow the caller to register multiple services.
type MountFunc func(mux *http.ServeMux) error

// ServerOption defines a functional option for configuring the server.
type ServerOption func(*Server)

// Server is the control-surface HTTP server.
type Server struct {
	*http.Server
	address string
	mount   MountFunc
}

// WithAddress configures the server address.
func WithAddress(address string) ServerOption {
	return func(o *Server) {
		o.address = address
	}
}

// WithMount configures the mount function.
func WithMount(mount MountFunc) ServerOption {
	return func(o *Server) {
		o.mount = mount
	}
}

// NewServer creates a new HTTP server with the given options.
func NewServer(opts ...ServerOption) (*Server, error) {
	srv := &Server{
		address: ":7657",
	}

	for _, opt := range opts {
		opt(srv)
	}

	mux := http.NewServeMux()
	if srv.mount != nil {
		if err := srv.mount(mux); err != nil {
			return nil, err
		}
	}

	// HTTP/2 support for the connect-style health endpoint.
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv.Server = &http.Server{
		Addr:              srv.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
		Protocols:         protocols,
	}

	return srv, nil
}

// Start starts the HTTP server and blocks until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	slog.Info("control server starting", "address", listener.Addr().String())

	if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("gracefully shutting down control server")
	if err := s.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed, forcing close", "error", err)
		return s.Close()
	}
	return nil
}
