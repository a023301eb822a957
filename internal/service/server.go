package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jarvus/sencha-buildd/internal"
)

// shutdownTimeout bounds how long Close waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

type Server struct {
	server   *http.Server
	listener net.Listener
	port     int
	writer   internal.Writer
}

// NewServer starts serving handler on address in a background goroutine.
// A zero port in address picks a free one.
func NewServer(address string, handler http.Handler, w internal.Writer) (Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return Server{}, fmt.Errorf("failed to listen on %s: %w\nAnother process may already be using the port", address, err)
	}

	_, portString, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		listener.Close()
		return Server{}, fmt.Errorf("failed to split listener host/port: %w", err)
	}

	port, err := strconv.Atoi(portString)
	if err != nil {
		listener.Close()
		return Server{}, fmt.Errorf("failed to parse listener port: %w", err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.Warningf("HTTP server error: %v", err)
		}
	}()

	w.Printf("listening on %s", listener.Addr())

	return Server{
		server:   server,
		listener: listener,
		port:     port,
		writer:   w,
	}, nil
}

// Port returns the TCP port number the server is listening on.
func (s Server) Port() int {
	return s.port
}

// Close stops accepting connections and waits briefly for in-flight
// requests before closing the rest.
func (s Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.writer.Warningf("forcing HTTP server shutdown: %v", err)
		return s.server.Close()
	}

	return nil
}
