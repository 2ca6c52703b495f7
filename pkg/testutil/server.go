package testutil

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Server provides a local TLS server speaking HTTP/2 that can be used for
// testing with no external dependencies.
type Server struct {
	closeFunc sync.Once

	srv         *httptest.Server
	requests    atomic.Uint64
	connections atomic.Uint64
}

type serverOpts struct {
	clientAuth tls.ClientAuthType
}

// ServerOption configures a Server.
type ServerOption func(o *serverOpts)

// WithClientAuth sets the client certificate policy of the server.
func WithClientAuth(clientAuth tls.ClientAuthType) ServerOption {
	return func(o *serverOpts) {
		o.clientAuth = clientAuth
	}
}

// NewServer starts a new Server serving handler over HTTP/2. Callers should
// use Stop to cleanup the underlying resources.
func NewServer(handler http.Handler, opts ...ServerOption) *Server {
	var o serverOpts
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		handler.ServeHTTP(w, r)
	}))
	srv.EnableHTTP2 = true
	srv.TLS = &tls.Config{ClientAuth: o.clientAuth}
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			s.connections.Add(1)
		}
	}
	srv.StartTLS()

	s.srv = srv

	logrus.
		StandardLogger().
		WithField("type", "testutil/server").
		WithField("address", s.Address()).
		Debug("started")

	return s
}

// Address returns the host:port the server listens on.
func (s *Server) Address() string {
	return strings.TrimPrefix(s.srv.URL, "https://")
}

// RootCAs returns a pool trusting the server's certificate.
func (s *Server) RootCAs() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(s.srv.Certificate())
	return pool
}

// Requests returns the number of requests that reached the handler.
func (s *Server) Requests() uint64 {
	return s.requests.Load()
}

// Connections returns the number of connections accepted.
func (s *Server) Connections() uint64 {
	return s.connections.Load()
}

// CloseClientConnections closes every client connection, as a peer going
// away would.
func (s *Server) CloseClientConnections() {
	s.srv.CloseClientConnections()
}

// Stop closes the server and all of its connections.
func (s *Server) Stop() {
	s.closeFunc.Do(func() {
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
}
