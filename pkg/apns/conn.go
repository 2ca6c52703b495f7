package apns

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/code-payments/apns/pkg/metrics"
)

// retireTimeout bounds how long a retired connection is given to finish its
// in-flight streams before being closed.
const retireTimeout = 30 * time.Second

// slot holds at most one live HTTP/2 connection. A slot is redialed lazily by
// the first send that observes it empty or unusable; concurrent sends wait on
// the slot mutex rather than dialing their own connection.
type slot struct {
	index int

	mu                  sync.Mutex
	cc                  *http2.ClientConn
	consecutiveTimeouts uint64
}

// get returns a usable connection, dialing a new one when the slot is empty,
// the cached connection can no longer take requests, or the cached connection
// is the stale one the caller just observed failing. dialed reports whether
// the connection was established by this call.
func (s *slot) get(ctx context.Context, d *dispatcher, stale *http2.ClientConn) (cc *http2.ClientConn, dialed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cc != nil && s.cc != stale && s.cc.CanTakeNewRequest() {
		return s.cc, false, nil
	}

	if s.cc != nil {
		d.log.WithField("slot", s.index).Debug("connection no longer usable, redialing")
		go retire(s.cc)
		s.cc = nil
	}

	cc, err = d.dial(ctx)
	if err != nil {
		return nil, false, err
	}

	s.cc = cc
	s.consecutiveTimeouts = 0
	return cc, true, nil
}

// onSuccess resets the timeout streak for cc.
func (s *slot) onSuccess(cc *http2.ClientConn) {
	s.mu.Lock()
	if s.cc == cc {
		s.consecutiveTimeouts = 0
	}
	s.mu.Unlock()
}

// onTimeout records a timed out exchange on cc and reports whether the streak
// reached max, in which case the connection was torn down.
func (s *slot) onTimeout(cc *http2.ClientConn, max uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cc != cc {
		return false
	}

	s.consecutiveTimeouts++
	if max == 0 || s.consecutiveTimeouts < max {
		return false
	}

	s.cc = nil
	s.consecutiveTimeouts = 0
	go cc.Close()
	return true
}

// markDead drops cc from the slot so the next send redials.
func (s *slot) markDead(cc *http2.ClientConn) {
	s.mu.Lock()
	if s.cc == cc {
		s.cc = nil
		s.consecutiveTimeouts = 0
	}
	s.mu.Unlock()

	go cc.Close()
}

func (s *slot) close() {
	s.mu.Lock()
	cc := s.cc
	s.cc = nil
	s.mu.Unlock()

	if cc != nil {
		cc.Close()
	}
}

// state reports whether the slot currently holds a connection, and whether
// that connection is closed.
func (s *slot) state() (connected bool, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cc == nil {
		return false, false
	}
	return true, s.cc.State().Closed
}

func retire(cc *http2.ClientConn) {
	ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
	defer cancel()

	if err := cc.Shutdown(ctx); err != nil {
		cc.Close()
	}
}

// dial establishes a TLS connection negotiating h2 and wraps it in an HTTP/2
// client connection.
func (d *dispatcher) dial(ctx context.Context) (*http2.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.dialTimeout},
		Config:    d.tlsConfig,
	}

	nc, err := dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		d.log.WithError(err).WithField("address", d.address).Warn("failure dialing apns")
		return nil, errors.Wrapf(ErrConnectionFailed, "%s: %s", d.address, err.Error())
	}

	tlsConn := nc.(*tls.Conn)
	if proto := tlsConn.ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
		tlsConn.Close()
		return nil, errors.Wrapf(ErrConnectionFailed, "%s: negotiated protocol %q is not h2", d.address, proto)
	}

	cc, err := d.transport.NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, errors.Wrapf(ErrConnectionFailed, "%s: %s", d.address, err.Error())
	}

	d.dials.Add(1)
	metrics.RecordCount(ctx, dialCountMetricName, 1)
	d.log.WithField("address", d.address).Debug("connected to apns")
	return cc, nil
}

// Errors http2 returns for requests that were never processed by the peer,
// either because the connection was already unusable or because the stream
// was above the last stream id of a GOAWAY.
var unprocessedErrorMessages = []string{
	"http2: client conn not usable",
	"http2: client conn is closed",
	"http2: Transport received Server's graceful shutdown GOAWAY",
}

// isUnprocessed returns whether it is safe to replay a request that failed
// with err on a new connection.
func isUnprocessed(err error) bool {
	var streamErr http2.StreamError
	if errors.As(err, &streamErr) && streamErr.Code == http2.ErrCodeRefusedStream {
		return true
	}

	return containsAny(err.Error(), unprocessedErrorMessages)
}

// Errors http2 returns once the read loop observed the connection going away.
var connectionLostErrorMessages = []string{
	"http2: client connection lost",
}

// isPeerClosed returns whether err shows that the peer had already closed a
// reused connection before any response headers arrived. The connection
// still looked usable when it was picked, so the close raced the request.
func isPeerClosed(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "write" {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	return containsAny(err.Error(), connectionLostErrorMessages)
}

func containsAny(msg string, substrings []string) bool {
	for _, substring := range substrings {
		if strings.Contains(msg, substring) {
			return true
		}
	}
	return false
}
