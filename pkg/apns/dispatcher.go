package apns

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"

	"github.com/code-payments/apns/pkg/metrics"
	apnssync "github.com/code-payments/apns/pkg/sync"
)

const (
	dialCountMetricName    = "Apns/dial_count"
	timeoutCountMetricName = "Apns/timeout_count"
	replayCountMetricName  = "Apns/replay_count"
)

type dispatcherConfig struct {
	address                string
	poolSize               int
	dialTimeout            time.Duration
	readIdleTimeout        time.Duration
	pingTimeout            time.Duration
	maxConsecutiveTimeouts uint64
	clientCert             *tls.Certificate
	rootCAs                *x509.CertPool
}

// exchange is a completed request/response pair. Bodies are fully read, so
// the stream is finished by the time an exchange is returned.
type exchange struct {
	statusCode int
	header     http.Header
	body       []byte
}

// dispatcher owns a fixed pool of connection slots and routes each device
// token to the same slot.
type dispatcher struct {
	log *logrus.Entry

	address                string
	tlsConfig              *tls.Config
	transport              *http2.Transport
	dialTimeout            time.Duration
	maxConsecutiveTimeouts uint64

	slots []*slot
	ring  *apnssync.Ring

	dials atomic.Uint64

	closeMu sync.RWMutex
	closed  bool
}

func newDispatcher(log *logrus.Entry, cfg dispatcherConfig) (*dispatcher, error) {
	if cfg.poolSize <= 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "pool size must be positive")
	}

	host, _, err := net.SplitHostPort(cfg.address)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "address %q: %s", cfg.address, err.Error())
	}

	tlsConfig := &tls.Config{
		ServerName: host,
		RootCAs:    cfg.rootCAs,
		NextProtos: []string{http2.NextProtoTLS},
		MinVersion: tls.VersionTLS12,
	}
	if cfg.clientCert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.clientCert}
	}

	d := &dispatcher{
		log:                    log,
		address:                cfg.address,
		tlsConfig:              tlsConfig,
		dialTimeout:            cfg.dialTimeout,
		maxConsecutiveTimeouts: cfg.maxConsecutiveTimeouts,
		transport: &http2.Transport{
			TLSClientConfig:            tlsConfig,
			StrictMaxConcurrentStreams: true,
			ReadIdleTimeout:            cfg.readIdleTimeout,
			PingTimeout:                cfg.pingTimeout,
		},
		slots: make([]*slot, cfg.poolSize),
		ring:  apnssync.NewIndexRing(uint(cfg.poolSize)),
	}
	for i := range d.slots {
		d.slots[i] = &slot{index: i}
	}
	return d, nil
}

func (d *dispatcher) slotFor(deviceToken string) *slot {
	if len(d.slots) == 1 {
		return d.slots[0]
	}
	return d.slots[d.ring.ShardIndex([]byte(deviceToken))]
}

// send performs the exchange for req on the device token's slot.
//
// A request that the peer never processed is replayed once on a fresh
// connection. That covers a cached connection that was already going away,
// and a reused connection the peer closed before answering. Any other
// transport failure marks the connection dead and is returned.
func (d *dispatcher) send(ctx context.Context, req *http.Request, deviceToken string) (*exchange, error) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		return nil, ErrClientClosed
	}

	s := d.slotFor(deviceToken)

	var stale *http2.ClientConn
	for attempt := 0; ; attempt++ {
		cc, dialed, err := s.get(ctx, d, stale)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, d.contextError(ctx, ctxErr)
			}
			return nil, err
		}

		if attempt > 0 {
			body, err := req.GetBody()
			if err != nil {
				return nil, errors.Wrap(err, "error rewinding request body")
			}
			req.Body = body
		}

		ex, headersReceived, err := roundTrip(cc, req)
		if err == nil {
			s.onSuccess(cc)
			return ex, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) && s.onTimeout(cc, d.maxConsecutiveTimeouts) {
				d.log.WithField("slot", s.index).Warn("too many consecutive timeouts, closing connection")
			}
			return nil, d.contextError(ctx, ctxErr)
		}

		if attempt == 0 && !headersReceived && (isUnprocessed(err) || (!dialed && isPeerClosed(err))) {
			d.log.WithError(err).WithField("slot", s.index).Debug("request not processed, replaying on new connection")
			metrics.RecordCount(ctx, replayCountMetricName, 1)
			stale = cc
			continue
		}

		s.markDead(cc)
		d.log.WithError(err).WithField("slot", s.index).Warn("transport failure, connection marked dead")
		return nil, errors.Wrap(ErrTransport, err.Error())
	}
}

// roundTrip performs a single exchange on cc. headersReceived reports whether
// the response headers arrived before any failure.
func roundTrip(cc *http2.ClientConn, req *http.Request) (ex *exchange, headersReceived bool, err error) {
	resp, err := cc.RoundTrip(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return nil, true, errors.Wrap(err, "error reading response body")
	}

	return &exchange{
		statusCode: resp.StatusCode,
		header:     resp.Header,
		body:       body,
	}, true, nil
}

func (d *dispatcher) contextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.RecordCount(ctx, timeoutCountMetricName, 1)
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return errors.Wrap(err, "request canceled")
}

// dialCount returns the number of connections established so far.
func (d *dispatcher) dialCount() uint64 {
	return d.dials.Load()
}

func (d *dispatcher) close() {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for _, s := range d.slots {
		s.close()
	}
}
