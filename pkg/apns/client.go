package apns

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/apns/pkg/metrics"
)

const (
	metricsStructName = "apns.client"

	sendEventName          = "ApnsSend"
	sendDurationMetricName = "Apns/send_duration_ms"
	rejectCountMetricName  = "Apns/reject_count"
)

// Client sends notifications to APNs over a pool of persistent HTTP/2
// connections. It is safe for concurrent use. The credential, endpoint and
// pool size are fixed for the lifetime of the Client.
type Client struct {
	log *logrus.Entry

	mode     authMode
	signer   *TokenSigner
	certInfo *CertificateInfo

	endpoint       Endpoint
	authority      string
	requestTimeout time.Duration
	dispatcher     *dispatcher
}

// NewClient returns a Client authenticating with cred, which is either a
// *CertificateCredential or a *SigningCredential. No connection is made until
// the first Send.
func NewClient(cred Credential, configProvider ConfigProvider, opts ...Option) (*Client, error) {
	if cred == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "credential is required")
	}

	o := &options{
		log: logrus.StandardLogger().WithField("type", "apns/client"),
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx := context.Background()
	conf := configProvider()

	endpoint, err := ParseEndpoint(conf.endpoint.Get(ctx))
	if err != nil {
		return nil, err
	}

	requestTimeout := conf.requestTimeout.Get(ctx)
	if requestTimeout <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "request timeout %v must be positive", requestTimeout)
	}
	dialTimeout := conf.dialTimeout.Get(ctx)
	if dialTimeout <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "dial timeout %v must be positive", dialTimeout)
	}

	c := &Client{
		log:            o.log,
		mode:           cred.authMode(),
		endpoint:       endpoint,
		requestTimeout: requestTimeout,
	}

	dispatcherCfg := dispatcherConfig{
		address:                endpoint.Address(),
		poolSize:               int(conf.poolSize.Get(ctx)),
		dialTimeout:            dialTimeout,
		readIdleTimeout:        conf.readIdleTimeout.Get(ctx),
		pingTimeout:            conf.pingTimeout.Get(ctx),
		maxConsecutiveTimeouts: conf.maxConsecutiveTimeouts.Get(ctx),
		rootCAs:                o.rootCAs,
	}
	if len(o.address) > 0 {
		dispatcherCfg.address = o.address
	}

	switch typed := cred.(type) {
	case *CertificateCredential:
		if len(typed.Certificate.Certificate) == 0 || typed.Certificate.PrivateKey == nil {
			return nil, errors.Wrap(ErrInvalidConfig, "certificate credential is incomplete")
		}
		dispatcherCfg.clientCert = &typed.Certificate
		c.certInfo = typed.Info
	case *SigningCredential:
		c.signer, err = NewTokenSigner(typed, conf.tokenTTL.Get(ctx))
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unsupported credential %T", cred)
	}

	c.authority, err = authorityFor(dispatcherCfg.address)
	if err != nil {
		return nil, err
	}

	c.dispatcher, err = newDispatcher(c.log.WithField("address", dispatcherCfg.address), dispatcherCfg)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// NewCertificateClient returns a Client authenticating with the certificate
// in a PKCS#12 archive.
func NewCertificateClient(archive []byte, passphrase string, configProvider ConfigProvider, opts ...Option) (*Client, error) {
	cred, err := LoadCertificate(archive, passphrase)
	if err != nil {
		return nil, err
	}
	return NewClient(cred, configProvider, opts...)
}

// NewTokenClient returns a Client authenticating with provider tokens signed
// by a PEM encoded PKCS#8 P-256 key.
func NewTokenClient(pemKey []byte, keyID, teamID string, configProvider ConfigProvider, opts ...Option) (*Client, error) {
	cred, err := LoadSigningKey(pemKey, keyID, teamID)
	if err != nil {
		return nil, err
	}
	return NewClient(cred, configProvider, opts...)
}

// Send delivers a notification and returns the APNs verdict.
//
// A notification rejected by APNs is not an error: the returned Response has
// Failure set. An error is only returned when no verdict was obtained, in
// which case the notification may or may not have been delivered. Send does
// not retry; that policy belongs to the caller.
func (c *Client) Send(ctx context.Context, n *Notification) (*Response, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Send")
	defer tracer.End()

	start := time.Now()
	res, err := c.send(ctx, n)
	duration := time.Since(start)

	metrics.RecordDuration(ctx, sendDurationMetricName, duration)

	eventKvs := map[string]interface{}{
		"mode":        c.mode.String(),
		"endpoint":    c.endpoint.String(),
		"duration_ms": duration.Milliseconds(),
	}

	log := c.log.WithField("method", "Send")
	if n != nil {
		log = log.WithFields(logrus.Fields{
			"topic":     n.Options.Topic,
			"push_type": n.Options.PushType,
		})
	}

	switch {
	case err != nil:
		tracer.OnError(err)
		eventKvs["error"] = err.Error()
		log.WithError(err).Debug("failure sending notification")
	case !res.Success():
		tracer.AddAttributes(map[string]interface{}{
			"status": res.StatusCode,
			"reason": res.Failure.RawReason,
		})
		eventKvs["status"] = res.StatusCode
		eventKvs["reason"] = res.Failure.RawReason
		metrics.RecordCount(ctx, rejectCountMetricName, 1)
		log.WithFields(logrus.Fields{
			"status":  res.StatusCode,
			"reason":  res.Failure.RawReason,
			"apns_id": res.ApnsID,
		}).Debug("notification rejected")
	default:
		tracer.AddAttribute("status", res.StatusCode)
		eventKvs["status"] = res.StatusCode
		log.WithField("apns_id", res.ApnsID).Trace("notification accepted")
	}

	metrics.RecordEvent(ctx, sendEventName, eventKvs)

	return res, err
}

func (c *Client) send(ctx context.Context, n *Notification) (*Response, error) {
	if n == nil {
		return nil, ErrMissingDeviceToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var auth authorizer
	if c.signer != nil {
		auth = c.signer
	}

	req, err := buildRequest(ctx, c.authority, n, auth)
	if err != nil {
		return nil, err
	}

	ex, err := c.dispatcher.send(ctx, req, n.DeviceToken)
	if err != nil {
		return nil, err
	}

	return interpretResponse(ex.statusCode, ex.header, bytes.NewReader(ex.body))
}

// InvalidateToken drops the cached provider token so the next Send signs a new
// one. It is a no-op in certificate mode.
func (c *Client) InvalidateToken() {
	if c.signer != nil {
		c.signer.Invalidate()
	}
}

// CertificateInfo returns the metadata of the client certificate, or nil in
// token mode.
func (c *Client) CertificateInfo() *CertificateInfo {
	return c.certInfo
}

// Endpoint returns the endpoint the client was configured for.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Close closes all connections once in-flight sends complete. Sends after
// Close return ErrClientClosed.
func (c *Client) Close() error {
	c.dispatcher.close()
	return nil
}

// authorityFor returns the :authority for address, omitting the default https
// port.
func authorityFor(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidConfig, "address %q: %s", address, err.Error())
	}
	if port == "443" {
		return host, nil
	}
	return address, nil
}
