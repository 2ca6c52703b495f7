package apns

import (
	"crypto/x509"

	"github.com/sirupsen/logrus"
)

type options struct {
	rootCAs *x509.CertPool
	address string
	log     *logrus.Entry
}

// Option configures a Client.
type Option func(*options)

// WithRootCAs overrides the system roots used to verify the APNs server.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) {
		o.rootCAs = pool
	}
}

// WithAddress sends to hostport instead of the configured endpoint.
func WithAddress(hostport string) Option {
	return func(o *options) {
		o.address = hostport
	}
}

// WithLogger sets the log entry the client logs to.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		o.log = log
	}
}
