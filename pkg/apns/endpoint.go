package apns

import (
	"strings"

	"github.com/pkg/errors"
)

// Endpoint is the APNs environment a client sends to.
type Endpoint uint8

const (
	EndpointProduction Endpoint = iota
	EndpointSandbox
	EndpointProduction2197
	EndpointSandbox2197
)

// Address returns the host:port for the endpoint. The 2197 variants exist for
// networks that block outbound 443.
func (e Endpoint) Address() string {
	switch e {
	case EndpointSandbox:
		return "api.sandbox.push.apple.com:443"
	case EndpointProduction2197:
		return "api.push.apple.com:2197"
	case EndpointSandbox2197:
		return "api.sandbox.push.apple.com:2197"
	default:
		return "api.push.apple.com:443"
	}
}

// IsSandbox returns whether the endpoint is the development environment.
func (e Endpoint) IsSandbox() bool {
	return e == EndpointSandbox || e == EndpointSandbox2197
}

func (e Endpoint) String() string {
	switch e {
	case EndpointProduction:
		return "production"
	case EndpointSandbox:
		return "sandbox"
	case EndpointProduction2197:
		return "production-2197"
	case EndpointSandbox2197:
		return "sandbox-2197"
	}
	return "unknown"
}

// ParseEndpoint parses an endpoint name. "development" is accepted as an alias
// for sandbox.
func ParseEndpoint(s string) (Endpoint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod":
		return EndpointProduction, nil
	case "sandbox", "development", "dev":
		return EndpointSandbox, nil
	case "production-2197":
		return EndpointProduction2197, nil
	case "sandbox-2197", "development-2197":
		return EndpointSandbox2197, nil
	}
	return EndpointProduction, errors.Wrapf(ErrInvalidConfig, "unknown endpoint %q", s)
}
