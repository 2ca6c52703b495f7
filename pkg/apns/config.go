package apns

import (
	"time"

	"github.com/code-payments/apns/pkg/config"
	"github.com/code-payments/apns/pkg/config/env"
	"github.com/code-payments/apns/pkg/config/memory"
	"github.com/code-payments/apns/pkg/config/wrapper"
)

const (
	envConfigPrefix = "APNS_"

	EndpointConfigEnvName = envConfigPrefix + "ENDPOINT"
	defaultEndpoint       = "production"

	PoolSizeConfigEnvName = envConfigPrefix + "POOL_SIZE"
	defaultPoolSize       = 1

	RequestTimeoutConfigEnvName = envConfigPrefix + "REQUEST_TIMEOUT"
	defaultRequestTimeout       = 20 * time.Second

	DialTimeoutConfigEnvName = envConfigPrefix + "DIAL_TIMEOUT"
	defaultDialTimeout       = 10 * time.Second

	ReadIdleTimeoutConfigEnvName = envConfigPrefix + "READ_IDLE_TIMEOUT"
	defaultReadIdleTimeout       = time.Minute

	PingTimeoutConfigEnvName = envConfigPrefix + "PING_TIMEOUT"
	defaultPingTimeout       = 15 * time.Second

	MaxConsecutiveTimeoutsConfigEnvName = envConfigPrefix + "MAX_CONSECUTIVE_TIMEOUTS"
	defaultMaxConsecutiveTimeouts       = 3

	TokenTTLConfigEnvName = envConfigPrefix + "TOKEN_TTL"
	defaultTokenTTL       = DefaultTokenTTL
)

type conf struct {
	endpoint               config.String
	poolSize               config.Uint64
	requestTimeout         config.Duration
	dialTimeout            config.Duration
	readIdleTimeout        config.Duration
	pingTimeout            config.Duration
	maxConsecutiveTimeouts config.Uint64
	tokenTTL               config.Duration
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			endpoint:               env.NewStringConfig(EndpointConfigEnvName, defaultEndpoint),
			poolSize:               env.NewUint64Config(PoolSizeConfigEnvName, defaultPoolSize),
			requestTimeout:         env.NewDurationConfig(RequestTimeoutConfigEnvName, defaultRequestTimeout),
			dialTimeout:            env.NewDurationConfig(DialTimeoutConfigEnvName, defaultDialTimeout),
			readIdleTimeout:        env.NewDurationConfig(ReadIdleTimeoutConfigEnvName, defaultReadIdleTimeout),
			pingTimeout:            env.NewDurationConfig(PingTimeoutConfigEnvName, defaultPingTimeout),
			maxConsecutiveTimeouts: env.NewUint64Config(MaxConsecutiveTimeoutsConfigEnvName, defaultMaxConsecutiveTimeouts),
			tokenTTL:               env.NewDurationConfig(TokenTTLConfigEnvName, defaultTokenTTL),
		}
	}
}

// StaticConfig is a fixed client configuration. Zero values use the defaults.
type StaticConfig struct {
	Endpoint               Endpoint
	PoolSize               uint64
	RequestTimeout         time.Duration
	DialTimeout            time.Duration
	ReadIdleTimeout        time.Duration
	PingTimeout            time.Duration
	MaxConsecutiveTimeouts uint64
	TokenTTL               time.Duration
}

// WithStaticConfig returns configuration with fixed values
func WithStaticConfig(c StaticConfig) ConfigProvider {
	return func() *conf {
		return &conf{
			endpoint:               wrapper.NewStringConfig(memory.NewConfig(c.Endpoint.String()), defaultEndpoint),
			poolSize:               wrapper.NewUint64Config(memory.NewConfig(nonZeroUint64(c.PoolSize)), defaultPoolSize),
			requestTimeout:         wrapper.NewDurationConfig(memory.NewConfig(nonZeroDuration(c.RequestTimeout)), defaultRequestTimeout),
			dialTimeout:            wrapper.NewDurationConfig(memory.NewConfig(nonZeroDuration(c.DialTimeout)), defaultDialTimeout),
			readIdleTimeout:        wrapper.NewDurationConfig(memory.NewConfig(nonZeroDuration(c.ReadIdleTimeout)), defaultReadIdleTimeout),
			pingTimeout:            wrapper.NewDurationConfig(memory.NewConfig(nonZeroDuration(c.PingTimeout)), defaultPingTimeout),
			maxConsecutiveTimeouts: wrapper.NewUint64Config(memory.NewConfig(nonZeroUint64(c.MaxConsecutiveTimeouts)), defaultMaxConsecutiveTimeouts),
			tokenTTL:               wrapper.NewDurationConfig(memory.NewConfig(nonZeroDuration(c.TokenTTL)), defaultTokenTTL),
		}
	}
}

// A nil value makes the memory config report no value, so the wrapper falls
// back to its default.
func nonZeroUint64(v uint64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nonZeroDuration(v time.Duration) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
