package app

import (
	"os"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	xrate "golang.org/x/time/rate"

	"github.com/code-payments/apns/pkg/apns"
	"github.com/code-payments/apns/pkg/metrics"
	"github.com/code-payments/apns/pkg/push"
	push_apns "github.com/code-payments/apns/pkg/push/apns"
	"github.com/code-payments/apns/pkg/rate"
)

// LoadConfig reads the config file at configPath, if it exists, and overlays
// environment variables on top of the defaults. Flags registered with
// RegisterFlags that were set on the command line take precedence over both.
// flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	bindEnv(v)
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, errors.Wrap(err, "failed to bind flags")
		}
	}

	// viper.ReadInConfig only returns ConfigFileNotFoundError if it has to search
	// for a default config file because one hasn't been explicitly set. That is,
	// if we explicitly set a config file, and it does not exist, viper will not
	// return a ConfigFileNotFoundError, so we check ourselves.
	if len(configPath) > 0 {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrap(err, "failed to load config")
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrap(err, "failed to check if config exists")
		}
	}

	config := defaultConfig
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}

	if len(config.AppName) == 0 {
		return Config{}, errors.New("must specify an application name")
	}

	return config, nil
}

// NewMetricsProvider connects to New Relic when a license key is configured.
// A nil application is returned otherwise.
func NewMetricsProvider(config Config) (*newrelic.Application, error) {
	if len(config.NewRelicLicenseKey) == 0 {
		return nil, nil
	}

	nr, err := newrelic.NewApplication(
		newrelic.ConfigFromEnvironment(),
		newrelic.ConfigAppName(config.AppName),
		newrelic.ConfigLicense(config.NewRelicLicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to new relic")
	}
	return nr, nil
}

// ConfigureLogger sets up the standard logrus logger.
func ConfigureLogger(config Config, metricsProvider *newrelic.Application) {
	if metricsProvider != nil {
		logrus.SetFormatter(metrics.NewNewRelicLogFormatter(metricsProvider, &logrus.JSONFormatter{}))
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", config.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	logrus.SetOutput(os.Stdout)
}

// Credential loads the credential the config references. Exactly one of a
// certificate or a signing key must be configured.
func (c Config) Credential() (apns.Credential, error) {
	hasCertificate := len(c.CertificateURL) > 0
	hasSigningKey := len(c.SigningKeyURL) > 0

	switch {
	case hasCertificate && hasSigningKey:
		return nil, errors.Wrap(apns.ErrInvalidConfig, "both a certificate and a signing key are configured")
	case hasCertificate:
		archive, err := LoadFile(c.CertificateURL)
		if err != nil {
			return nil, err
		}
		return apns.LoadCertificate(archive, c.CertificatePassphrase)
	case hasSigningKey:
		key, err := LoadFile(c.SigningKeyURL)
		if err != nil {
			return nil, err
		}
		return apns.LoadSigningKey(key, c.KeyID, c.TeamID)
	}
	return nil, errors.Wrap(apns.ErrInvalidConfig, "a certificate or a signing key is required")
}

// ClientConfig returns the client configuration.
func (c Config) ClientConfig() (apns.ConfigProvider, error) {
	endpoint, err := apns.ParseEndpoint(c.Endpoint)
	if err != nil {
		return nil, err
	}

	return apns.WithStaticConfig(apns.StaticConfig{
		Endpoint:               endpoint,
		PoolSize:               c.PoolSize,
		RequestTimeout:         c.RequestTimeout,
		DialTimeout:            c.DialTimeout,
		MaxConsecutiveTimeouts: c.MaxConsecutiveTimeouts,
		TokenTTL:               c.TokenTTL,
	}), nil
}

// NewClient returns an APNs client for the config.
func (c Config) NewClient(opts ...apns.Option) (*apns.Client, error) {
	cred, err := c.Credential()
	if err != nil {
		return nil, err
	}

	configProvider, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}

	return apns.NewClient(cred, configProvider, opts...)
}

// NewPushProvider returns a push.Provider over client, throttled by the
// configured per push token rate limit.
func (c Config) NewPushProvider(client *apns.Client) push.Provider {
	var limiter rate.Limiter = &rate.NoLimiter{}
	if c.PushRateLimit > 0 {
		limiter = rate.NewLocalRateLimiter(xrate.Limit(c.PushRateLimit), c.PushBurst)
	}

	return push_apns.NewPushProvider(client, c.Topic, limiter)
}
