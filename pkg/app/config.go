package app

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the configuration of a process sending notifications. Credential
// material is referenced by URL and read with LoadFile.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	AppName string `mapstructure:"app_name"`

	// Certificate mode. CertificateURL points at a PKCS#12 archive.
	CertificateURL        string `mapstructure:"certificate_url"`
	CertificatePassphrase string `mapstructure:"certificate_passphrase"`

	// Token mode. SigningKeyURL points at a .p8 signing key.
	SigningKeyURL string `mapstructure:"signing_key_url"`
	KeyID         string `mapstructure:"key_id"`
	TeamID        string `mapstructure:"team_id"`

	// Topic is the default apns-topic, usually the app's bundle ID
	Topic string `mapstructure:"topic"`

	Endpoint               string        `mapstructure:"endpoint"`
	PoolSize               uint64        `mapstructure:"pool_size"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	DialTimeout            time.Duration `mapstructure:"dial_timeout"`
	MaxConsecutiveTimeouts uint64        `mapstructure:"max_consecutive_timeouts"`
	TokenTTL               time.Duration `mapstructure:"token_ttl"`

	// Per push token rate limit, in pushes per second. Zero disables it.
	PushRateLimit float64 `mapstructure:"push_rate_limit"`
	PushBurst     int     `mapstructure:"push_burst"`

	// Metrics configuration across many providers
	NewRelicLicenseKey string `mapstructure:"new_relic_license_key"`
}

var defaultConfig = Config{
	LogLevel: "info",
	AppName:  "apns-push",
	Endpoint: "production",
	PoolSize: 1,
}

var envBindings = map[string]string{
	"log_level":                "LOG_LEVEL",
	"app_name":                 "APP_NAME",
	"certificate_url":          "APNS_CERTIFICATE_URL",
	"certificate_passphrase":   "APNS_CERTIFICATE_PASSPHRASE",
	"signing_key_url":          "APNS_SIGNING_KEY_URL",
	"key_id":                   "APNS_KEY_ID",
	"team_id":                  "APNS_TEAM_ID",
	"topic":                    "APNS_TOPIC",
	"endpoint":                 "APNS_ENDPOINT",
	"pool_size":                "APNS_POOL_SIZE",
	"request_timeout":          "APNS_REQUEST_TIMEOUT",
	"dial_timeout":             "APNS_DIAL_TIMEOUT",
	"max_consecutive_timeouts": "APNS_MAX_CONSECUTIVE_TIMEOUTS",
	"token_ttl":                "APNS_TOKEN_TTL",
	"push_rate_limit":          "PUSH_RATE_LIMIT",
	"push_burst":               "PUSH_BURST",
	"new_relic_license_key":    "NEW_RELIC_LICENSE_KEY",
}

func bindEnv(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// RegisterFlags adds a flag for every config key to flags. Flag defaults match
// the config defaults, so an unset flag never masks the config file or the
// environment.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(flagName("log_level"), defaultConfig.LogLevel, "logrus log level")
	flags.String(flagName("app_name"), defaultConfig.AppName, "application name reported to New Relic")

	flags.String(flagName("certificate_url"), defaultConfig.CertificateURL, "PKCS#12 certificate location, as a path, file:// or env:// URL")
	flags.String(flagName("certificate_passphrase"), defaultConfig.CertificatePassphrase, "PKCS#12 certificate passphrase")
	flags.String(flagName("signing_key_url"), defaultConfig.SigningKeyURL, ".p8 signing key location, as a path, file:// or env:// URL")
	flags.String(flagName("key_id"), defaultConfig.KeyID, "signing key ID")
	flags.String(flagName("team_id"), defaultConfig.TeamID, "developer team ID")

	flags.String(flagName("topic"), defaultConfig.Topic, "default apns-topic")
	flags.String(flagName("endpoint"), defaultConfig.Endpoint, "production, sandbox or an https URL")
	flags.Uint64(flagName("pool_size"), defaultConfig.PoolSize, "number of HTTP/2 connections")
	flags.Duration(flagName("request_timeout"), defaultConfig.RequestTimeout, "per request timeout")
	flags.Duration(flagName("dial_timeout"), defaultConfig.DialTimeout, "connection establishment timeout")
	flags.Uint64(flagName("max_consecutive_timeouts"), defaultConfig.MaxConsecutiveTimeouts, "timeouts before a connection is replaced")
	flags.Duration(flagName("token_ttl"), defaultConfig.TokenTTL, "provider token lifetime")

	flags.Float64(flagName("push_rate_limit"), defaultConfig.PushRateLimit, "pushes per second per device token, 0 disables the limit")
	flags.Int(flagName("push_burst"), defaultConfig.PushBurst, "per device token burst")

	flags.String(flagName("new_relic_license_key"), defaultConfig.NewRelicLicenseKey, "New Relic license key")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key := range envBindings {
		flag := flags.Lookup(flagName(key))
		if flag == nil {
			continue
		}

		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// flagName converts a config key into the corresponding flag name
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
