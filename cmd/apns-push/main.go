// Command apns-push sends a notification to one or more device tokens.
//
//	apns-push [--config config.yaml] [flags] <token> [<token2> [...]]
//
// Credentials and client settings come from the config file, APNS_*
// environment variables and the matching flags, in increasing order of
// precedence. Either --payload or the alert flags describe the notification.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/code-payments/apns/pkg/apns"
	"github.com/code-payments/apns/pkg/apns/payload"
	"github.com/code-payments/apns/pkg/app"
	"github.com/code-payments/apns/pkg/metrics"
)

type notificationFlags struct {
	payloadPath string
	title       string
	body        string
	badge       int
	sound       string
	silent      bool
	pushType    string
	priority    uint
	collapseID  string
	expiration  time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var nf notificationFlags

	cmd := &cobra.Command{
		Use:   "apns-push [flags] <token> [<token2> [...]]",
		Short: "Send Apple Push notifications",
		Long: `
Send Apple Push notifications to one or more device tokens.

Client options may be supplied in a yaml configuration file, via APNS_*
environment variables, or via the flags below. Flags win over environment
variables, which win over the configuration file.
`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, cmd, nf, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "config.yaml", "path to the config file")
	flags.StringVar(&nf.payloadPath, "payload", "", "JSON file with the raw payload")
	flags.StringVar(&nf.title, "title", "", "alert title")
	flags.StringVar(&nf.body, "body", "", "alert body")
	flags.IntVar(&nf.badge, "badge", -1, "badge number, negative to leave unchanged")
	flags.StringVar(&nf.sound, "sound", "", "sound name")
	flags.BoolVar(&nf.silent, "silent", false, "send a background content-available push")
	flags.StringVar(&nf.pushType, "push-type", "", "apns-push-type")
	flags.UintVar(&nf.priority, "priority", 0, "apns-priority, 5 or 10")
	flags.StringVar(&nf.collapseID, "collapse-id", "", "apns-collapse-id")
	flags.DurationVar(&nf.expiration, "expiration", 0, "time until the notification expires")
	app.RegisterFlags(flags)

	return cmd
}

func run(configPath string, cmd *cobra.Command, nf notificationFlags, tokens []string) error {
	config, err := app.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "error loading config")
	}

	metricsProvider, err := app.NewMetricsProvider(config)
	if err != nil {
		return errors.Wrap(err, "error initializing metrics provider")
	}
	if metricsProvider != nil {
		defer metricsProvider.Shutdown(5 * time.Second)
	}

	app.ConfigureLogger(config, metricsProvider)
	log := logrus.StandardLogger().WithField("type", "cmd/apns-push")

	data, err := loadPayload(nf)
	if err != nil {
		return errors.Wrap(err, "error building payload")
	}

	opts := apns.Options{
		Topic:      config.Topic,
		PushType:   apns.PushType(nf.pushType),
		Priority:   apns.Priority(nf.priority),
		CollapseID: nf.collapseID,
	}
	if nf.expiration > 0 {
		opts.Expiration = time.Now().Add(nf.expiration)
	}

	client, err := config.NewClient()
	if err != nil {
		return errors.Wrap(err, "error creating apns client")
	}
	defer client.Close()

	ctx, end := metrics.NewContext(cmd.Context(), metricsProvider, "apns-push")
	defer end()

	var failed int
	for _, token := range tokens {
		if !send(ctx, log.WithField("device_token", token), client, token, data, opts) {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d notifications failed", failed, len(tokens))
	}
	return nil
}

func send(ctx context.Context, log *logrus.Entry, client *apns.Client, token string, data []byte, opts apns.Options) bool {
	res, err := client.Send(ctx, &apns.Notification{
		DeviceToken: token,
		Payload:     data,
		Options:     opts,
	})
	if err != nil {
		log.WithError(err).Warn("failure sending notification")
		return false
	}

	if !res.Success() {
		log.WithFields(logrus.Fields{
			"apns_id": res.ApnsID,
			"status":  res.StatusCode,
			"reason":  res.Failure.RawReason,
		}).Warn("notification rejected")
		return false
	}

	log.WithFields(logrus.Fields{
		"apns_id":        res.ApnsID,
		"apns_unique_id": res.UniqueID,
	}).Info("notification sent")
	return true
}

// loadPayload reads the raw payload file when one is given, and builds an
// alert otherwise.
func loadPayload(nf notificationFlags) ([]byte, error) {
	if len(nf.payloadPath) > 0 {
		data, err := os.ReadFile(nf.payloadPath)
		if err != nil {
			return nil, errors.Wrap(err, "error reading payload file")
		}
		return data, nil
	}

	b := payload.NewBuilder()
	if len(nf.title) > 0 {
		b.Title(nf.title)
	}
	if len(nf.body) > 0 {
		b.Body(nf.body)
	}
	if nf.badge >= 0 {
		b.Badge(nf.badge)
	}
	if len(nf.sound) > 0 {
		b.Sound(nf.sound)
	}
	if nf.silent {
		b.ContentAvailable()
	}

	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	return p.MarshalJSON()
}
