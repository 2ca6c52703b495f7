package apns

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	apns_lib "github.com/code-payments/apns/pkg/apns"
	"github.com/code-payments/apns/pkg/apns/payload"
	"github.com/code-payments/apns/pkg/metrics"
	"github.com/code-payments/apns/pkg/push"
	"github.com/code-payments/apns/pkg/rate"
	"github.com/code-payments/apns/pkg/retry"
	"github.com/code-payments/apns/pkg/retry/backoff"
)

const (
	metricsStructName = "push.apns.provider"

	retryCountMetricName = "PushApns/retry_count"

	defaultMaxAttempts = 3
	defaultBaseBackoff = 250 * time.Millisecond
	defaultMaxBackoff  = time.Second
	backoffJitter      = 0.1

	// mutableBodyPlaceholder is replaced by the notification service extension
	mutableBodyPlaceholder = "..."
)

// Client is the subset of *apns.Client the provider uses.
type Client interface {
	Send(ctx context.Context, n *apns_lib.Notification) (*apns_lib.Response, error)
	InvalidateToken()
}

type provider struct {
	log     *logrus.Entry
	client  Client
	topic   string
	limiter rate.Limiter

	maxAttempts uint
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewPushProvider returns a new push.Provider backed by APNs. Pushes are sent
// for topic, which is usually the app's bundle ID, and throttled per push
// token by limiter.
func NewPushProvider(client Client, topic string, limiter rate.Limiter) push.Provider {
	return &provider{
		log:         logrus.StandardLogger().WithField("type", "push/apns/provider"),
		client:      client,
		topic:       topic,
		limiter:     limiter,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
}

// IsValidPushToken implements push.Provider.IsValidPushToken
//
// APNs has no dry run, so only the format of the token is checked. Tokens that
// are well formed but unregistered surface as push.ErrInvalidPushToken on send.
func (p *provider) IsValidPushToken(ctx context.Context, pushToken string) (bool, error) {
	defer metrics.TraceMethodCall(ctx, metricsStructName, "IsValidPushToken").End()

	return push.IsWellFormedAPNSToken(pushToken), nil
}

// SendPush implements push.Provider.SendPush
func (p *provider) SendPush(ctx context.Context, pushToken, title, body string) error {
	defer metrics.TraceMethodCall(ctx, metricsStructName, "SendPush").End()

	builder := payload.NewBuilder().
		Title(title).
		Body(body)

	return p.send(ctx, pushToken, builder, nil, apns_lib.Options{
		PushType: apns_lib.PushTypeAlert,
		Priority: apns_lib.PriorityImmediate,
	})
}

// SendMutableAPNSPush implements push.Provider.SendMutableAPNSPush
func (p *provider) SendMutableAPNSPush(
	ctx context.Context,
	pushToken,
	titleKey, category, threadID string,
	kvs map[string]string,
) error {
	defer metrics.TraceMethodCall(ctx, metricsStructName, "SendMutableAPNSPush").End()

	builder := payload.NewBuilder().
		TitleLocKey(titleKey).
		Body(mutableBodyPlaceholder).
		Category(category).
		ThreadID(threadID).
		MutableContent()

	return p.send(ctx, pushToken, builder, kvs, apns_lib.Options{
		PushType: apns_lib.PushTypeAlert,
		Priority: apns_lib.PriorityImmediate,
	})
}

// SendDataPush implements push.Provider.SendDataPush
func (p *provider) SendDataPush(ctx context.Context, pushToken string, kvs map[string]string) error {
	defer metrics.TraceMethodCall(ctx, metricsStructName, "SendDataPush").End()

	// Background pushes must be sent with normal priority
	return p.send(ctx, pushToken, payload.NewBuilder().ContentAvailable(), kvs, apns_lib.Options{
		PushType: apns_lib.PushTypeBackground,
		Priority: apns_lib.PriorityNormal,
	})
}

// SetAPNSBadgeCount implements push.Provider.SetAPNSBadgeCount
func (p *provider) SetAPNSBadgeCount(ctx context.Context, pushToken string, count int) error {
	defer metrics.TraceMethodCall(ctx, metricsStructName, "SetAPNSBadgeCount").End()

	return p.send(ctx, pushToken, payload.NewBuilder().Badge(count), nil, apns_lib.Options{
		PushType: apns_lib.PushTypeAlert,
		Priority: apns_lib.PriorityNormal,
	})
}

func (p *provider) send(ctx context.Context, pushToken string, builder *payload.Builder, kvs map[string]string, opts apns_lib.Options) error {
	log := p.log.WithField("push_token", pushToken)

	allowed, err := p.limiter.Allow(pushToken)
	if err != nil {
		log.WithError(err).Warn("failure checking rate limit")
	} else if !allowed {
		return push.ErrRateLimited
	}

	built, err := builder.Build()
	if err != nil {
		return errors.Wrap(err, "error building payload")
	}
	for k, v := range kvs {
		if err := built.AddCustomData(k, v); err != nil {
			return errors.Wrapf(err, "error adding custom data %s", k)
		}
	}

	opts.Topic = p.topic
	n, err := built.Notification(pushToken, opts)
	if err != nil {
		return err
	}

	return p.retrier(ctx, log, func() error {
		res, err := p.client.Send(ctx, n)
		if err != nil {
			return err
		}

		if res.Success() {
			return nil
		}

		failure := res.Failure
		log := log.WithFields(logrus.Fields{
			"status":  failure.StatusCode,
			"reason":  failure.RawReason,
			"apns_id": res.ApnsID,
		})

		if failure.Reason.DeviceTokenInvalid() {
			log.Debug("push token rejected")
			return errors.Wrap(push.ErrInvalidPushToken, failure.Error())
		}

		if failure.Reason.IsProviderTokenError() {
			log.Info("provider token rejected, signing a new one")
			p.client.InvalidateToken()
		}

		return failure
	})
}

// retrier is a common retry strategy for APNs sends
func (p *provider) retrier(ctx context.Context, log *logrus.Entry, action retry.Action) error {
	notify := func(attempt uint, err error) {
		metrics.RecordCount(ctx, retryCountMetricName, 1)
		log.WithError(err).WithField("attempt", attempt).Debug("retrying push")
	}

	_, err := retry.Retry(
		action,
		notify,
		retry.Context(ctx),
		retry.Limit(p.maxAttempts),
		retry.RetriableFunc(isRetriable),
		retry.BackoffWithJitter(ctx, backoff.BinaryExponential(p.baseBackoff), p.maxBackoff, backoffJitter),
	)
	return err
}

// isRetriable returns whether sending the same notification again may succeed.
// Mid-exchange transport failures are not retried.
func isRetriable(err error) bool {
	var failure *apns_lib.Failure
	if errors.As(err, &failure) {
		return failure.Reason.Retryable()
	}

	return errors.Is(err, apns_lib.ErrTimeout) || errors.Is(err, apns_lib.ErrConnectionFailed)
}
