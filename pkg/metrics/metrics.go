package metrics

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicContextKey is the context key holding the *newrelic.Application
type NewRelicContextKey struct{}

// NewContext returns a context carrying the New Relic application, and a
// background transaction named txnName when one isn't already present.
// The returned func ends the transaction it started, if any.
func NewContext(ctx context.Context, app *newrelic.Application, txnName string) (context.Context, func()) {
	if app == nil {
		return ctx, func() {}
	}

	ctx = context.WithValue(ctx, NewRelicContextKey{}, app)
	if newrelic.FromContext(ctx) != nil {
		return ctx, func() {}
	}

	txn := app.StartTransaction(txnName)
	return newrelic.NewContext(ctx, txn), txn.End
}

func applicationFromContext(ctx context.Context) (*newrelic.Application, bool) {
	nr, ok := ctx.Value(NewRelicContextKey{}).(*newrelic.Application)
	return nr, ok && nr != nil
}

// RecordCount records a count metric
func RecordCount(ctx context.Context, metricName string, count uint64) {
	if nr, ok := applicationFromContext(ctx); ok {
		nr.RecordCustomMetric(metricName, float64(count))
	}
}

// RecordDuration records a duration metric
func RecordDuration(ctx context.Context, metricName string, duration time.Duration) {
	if nr, ok := applicationFromContext(ctx); ok {
		nr.RecordCustomMetric(metricName, float64(duration/time.Millisecond))
	}
}

// RecordEvent records a new event with a name and set of key-value pairs
func RecordEvent(ctx context.Context, eventName string, kvPairs map[string]interface{}) {
	if nr, ok := applicationFromContext(ctx); ok {
		nr.RecordCustomEvent(eventName, kvPairs)
	}
}
