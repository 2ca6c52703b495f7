package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// NewRelicLogFormatter is a logrus.Formatter that forwards every entry to New
// Relic, including all logrus.Entry.Fields, which the stock nrlogrus formatter
// drops. Entries logged with a context carrying a transaction are attached to
// that transaction.
type NewRelicLogFormatter struct {
	app       *newrelic.Application
	formatter logrus.Formatter
}

// NewNewRelicLogFormatter wraps formatter. A nil app disables forwarding.
func NewNewRelicLogFormatter(app *newrelic.Application, formatter logrus.Formatter) NewRelicLogFormatter {
	return NewRelicLogFormatter{
		app:       app,
		formatter: formatter,
	}
}

func (f NewRelicLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	logBytes, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}
	if f.app == nil {
		return logBytes, nil
	}

	logData := newrelic.LogData{
		Severity: e.Level.String(),
		Message:  flattenEntry(e),
	}

	b := bytes.NewBuffer(bytes.TrimRight(logBytes, "\n"))

	var txn *newrelic.Transaction
	if e.Context != nil {
		txn = newrelic.FromContext(e.Context)
	}

	if txn != nil {
		txn.RecordLog(logData)
		err = newrelic.EnrichLog(b, newrelic.FromTxn(txn))
	} else {
		f.app.RecordLog(logData)
		err = newrelic.EnrichLog(b, newrelic.FromApp(f.app))
	}
	if err != nil {
		return nil, err
	}

	b.WriteString("\n")
	return b.Bytes(), nil
}

// flattenEntry renders the message with its fields, pulling the error field
// out so it stays searchable.
func flattenEntry(e *logrus.Entry) string {
	if len(e.Data) == 0 {
		return e.Message
	}

	errorString := "<nil>"
	extraData := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		if k == logrus.ErrorKey {
			if typed, ok := v.(error); ok {
				errorString = fmt.Sprintf("%q", typed.Error())
			}
			continue
		}

		// Values that don't marshal are rendered with their default format
		if _, err := json.Marshal(v); err != nil {
			v = fmt.Sprintf("%v", v)
		}
		extraData[k] = v
	}

	extraDataJsonBytes, err := json.Marshal(extraData)
	if err != nil {
		return e.Message
	}
	return fmt.Sprintf("message=%q, error=%s, data=%s", e.Message, errorString, string(extraDataJsonBytes))
}
