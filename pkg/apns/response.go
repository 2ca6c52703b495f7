package apns

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/apns/pkg/pointer"
)

// maxErrorBodySize bounds how much of an error body is read. APNs bodies are
// a few dozen bytes.
const maxErrorBodySize = 64 * 1024

// Response is the outcome of a notification that reached APNs. Exactly one of
// a successful delivery (Failure is nil) or a rejection (Failure is set) is
// described.
type Response struct {
	StatusCode int

	// ApnsID is the apns-id returned by the server, verbatim.
	ApnsID string

	// UniqueID is the apns-unique-id returned by the sandbox environment for
	// looking up delivery logs.
	UniqueID string

	Failure *Failure
}

// Success returns whether APNs accepted the notification.
func (r *Response) Success() bool {
	return r.Failure == nil
}

// Failure describes a notification rejected by APNs.
type Failure struct {
	StatusCode int

	Reason Reason

	// RawReason is the reason string as sent by the server.
	RawReason string

	// Timestamp is set when the device token is no longer valid for the
	// topic, and is the last time APNs confirmed that. Notifications should
	// stop being sent to the device token afterwards.
	Timestamp *time.Time
}

func (f *Failure) Error() string {
	s := fmt.Sprintf("apns: %d %s", f.StatusCode, f.RawReason)
	if f.Timestamp != nil {
		s += fmt.Sprintf(" (timestamp %d)", f.Timestamp.UnixMilli())
	}
	return s
}

type errorBody struct {
	Reason    string `json:"reason"`
	Timestamp *int64 `json:"timestamp"`
}

// interpretResponse maps the raw HTTP/2 response into a Response. Rejections
// are returned as values; an error is only returned when the body of an error
// response cannot be understood.
func interpretResponse(statusCode int, header http.Header, body io.Reader) (*Response, error) {
	res := &Response{
		StatusCode: statusCode,
		ApnsID:     header.Get(headerID),
		UniqueID:   header.Get(headerUniqueID),
	}

	if statusCode >= 200 && statusCode < 300 {
		return res, nil
	}

	var parsed errorBody
	if err := json.NewDecoder(io.LimitReader(body, maxErrorBodySize)).Decode(&parsed); err != nil {
		return nil, errors.Wrapf(ErrResponseParsing, "status %d: %s", statusCode, err.Error())
	}
	if len(parsed.Reason) == 0 {
		return nil, errors.Wrapf(ErrResponseParsing, "status %d: missing reason", statusCode)
	}

	failure := &Failure{
		StatusCode: statusCode,
		Reason:     ParseReason(parsed.Reason),
		RawReason:  parsed.Reason,
	}
	if parsed.Timestamp != nil {
		failure.Timestamp = pointer.To(time.UnixMilli(*parsed.Timestamp))
	}

	res.Failure = failure
	return res, nil
}
