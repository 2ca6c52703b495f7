package apns

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	devicePathPrefix = "/3/device/"

	headerAuthorization = "authorization"
	headerContentType   = "content-type"
	headerID            = "apns-id"
	headerUniqueID      = "apns-unique-id"
	headerExpiration    = "apns-expiration"
	headerPriority      = "apns-priority"
	headerCollapseID    = "apns-collapse-id"
	headerTopic         = "apns-topic"
	headerPushType      = "apns-push-type"

	contentTypeJSON = "application/json"
)

// authorizer supplies the authorization header value in token mode.
type authorizer interface {
	Authorization() (string, error)
}

// Validate checks the notification against the limits APNs enforces, so that
// requests that would certainly be rejected are never dispatched.
func (n *Notification) Validate() error {
	if len(n.DeviceToken) == 0 {
		return ErrMissingDeviceToken
	}
	if !isHex(n.DeviceToken) {
		return errors.Wrapf(ErrInvalidDeviceToken, "%q", n.DeviceToken)
	}

	if len(n.Payload) == 0 {
		return ErrPayloadEmpty
	}

	if err := n.Options.PushType.Validate(); err != nil {
		return errors.Wrapf(err, "push type %q", n.Options.PushType)
	}

	if limit := n.Options.PushType.MaxPayloadSize(); len(n.Payload) > limit {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds %d", len(n.Payload), limit)
	}

	if err := n.Options.Priority.Validate(); err != nil {
		return errors.Wrapf(err, "priority %d", n.Options.Priority)
	}

	if len(n.Options.ID) > 0 {
		// Only the 8-4-4-4-12 form is accepted
		if _, err := uuid.Parse(n.Options.ID); err != nil || len(n.Options.ID) != 36 {
			return errors.Wrapf(ErrInvalidID, "%q", n.Options.ID)
		}
	}

	if len(n.Options.CollapseID) > maxCollapseIDSize {
		return ErrCollapseIDTooLong
	}

	return nil
}

// isHex reports whether s only holds hex digits. Device tokens are joined into
// the request path, so this also keeps separators and dot segments out.
func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// buildRequest assembles the HTTP/2 request for a notification. In token mode
// auth is non-nil and provides the authorization header; in certificate mode
// identity is carried by the TLS connection instead.
func buildRequest(ctx context.Context, authority string, n *Notification, auth authorizer) (*http.Request, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	u := &url.URL{
		Scheme: "https",
		Host:   authority,
		Path:   devicePathPrefix + n.DeviceToken,
	}

	payload := n.Payload
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "error creating http request")
	}
	req.ContentLength = int64(len(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	opts := n.Options
	if len(opts.ID) > 0 {
		req.Header.Set(headerID, opts.ID)
	}
	if !opts.Expiration.IsZero() {
		req.Header.Set(headerExpiration, strconv.FormatInt(opts.Expiration.Unix(), 10))
	}
	if opts.Priority != PriorityDefault {
		req.Header.Set(headerPriority, opts.Priority.headerValue())
	}
	if len(opts.CollapseID) > 0 {
		req.Header.Set(headerCollapseID, opts.CollapseID)
	}
	if len(opts.Topic) > 0 {
		req.Header.Set(headerTopic, opts.Topic)
	}
	if len(opts.PushType) > 0 {
		req.Header.Set(headerPushType, string(opts.PushType))
	}

	if auth != nil {
		value, err := auth.Authorization()
		if err != nil {
			return nil, errors.Wrap(err, "error getting provider token")
		}
		req.Header.Set(headerAuthorization, value)
	}

	return req, nil
}
