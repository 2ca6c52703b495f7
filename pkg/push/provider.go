package push

import (
	"context"
	"encoding/hex"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidPushToken indicates the push token no longer identifies an app
	// install and should be discarded.
	ErrInvalidPushToken = errors.New("push token is invalid")

	// ErrRateLimited indicates too many pushes were sent to the push token.
	ErrRateLimited = errors.New("push rate limited")
)

type Provider interface {
	// IsValidPushToken validates whether a push token is valid
	IsValidPushToken(ctx context.Context, pushToken string) (bool, error)

	// SendPush sends a basic push notication with a title and body
	SendPush(ctx context.Context, pushToken, title, body string) error

	// SendMutableAPNSPush sends a push over APNS with a text body that's mutable
	// on the client using custom key value pairs
	SendMutableAPNSPush(ctx context.Context, pushToken, titleKey, category, threadID string, kvs map[string]string) error

	// SendDataPush sends a data push
	SendDataPush(ctx context.Context, pushToken string, kvs map[string]string) error

	// SetAPNSBadgeCount sets the badge count on the iOS app icon
	SetAPNSBadgeCount(ctx context.Context, pushToken string, count int) error
}

const (
	minAPNSTokenSize = 32
	maxAPNSTokenSize = 100
)

// IsWellFormedAPNSToken returns whether pushToken is a hex encoded APNs device
// token. It says nothing about whether APNs still accepts the token.
func IsWellFormedAPNSToken(pushToken string) bool {
	decoded, err := hex.DecodeString(pushToken)
	if err != nil {
		return false
	}
	return len(decoded) >= minAPNSTokenSize && len(decoded) <= maxAPNSTokenSize
}
