package memory

import (
	"context"
	"sync"

	"github.com/code-payments/apns/pkg/push"
)

const (
	// This value will pass IsValidPushToken
	ValidApplePushToken = "740f4707bebcf74f9b7c25d48e3358945f6aa01da5ddb387462c7eaf61bb78ad"

	// This value will fail IsValidPushToken
	InvalidPushToken = "invalid"
)

// Push is a push recorded by the in memory provider.
type Push struct {
	Method    string
	PushToken string
	Title     string
	Body      string
	Category  string
	ThreadID  string
	Badge     int
	Data      map[string]string
}

// Provider is an in memory push.Provider that records successful pushes.
type Provider struct {
	sync.Mutex
	pushes []Push
}

// NewPushProvider returns a new in memory push.Provider
func NewPushProvider() *Provider {
	return &Provider{}
}

// IsValidPushToken implements push.Provider.IsValidPushToken
func (p *Provider) IsValidPushToken(_ context.Context, pushToken string) (bool, error) {
	return pushToken == ValidApplePushToken, nil
}

// SendPush implements push.Provider.SendPush
func (p *Provider) SendPush(ctx context.Context, pushToken, title, body string) error {
	return p.simulateSendingPush(Push{
		Method:    "SendPush",
		PushToken: pushToken,
		Title:     title,
		Body:      body,
	})
}

// SendMutableAPNSPush implements push.Provider.SendMutableAPNSPush
func (p *Provider) SendMutableAPNSPush(ctx context.Context, pushToken, titleKey, category, threadID string, kvs map[string]string) error {
	return p.simulateSendingPush(Push{
		Method:    "SendMutableAPNSPush",
		PushToken: pushToken,
		Title:     titleKey,
		Category:  category,
		ThreadID:  threadID,
		Data:      kvs,
	})
}

// SendDataPush implements push.Provider.SendDataPush
func (p *Provider) SendDataPush(ctx context.Context, pushToken string, kvs map[string]string) error {
	return p.simulateSendingPush(Push{
		Method:    "SendDataPush",
		PushToken: pushToken,
		Data:      kvs,
	})
}

// SetAPNSBadgeCount implements push.Provider.SetAPNSBadgeCount
func (p *Provider) SetAPNSBadgeCount(ctx context.Context, pushToken string, count int) error {
	return p.simulateSendingPush(Push{
		Method:    "SetAPNSBadgeCount",
		PushToken: pushToken,
		Badge:     count,
	})
}

// Pushes returns the pushes sent so far.
func (p *Provider) Pushes() []Push {
	p.Lock()
	defer p.Unlock()

	pushes := make([]Push, len(p.pushes))
	copy(pushes, p.pushes)
	return pushes
}

// Reset clears the recorded pushes.
func (p *Provider) Reset() {
	p.Lock()
	p.pushes = nil
	p.Unlock()
}

func (p *Provider) simulateSendingPush(sent Push) error {
	if sent.PushToken != ValidApplePushToken {
		return push.ErrInvalidPushToken
	}

	p.Lock()
	p.pushes = append(p.pushes, sent)
	p.Unlock()
	return nil
}
