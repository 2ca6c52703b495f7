// Package payload builds the JSON body of an APNs notification.
package payload

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/apns/pkg/apns"
	"github.com/code-payments/apns/pkg/pointer"
)

// ErrReservedKey is returned when custom data would overwrite the aps
// dictionary.
var ErrReservedKey = errors.New("payload: aps is a reserved key")

// InterruptionLevel is the importance and delivery timing of a notification.
type InterruptionLevel string

const (
	InterruptionLevelPassive       InterruptionLevel = "passive"
	InterruptionLevelActive        InterruptionLevel = "active"
	InterruptionLevelTimeSensitive InterruptionLevel = "time-sensitive"
	InterruptionLevelCritical      InterruptionLevel = "critical"
)

type alert struct {
	Title        string   `json:"title,omitempty"`
	Subtitle     string   `json:"subtitle,omitempty"`
	Body         string   `json:"body,omitempty"`
	TitleLocKey  string   `json:"title-loc-key,omitempty"`
	TitleLocArgs []string `json:"title-loc-args,omitempty"`
	ActionLocKey string   `json:"action-loc-key,omitempty"`
	LocKey       string   `json:"loc-key,omitempty"`
	LocArgs      []string `json:"loc-args,omitempty"`
	LaunchImage  string   `json:"launch-image,omitempty"`
}

func (a *alert) empty() bool {
	return len(a.Title) == 0 &&
		len(a.Subtitle) == 0 &&
		len(a.TitleLocKey) == 0 &&
		len(a.TitleLocArgs) == 0 &&
		len(a.ActionLocKey) == 0 &&
		len(a.LocKey) == 0 &&
		len(a.LocArgs) == 0 &&
		len(a.LaunchImage) == 0 &&
		len(a.Body) == 0
}

// bodyOnly returns whether the alert can be sent as a plain string.
func (a *alert) bodyOnly() bool {
	return len(a.Body) > 0 && len(a.Title) == 0 && len(a.Subtitle) == 0 &&
		len(a.TitleLocKey) == 0 && len(a.TitleLocArgs) == 0 &&
		len(a.ActionLocKey) == 0 && len(a.LocKey) == 0 &&
		len(a.LocArgs) == 0 && len(a.LaunchImage) == 0
}

type criticalSound struct {
	Critical int      `json:"critical"`
	Name     string   `json:"name,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

type aps struct {
	Alert             interface{}       `json:"alert,omitempty"`
	Badge             *int              `json:"badge,omitempty"`
	Sound             interface{}       `json:"sound,omitempty"`
	ThreadID          string            `json:"thread-id,omitempty"`
	Category          string            `json:"category,omitempty"`
	ContentAvailable  int               `json:"content-available,omitempty"`
	MutableContent    int               `json:"mutable-content,omitempty"`
	InterruptionLevel InterruptionLevel `json:"interruption-level,omitempty"`
	RelevanceScore    *float64          `json:"relevance-score,omitempty"`
	FilterCriteria    string            `json:"filter-criteria,omitempty"`
	TargetContentID   string            `json:"target-content-id,omitempty"`

	// Live activities
	Timestamp      int64           `json:"timestamp,omitempty"`
	Event          string          `json:"event,omitempty"`
	ContentState   json.RawMessage `json:"content-state,omitempty"`
	AttributesType string          `json:"attributes-type,omitempty"`
	Attributes     json.RawMessage `json:"attributes,omitempty"`
	DismissalDate  int64           `json:"dismissal-date,omitempty"`
	StaleDate      int64           `json:"stale-date,omitempty"`

	// Broadcast push
	InputPushChannel string `json:"input-push-channel,omitempty"`
	InputPushToken   int    `json:"input-push-token,omitempty"`
}

// Builder collects the fields of the aps dictionary. Setters return the
// Builder so calls can be chained. Values that fail to serialize are reported
// by Build.
type Builder struct {
	alert alert

	soundName     string
	soundCritical bool
	soundVolume   *float64

	aps aps
	err error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Title(title string) *Builder {
	b.alert.Title = title
	return b
}

func (b *Builder) Subtitle(subtitle string) *Builder {
	b.alert.Subtitle = subtitle
	return b
}

// Body sets the alert text. A notification with only a body is sent with the
// alert as a plain string.
func (b *Builder) Body(body string) *Builder {
	b.alert.Body = body
	return b
}

func (b *Builder) TitleLocKey(key string) *Builder {
	b.alert.TitleLocKey = key
	return b
}

func (b *Builder) TitleLocArgs(args ...string) *Builder {
	b.alert.TitleLocArgs = args
	return b
}

func (b *Builder) ActionLocKey(key string) *Builder {
	b.alert.ActionLocKey = key
	return b
}

func (b *Builder) LocKey(key string) *Builder {
	b.alert.LocKey = key
	return b
}

func (b *Builder) LocArgs(args ...string) *Builder {
	b.alert.LocArgs = args
	return b
}

func (b *Builder) LaunchImage(image string) *Builder {
	b.alert.LaunchImage = image
	return b
}

// Badge sets the app icon badge. Zero clears the badge.
func (b *Builder) Badge(badge int) *Builder {
	b.aps.Badge = &badge
	return b
}

func (b *Builder) Sound(name string) *Builder {
	b.soundName = name
	return b
}

// CriticalSound marks the sound as critical, playing regardless of mute and
// do not disturb. A nil volume uses the system default.
func (b *Builder) CriticalSound(name string, volume *float64) *Builder {
	b.soundName = name
	b.soundCritical = true
	b.soundVolume = pointer.Copy(volume)
	return b
}

func (b *Builder) ThreadID(threadID string) *Builder {
	b.aps.ThreadID = threadID
	return b
}

func (b *Builder) Category(category string) *Builder {
	b.aps.Category = category
	return b
}

// ContentAvailable marks the notification as a background update.
func (b *Builder) ContentAvailable() *Builder {
	b.aps.ContentAvailable = 1
	return b
}

// MutableContent lets a notification service extension modify the
// notification before it's displayed.
func (b *Builder) MutableContent() *Builder {
	b.aps.MutableContent = 1
	return b
}

func (b *Builder) InterruptionLevel(level InterruptionLevel) *Builder {
	b.aps.InterruptionLevel = level
	return b
}

// RelevanceScore orders notifications in the summary. Values are clamped to
// [0, 1].
func (b *Builder) RelevanceScore(score float64) *Builder {
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	b.aps.RelevanceScore = &score
	return b
}

func (b *Builder) FilterCriteria(criteria string) *Builder {
	b.aps.FilterCriteria = criteria
	return b
}

func (b *Builder) TargetContentID(id string) *Builder {
	b.aps.TargetContentID = id
	return b
}

func (b *Builder) Timestamp(t time.Time) *Builder {
	b.aps.Timestamp = t.Unix()
	return b
}

// Event is the live activity event, such as "start", "update" or "end".
func (b *Builder) Event(event string) *Builder {
	b.aps.Event = event
	return b
}

func (b *Builder) ContentState(state interface{}) *Builder {
	b.aps.ContentState = b.marshal("content-state", state)
	return b
}

func (b *Builder) AttributesType(attributesType string) *Builder {
	b.aps.AttributesType = attributesType
	return b
}

func (b *Builder) Attributes(attributes interface{}) *Builder {
	b.aps.Attributes = b.marshal("attributes", attributes)
	return b
}

func (b *Builder) DismissalDate(t time.Time) *Builder {
	b.aps.DismissalDate = t.Unix()
	return b
}

func (b *Builder) StaleDate(t time.Time) *Builder {
	b.aps.StaleDate = t.Unix()
	return b
}

func (b *Builder) InputPushChannel(channelID string) *Builder {
	b.aps.InputPushChannel = channelID
	return b
}

func (b *Builder) InputPushToken() *Builder {
	b.aps.InputPushToken = 1
	return b
}

func (b *Builder) marshal(field string, v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil && b.err == nil {
		b.err = errors.Wrapf(err, "error marshalling %s", field)
	}
	return raw
}

// Build returns the Payload. Custom data can be added to it afterwards.
func (b *Builder) Build() (*Payload, error) {
	if b.err != nil {
		return nil, b.err
	}

	a := b.aps
	switch {
	case b.alert.bodyOnly():
		a.Alert = b.alert.Body
	case b.alert.empty():
	default:
		alertCopy := b.alert
		a.Alert = &alertCopy
	}

	switch {
	case b.soundCritical:
		a.Sound = &criticalSound{
			Critical: 1,
			Name:     b.soundName,
			Volume:   b.soundVolume,
		}
	case len(b.soundName) > 0:
		a.Sound = b.soundName
	}

	return &Payload{
		aps:  a,
		data: make(map[string]json.RawMessage),
	}, nil
}

// Notification builds the payload and wraps it for sending to deviceToken.
func (b *Builder) Notification(deviceToken string, opts apns.Options) (*apns.Notification, error) {
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	return p.Notification(deviceToken, opts)
}

// Payload is the aps dictionary plus any custom top level keys.
type Payload struct {
	aps  aps
	data map[string]json.RawMessage
}

// AddCustomData adds a top level key next to aps. v must be JSON
// serializable.
func (p *Payload) AddCustomData(key string, v interface{}) error {
	if key == "aps" {
		return ErrReservedKey
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "error marshalling custom data %s", key)
	}

	p.data[key] = raw
	return nil
}

func (p *Payload) MarshalJSON() ([]byte, error) {
	apsBytes, err := json.Marshal(&p.aps)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(p.data)+1)
	for key, raw := range p.data {
		merged[key] = raw
	}
	merged["aps"] = apsBytes

	return json.Marshal(merged)
}

// Notification serializes the payload for sending to deviceToken.
func (p *Payload) Notification(deviceToken string, opts apns.Options) (*apns.Notification, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling payload")
	}

	return &apns.Notification{
		DeviceToken: deviceToken,
		Payload:     body,
		Options:     opts,
	}, nil
}
