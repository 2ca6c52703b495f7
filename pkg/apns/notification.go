package apns

import (
	"strconv"
	"time"
)

const (
	// MaxPayloadSize is the largest payload APNs accepts for a regular
	// notification.
	MaxPayloadSize = 4096

	// MaxVoIPPayloadSize is the largest payload APNs accepts for a voip
	// notification.
	MaxVoIPPayloadSize = 5120

	maxCollapseIDSize = 64
)

// Notification is a single push to one device.
type Notification struct {
	// DeviceToken is the hex encoded token identifying the app on a device.
	DeviceToken string

	// Payload is the serialized JSON body. See the payload package for a
	// builder.
	Payload []byte

	Options Options
}

// Options are the delivery options sent as request headers. The zero value
// leaves everything to the APNs defaults.
type Options struct {
	// ID is a canonical UUID identifying the notification. APNs generates
	// one when empty.
	ID string

	// Expiration is when the notification is no longer valid. Zero lets
	// APNs use its default, and ExpireImmediately asks APNs to attempt
	// delivery only once.
	Expiration time.Time

	Priority Priority

	// CollapseID merges multiple notifications into one on the device.
	CollapseID string

	// Topic is usually the app's bundle ID.
	Topic string

	PushType PushType
}

// ExpireImmediately is an Expiration value requesting a single delivery
// attempt.
var ExpireImmediately = time.Unix(0, 0)

// Priority is the apns-priority header.
type Priority uint8

const (
	// PriorityDefault omits the header, which APNs treats as immediate.
	PriorityDefault Priority = 0

	// PriorityNormal sends the notification based on power considerations on
	// the device.
	PriorityNormal Priority = 5

	// PriorityImmediate sends the notification immediately.
	PriorityImmediate Priority = 10
)

// Validate returns an error for priorities APNs does not accept.
func (p Priority) Validate() error {
	switch p {
	case PriorityDefault, PriorityNormal, PriorityImmediate:
		return nil
	}
	return ErrInvalidPriority
}

func (p Priority) headerValue() string {
	return strconv.Itoa(int(p))
}

// PushType is the apns-push-type header.
type PushType string

const (
	PushTypeAlert        PushType = "alert"
	PushTypeBackground   PushType = "background"
	PushTypeLocation     PushType = "location"
	PushTypeVoIP         PushType = "voip"
	PushTypeComplication PushType = "complication"
	PushTypeFileProvider PushType = "fileprovider"
	PushTypeMDM          PushType = "mdm"
	PushTypeLiveActivity PushType = "liveactivity"
	PushTypePushToTalk   PushType = "pushtotalk"
	PushTypeWidgets      PushType = "widgets"
)

// Validate returns an error for unknown push types. The empty push type is
// valid and omits the header.
func (t PushType) Validate() error {
	switch t {
	case "",
		PushTypeAlert,
		PushTypeBackground,
		PushTypeLocation,
		PushTypeVoIP,
		PushTypeComplication,
		PushTypeFileProvider,
		PushTypeMDM,
		PushTypeLiveActivity,
		PushTypePushToTalk,
		PushTypeWidgets:
		return nil
	}
	return ErrInvalidPushType
}

// MaxPayloadSize returns the largest payload allowed for the push type.
func (t PushType) MaxPayloadSize() int {
	if t == PushTypeVoIP {
		return MaxVoIPPayloadSize
	}
	return MaxPayloadSize
}
