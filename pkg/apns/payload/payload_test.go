package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/apns/pkg/apns"
	"github.com/code-payments/apns/pkg/pointer"
)

func marshal(t *testing.T, b *Builder) string {
	p, err := b.Build()
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	return string(data)
}

func TestBuilder_BodyOnly(t *testing.T) {
	assert.JSONEq(t, `{"aps":{"alert":"hello"}}`, marshal(t, NewBuilder().Body("hello")))
}

func TestBuilder_TitleAndBody(t *testing.T) {
	assert.JSONEq(
		t,
		`{"aps":{"alert":{"title":"a title","body":"a body"}}}`,
		marshal(t, NewBuilder().Title("a title").Body("a body")),
	)
}

func TestBuilder_FullAlert(t *testing.T) {
	actual := marshal(t, NewBuilder().
		Title("the title").
		Body("the body").
		Badge(420).
		Category("cat1").
		Sound("prööt").
		CriticalSound("prööt", pointer.To(1.0)).
		MutableContent().
		ActionLocKey("PLAY").
		LaunchImage("foo.jpg").
		TitleLocKey("STOP").
		TitleLocArgs("herp", "derp").
		LocKey("PAUSE").
		LocArgs("narf", "derp").
		ThreadID("my-thread").
		InterruptionLevel(InterruptionLevelTimeSensitive).
		RelevanceScore(1.5))

	assert.JSONEq(t, `{
		"aps": {
			"alert": {
				"action-loc-key": "PLAY",
				"body": "the body",
				"launch-image": "foo.jpg",
				"loc-args": ["narf", "derp"],
				"loc-key": "PAUSE",
				"title": "the title",
				"title-loc-args": ["herp", "derp"],
				"title-loc-key": "STOP"
			},
			"badge": 420,
			"sound": {
				"critical": 1,
				"name": "prööt",
				"volume": 1.0
			},
			"category": "cat1",
			"thread-id": "my-thread",
			"mutable-content": 1,
			"interruption-level": "time-sensitive",
			"relevance-score": 1
		}
	}`, actual)
}

func TestBuilder_CriticalSoundCopiesVolume(t *testing.T) {
	volume := pointer.To(0.5)
	b := NewBuilder().CriticalSound("alarm", volume)
	*volume = 0.9

	assert.JSONEq(t, `{"aps":{"sound":{"critical":1,"name":"alarm","volume":0.5}}}`, marshal(t, b))
}

func TestBuilder_ZeroBadgeClears(t *testing.T) {
	assert.JSONEq(t, `{"aps":{"badge":0}}`, marshal(t, NewBuilder().Badge(0)))
}

func TestBuilder_Silent(t *testing.T) {
	assert.JSONEq(t, `{"aps":{"content-available":1}}`, marshal(t, NewBuilder().ContentAvailable()))
}

func TestBuilder_LiveActivity(t *testing.T) {
	ts := time.Unix(1672531200, 0)

	actual := marshal(t, NewBuilder().
		Timestamp(ts).
		Event("update").
		ContentState(map[string]interface{}{"score": 3}).
		AttributesType("GameAttributes").
		Attributes(map[string]string{"home": "A"}).
		DismissalDate(ts.Add(time.Hour)).
		StaleDate(ts.Add(30*time.Minute)).
		InputPushChannel("channel").
		InputPushToken())

	assert.JSONEq(t, `{
		"aps": {
			"timestamp": 1672531200,
			"event": "update",
			"content-state": {"score": 3},
			"attributes-type": "GameAttributes",
			"attributes": {"home": "A"},
			"dismissal-date": 1672534800,
			"stale-date": 1672533000,
			"input-push-channel": "channel",
			"input-push-token": 1
		}
	}`, actual)
}

func TestBuilder_UnserializableValue(t *testing.T) {
	_, err := NewBuilder().ContentState(make(chan int)).Build()
	assert.Error(t, err)

	_, err = NewBuilder().Attributes(func() {}).Notification("token", apns.Options{})
	assert.Error(t, err)
}

func TestPayload_CustomData(t *testing.T) {
	p, err := NewBuilder().Body("hello").Build()
	require.NoError(t, err)

	require.NoError(t, p.AddCustomData("custom", map[string]interface{}{
		"key_str":  "foo",
		"key_num":  42,
		"key_bool": false,
	}))
	require.NoError(t, p.AddCustomData("kind", "transfer"))

	assert.Equal(t, ErrReservedKey, p.AddCustomData("aps", "nope"))
	assert.Error(t, p.AddCustomData("bad", make(chan int)))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"aps": {"alert": "hello"},
		"custom": {"key_str": "foo", "key_num": 42, "key_bool": false},
		"kind": "transfer"
	}`, string(data))
}

func TestBuilder_Notification(t *testing.T) {
	opts := apns.Options{
		Topic:    "com.example.app",
		PushType: apns.PushTypeAlert,
	}

	n, err := NewBuilder().Body("hello").Notification("740f4707bebcf74f", opts)
	require.NoError(t, err)

	assert.Equal(t, "740f4707bebcf74f", n.DeviceToken)
	assert.Equal(t, opts, n.Options)
	assert.JSONEq(t, `{"aps":{"alert":"hello"}}`, string(n.Payload))
	assert.NoError(t, n.Validate())
}
