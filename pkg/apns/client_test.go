package apns

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/apns/pkg/testutil"
)

type testEnv struct {
	server *testutil.Server
	client *Client

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

type testHandler func(w http.ResponseWriter, r *http.Request)

func respondOK(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("apns-id")
	if len(id) == 0 {
		id = "00000000-0000-0000-0000-000000000001"
	}
	w.Header().Set("apns-id", id)
	w.WriteHeader(http.StatusOK)
}

func respondWith(status int, body string) testHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("apns-id", "00000000-0000-0000-0000-000000000002")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func setup(t *testing.T, cred Credential, cfg StaticConfig, handler testHandler, opts ...testutil.ServerOption) *testEnv {
	env := &testEnv{}

	env.server = testutil.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		env.mu.Lock()
		env.requests = append(env.requests, r)
		env.bodies = append(env.bodies, body)
		env.mu.Unlock()

		handler(w, r)
	}), opts...)
	t.Cleanup(env.server.Stop)

	client, err := NewClient(
		cred,
		WithStaticConfig(cfg),
		WithAddress(env.server.Address()),
		WithRootCAs(env.server.RootCAs()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	env.client = client

	return env
}

func (e *testEnv) lastRequest(t *testing.T) (*http.Request, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	require.NotEmpty(t, e.requests)
	return e.requests[len(e.requests)-1], e.bodies[len(e.bodies)-1]
}

func newTestNotification() *Notification {
	return &Notification{
		DeviceToken: testDeviceToken,
		Payload:     []byte(`{"aps":{"alert":"hello"}}`),
		Options: Options{
			Topic:    "com.example.app",
			PushType: PushTypeAlert,
		},
	}
}

func TestClient_TokenMode(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	n := newTestNotification()
	n.Options.ID = "EABEAE54-14A8-11E5-B60B-1697F925EC7B"

	res, err := env.client.Send(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, n.Options.ID, res.ApnsID)

	req, body := env.lastRequest(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/3/device/"+testDeviceToken, req.URL.Path)
	assert.Equal(t, 2, req.ProtoMajor)
	assert.Equal(t, n.Payload, body)
	assert.Equal(t, "com.example.app", req.Header.Get("apns-topic"))
	assert.Equal(t, "alert", req.Header.Get("apns-push-type"))
	assert.True(t, strings.HasPrefix(req.Header.Get("authorization"), "bearer "))

	token, err := env.client.signer.Token()
	require.NoError(t, err)
	assert.Equal(t, "bearer "+token, req.Header.Get("authorization"))

	assert.Nil(t, env.client.CertificateInfo())
}

func TestClient_CertificateMode(t *testing.T) {
	cred, err := LoadCertificateFile("testdata/cert.p12", testArchivePassphrase)
	require.NoError(t, err)

	env := setup(t, cred, StaticConfig{}, respondOK, testutil.WithClientAuth(tls.RequireAnyClientCert))

	res, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	assert.True(t, res.Success())

	req, _ := env.lastRequest(t)
	_, ok := req.Header["Authorization"]
	assert.False(t, ok)
	require.NotNil(t, req.TLS)
	require.Len(t, req.TLS.PeerCertificates, 1)
	assert.Equal(t, cred.Certificate.Leaf.Raw, req.TLS.PeerCertificates[0].Raw)

	require.NotNil(t, env.client.CertificateInfo())
	assert.Equal(t, "com.example.app", env.client.CertificateInfo().BundleID)

	// No-op in certificate mode
	env.client.InvalidateToken()
}

func TestClient_Rejection(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondWith(http.StatusGone, `{"reason":"Unregistered","timestamp":1700000000000}`))

	res, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, http.StatusGone, res.StatusCode)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", res.ApnsID)
	require.NotNil(t, res.Failure)
	assert.Equal(t, ReasonUnregistered, res.Failure.Reason)
	require.NotNil(t, res.Failure.Timestamp)
	assert.Equal(t, time.UnixMilli(1700000000000), *res.Failure.Timestamp)
}

func TestClient_ResponseParsingError(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondWith(http.StatusInternalServerError, "<html>oops</html>"))

	_, err := env.client.Send(context.Background(), newTestNotification())
	assert.True(t, errors.Is(err, ErrResponseParsing))
}

func TestClient_PreflightFailureNotDispatched(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	n := newTestNotification()
	n.Payload = []byte(fmt.Sprintf(`{"aps":{"alert":"%s"}}`, strings.Repeat("a", MaxPayloadSize)))

	_, err := env.client.Send(context.Background(), n)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))

	_, err = env.client.Send(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrMissingDeviceToken))

	assert.Zero(t, env.server.Requests())
	assert.Zero(t, env.client.dispatcher.dialCount())
}

func TestClient_ConcurrentSendsShareConnection(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	var wg sync.WaitGroup
	var successes atomic.Uint64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := env.client.Send(context.Background(), newTestNotification())
			if assert.NoError(t, err) && res.Success() {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 100, successes.Load())
	assert.EqualValues(t, 100, env.server.Requests())
	assert.EqualValues(t, 1, env.server.Connections())
	assert.EqualValues(t, 1, env.client.dispatcher.dialCount())
	assert.EqualValues(t, 1, env.client.signer.signings)
}

func TestClient_Pool(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{PoolSize: 4}, respondOK)

	require.Len(t, env.client.dispatcher.slots, 4)

	// A device token always maps to the same slot
	s := env.client.dispatcher.slotFor(testDeviceToken)
	for i := 0; i < 10; i++ {
		assert.Equal(t, s, env.client.dispatcher.slotFor(testDeviceToken))
	}

	for i := 0; i < 10; i++ {
		_, err := env.client.Send(context.Background(), newTestNotification())
		require.NoError(t, err)
	}

	connected, closed := s.state()
	assert.True(t, connected)
	assert.False(t, closed)
	assert.EqualValues(t, 1, env.client.dispatcher.dialCount())
}

func TestClient_PeerClosedConnection(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	_, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	require.EqualValues(t, 1, env.client.dispatcher.dialCount())

	env.server.CloseClientConnections()

	s := env.client.dispatcher.slotFor(testDeviceToken)
	require.NoError(t, testutil.WaitFor(5*time.Second, 10*time.Millisecond, func() bool {
		_, closed := s.state()
		return closed
	}))

	// Transparently redialed
	res, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.EqualValues(t, 2, env.client.dispatcher.dialCount())
	assert.EqualValues(t, 2, env.server.Connections())
}

func TestClient_PeerClosedConnectionWithoutWaiting(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	_, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)

	const closes = 50
	for i := 0; i < closes; i++ {
		env.server.CloseClientConnections()

		// The close races the next send, which must never surface it
		res, err := env.client.Send(context.Background(), newTestNotification())
		require.NoError(t, err, "send %d after peer close", i)
		assert.True(t, res.Success())
	}

	assert.EqualValues(t, closes+1, env.client.dispatcher.dialCount())
	assert.EqualValues(t, closes+1, env.server.Requests())
}

func TestClient_Timeout(t *testing.T) {
	var block atomic.Bool
	block.Store(true)

	handler := func(w http.ResponseWriter, r *http.Request) {
		if block.Load() {
			<-r.Context().Done()
			return
		}
		respondOK(w, r)
	}

	env := setup(t, newTestSigningCredential(t), StaticConfig{
		RequestTimeout:         100 * time.Millisecond,
		MaxConsecutiveTimeouts: 2,
	}, handler)

	s := env.client.dispatcher.slotFor(testDeviceToken)

	_, err := env.client.Send(context.Background(), newTestNotification())
	assert.True(t, errors.Is(err, ErrTimeout))

	// A single timeout keeps the connection
	connected, _ := s.state()
	assert.True(t, connected)

	_, err = env.client.Send(context.Background(), newTestNotification())
	assert.True(t, errors.Is(err, ErrTimeout))

	// Consecutive timeouts tear the connection down
	connected, _ = s.state()
	assert.False(t, connected)

	block.Store(false)

	res, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.EqualValues(t, 2, env.client.dispatcher.dialCount())
}

func TestClient_Cancellation(t *testing.T) {
	var block atomic.Bool
	block.Store(true)

	started := make(chan struct{}, 1)
	handler := func(w http.ResponseWriter, r *http.Request) {
		if block.Load() {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		respondOK(w, r)
	}

	env := setup(t, newTestSigningCredential(t), StaticConfig{}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := env.client.Send(ctx, newTestNotification())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))

	block.Store(false)

	// The connection survives the cancelled stream
	res, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.EqualValues(t, 1, env.client.dispatcher.dialCount())
}

func TestClient_ConnectionFailure(t *testing.T) {
	server := testutil.NewServer(http.HandlerFunc(respondOK))
	address := server.Address()
	server.Stop()

	client, err := NewClient(
		newTestSigningCredential(t),
		WithStaticConfig(StaticConfig{DialTimeout: time.Second}),
		WithAddress(address),
	)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Send(context.Background(), newTestNotification())
	assert.True(t, errors.Is(err, ErrConnectionFailed))
}

func TestClient_Close(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	_, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)

	require.NoError(t, env.client.Close())
	require.NoError(t, env.client.Close())

	_, err = env.client.Send(context.Background(), newTestNotification())
	assert.Equal(t, ErrClientClosed, err)
}

func TestClient_InvalidateToken(t *testing.T) {
	env := setup(t, newTestSigningCredential(t), StaticConfig{}, respondOK)

	_, err := env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)

	env.client.InvalidateToken()

	_, err = env.client.Send(context.Background(), newTestNotification())
	require.NoError(t, err)
	assert.EqualValues(t, 2, env.client.signer.signings)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(nil, WithStaticConfig(StaticConfig{}))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(&CertificateCredential{}, WithStaticConfig(StaticConfig{}))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(newTestSigningCredential(t), WithStaticConfig(StaticConfig{TokenTTL: time.Minute}))
	assert.True(t, errors.Is(err, ErrInvalidTokenTTL))

	_, err = NewClient(newTestSigningCredential(t), WithStaticConfig(StaticConfig{RequestTimeout: -time.Second}))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(newTestSigningCredential(t), WithStaticConfig(StaticConfig{DialTimeout: -time.Second}))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(newTestSigningCredential(t), WithStaticConfig(StaticConfig{}), WithAddress("no-port"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewCertificateClient([]byte("garbage"), testArchivePassphrase, WithStaticConfig(StaticConfig{}))
	assert.True(t, errors.Is(err, ErrMalformedArchive))

	_, err = NewTokenClient([]byte("garbage"), testKeyID, testTeamID, WithStaticConfig(StaticConfig{}))
	assert.True(t, errors.Is(err, ErrMalformedKey))
}

func TestNewClient_ZeroRequestTimeout(t *testing.T) {
	t.Setenv(RequestTimeoutConfigEnvName, "0")

	_, err := NewClient(newTestSigningCredential(t), WithEnvConfigs())
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNewClient_EnvConfig(t *testing.T) {
	t.Setenv(EndpointConfigEnvName, "sandbox")
	t.Setenv(PoolSizeConfigEnvName, "3")

	client, err := NewClient(newTestSigningCredential(t), WithEnvConfigs())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, EndpointSandbox, client.Endpoint())
	assert.Equal(t, "api.sandbox.push.apple.com", client.authority)
	assert.Len(t, client.dispatcher.slots, 3)
}
