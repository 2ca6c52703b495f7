package apns

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2"
)

func TestIsUnprocessed(t *testing.T) {
	for _, err := range []error{
		errors.New("http2: client conn not usable"),
		errors.New("http2: client conn is closed"),
		errors.New("http2: Transport received Server's graceful shutdown GOAWAY"),
		http2.StreamError{StreamID: 3, Code: http2.ErrCodeRefusedStream},
		pkgerrors.Wrap(http2.StreamError{StreamID: 5, Code: http2.ErrCodeRefusedStream}, "round trip"),
	} {
		assert.True(t, isUnprocessed(err), err.Error())
	}

	for _, err := range []error{
		errors.New("read: connection reset by peer"),
		http2.StreamError{StreamID: 3, Code: http2.ErrCodeInternal},
		http2.GoAwayError{LastStreamID: 7, ErrCode: http2.ErrCodeInternal},
	} {
		assert.False(t, isUnprocessed(err), err.Error())
	}
}

func TestIsPeerClosed(t *testing.T) {
	for _, err := range []error{
		&net.OpError{Op: "write", Net: "tcp", Err: &os.SyscallError{Syscall: "write", Err: syscall.ECONNRESET}},
		&net.OpError{Op: "read", Net: "tcp", Err: &os.SyscallError{Syscall: "read", Err: syscall.ECONNRESET}},
		&os.SyscallError{Syscall: "write", Err: syscall.EPIPE},
		io.ErrUnexpectedEOF,
		pkgerrors.Wrap(io.EOF, "read frame"),
		errors.New("http2: client connection lost"),
	} {
		assert.True(t, isPeerClosed(err), err.Error())
	}

	for _, err := range []error{
		&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
		http2.StreamError{StreamID: 3, Code: http2.ErrCodeInternal},
		errors.New("tls: bad certificate"),
	} {
		assert.False(t, isPeerClosed(err), err.Error())
	}
}

func TestAuthorityFor(t *testing.T) {
	authority, err := authorityFor("api.push.apple.com:443")
	assert.NoError(t, err)
	assert.Equal(t, "api.push.apple.com", authority)

	authority, err = authorityFor("api.push.apple.com:2197")
	assert.NoError(t, err)
	assert.Equal(t, "api.push.apple.com:2197", authority)

	_, err = authorityFor("api.push.apple.com")
	assert.True(t, pkgerrors.Is(err, ErrInvalidConfig))
}
