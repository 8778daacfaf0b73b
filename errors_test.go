package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := newError(ErrMalformedResponse, "reading header", cause)
	require.Equal(t, "gemini: malformed response: reading header: unexpected EOF", err.Error())
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NotErrorIs(t, err, ErrTimeout)

	wrapped := fmt.Errorf("fetch: %w", err)
	var ge *Error
	require.ErrorAs(t, wrapped, &ge)
	require.Equal(t, "reading header", ge.Reason)

	require.Equal(t, "gemini: timeout", newError(ErrTimeout, "", nil).Error())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind error
		want bool
	}{
		{ErrInvalidRequest, false},
		{ErrTrustRejected, false},
		{ErrConnectionFailed, true},
		{ErrTimeout, true},
		{ErrHandshakeFailed, true},
		{ErrCertificateRequired, true},
		{ErrSendFailed, true},
		{ErrMalformedResponse, true},
	}
	for _, test := range tests {
		require.Equal(t, test.want, Retryable(newError(test.kind, "x", nil)), test.kind.Error())
	}
	require.False(t, Retryable(ErrBodyClosed))
	require.False(t, Retryable(errors.New("something else")))
	require.False(t, Retryable(nil))
}

type alertError string

func (e alertError) Error() string { return string(e) }

func TestClassifyIO(t *testing.T) {
	timeout := &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}
	tests := []struct {
		scenario string
		err      error
		want     error
	}{
		{"deadline", timeout, ErrTimeout},
		{"context deadline", context.DeadlineExceeded, ErrTimeout},
		{"certificate required alert", &net.OpError{Op: "remote error", Err: alertError("tls: certificate required")}, ErrCertificateRequired},
		{"bad certificate alert", &net.OpError{Op: "remote error", Err: alertError("tls: bad certificate")}, ErrCertificateRequired},
		{"other alert", &net.OpError{Op: "remote error", Err: alertError("tls: handshake failure")}, ErrHandshakeFailed},
		{"local certificate error", errors.New("tls: bad certificate"), ErrHandshakeFailed},
		{"reset", errors.New("connection reset by peer"), ErrHandshakeFailed},
	}
	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			err := classifyIO(test.err, "handshake", ErrHandshakeFailed)
			require.ErrorIs(t, err, test.want)
			require.ErrorIs(t, err, test.err)
		})
	}

	already := newError(ErrTrustRejected, "pinned", nil)
	require.Same(t, already, classifyIO(fmt.Errorf("wrapped: %w", already), "x", ErrConnectionFailed))
}

func TestContextError(t *testing.T) {
	ioErr := newError(ErrConnectionFailed, "reading response", net.ErrClosed)
	require.Same(t, ioErr, contextError(context.Background(), ioErr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := contextError(ctx, ioErr)
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	err = contextError(ctx, ioErr)
	require.ErrorIs(t, err, ErrTimeout)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "reading response", ge.Reason)
}
