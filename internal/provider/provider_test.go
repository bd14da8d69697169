package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&TransportError{Status: 500, Err: errors.New("boom")}, ClassTransport},
		{&MalformedResponseError{Reason: "missing"}, ClassMalformed},
		{&TimeoutError{Err: context.DeadlineExceeded}, ClassTimeout},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ClassTimeout},
		{context.Canceled, ClassCanceled},
		{errors.New("mystery"), ClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "err=%v", tc.err)
	}
}

func TestNormalize(t *testing.T) {
	bg := context.Background()

	assert.Nil(t, Normalize(bg, nil))

	var transportErr *TransportError
	assert.True(t, errors.As(Normalize(bg, errors.New("dial tcp: refused")), &transportErr))

	var timeoutErr *TimeoutError
	assert.True(t, errors.As(Normalize(bg, fmt.Errorf("x: %w", context.DeadlineExceeded)), &timeoutErr))

	expired, cancel := context.WithTimeout(bg, 0)
	defer cancel()
	<-expired.Done()
	assert.True(t, errors.As(Normalize(expired, errors.New("read: closed")), &timeoutErr))

	canceled, cancel2 := context.WithCancel(bg)
	cancel2()
	assert.Equal(t, ClassCanceled, Classify(Normalize(canceled, context.Canceled)))

	malformed := &MalformedResponseError{Reason: "x"}
	assert.Same(t, malformed, Normalize(bg, malformed))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&TransportError{Status: 502, Err: errors.New("bad gateway")}).Error(), "status=502")
	assert.Contains(t, (&TransportError{Err: errors.New("refused")}).Error(), "refused")
	assert.Contains(t, (&MalformedResponseError{Reason: "missing response field"}).Error(), "missing response field")
	assert.Contains(t, (&TimeoutError{Err: context.DeadlineExceeded}).Error(), "deadline")
}
