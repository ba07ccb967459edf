package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	conflict := &RemoteError{Kind: KindConflict, Status: 409, Message: "pagela already exists"}
	wrapped := fmt.Errorf("create week 3: %w", conflict)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, IsConflict(wrapped))
	assert.True(t, errors.Is(wrapped, ErrAlreadyExists))
	assert.True(t, errors.Is(wrapped, ErrExternalService))
	assert.False(t, IsTransient(wrapped))

	assert.Equal(t, KindFatal, KindOf(errors.New("boom")))
	assert.False(t, IsConflict(nil))
}

func TestRemoteError_Error(t *testing.T) {
	assert.Equal(t, "remote validation (status 400): week out of range",
		(&RemoteError{Kind: KindValidation, Status: 400, Message: "week out of range"}).Error())
	assert.Equal(t, "remote transient (status 503)",
		(&RemoteError{Kind: KindTransient, Status: 503}).Error())

	netErr := errors.New("connection refused")
	re := &RemoteError{Kind: KindTransient, Err: netErr}
	assert.Equal(t, "remote transient: connection refused", re.Error())
	assert.ErrorIs(t, re, netErr)
	assert.ErrorIs(t, re, ErrServiceUnavailable)
}

func TestDomainError_Is(t *testing.T) {
	cause := errors.New("http 500")
	err := WrapError("calendar", "Resolve", ErrCalendarResolution, "cannot read period 2025", cause)

	assert.ErrorIs(t, err, ErrCalendarResolution)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "calendar.Resolve: cannot read period 2025: http 500", err.Error())
	assert.False(t, IsValidation(err))
}
