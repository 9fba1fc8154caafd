package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "10110001-5354-4F52-5A26-4249434B454C", want: "1011000153544f525a264249434b454c"},
		{in: "0x2A19", want: "2a19"},
		{in: "  2a19 ", want: "2a19"},
		{in: "1011000153544f525a264249434b454c", want: "1011000153544f525a264249434b454c"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUUID(tt.in))
		})
	}
}

func TestConnectionError_Is(t *testing.T) {
	wrapped := fmt.Errorf("read failed: %w", &ConnectionError{State: NotConnected, Msg: "link lost"})

	assert.ErrorIs(t, wrapped, ErrNotConnected, "state MUST match regardless of message")
	assert.NotErrorIs(t, wrapped, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(wrapped, NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))

	assert.Equal(t, "not_connected: link lost", (&ConnectionError{State: NotConnected, Msg: "link lost"}).Error())
	assert.Equal(t, "already_connected", ErrAlreadyConnected.Error())
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("write: %w", &NotFoundError{Resource: "characteristic", UUID: "2a19"})

	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, `characteristic "2a19" not found`, nf.Error())
	assert.Equal(t, "characteristic not found", (&NotFoundError{Resource: "characteristic"}).Error())
}
