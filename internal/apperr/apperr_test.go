package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetCode(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		code Code
	}{
		{"NotFound", NotFound("missing %s", "x"), CodeNotFound},
		{"AlreadyInState", AlreadyInState("already %s", "running"), CodeAlreadyInState},
		{"Protocol", Protocol("bad frame"), CodeProtocol},
		{"Storage", Storage(errors.New("disk full"), "write"), CodeStorage},
		{"Spawn", Spawn(errors.New("enoent"), "spawn"), CodeSpawn},
		{"IntegrityFailure", IntegrityFailure(errors.New("mismatch"), "checksum"), CodeIntegrityFailure},
		{"Transport", Transport(errors.New("eof"), "read"), CodeTransport},
		{"CapacityExceeded", CapacityExceeded("too big"), CodeCapacityExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.True(t, Is(tc.err, tc.code))
		})
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("underlying failure")
	wrapped := Storage(cause, "persist thing %s", "d1")

	require.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "underlying failure")
	assert.Contains(t, wrapped.Error(), "d1")
}

func TestIsReturnsFalseForUnrelatedError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), CodeNotFound))
}
