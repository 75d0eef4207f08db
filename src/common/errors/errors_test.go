package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New("compile", CodeCommandFailed, "make Image failed"),
			want: "compile.command_failed: make Image failed",
		},
		{
			name: "with cause",
			err:  Wrap(fmt.Errorf("exit status 2"), "compile", CodeCommandFailed, "make Image failed"),
			want: "compile.command_failed: make Image failed: exit status 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsMatchesCodeAcrossDomains(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", New("blobs", CodeDownload, "firmware"))

	assert.True(t, errors.Is(err, ErrDownload))
	assert.False(t, errors.Is(err, ErrCommandFailed))
	assert.True(t, errors.Is(err, New("blobs", CodeDownload, "")))
	assert.False(t, errors.Is(err, New("drivers", CodeDownload, "")))
}

func TestGetters(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, "install", CodeFilesystem, "copy kernel image")

	assert.Equal(t, CodeFilesystem, GetCode(err))
	assert.Equal(t, Domain("install"), GetDomain(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Code(""), GetCode(cause))
	assert.Equal(t, Domain(""), GetDomain(cause))
}

func TestWithMessagefKeepsCause(t *testing.T) {
	cause := errors.New("no space left on device")
	err := Wrap(cause, "configure", CodeFilesystem, "x").WithMessagef("append %s", ".config")

	assert.Equal(t, "append .config", err.Message)
	assert.ErrorIs(t, err, cause)
}
