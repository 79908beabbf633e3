package errors

import (
	"errors"
	"net/textproto"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeToErrno(t *testing.T) {
	cases := map[ErrorCode]syscall.Errno{
		ErrCodeNoSuchFile:   syscall.ENOENT,
		ErrCodeAccess:       syscall.EACCES,
		ErrCodePermission:   syscall.EPERM,
		ErrCodeNotSupported: syscall.ENOTSUP,
		ErrCodeOutOfMemory:  syscall.ENOMEM,
		ErrCodeIO:           syscall.EIO,
		ErrorCode("bogus"):  syscall.EIO,
	}
	for code, want := range cases {
		assert.Equal(t, want, CodeToErrno(code), "code=%s", code)
	}
}

func TestErrnoFromWrapped(t *testing.T) {
	base := New(ErrCodeNoSuchFile, "missing").WithComponent("command")
	wrapped := errors.New("context: " + base.Error())
	assert.Equal(t, syscall.EIO, ErrnoFrom(wrapped))
	assert.Equal(t, syscall.ENOENT, ErrnoFrom(base))
	assert.Equal(t, syscall.Errno(0), ErrnoFrom(nil))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(ErrCodeIO, "boom")
	b := New(ErrCodeIO, "different message")
	assert.True(t, errors.Is(a, b))

	c := New(ErrCodeAccess, "other")
	assert.False(t, errors.Is(a, c))
}

func TestWithersChain(t *testing.T) {
	err := New(ErrCodePermission, "site chmod failed").
		WithComponent("command").
		WithOperation("do_cmd").
		WithContext("verb", "SITE CHMOD").
		WithCause(errors.New("550 permission denied"))

	assert.Equal(t, "command", err.Component)
	assert.Equal(t, "do_cmd", err.Operation)
	assert.Equal(t, "SITE CHMOD", err.Context["verb"])
	assert.ErrorContains(t, err.Unwrap(), "550")
	assert.Contains(t, err.String(), "code=PERMISSION")
}

func TestWrapAttachesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrCodeIO, "retr failed", cause)

	assert.Equal(t, ErrCodeIO, err.Code)
	assert.Same(t, cause, err.Unwrap())
}

func TestFromFTPErrorClassifiesByStatusCode(t *testing.T) {
	notFound := FromFTPError(&textproto.Error{Code: 550, Msg: "No such file"})
	assert.Equal(t, ErrCodeNoSuchFile, notFound.Code)

	authFailed := FromFTPError(&textproto.Error{Code: 530, Msg: "Login incorrect"})
	assert.Equal(t, ErrCodeAccess, authFailed.Code)

	rejected := FromFTPError(&textproto.Error{Code: 502, Msg: "Command not implemented"})
	assert.Equal(t, ErrCodePermission, rejected.Code)

	unclassified := FromFTPError(errors.New("dial tcp: timeout"))
	assert.Equal(t, ErrCodeIO, unclassified.Code)

	assert.Nil(t, FromFTPError(nil))
}
