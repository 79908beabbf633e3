package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/ftpfs/internal/circuit"
	"github.com/objectfs/ftpfs/internal/command"
	"github.com/objectfs/ftpfs/internal/connection"
	"github.com/objectfs/ftpfs/internal/ftpconn"
	"github.com/objectfs/ftpfs/pkg/retry"
)

func newTestDeps(fake *ftpconn.FakeConn) Deps {
	sc := connection.New(fake, circuit.Config{})
	exec := command.New(sc, retry.Config{MaxAttempts: 1}, nil)
	return Deps{
		Conn:     sc,
		Executor: exec,
		DialWrite: func() (ftpconn.Conn, error) {
			return fake, nil
		},
	}
}

func TestOpenReadOnlyWarmsWindowAndReads(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/a.txt", []byte("hello world"))
	deps := newTestDeps(fake)

	h, err := Open(1, "/a.txt", OpenFlags{ReadOnly: true}, 0, deps)
	require.NoError(t, err)
	assert.Equal(t, StateReading, h.State())

	buf := make([]byte, 5)
	n, err := h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestOpenReadOnlyWithCreateMakesEmptyFile(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	h, err := Open(1, "/new.txt", OpenFlags{ReadOnly: true, Create: true}, 0644, deps)
	require.NoError(t, err)
	assert.Equal(t, StateReading, h.State())

	content, ok := fake.FileContent("/new.txt")
	require.True(t, ok)
	assert.Empty(t, content)
}

func TestOpenWriteOnlyCreateTruncStartsWriting(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	h, err := Open(1, "/w.txt", OpenFlags{WriteOnly: true, Create: true, Trunc: true}, 0644, deps)
	require.NoError(t, err)
	assert.Equal(t, StateWriting, h.State())

	n, err := h.Write([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, h.Release())

	content, ok := fake.FileContent("/w.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(content))
}

func TestOpenWriteOnlyCreateWithoutTruncStartsWriting(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	h, err := Open(1, "/new.txt", OpenFlags{WriteOnly: true, Create: true}, 0644, deps)
	require.NoError(t, err)
	assert.Equal(t, StateWriting, h.State())

	n, err := h.Write([]byte("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, h.Release())

	content, ok := fake.FileContent("/new.txt")
	require.True(t, ok)
	assert.Equal(t, "hi", string(content))
}

func TestOpenWriteOnlyPlainGoesWritePending(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/p.txt", nil)
	deps := newTestDeps(fake)

	h, err := Open(1, "/p.txt", OpenFlags{WriteOnly: true}, 0, deps)
	require.NoError(t, err)
	assert.Equal(t, StateWritePending, h.State())

	require.NoError(t, h.Ftruncate(0))
	n, err := h.Write([]byte("data"), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, h.Release())

	content, ok := fake.FileContent("/p.txt")
	require.True(t, ok)
	assert.Equal(t, "data", string(content))
}

func TestOpenWriteOnlyAppendRejected(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	_, err := Open(1, "/a.txt", OpenFlags{WriteOnly: true, Append: true}, 0, deps)
	assert.Error(t, err)
}

func TestOpenExclOnExistingFileFails(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/exists.txt", []byte("x"))
	deps := newTestDeps(fake)

	_, err := Open(1, "/exists.txt", OpenFlags{WriteOnly: true, Create: true, Excl: true}, 0644, deps)
	assert.Error(t, err)
}

func TestOpenExclOnNewFileSucceeds(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	h, err := Open(1, "/new-excl.txt", OpenFlags{WriteOnly: true, Create: true, Excl: true, Trunc: true}, 0644, deps)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}

func TestFtruncateToNonZeroBeforeWriteRejected(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/p.txt", nil)
	deps := newTestDeps(fake)

	h, err := Open(1, "/p.txt", OpenFlags{WriteOnly: true}, 0, deps)
	require.NoError(t, err)

	assert.Error(t, h.Ftruncate(10))
}

func TestWriteNonSequentialRejected(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	h, err := Open(1, "/w.txt", OpenFlags{WriteOnly: true, Create: true, Trunc: true}, 0644, deps)
	require.NoError(t, err)

	_, err = h.Write([]byte("abc"), 0)
	require.NoError(t, err)

	_, err = h.Write([]byte("xyz"), 100)
	assert.Error(t, err)

	assert.Error(t, h.Release())
}

func TestReadRejectedOnWritingHandle(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	deps := newTestDeps(fake)

	h, err := Open(1, "/w.txt", OpenFlags{WriteOnly: true, Create: true, Trunc: true}, 0644, deps)
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = h.Read(buf, 0)
	assert.Error(t, err)
}

func TestResumeWriteAfterFlushAppendsAtSize(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/r.txt", []byte("part1-"))
	deps := newTestDeps(fake)

	h := &Handle{id: 2, path: "/r.txt", deps: deps, pos: int64(len("part1-"))}
	n, err := h.Write([]byte("part2"), h.pos)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, h.Release())

	content, ok := fake.FileContent("/r.txt")
	require.True(t, ok)
	assert.Equal(t, "part1-part2", string(content))
}
