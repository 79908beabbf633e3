package readwindow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/ftpfs/internal/circuit"
	"github.com/objectfs/ftpfs/internal/connection"
	"github.com/objectfs/ftpfs/internal/ftpconn"
)

func TestReadChunkSequentialReadUsesOneDownload(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 1024) // 8 KiB
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/big", content)
	conn := connection.New(fake, circuit.Config{})
	w := New()

	out := make([]byte, 1024)
	n, err := w.ReadChunk(conn, fake, "/big", out, 1024, 0, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.Equal(t, content[:1024], out)
	assert.Equal(t, int64(1024), w.LastOffset())

	n, err = w.ReadChunk(conn, fake, "/big", out, 1024, 1024, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.Equal(t, content[1024:2048], out)
}

func TestReadChunkProbeDoesNotCopy(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/f", []byte("hello world"))
	conn := connection.New(fake, circuit.Config{})
	w := New()

	n, err := w.ReadChunk(conn, fake, "/f", nil, 1, 0, 1, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadChunkBackwardSeekServedFromWindow(t *testing.T) {
	content := bytes.Repeat([]byte{0, 1, 2, 3}, 4096) // 16 KiB
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/big", content)
	conn := connection.New(fake, circuit.Config{})
	w := New()

	out := make([]byte, 4096)
	_, err := w.ReadChunk(conn, fake, "/big", out, 4096, 0, 1, true, false)
	require.NoError(t, err)

	_, err = w.ReadChunk(conn, fake, "/big", out, 4096, 12000, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, content[12000:16096], out)

	n, err := w.ReadChunk(conn, fake, "/big", out, 4096, 1000, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, content[1000:5096], out)
}

func TestReadChunkDifferentHandleForcesRestart(t *testing.T) {
	content := []byte("0123456789")
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/f", content)
	conn := connection.New(fake, circuit.Config{})

	w1 := New()
	out := make([]byte, 5)
	_, err := w1.ReadChunk(conn, fake, "/f", out, 5, 0, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), conn.CurrentFH())

	w2 := New()
	_, err = w2.ReadChunk(conn, fake, "/f", out, 5, 0, 2, true, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), conn.CurrentFH())
}

func TestReadChunkPastEOFReturnsShortRead(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/f", []byte("12345"))
	conn := connection.New(fake, circuit.Config{})
	w := New()

	out := make([]byte, 10)
	n, err := w.ReadChunk(conn, fake, "/f", out, 10, 0, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("12345"), out[:5])

	n, err = w.ReadChunk(conn, fake, "/f", out, 10, 5, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadChunkShrinksWhenWindowExceedsMax(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 400*1024)
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/big", content)
	conn := connection.New(fake, circuit.Config{})
	w := New()

	out := make([]byte, 350*1024)
	n, err := w.ReadChunk(conn, fake, "/big", out, 350*1024, 0, 1, true, true)
	require.NoError(t, err)
	assert.Equal(t, 350*1024, n)
	assert.True(t, w.buf.Len() <= 50*1024+4096)
	assert.Equal(t, int64(350*1024), w.buf.BeginOffset)
}
