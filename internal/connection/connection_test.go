package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/ftpfs/internal/circuit"
	"github.com/objectfs/ftpfs/internal/ftpconn"
)

func newTestConn(fake *ftpconn.FakeConn) *SharedConn {
	return New(fake, circuit.Config{})
}

func TestPerformCancelsPreviousAttachment(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/big.txt", []byte("0123456789"))
	sc := newTestConn(fake)

	sc.Lock()
	resp, err := fake.RetrFrom("/big.txt", 0)
	require.NoError(t, err)
	sc.Attach(42, resp)
	assert.True(t, sc.AttachedToMulti())
	sc.Unlock()

	err = sc.Perform(func(c ftpconn.Conn) error {
		_, e := c.GetEntry("/big.txt")
		return e
	})
	require.NoError(t, err)

	sc.Lock()
	assert.False(t, sc.AttachedToMulti())
	assert.Equal(t, uint64(0), sc.CurrentFH())
	sc.Unlock()
}

func TestAttachTracksOwningHandle(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/f.txt", []byte("data"))
	sc := newTestConn(fake)

	sc.Lock()
	resp, err := fake.RetrFrom("/f.txt", 0)
	require.NoError(t, err)
	sc.Attach(7, resp)
	sc.Unlock()

	sc.Lock()
	assert.True(t, sc.AttachedToMulti())
	assert.Equal(t, uint64(7), sc.CurrentFH())
	sc.Unlock()
}

func TestDownloadSessionStepReturnsChunksThenEOF(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/f.txt", []byte("hello world"))

	resp, err := fake.RetrFrom("/f.txt", 0)
	require.NoError(t, err)

	session := newDownloadSession(resp)
	defer session.Stop()

	var collected []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		chunk, done, err := session.Step(200 * time.Millisecond)
		require.NoError(t, err)
		collected = append(collected, chunk...)
		if done {
			break
		}
	}
	assert.Equal(t, "hello world", string(collected))
}

func TestDownloadSessionStepReportsDoneAtEOF(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	fake.PutFile("/f.txt", []byte("x"))
	resp, err := fake.RetrFrom("/f.txt", 0)
	require.NoError(t, err)

	session := newDownloadSession(resp)
	defer session.Stop()

	// Drain the one real chunk first.
	_, done, err := session.Step(time.Second)
	require.NoError(t, err)
	assert.False(t, done)

	_, done, err = session.Step(time.Second)
	require.NoError(t, err)
	assert.True(t, done)
	_ = errors.New("sanity")
}

func TestPerformRoutesThroughCircuitBreaker(t *testing.T) {
	fake := ftpconn.NewFakeConn()
	sc := New(fake, circuit.Config{
		ReadyToTrip: func(c circuit.Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     time.Minute,
	})

	boom := errors.New("boom")
	err := sc.Perform(func(c ftpconn.Conn) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = sc.Perform(func(c ftpconn.Conn) error { return nil })
	assert.ErrorIs(t, err, circuit.ErrOpenState)
}
