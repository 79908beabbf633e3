// Package readwindow implements the read window (spec.md component D): the
// sliding buffer that answers reads from an in-flight download, restarting
// it from a new server-side offset only on discontinuity.
package readwindow

import (
	"time"

	"github.com/objectfs/ftpfs/internal/buffer"
	"github.com/objectfs/ftpfs/internal/connection"
	"github.com/objectfs/ftpfs/internal/ftpconn"
	"github.com/objectfs/ftpfs/pkg/errors"
)

// stepTimeout is the select-equivalent timeout used while draining an
// attached download (spec.md §4.D step 4: "a select with a 1-second
// timeout").
const stepTimeout = time.Second

// Window is one handle's read buffer plus the cursor read_chunk maintains
// across calls when update_cursor is set.
type Window struct {
	buf        *buffer.ByteBuffer
	lastOffset int64
}

// New returns an empty read window.
func New() *Window {
	return &Window{buf: buffer.New()}
}

// LastOffset returns the cursor left by the most recent ReadChunk call that
// set updateCursor.
func (w *Window) LastOffset() int64 { return w.lastOffset }

// ReadChunk implements spec.md §4.D's read_chunk entry point. handle
// identifies the calling file handle so the shared connection can tell
// whether it still owns the attached download. A nil out with size 1 is the
// "warm the window" open-time probe. canShrink enables the size-300KiB
// shrink policy (disabled for the probe so open doesn't discard the window
// it just primed). Caller must not hold conn's lock.
func (w *Window) ReadChunk(conn *connection.SharedConn, client ftpconn.Conn, fullPath string, out []byte, size int, offset int64, handle uint64, updateCursor bool, canShrink bool) (int, error) {
	conn.Lock()
	defer conn.Unlock()

	if !w.inWindow(offset, size) {
		if w.needsRestart(conn, offset, handle) {
			if err := w.restart(conn, client, fullPath, offset, handle); err != nil {
				return 0, err
			}
		}
		if err := w.drain(conn, offset, size); err != nil {
			return 0, err
		}
	}

	b := w.buf.BeginOffset
	available := b + int64(w.buf.Len()) - offset
	if available < 0 {
		available = 0
	}
	n := int64(size)
	if available < n {
		n = available
	}

	var copied int
	if n > 0 {
		start := offset - b
		if out != nil {
			copied = copy(out, w.buf.Bytes()[start:start+n])
		} else {
			copied = int(n)
		}
	}

	if updateCursor {
		w.lastOffset = offset + int64(copied)
	}

	if canShrink && w.buf.Len() > buffer.MaxWindowLen {
		slide := offset - w.buf.BeginOffset + int64(copied)
		if slide > 0 {
			w.buf.Shrink(int(slide))
		}
	}

	return copied, nil
}

// inWindow reports whether [offset, offset+size) already lies inside the
// buffer (spec.md §4.D step 1).
func (w *Window) inWindow(offset int64, size int) bool {
	b := w.buf.BeginOffset
	l := int64(w.buf.Len())
	return offset >= b && offset <= b+l && offset+int64(size) <= b+l
}

// needsRestart implements spec.md §4.D step 2.
func (w *Window) needsRestart(conn *connection.SharedConn, offset int64, handle uint64) bool {
	b := w.buf.BeginOffset
	l := int64(w.buf.Len())
	session := conn.Session()
	return conn.CurrentFH() != handle || offset < b || offset > b+l || session == nil || session.Done()
}

// restart discards the window, claims attachment, and begins a new download
// at offset (spec.md §4.D step 3). Caller holds conn's lock.
func (w *Window) restart(conn *connection.SharedConn, client ftpconn.Conn, fullPath string, offset int64, handle uint64) error {
	conn.CancelPreviousMulti()
	w.buf.Clear()
	w.buf.BeginOffset = offset

	resp, err := client.RetrFrom(fullPath, uint64(offset))
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "restart download", err)
	}
	conn.Attach(handle, resp)
	return nil
}

// drain runs the attached download forward until the window covers
// [offset, offset+size) or the transfer ends (spec.md §4.D step 4). Caller
// holds conn's lock.
func (w *Window) drain(conn *connection.SharedConn, offset int64, size int) error {
	for {
		if w.inWindow(offset, size) {
			return nil
		}

		session := conn.Session()
		chunk, done, err := session.Step(stepTimeout)
		if err != nil {
			return errors.Wrap(errors.ErrCodeIO, "download failed", err)
		}
		if chunk != nil {
			w.buf.AddMem(chunk)
		}
		if done {
			// Transfer ended. If the window still doesn't cover the
			// request, the read runs past EOF; the caller's min() clamp in
			// ReadChunk naturally yields a short or zero read.
			return nil
		}
	}
}
