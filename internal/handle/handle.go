// Package handle implements the handle state machine (spec.md component
// F): the open-flag decision tree, the read/write op gating it enforces
// per state, and the flush/release teardown that joins a handle's write
// pipeline.
package handle

import (
	stderrors "errors"
	"sync"

	"github.com/objectfs/ftpfs/internal/command"
	"github.com/objectfs/ftpfs/internal/connection"
	"github.com/objectfs/ftpfs/internal/ftpconn"
	"github.com/objectfs/ftpfs/internal/readwindow"
	"github.com/objectfs/ftpfs/internal/writepipeline"
	ftpfserrors "github.com/objectfs/ftpfs/pkg/errors"
)

// State is one of the five states spec.md §4.F names.
type State int

const (
	StateFresh State = iota
	StateReading
	StateWritePending
	StateWriting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateReading:
		return "READING"
	case StateWritePending:
		return "WRITE_PENDING"
	case StateWriting:
		return "WRITING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// OpenFlags mirrors the POSIX open() flags spec.md §4.F's decision tree
// branches on.
type OpenFlags struct {
	ReadOnly  bool
	WriteOnly bool
	ReadWrite bool
	Create    bool
	Trunc     bool
	Excl      bool
	Append    bool
}

// Deps are the collaborators a Handle needs, shared across every handle on
// a mount except DialWrite, which must return a connection this handle owns
// exclusively for the lifetime of one write pipeline.
type Deps struct {
	Conn          *connection.SharedConn
	Executor      *command.Executor
	DialWrite     func() (ftpconn.Conn, error)
	AllowRDWRShim bool
}

// Handle is one open file's state: its read window or write pipeline, and
// the bookkeeping needed to answer the next op correctly.
type Handle struct {
	mu    sync.Mutex
	id    uint64
	path  string
	state State
	deps  Deps

	window   *readwindow.Window
	pipeline *writepipeline.Pipeline

	writeMayStart bool
	pos           int64
	dirty         bool
}

// Open implements spec.md §4.F's open decision tree.
func Open(id uint64, path string, flags OpenFlags, mode uint32, deps Deps) (*Handle, error) {
	h := &Handle{id: id, path: path, deps: deps}

	switch {
	case flags.ReadOnly:
		if flags.Create {
			if err := h.createEmpty(mode); err != nil {
				return nil, err
			}
		}
		if err := h.warmWindow(); err != nil {
			return nil, ftpfserrors.Wrap(ftpfserrors.ErrCodeAccess, "open probe failed", err)
		}
		h.state = StateReading
		return h, nil

	case flags.WriteOnly || (flags.ReadWrite && deps.AllowRDWRShim):
		if flags.Append {
			return nil, ftpfserrors.New(ftpfserrors.ErrCodeNotSupported, "O_APPEND is not supported")
		}
		if flags.Excl {
			if err := h.rejectIfExists(); err != nil {
				return nil, err
			}
		}
		if flags.Create || flags.Trunc {
			h.writeMayStart = true
			if err := h.startWrite(0); err != nil {
				return nil, err
			}
			if flags.Create {
				_ = deps.Executor.Chmod(path, mode)
			}
			h.state = StateWriting
			return h, nil
		}
		h.state = StateWritePending
		return h, nil

	case flags.ReadWrite:
		return nil, ftpfserrors.New(ftpfserrors.ErrCodeNotSupported, "O_RDWR requires the compatibility shim")

	default:
		return nil, ftpfserrors.New(ftpfserrors.ErrCodeIO, "unsupported open mode")
	}
}

// State returns the handle's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Pos returns the number of bytes committed to the current write pipeline.
func (h *Handle) Pos() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *Handle) rejectIfExists() error {
	_, err := h.deps.Executor.GetEntry(h.path)
	if err == nil {
		return ftpfserrors.New(ftpfserrors.ErrCodeAccess, "O_EXCL target exists")
	}
	if !isNoSuchFile(err) {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodeAccess, "O_EXCL probe failed", err)
	}
	return nil
}

func (h *Handle) createEmpty(mode uint32) error {
	client, err := h.deps.DialWrite()
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodeIO, "dial write connection", err)
	}
	p := writepipeline.New(client, h.path, 0)
	p.Start()
	if err := p.Finish(); err != nil {
		return err
	}
	if mode != 0 {
		_ = h.deps.Executor.Chmod(h.path, mode)
	}
	return nil
}

func (h *Handle) warmWindow() error {
	h.window = readwindow.New()
	client := h.deps.Conn.Client()
	_, err := h.window.ReadChunk(h.deps.Conn, client, h.path, nil, 1, 0, h.id, false, false)
	return err
}

func (h *Handle) startWrite(pos int64) error {
	client, err := h.deps.DialWrite()
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodeIO, "dial write connection", err)
	}
	h.pipeline = writepipeline.New(client, h.path, pos)
	h.pipeline.Start()
	h.pos = pos
	return nil
}

// Read implements spec.md §4.F's read-op gating plus the read window's
// read_chunk entry point.
func (h *Handle) Read(out []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateWriting || h.pos > 0 {
		return 0, ftpfserrors.New(ftpfserrors.ErrCodeIO, "read not permitted on a write handle")
	}

	client := h.deps.Conn.Client()
	return h.window.ReadChunk(h.deps.Conn, client, h.path, out, len(out), offset, h.id, true, true)
}

// Write implements spec.md §4.E's VFS write op (steps 1-4).
func (h *Handle) Write(data []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pipeline != nil {
		if cause := h.pipeline.FailCause(); cause != nil {
			return 0, cause
		}
	}

	if h.pipeline == nil {
		switch {
		case h.pos == 0 && offset == 0:
			if !h.writeMayStart {
				entry, err := h.deps.Executor.GetEntry(h.path)
				if err != nil || entry.Size != 0 {
					return 0, ftpfserrors.New(ftpfserrors.ErrCodePermission, "write before truncate-to-zero")
				}
			}
			if err := h.startWrite(0); err != nil {
				return 0, err
			}
		case offset == h.pos && h.pos > 0:
			if err := h.startWrite(h.pos); err != nil {
				return 0, err
			}
		default:
			return 0, ftpfserrors.New(ftpfserrors.ErrCodeIO, "write requires a fresh or resumed upload")
		}
		h.state = StateWriting
	}

	n, err := h.pipeline.Write(data, offset)
	if err != nil {
		return 0, err
	}
	h.pos = h.pipeline.Pos()
	h.dirty = true
	return n, nil
}

// Ftruncate implements spec.md §4.F's ftruncate transitions.
func (h *Handle) Ftruncate(n int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateWritePending && h.pos == 0 {
		if n != 0 {
			return ftpfserrors.New(ftpfserrors.ErrCodePermission, "ftruncate to non-zero before any write")
		}
		if err := h.createEmpty(0); err != nil {
			return err
		}
		h.writeMayStart = true
		return nil
	}

	entry, err := h.deps.Executor.GetEntry(h.path)
	if err != nil {
		return err
	}
	if int64(entry.Size) != n {
		return ftpfserrors.New(ftpfserrors.ErrCodePermission, "ftruncate to a size other than the current remote size")
	}
	return nil
}

// Flush implements spec.md §4.E's flush/finish path without closing the
// handle: it joins the current write pipeline (if any) and verifies the
// remote size, or rejects a dirty handle with no pipeline (no read-modify-
// write support).
func (h *Handle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked()
}

func (h *Handle) flushLocked() error {
	if h.pipeline == nil {
		if h.dirty {
			return ftpfserrors.New(ftpfserrors.ErrCodeIO, "no read-modify-write support")
		}
		return nil
	}

	pipeline := h.pipeline
	h.pipeline = nil
	if err := pipeline.Finish(); err != nil {
		return err
	}

	entry, err := h.deps.Executor.GetEntry(h.path)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodeIO, "verify flushed size", err)
	}
	if int64(entry.Size) != h.pos {
		return ftpfserrors.New(ftpfserrors.ErrCodeIO, "remote size does not match bytes written")
	}
	return nil
}

// Release implements spec.md §4.F's release transition: flush, clear this
// handle's ownership of the shared connection's attachment if it holds one,
// and mark the handle closed.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.flushLocked()

	h.deps.Conn.Lock()
	if h.deps.Conn.CurrentFH() == h.id {
		h.deps.Conn.CancelPreviousMulti()
	}
	h.deps.Conn.Unlock()

	h.state = StateClosed
	return err
}

func isNoSuchFile(err error) bool {
	return stderrors.Is(err, ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, ""))
}
