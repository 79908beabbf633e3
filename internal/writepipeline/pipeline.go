// Package writepipeline implements the write pipeline (spec.md component
// E): a dedicated upload goroutine per writing handle, fed one chunk at a
// time by the VFS write op and handed to the FTP client's STOR/APPE upload
// as an io.Reader. It runs over its own ftpconn.Conn, entirely separate
// from the shared connection (component B) and its mutex — spec.md §5 is
// explicit that "the mutex is not held across the write pipeline's own
// upload (which uses its own write_conn and no part of B)".
//
// The original's four-semaphore rendezvous (ready, data_need, data_avail,
// data_written) is reinterpreted here as spec.md §9 invites: data_avail and
// data_need collapse into a single unbuffered channel handing one chunk's
// ownership from producer to consumer (chunkCh) — its zero capacity gives
// the exactly-one-chunk-in-flight discipline for free, since the producer's
// send blocks until the consumer's Read has taken ownership; data_written
// becomes an acknowledgment channel the consumer signals once it has fully
// drained a chunk (ackCh); ready becomes a one-shot channel closed when the
// upload goroutine has started its request (readyCh).
package writepipeline

import (
	"io"
	"sync"

	"github.com/objectfs/ftpfs/internal/ftpconn"
	"github.com/objectfs/ftpfs/pkg/errors"
)

type chunk struct {
	data []byte
	eof  bool
}

// Pipeline drives one handle's upload for its lifetime: one STOR (pos==0)
// or APPE (pos>0, resume) request, fed by a chunkReader the FTP client
// pulls bytes from as the VFS hands writes in. It owns client exclusively
// for its lifetime (one handle, one dedicated connection) and closes it on
// Finish.
type Pipeline struct {
	client ftpconn.Conn
	path   string
	pos    int64

	chunkCh   chan chunk
	ackCh     chan error
	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	failMu    sync.Mutex
	failCause error
}

// New creates a pipeline for path over client, starting at pos (0 for a
// fresh write, the current remote size for a resume). It does not start
// the upload goroutine; call Start.
func New(client ftpconn.Conn, path string, pos int64) *Pipeline {
	return &Pipeline{
		client:  client,
		path:    path,
		pos:     pos,
		chunkCh: make(chan chunk),
		ackCh:   make(chan error),
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the upload goroutine and blocks until it reports ready
// (spec.md §4.E's write thread body: "post ready if not already posted" on
// both success and setup failure so the VFS write op never hangs).
func (p *Pipeline) Start() {
	go p.run()
	<-p.readyCh
}

func (p *Pipeline) run() {
	defer close(p.done)
	reader := &chunkReader{p: p}

	p.markReady()
	var err error
	if p.pos > 0 {
		err = p.client.Append(p.path, reader)
	} else {
		err = p.client.StorFrom(p.path, reader, 0)
	}

	p.markReady()
	if err != nil {
		p.setFailCause(errors.Wrap(errors.ErrCodeIO, "upload failed", err))
	}
	_ = p.client.Quit()
}

func (p *Pipeline) markReady() {
	p.readyOnce.Do(func() { close(p.readyCh) })
}

func (p *Pipeline) setFailCause(err error) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	if p.failCause == nil {
		p.failCause = err
	}
}

// FailCause returns the latched upload error, if any (spec.md §4.E
// "write_fail_cause").
func (p *Pipeline) FailCause() error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	return p.failCause
}

// Write appends size bytes at offset to the in-flight upload. offset must
// equal Pos(); any other value is a non-sequential write, which tears the
// upload down before returning (spec.md §4.E step 4 / §8 boundary).
func (p *Pipeline) Write(data []byte, offset int64) (int, error) {
	if p.FailCause() != nil {
		return 0, errors.Wrap(errors.ErrCodeIO, "upload already failed", p.FailCause())
	}
	if offset != p.pos {
		nonSeq := errors.New(errors.ErrCodeIO, "non-sequential write")
		p.setFailCause(nonSeq)
		_ = p.Finish()
		return 0, nonSeq
	}

	select {
	case p.chunkCh <- chunk{data: data}:
	case <-p.done:
		return 0, p.ioErrOrDefault("upload ended before accepting write")
	}

	select {
	case err := <-p.ackCh:
		if err != nil {
			return 0, errors.Wrap(errors.ErrCodeIO, "upload rejected chunk", err)
		}
	case <-p.done:
		return 0, p.ioErrOrDefault("upload ended before acknowledging write")
	}

	p.pos += int64(len(data))
	return len(data), nil
}

// Finish signals end-of-stream, waits for the upload goroutine to exit,
// and reports its outcome — spec.md §4.E's flush/finish path.
func (p *Pipeline) Finish() error {
	select {
	case p.chunkCh <- chunk{eof: true}:
		select {
		case <-p.ackCh:
		case <-p.done:
		}
	case <-p.done:
	}
	<-p.done
	return p.FailCause()
}

// Pos returns the number of bytes successfully written since (re)start.
func (p *Pipeline) Pos() int64 { return p.pos }

func (p *Pipeline) ioErrOrDefault(msg string) error {
	if cause := p.FailCause(); cause != nil {
		return cause
	}
	return errors.New(errors.ErrCodeIO, msg)
}

// chunkReader is the io.Reader handed to the FTP client as the upload body;
// it implements spec.md §4.E's consumer callback in Go's pull-based Read
// shape instead of a push callback. Read runs on the upload goroutine, so
// its blocking sends on ackCh always have Write (or Finish) waiting on the
// other end per the one-chunk-in-flight discipline.
type chunkReader struct {
	p       *Pipeline
	pending []byte
	eof     bool
}

func (r *chunkReader) Read(out []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}

	for len(r.pending) == 0 {
		c := <-r.p.chunkCh
		if c.eof {
			r.eof = true
			r.p.ackCh <- nil
			return 0, io.EOF
		}
		r.pending = c.data
	}

	n := copy(out, r.pending)
	r.pending = r.pending[n:]
	if len(r.pending) == 0 {
		r.p.ackCh <- nil
	}
	return n, nil
}
