// Package ftpconn gives the "easy handle" abstraction spec.md §1 calls out
// as an external collaborator a concrete home: a thin seam over
// github.com/jlaffaye/ftp's ServerConn exposing exactly the operations the
// shared connection (component B), command executor (component C), read
// window (component D), and write pipeline (component E) need, so those
// packages depend on an interface rather than the concrete client.
package ftpconn

import (
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	ftpfserrors "github.com/objectfs/ftpfs/pkg/errors"
)

// EntryType mirrors ftp.EntryType so callers never import jlaffaye/ftp
// directly outside this package.
type EntryType int

const (
	EntryTypeFile EntryType = iota
	EntryTypeFolder
	EntryTypeLink
)

// Entry describes one remote directory entry.
type Entry struct {
	Name   string
	Target string
	Type   EntryType
	Size   uint64
	Time   time.Time
}

func fromFTPEntry(e *ftp.Entry) *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Name:   e.Name,
		Target: e.Target,
		Type:   EntryType(e.Type),
		Size:   e.Size,
		Time:   e.Time,
	}
}

// Options configures Dial.
type Options struct {
	Host          string
	User          string
	Password      string
	ConnectTimeout time.Duration
	DisableEPSV   bool
	UTF8          bool
	TLS           *TLSOptions
}

// TLSOptions mirrors internal/config.TLSConfig's fields this package acts on.
type TLSOptions struct {
	Mode       string
	VerifyHost bool
}

// Conn is the "easy handle": a single FTP control/data session plus a
// narrow raw-command escape hatch for verbs jlaffaye/ftp does not expose
// natively (SITE CHMOD/CHUID/CHGID).
type Conn interface {
	// List returns the directory-listing entries for path, used by
	// getattr/getdir (component G) and the directory parser collaborator.
	List(path string) ([]*Entry, error)
	// GetEntry returns metadata for a single path, preferring MLST when the
	// server supports it (jlaffaye/ftp handles the fallback to a LIST scan).
	GetEntry(path string) (*Entry, error)
	// RetrFrom starts a download from the given byte offset; the returned
	// Response is an io.ReadCloser read by the read window (component D).
	RetrFrom(path string, offset uint64) (*Response, error)
	// StorFrom uploads r to path starting at offset, used for a fresh STOR
	// (offset 0) by the write pipeline (component E).
	StorFrom(path string, r io.Reader, offset uint64) error
	// Append uploads r to path via APPE, used for a write-pipeline resume.
	Append(path string, r io.Reader) error
	MakeDir(path string) error
	RemoveDir(path string) error
	Delete(path string) error
	Rename(from, to string) error
	// SendSiteCommand CWDs into dir (the directory URL spec.md §4.C scopes
	// a POSTQUOTE-style verb to) and then issues one verb (e.g. "SITE CHMOD
	// 644 name") relative to it, returning nil only on a 2xx response. dir
	// may be empty to skip the CWD and issue the verb as given.
	SendSiteCommand(dir, verb string) error
	// Quit closes the control connection. Idempotent.
	Quit() error
}

// Response is the read side of an in-flight download. Exactly one of inner
// (a live jlaffaye/ftp transfer) or fake (a FakeConn transfer, for tests) is
// set.
type Response struct {
	inner io.ReadCloser
	fake  io.ReadCloser
}

func (r *Response) Read(p []byte) (int, error) {
	if r.fake != nil {
		return r.fake.Read(p)
	}
	return r.inner.Read(p)
}

func (r *Response) Close() error {
	if r.fake != nil {
		return r.fake.Close()
	}
	return r.inner.Close()
}

// conn is the jlaffaye/ftp-backed Conn implementation.
type conn struct {
	client   *ftp.ServerConn
	host     string
	user     string
	password string
}

// Dial connects, authenticates, and optionally sends OPTS UTF8 ON, returning
// a Conn ready for use by the shared connection.
func Dial(opts Options) (Conn, error) {
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(timeoutOrDefault(opts.ConnectTimeout)),
	}
	if opts.DisableEPSV {
		dialOpts = append(dialOpts, ftp.DialWithDisabledEPSV(true))
	}

	client, err := ftp.Dial(opts.Host, dialOpts...)
	if err != nil {
		return nil, ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "dial FTP server", err)
	}
	if err := client.Login(opts.User, opts.Password); err != nil {
		_ = client.Quit()
		return nil, ftpfserrors.Wrap(ftpfserrors.ErrCodeAccess, "FTP login", err)
	}
	c := &conn{client: client, host: opts.Host, user: opts.User, password: opts.Password}
	if opts.UTF8 {
		// Best-effort: some servers negotiate UTF8 automatically and reject
		// OPTS UTF8 ON redundantly; a failure here is not fatal.
		_ = c.SendSiteCommand("", "OPTS UTF8 ON")
	}
	return c, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *conn) List(path string) ([]*Entry, error) {
	entries, err := c.client.List(path)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fromFTPEntry(e))
	}
	return out, nil
}

func (c *conn) GetEntry(path string) (*Entry, error) {
	e, err := c.client.GetEntry(path)
	if err != nil {
		return nil, translateErr(err)
	}
	return fromFTPEntry(e), nil
}

func (c *conn) RetrFrom(path string, offset uint64) (*Response, error) {
	r, err := c.client.RetrFrom(path, offset)
	if err != nil {
		return nil, translateErr(err)
	}
	return &Response{inner: r}, nil
}

func (c *conn) StorFrom(path string, r io.Reader, offset uint64) error {
	return translateErr(c.client.StorFrom(path, r, offset))
}

func (c *conn) Append(path string, r io.Reader) error {
	return translateErr(c.client.Append(path, r))
}

func (c *conn) MakeDir(path string) error   { return translateErr(c.client.MakeDir(path)) }
func (c *conn) RemoveDir(path string) error { return translateErr(c.client.RemoveDir(path)) }
func (c *conn) Delete(path string) error    { return translateErr(c.client.Delete(path)) }
func (c *conn) Rename(from, to string) error {
	return translateErr(c.client.Rename(from, to))
}

// SendSiteCommand issues a raw command on a short-lived parallel control
// connection. jlaffaye/ftp's ServerConn does not expose raw command
// issuance (its internal cmd() method is unexported), so POSTQUOTE-style
// verbs outside the native method set (SITE CHMOD/CHUID/CHGID) are sent
// over a second textproto connection
// opened, authenticated, and closed around the single command. This keeps
// the long-lived jlaffaye session (and its data-connection state) untouched
// by one-off metadata verbs. Mirroring the original's practice of setting
// CURLOPT_URL to the directory URL before running a POSTQUOTE verb, dir is
// CWD'd into first so the verb's own path argument can stay a bare name
// instead of needing to be correct relative to the login directory.
func (c *conn) SendSiteCommand(dir, verb string) error {
	pc, err := textproto.Dial("tcp", c.host)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command dial", err)
	}
	defer pc.Close()

	if _, _, err := pc.ReadResponse(220); err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command banner", err)
	}
	if err := rawLogin(pc, c.user, c.password); err != nil {
		return err
	}

	if dir != "" {
		id, err := pc.Cmd("CWD %s", dir)
		if err != nil {
			return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command CWD", err)
		}
		pc.StartResponse(id)
		code, msg, err := pc.ReadCodeLine(-1)
		pc.EndResponse(id)
		if err != nil {
			return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command CWD response", err)
		}
		if code/100 != 2 {
			return ftpfserrors.New(ftpfserrors.ErrCodePermission, "CWD "+dir+": "+strings.TrimSpace(msg)+" ("+strconv.Itoa(code)+")")
		}
	}

	id, err := pc.Cmd(verb)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command send", err)
	}
	pc.StartResponse(id)
	code, msg, err := pc.ReadCodeLine(-1)
	pc.EndResponse(id)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command response", err)
	}
	if code/100 != 2 {
		return ftpfserrors.New(ftpfserrors.ErrCodePermission, strings.TrimSpace(msg)+" ("+strconv.Itoa(code)+")")
	}
	return nil
}

func (c *conn) Quit() error { return c.client.Quit() }

// rawLogin performs the USER/PASS handshake on a textproto connection opened
// outside jlaffaye/ftp, for SendSiteCommand's parallel control channel.
func rawLogin(pc *textproto.Conn, user, password string) error {
	id, err := pc.Cmd("USER %s", user)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command USER", err)
	}
	pc.StartResponse(id)
	code, _, err := pc.ReadCodeLine(-1)
	pc.EndResponse(id)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command USER response", err)
	}
	if code == 331 {
		id, err = pc.Cmd("PASS %s", password)
		if err != nil {
			return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command PASS", err)
		}
		pc.StartResponse(id)
		code, _, err = pc.ReadCodeLine(-1)
		pc.EndResponse(id)
		if err != nil {
			return ftpfserrors.Wrap(ftpfserrors.ErrCodePermission, "raw command PASS response", err)
		}
	}
	if code/100 != 2 {
		return ftpfserrors.New(ftpfserrors.ErrCodePermission, "raw command login rejected")
	}
	return nil
}

// translateErr maps jlaffaye/ftp's textproto.Error status codes onto the
// taxonomy pkg/errors defines, falling back to a generalized I/O error.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	return ftpfserrors.FromFTPError(err)
}
