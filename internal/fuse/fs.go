// Package fuse implements the VFS operation surface (spec.md component G)
// as a github.com/winfsp/cgofuse FileSystemInterface, routing every op onto
// the command executor (C), read window (D), and write pipeline (E) through
// the handle state machine (F).
package fuse

import (
	"sync"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/ftpfs/internal/command"
	"github.com/objectfs/ftpfs/internal/connection"
	"github.com/objectfs/ftpfs/internal/ftpconn"
	"github.com/objectfs/ftpfs/internal/handle"
	"github.com/objectfs/ftpfs/internal/metrics"
	"github.com/objectfs/ftpfs/internal/pathutil"
	ftpfserrors "github.com/objectfs/ftpfs/pkg/errors"
	"github.com/objectfs/ftpfs/pkg/utils"
)

// statfsNameMax and the synthetic block counts spec.md §4.G specifies:
// "name length 255, advertised blocks large enough to not trip user
// heuristics".
const (
	statfsNameMax  = 255
	statfsBlocks   = 1 << 30
	statfsBlockLen = 4096
)

// FS implements fuse.FileSystemInterface over one FTP mount.
type FS struct {
	fuse.FileSystemBase

	conn     *connection.SharedConn
	executor *command.Executor
	dialWrite func() (ftpconn.Conn, error)
	allowRDWRShim bool

	metrics *metrics.Collector
	logger  *utils.StructuredLogger

	mu      sync.Mutex
	handles map[uint64]*handle.Handle
	nextFH  uint64
}

// Deps are the collaborators FS routes every operation through.
type Deps struct {
	Conn          *connection.SharedConn
	Executor      *command.Executor
	DialWrite     func() (ftpconn.Conn, error)
	AllowRDWRShim bool
	Metrics       *metrics.Collector
	Logger        *utils.StructuredLogger
}

// New creates an FS bound to deps.
func New(deps Deps) *FS {
	return &FS{
		conn:          deps.Conn,
		executor:      deps.Executor,
		dialWrite:     deps.DialWrite,
		allowRDWRShim: deps.AllowRDWRShim,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		handles:       make(map[uint64]*handle.Handle),
		nextFH:        1,
	}
}

func (fs *FS) handleDeps() handle.Deps {
	return handle.Deps{
		Conn:          fs.conn,
		Executor:      fs.executor,
		DialWrite:     fs.dialWrite,
		AllowRDWRShim: fs.allowRDWRShim,
	}
}

func (fs *FS) allocFH() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh := fs.nextFH
	fs.nextFH++
	return fh
}

func (fs *FS) putHandle(fh uint64, h *handle.Handle) {
	fs.mu.Lock()
	fs.handles[fh] = h
	fs.mu.Unlock()
}

func (fs *FS) getHandle(fh uint64) *handle.Handle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.handles[fh]
}

func (fs *FS) dropHandle(fh uint64) {
	fs.mu.Lock()
	delete(fs.handles, fh)
	fs.mu.Unlock()
}

func (fs *FS) recordOp(name string, start time.Time, size int64, success bool) {
	if fs.metrics != nil {
		fs.metrics.RecordOperation(name, time.Since(start), size, success)
	}
}

func (fs *FS) logError(op, path string, err error) {
	if fs.logger == nil || err == nil {
		return
	}
	fs.logger.Warn(op+" failed", map[string]interface{}{"path": path, "error": err.Error()})
}

// errno converts err to a negative errno the cgofuse dispatch loop expects,
// 0 on nil.
func errno(err error) int {
	if err == nil {
		return 0
	}
	return -int(ftpfserrors.ErrnoFrom(err))
}

// Getattr implements spec.md §4.G: root is synthetic, everything else comes
// from a single-entry listing lookup (jlaffaye/ftp's GetEntry, which is this
// daemon's home for the "directory parser" collaborator spec.md §1 names).
func (fs *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	start := time.Now()
	var err error
	defer func() { fs.recordOp("getattr", start, 0, err == nil) }()

	if path == "/" {
		fillDirStat(stat, time.Time{})
		return 0
	}

	var entry *ftpconn.Entry
	entry, err = fs.executor.GetEntry(path)
	if err != nil {
		fs.logError("getattr", path, err)
		return errno(err)
	}
	fillStat(stat, entry)
	return 0
}

// Readlink implements spec.md §6's readlink, served by the same lookup as
// Getattr with the link-target field instead of size/mode.
func (fs *FS) Readlink(path string) (int, string) {
	entry, err := fs.executor.GetEntry(path)
	if err != nil {
		fs.logError("readlink", path, err)
		return errno(err), ""
	}
	if entry.Type != ftpconn.EntryTypeLink {
		return -fuse.EINVAL, ""
	}
	return 0, entry.Target
}

// Mknod creates a regular file (spec.md §4.F's open(O_CREAT|O_TRUNC) path,
// driven to completion and released immediately); any other node type is
// rejected per spec.md §6 ("regular files only; else EPERM").
func (fs *FS) Mknod(path string, mode uint32, dev uint64) int {
	if mode&fuse.S_IFMT != 0 && mode&fuse.S_IFMT != fuse.S_IFREG {
		return -fuse.EPERM
	}
	h, err := handle.Open(fs.allocFH(), pathutil.Clean(path), handle.OpenFlags{WriteOnly: true, Create: true, Trunc: true}, mode, fs.handleDeps())
	if err != nil {
		fs.logError("mknod", path, err)
		return errno(err)
	}
	return errno(h.Release())
}

// Mkdir issues MKD via the command executor.
func (fs *FS) Mkdir(path string, mode uint32) int {
	if err := fs.executor.Mkdir(path); err != nil {
		fs.logError("mkdir", path, err)
		return errno(err)
	}
	return 0
}

// Unlink issues DELE via the command executor.
func (fs *FS) Unlink(path string) int {
	if err := fs.executor.Unlink(path); err != nil {
		fs.logError("unlink", path, err)
		return errno(err)
	}
	return 0
}

// Rmdir issues RMD via the command executor.
func (fs *FS) Rmdir(path string) int {
	if err := fs.executor.Rmdir(path); err != nil {
		fs.logError("rmdir", path, err)
		return errno(err)
	}
	return 0
}

// Rename issues RNFR/RNTO via the command executor.
func (fs *FS) Rename(oldpath string, newpath string) int {
	if err := fs.executor.Rename(oldpath, newpath); err != nil {
		fs.logError("rename", oldpath, err)
		return errno(err)
	}
	return 0
}

// Chmod issues SITE CHMOD via the command executor.
func (fs *FS) Chmod(path string, mode uint32) int {
	if err := fs.executor.Chmod(path, mode); err != nil {
		fs.logError("chmod", path, err)
		return errno(err)
	}
	return 0
}

// Chown issues SITE CHUID/SITE CHGID via the command executor.
func (fs *FS) Chown(path string, uid uint32, gid uint32) int {
	if err := fs.executor.Chown(path, uid, gid); err != nil {
		fs.logError("chown", path, err)
		return errno(err)
	}
	return 0
}

// Truncate implements spec.md §4.F's truncate compatibility hack: a
// zero-length truncate without an open handle creates an empty file; any
// other value is accepted only when it already matches the remote size.
func (fs *FS) Truncate(path string, size int64, fh uint64) int {
	if h := fs.getHandle(fh); h != nil {
		return errno(h.Ftruncate(size))
	}

	if size == 0 {
		newHandle, err := handle.Open(fs.allocFH(), pathutil.Clean(path), handle.OpenFlags{WriteOnly: true, Create: true, Trunc: true}, 0, fs.handleDeps())
		if err != nil {
			fs.logError("truncate", path, err)
			return errno(err)
		}
		return errno(newHandle.Release())
	}

	entry, err := fs.executor.GetEntry(path)
	if err != nil {
		fs.logError("truncate", path, err)
		return errno(err)
	}
	if int64(entry.Size) != size {
		return -fuse.EPERM
	}
	return 0
}

// Open implements spec.md §4.F's open decision tree for an existing file.
func (fs *FS) Open(path string, flags int) (int, uint64) {
	return fs.openOrCreate(path, flags, 0)
}

// Create implements spec.md §4.F's O_CREAT path.
func (fs *FS) Create(path string, flags int, mode uint32) (int, uint64) {
	return fs.openOrCreate(path, flags|syscall.O_CREAT, mode)
}

func (fs *FS) openOrCreate(path string, flags int, mode uint32) (int, uint64) {
	start := time.Now()
	of := parseOpenFlags(flags)
	fh := fs.allocFH()

	h, err := handle.Open(fh, pathutil.Clean(path), of, mode, fs.handleDeps())
	fs.recordOp("open", start, 0, err == nil)
	if err != nil {
		fs.logError("open", path, err)
		return errno(err), 0
	}
	fs.putHandle(fh, h)
	return 0, fh
}

func parseOpenFlags(flags int) handle.OpenFlags {
	of := handle.OpenFlags{
		Create: flags&syscall.O_CREAT != 0,
		Trunc:  flags&syscall.O_TRUNC != 0,
		Excl:   flags&syscall.O_EXCL != 0,
		Append: flags&syscall.O_APPEND != 0,
	}
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		of.WriteOnly = true
	case syscall.O_RDWR:
		of.ReadWrite = true
	default:
		of.ReadOnly = true
	}
	return of
}

// Read routes through the handle's read window (component D).
func (fs *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	start := time.Now()
	h := fs.getHandle(fh)
	if h == nil {
		return -fuse.EBADF
	}
	n, err := h.Read(buff, ofst)
	fs.recordOp("read", start, int64(n), err == nil)
	if err != nil {
		fs.logError("read", path, err)
		return errno(err)
	}
	return n
}

// Write routes through the handle's write pipeline (component E).
func (fs *FS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	start := time.Now()
	h := fs.getHandle(fh)
	if h == nil {
		return -fuse.EBADF
	}
	n, err := h.Write(buff, ofst)
	fs.recordOp("write", start, int64(n), err == nil)
	if err != nil {
		fs.logError("write", path, err)
		return errno(err)
	}
	return n
}

// Flush joins an in-flight upload without closing the handle.
func (fs *FS) Flush(path string, fh uint64) int {
	h := fs.getHandle(fh)
	if h == nil {
		return -fuse.EBADF
	}
	if err := h.Flush(); err != nil {
		fs.logError("flush", path, err)
		return errno(err)
	}
	return 0
}

// Fsync is equivalent to Flush per spec.md §6.
func (fs *FS) Fsync(path string, datasync bool, fh uint64) int {
	return fs.Flush(path, fh)
}

// Release drains any upload, verifies the final remote size, and frees the
// handle.
func (fs *FS) Release(path string, fh uint64) int {
	h := fs.getHandle(fh)
	if h == nil {
		return -fuse.EBADF
	}
	err := h.Release()
	fs.dropHandle(fh)
	if err != nil {
		fs.logError("release", path, err)
		return errno(err)
	}
	return 0
}

// Opendir is a no-op: directory listing state lives entirely in Readdir's
// single List call, so no directory handle needs tracking.
func (fs *FS) Opendir(path string) (int, uint64) { return 0, 0 }

// Releasedir is a no-op, matching Opendir.
func (fs *FS) Releasedir(path string, fh uint64) int { return 0 }

// Readdir fetches the listing via the command executor (component C) and
// fills the caller's callback.
func (fs *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	start := time.Now()
	var err error
	defer func() { fs.recordOp("readdir", start, 0, err == nil) }()

	fill(".", nil, 0)
	fill("..", nil, 0)

	var entries []*ftpconn.Entry
	entries, err = fs.executor.List(path)
	if err != nil {
		fs.logError("readdir", path, err)
		return errno(err)
	}

	for _, e := range entries {
		var stat fuse.Stat_t
		fillStat(&stat, e)
		if !fill(e.Name, &stat, 0) {
			break
		}
	}
	return 0
}

// Statfs returns synthetic values per spec.md §4.G: "name length 255,
// advertised blocks large enough to not trip user heuristics".
func (fs *FS) Statfs(path string, stat *fuse.Statfs_t) int {
	stat.Bsize = statfsBlockLen
	stat.Frsize = statfsBlockLen
	stat.Blocks = statfsBlocks
	stat.Bfree = statfsBlocks
	stat.Bavail = statfsBlocks
	stat.Namemax = statfsNameMax
	return 0
}

// Utimens is a silent no-op: FTP has no portable mtime-set (spec.md §4.G).
func (fs *FS) Utimens(path string, tmsp []fuse.Timespec) int { return 0 }

func fillStat(stat *fuse.Stat_t, e *ftpconn.Entry) {
	switch e.Type {
	case ftpconn.EntryTypeFolder:
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
	case ftpconn.EntryTypeLink:
		stat.Mode = fuse.S_IFLNK | 0777
		stat.Nlink = 1
	default:
		stat.Mode = fuse.S_IFREG | 0644
		stat.Nlink = 1
		stat.Size = int64(e.Size)
	}
	sec := e.Time.Unix()
	stat.Mtim.Sec, stat.Atim.Sec, stat.Ctim.Sec = sec, sec, sec
}

func fillDirStat(stat *fuse.Stat_t, t time.Time) {
	stat.Mode = fuse.S_IFDIR | 0755
	stat.Nlink = 2
	if !t.IsZero() {
		sec := t.Unix()
		stat.Mtim.Sec, stat.Atim.Sec, stat.Ctim.Sec = sec, sec, sec
	}
}
