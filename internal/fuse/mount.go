package fuse

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"
)

// mountSettleDelay is how long Mount waits before reporting success, since
// fuse.FileSystemHost.Mount runs the dispatch loop on its own goroutine and
// reports failure asynchronously.
const mountSettleDelay = 200 * time.Millisecond

// MountManager drives one FS's mount lifecycle.
type MountManager struct {
	fs *FS

	mu        sync.Mutex
	host      *fuse.FileSystemHost
	mountPath string
	mounted   bool
}

// NewMountManager wraps fs for mounting at a single mount point.
func NewMountManager(fs *FS) *MountManager {
	return &MountManager{fs: fs}
}

// Mount brings the filesystem up at mountPoint. allowOther adds
// allow_other/AllowOther so other users on the host can traverse the mount.
func (m *MountManager) Mount(mountPoint string, allowOther bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("fuse: already mounted at %s", m.mountPath)
	}

	host := fuse.NewFileSystemHost(m.fs)
	opts := mountOptions(allowOther)

	started := make(chan struct{})
	go func() {
		close(started)
		if ok := host.Mount(mountPoint, opts); !ok {
			m.mu.Lock()
			m.mounted = false
			m.mu.Unlock()
		}
	}()
	<-started
	time.Sleep(mountSettleDelay)

	m.host = host
	m.mountPath = mountPoint
	m.mounted = true
	return nil
}

// Unmount tears the mount down. Safe to call once.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.host == nil {
		return nil
	}
	if ok := m.host.Unmount(); !ok {
		return fmt.Errorf("fuse: unmount failed at %s", m.mountPath)
	}
	m.mounted = false
	return nil
}

// Mounted reports whether the mount is currently up.
func (m *MountManager) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

func mountOptions(allowOther bool) []string {
	opts := []string{"-o", "fsname=ftpfs", "-o", "subtype=ftp"}
	if allowOther {
		switch runtime.GOOS {
		case "windows":
			opts = append(opts, "-o", "uid=-1", "-o", "gid=-1")
		default:
			opts = append(opts, "-o", "allow_other")
		}
	}
	return opts
}
