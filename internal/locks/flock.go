package locks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

const (
	// MarkerExt marks a resource as held by a writer so readers and other
	// writers can detect contention without blocking on the flock itself.
	MarkerExt = ".islocked"
	// FileExt is the on-disk lock artifact carrying the flock.
	FileExt = ".lock"
)

// marker is the owner record published next to a held write lock. A stale
// marker from a dead process is reclaimed on the next acquisition.
type marker struct {
	PID      int   `json:"pid"`
	AcquiredAt int64 `json:"acquired_at"`
}

// FileLock is the on-disk half of a writer lock: an exclusively flocked lock
// file plus an owner marker.
type FileLock struct {
	base   string
	f      *os.File
	marked bool
}

// AcquireFile takes the exclusive flock on <base>.lock, polling every
// interval up to timeout, and publishes the owner marker. The flock loop
// treats a marker owned by a dead process as stale and removes it.
func AcquireFile(base string, timeout, interval time.Duration) (*FileLock, error) {
	lockPath := base + FileExt
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	start := time.Now()
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			// The previous owner may have unlinked the file between our open
			// and the flock; holding a lock on an orphaned inode protects
			// nothing, so reopen and retry.
			held, statErr := f.Stat()
			onDisk, pathErr := os.Stat(lockPath)
			if statErr == nil && pathErr == nil && os.SameFile(held, onDisk) {
				break
			}
			f.Close()
			if f, err = os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644); err != nil {
				return nil, errors.Wrap(errs.ErrIO, err.Error())
			}
			continue
		}
		if err != syscall.EWOULDBLOCK {
			f.Close()
			return nil, errors.Wrap(errs.ErrIO, err.Error())
		}
		reclaimStaleMarker(base)
		if time.Since(start) >= timeout {
			f.Close()
			return nil, errors.Wrapf(errs.ErrLockTimeout,
				"write lock on %s not acquired within %s", base, timeout)
		}
		time.Sleep(interval)
	}
	l := &FileLock{base: base, f: f}
	if err := l.publishMarker(); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

func (l *FileLock) publishMarker() error {
	data, _ := json.Marshal(marker{PID: os.Getpid(), AcquiredAt: time.Now().Unix()})
	if err := os.WriteFile(l.base+MarkerExt, data, 0644); err != nil {
		return errors.Wrap(errs.ErrIO, err.Error())
	}
	l.marked = true
	return nil
}

// Release removes the marker, drops the flock and closes the descriptor.
// Safe to call more than once.
func (l *FileLock) Release() {
	if l.f == nil {
		return
	}
	if l.marked {
		os.Remove(l.base + MarkerExt)
		l.marked = false
	}
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
	l.f = nil
	os.Remove(l.base + FileExt)
}

// WriterMarked reports whether a live writer has published a marker for
// base. Markers owned by dead processes are removed on sight.
func WriterMarked(base string) bool {
	data, err := os.ReadFile(base + MarkerExt)
	if err != nil {
		return false
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil || !processAlive(m.PID) {
		os.Remove(base + MarkerExt)
		return false
	}
	return true
}

// WaitWriterRelease waits until no live writer marker remains for base,
// polling every interval, up to timeout.
func WaitWriterRelease(base string, timeout, interval time.Duration) error {
	start := time.Now()
	for WriterMarked(base) {
		if time.Since(start) >= timeout {
			return errors.Wrapf(errs.ErrLockTimeout,
				"writer on %s did not release within %s", base, timeout)
		}
		time.Sleep(interval)
	}
	return nil
}

func reclaimStaleMarker(base string) {
	// Reading the marker performs the liveness probe and removes it when the
	// owner is gone.
	WriterMarked(base)
}

// processAlive probes pid with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

// StaleArtifacts lists lock and marker files under dir whose owner is dead
// or unreadable. Lock files without a live flock are reported as stale.
func StaleArtifacts(dir string) ([]string, error) {
	var out []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, MarkerExt):
			data, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			var m marker
			if json.Unmarshal(data, &m) != nil || !processAlive(m.PID) {
				out = append(out, full)
			}
		case strings.HasSuffix(name, FileExt):
			f, err := os.Open(full)
			if err != nil {
				continue
			}
			if syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) == nil {
				syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
				out = append(out, full)
			}
			f.Close()
		}
	}
	return out, nil
}
