package locks

import (
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

// Manager applies the acquisition policy on top of the registry and the
// on-disk artifacts: writers take the in-process exclusive lock first, then
// the flock; readers share in-process and only wait on a published writer
// marker.
type Manager struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
}

func NewManager(timeout, interval time.Duration) *Manager {
	return &Manager{
		registry: NewRegistry(),
		timeout:  timeout,
		interval: interval,
	}
}

// Writer locks base for exclusive access across threads and processes.
func (m *Manager) Writer(base string) (release func(), err error) {
	inProc := m.registry.TryLockFor(base, m.timeout, m.interval)
	if inProc == nil {
		return nil, errors.Wrapf(errs.ErrLockTimeout,
			"write lock on %s not acquired within %s", base, m.timeout)
	}
	fl, err := AcquireFile(base, m.timeout, m.interval)
	if err != nil {
		inProc()
		return nil, err
	}
	return func() {
		fl.Release()
		inProc()
	}, nil
}

// Reader locks base for shared access. Readers never block each other; a
// detected writer is waited out up to the timeout.
func (m *Manager) Reader(base string) (release func(), err error) {
	e := m.registry.retain(base)
	deadline := time.Now().Add(m.timeout)
	for !e.rw.TryRLock() {
		if time.Now().After(deadline) {
			m.registry.release(base)
			return nil, errors.Wrapf(errs.ErrLockTimeout,
				"read lock on %s not acquired within %s", base, m.timeout)
		}
		time.Sleep(m.interval)
	}
	inProc := func() {
		e.rw.RUnlock()
		m.registry.release(base)
	}
	if err := WaitWriterRelease(base, m.timeout, m.interval); err != nil {
		inProc()
		return nil, err
	}
	return inProc, nil
}

// WriterMany locks several resources for writing in the given order, which
// callers keep dimension-major so overlapping tile sets cannot deadlock.
// On any failure every lock taken so far is released.
func (m *Manager) WriterMany(bases []string) (release func(), err error) {
	releases := make([]func(), 0, len(bases))
	rollback := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, base := range bases {
		rel, err := m.Writer(base)
		if err != nil {
			rollback()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return rollback, nil
}
