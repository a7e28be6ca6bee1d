package locks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/gridstore/errs"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	return NewManager(500*time.Millisecond, 10*time.Millisecond), t.TempDir()
}

func TestWriterExcludesWriter(t *testing.T) {
	m, dir := newTestManager(t)
	base := filepath.Join(dir, "a1")

	release, err := m.Writer(base)
	require.NoError(t, err)

	_, err = m.Writer(base)
	assert.ErrorIs(t, err, errs.ErrLockTimeout)

	release()
	release2, err := m.Writer(base)
	require.NoError(t, err)
	release2()
}

func TestReadersShare(t *testing.T) {
	m, dir := newTestManager(t)
	base := filepath.Join(dir, "a1")

	r1, err := m.Reader(base)
	require.NoError(t, err)
	r2, err := m.Reader(base)
	require.NoError(t, err)
	r1()
	r2()
}

func TestReaderWaitsForWriter(t *testing.T) {
	m, dir := newTestManager(t)
	base := filepath.Join(dir, "a1")

	release, err := m.Writer(base)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		r, err := m.Reader(base)
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	release()
	require.NoError(t, <-done)
}

func TestReaderTimesOutOnStuckWriter(t *testing.T) {
	m, dir := newTestManager(t)
	base := filepath.Join(dir, "a1")

	release, err := m.Writer(base)
	require.NoError(t, err)
	defer release()

	_, err = m.Reader(base)
	assert.ErrorIs(t, err, errs.ErrLockTimeout)
}

func TestWriterMarkerPublishedAndRemoved(t *testing.T) {
	m, dir := newTestManager(t)
	base := filepath.Join(dir, "a1")

	release, err := m.Writer(base)
	require.NoError(t, err)
	assert.True(t, WriterMarked(base))
	release()
	assert.False(t, WriterMarked(base))
}

func TestStaleMarkerReclaimed(t *testing.T) {
	_, dir := newTestManager(t)
	base := filepath.Join(dir, "a1")

	// A marker from a dead process: no pid should ever be this large.
	data, _ := json.Marshal(marker{PID: 1 << 22, AcquiredAt: time.Now().Unix()})
	require.NoError(t, os.WriteFile(base+MarkerExt, data, 0644))

	assert.False(t, WriterMarked(base))
	_, err := os.Stat(base + MarkerExt)
	assert.True(t, os.IsNotExist(err))
}

func TestWriterManyRollsBackOnFailure(t *testing.T) {
	m, dir := newTestManager(t)
	blocked := filepath.Join(dir, "a2")

	hold, err := m.Writer(blocked)
	require.NoError(t, err)
	defer hold()

	_, err = m.WriterMany([]string{
		filepath.Join(dir, "a1"),
		blocked,
	})
	assert.ErrorIs(t, err, errs.ErrLockTimeout)

	// The first lock must have been rolled back.
	release, err := m.Writer(filepath.Join(dir, "a1"))
	require.NoError(t, err)
	release()
}

func TestConcurrentWritersSerialize(t *testing.T) {
	m := NewManager(5*time.Second, time.Millisecond)
	base := filepath.Join(t.TempDir(), "a1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		current int
		max     int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Writer(base)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			current++
			if current > max {
				max = current
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max)
}

func TestStaleArtifactsListsDeadOwners(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(marker{PID: 1 << 22, AcquiredAt: time.Now().Unix()})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a1"+MarkerExt), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a1"+FileExt), nil, 0644))

	stale, err := StaleArtifacts(dir)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}
