package gridstore

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snowflk/gridstore/internal/sysinfo"
)

const (
	defaultWriteLockTimeout       = 60 * time.Second
	defaultWriteLockCheckInterval = time.Second
)

// Executor runs the per-tile work of virtual-array operations. Supply one to
// share a worker pool across clients; by default each operation runs on a
// bounded group of goroutines.
type Executor interface {
	Submit(task func())
}

// Config carries the client options. The zero value selects the defaults.
type Config struct {
	// Workers bounds the per-operation concurrency of virtual-array
	// scatter/gather. Defaults to NumCPU+4.
	Workers int
	// Executor replaces the built-in worker dispatch when set.
	Executor Executor
	// WriteLockTimeout bounds every lock acquisition. Default 60s.
	WriteLockTimeout time.Duration
	// WriteLockCheckInterval is the contention polling interval. Default 1s.
	WriteLockCheckInterval time.Duration
	// LogLevel is a logrus level name; empty means warn.
	LogLevel string
	// MemoryLimit caps single-allocation footprints, as bytes or
	// "<int>[KMGT]". Empty means only free RAM+swap gates.
	MemoryLimit string
	// SkipCollectionCreateMemoryCheck disables the admission gate for
	// collection creation only.
	SkipCollectionCreateMemoryCheck bool
}

func (c Config) withDefaults() (Config, uint64, error) {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU() + 4
	}
	if c.WriteLockTimeout <= 0 {
		c.WriteLockTimeout = defaultWriteLockTimeout
	}
	if c.WriteLockCheckInterval <= 0 {
		c.WriteLockCheckInterval = defaultWriteLockCheckInterval
	}
	var limit uint64
	if c.MemoryLimit != "" {
		parsed, err := sysinfo.ParseLimit(c.MemoryLimit)
		if err != nil {
			return c, 0, err
		}
		limit = parsed
	}
	return c, limit, nil
}

func (c Config) logLevel() logrus.Level {
	if c.LogLevel == "" {
		return logrus.WarnLevel
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return lvl
}
