// Package sysinfo probes host memory for the admission gate.
package sysinfo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/snowflk/gridstore/errs"
)

// Available returns free RAM plus free swap in bytes. A probe failure is
// treated as no headroom information and reported as unlimited, so the
// configured limit alone decides.
func Available() uint64 {
	var total uint64
	vm, err := mem.VirtualMemory()
	if err != nil {
		return ^uint64(0)
	}
	total = vm.Available
	if sm, err := mem.SwapMemory(); err == nil {
		total += sm.Free
	}
	return total
}

// ParseLimit converts a human memory limit ("512M", "8G", plain bytes) into
// bytes.
func ParseLimit(limit string) (uint64, error) {
	s := strings.TrimSpace(limit)
	if s == "" {
		return 0, errors.Wrap(errs.ErrValidation, "empty memory limit")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 't', 'T':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errs.ErrValidation,
			"invalid memory limit %q; expected bytes or <int>[KMGT]", limit)
	}
	return n * mult, nil
}

// CheckMemory refuses an allocation of the given footprint when it exceeds
// the smaller of the configured limit and the currently free RAM plus swap.
// A zero limit means only the host headroom gates.
func CheckMemory(requested uint64, configured uint64) error {
	limit := Available()
	if configured > 0 && configured < limit {
		limit = configured
	}
	if requested > limit {
		return errors.Wrapf(errs.ErrMemoryLimit,
			"cannot allocate %s, limit is %s", HumanBytes(requested), HumanBytes(limit))
	}
	return nil
}

// HumanBytes renders a byte count for error messages.
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGT"[exp])
}
