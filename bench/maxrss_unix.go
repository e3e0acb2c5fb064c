//go:build linux || freebsd

package bench

import "golang.org/x/sys/unix"

// maxRSSKB returns the process peak resident set size in KiB.
func maxRSSKB() int64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return int64(ru.Maxrss)
}
