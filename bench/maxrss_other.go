//go:build !linux && !freebsd && !darwin

package bench

// maxRSSKB reports 0 on platforms without rusage accounting.
func maxRSSKB() int64 { return 0 }
