// platform.go: mmap, pre-allocation and positional-write syscall wrappers.
//
// Mirrors the original C++ open(O_DIRECT)+posix_fallocate+mmap pairing
// (see original_source/code/mmapBlock.cpp) using golang.org/x/sys/unix
// instead of hand-rolled syscall.Syscall invocations.

package mmapbuffer

import (
	"os"

	"golang.org/x/sys/unix"
)

// openScratchFile opens (creating if necessary) the scratch file backing a
// Block, pre-allocates it to size bytes, and returns the file. direct-I/O is
// requested best-effort: if the platform or filesystem rejects O_DIRECT, the
// open is retried without it, per spec.md §6 "falls back silently".
func openScratchFile(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_DIRECT, 0644)
	if err != nil {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
	}

	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		// Fallocate isn't supported on every filesystem (e.g. tmpfs,
		// some network mounts); fall back to Truncate so the mapping
		// below still has a well-defined size.
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}

	return f, nil
}

// openDestFile opens (creating if necessary) the append-only destination
// file. Writes to it are always positional (pwrite at destOffset), so it is
// opened O_RDWR rather than O_APPEND.
func openDestFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_DIRECT, 0644)
	if err != nil {
		return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	}
	return f, nil
}

// mmapRegion maps size bytes of f (from offset 0) shared read/write.
func mmapRegion(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// munmapRegion unmaps a region previously returned by mmapRegion.
func munmapRegion(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// pwriteFull writes all of buf to fd at the given offset via positional
// write, looping over short writes the way a careful pwrite caller must.
// Per spec.md §7, a short write that can't be completed is fatal and
// reported to the caller rather than silently retried forever.
func pwriteFull(f *os.File, buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Pwrite(int(f.Fd()), buf[total:], offset+int64(total))
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, newPartialWriteError(f.Name(), len(buf), total)
		}
		total += n
	}
	return total, nil
}
