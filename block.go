// block.go: a single fixed-size mmap-backed staging region

package mmapbuffer

import (
	"os"
	"sync"
	"sync/atomic"
)

// blockStatus mirrors the two-valued free/full status the original C++ mmapBlock
// keeps alongside used/capacity (original_source/code/mmapBlock.h's
// `enum status { free, full }`). It lets forcePersist mark a
// partially-filled block "full" to fence further appends without actually
// filling it, which a bare used==capacity comparison can't express.
type blockStatus int32

const (
	blockFree blockStatus = iota
	blockFullStatus
)

// Block is a fixed-capacity byte region backed by a shared mmap over a
// scratch file. Many producer goroutines may call append concurrently;
// exactly one persister goroutine may call writeOut/clear at a time, and
// never concurrently with an in-flight Append copy.
//
// Zero value is not usable; construct with newBlock.
type Block struct {
	capacity int64
	used     atomic.Int64
	status   atomic.Int32

	data []byte
	fd   *os.File
	path string

	// reserving is the spin-flag guarding only the used-counter reservation
	// step (spec.md §4.1 step 3). It is held for nanoseconds, never across
	// the memcpy.
	reserving atomic.Bool

	// drain separates the many concurrent producer copies (RLock) from the
	// single exclusive drain/clear operation (Lock) — spec.md's "dual lock
	// on blocks" design note. Collapsing this into one mutex with
	// `reserving` would serialize the copies themselves, not just the
	// counter bump.
	drain sync.RWMutex

	// prev/next are atomic.Pointer rather than plain *Block because the
	// persister (under persistMu) and a growing producer (under writeMu)
	// walk/publish ring links under two different mutexes — see buffer.go's
	// Buffer.rotate and Buffer.growLocked.
	prev atomic.Pointer[Block]
	next atomic.Pointer[Block]
}

// newBlock opens (creating if needed) the scratch file at path, pre-
// allocates capacity bytes, and maps it shared read/write. On any setup
// failure it returns a nil *Block and an error wrapping ErrCodeScratchSetup;
// callers must not incorporate such a Block into the ring (spec.md §4.1:
// "callers must check isValid() before use" — in this port, a non-nil error
// takes the place of that check since a setup failure never yields a usable
// Go value).
func newBlock(path string, capacity int64, prev, next *Block) (*Block, error) {
	if capacity <= 0 {
		return nil, newMisuseError("block capacity must be positive")
	}

	f, err := openScratchFile(path, capacity)
	if err != nil {
		return nil, newScratchSetupError(path, err)
	}

	data, err := mmapRegion(f, capacity)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, newScratchSetupError(path, err)
	}

	b := &Block{
		capacity: capacity,
		data:     data,
		fd:       f,
		path:     path,
	}
	b.prev.Store(prev)
	b.next.Store(next)
	return b, nil
}

// isValid reports whether the block's backing file and mapping are usable.
func (b *Block) isValid() bool {
	return b != nil && b.fd != nil && b.data != nil
}

// append reserves up to len(src) bytes of free space and copies src into
// it. It returns the number of bytes actually written (0 if the block was
// already full, possibly less than len(src) if the block fills mid-copy)
// and whether the reservation drove used to capacity. This is the six-step
// protocol from spec.md §4.1:
//
//  1. fast-fail if already full
//  2. take the drain lock in shared mode (excludes WriteOut/Clear only)
//  3. spin-acquire the reservation flag
//  4. bump the used counter under the flag, computing writeLen
//  5. release the reservation flag
//  6. memcpy outside the flag but still under the shared drain lock
func (b *Block) append(src []byte) (written int, becameFull bool) {
	if b.used.Load() >= b.capacity || blockStatus(b.status.Load()) == blockFullStatus {
		return 0, true
	}

	b.drain.RLock()
	defer b.drain.RUnlock()

	var writePos, writeLen int64
	for {
		if !b.reserving.CompareAndSwap(false, true) {
			continue // spin: another producer is mid-reservation
		}
		used := b.used.Load()
		remaining := b.capacity - used
		if remaining <= int64(len(src)) {
			writePos, writeLen = used, remaining
			b.used.Store(b.capacity)
			becameFull = true
			b.status.Store(int32(blockFullStatus))
		} else {
			writePos, writeLen = used, int64(len(src))
			b.used.Store(used + writeLen)
		}
		b.reserving.Store(false)
		break
	}

	if writeLen > 0 {
		copy(b.data[writePos:writePos+writeLen], src[:writeLen])
	}
	return int(writeLen), becameFull
}

// writeOut drains the first n bytes (or the whole capacity when n == 0)
// into dst at the given offset via a positional write. It takes the drain
// lock exclusively, so it blocks until every in-flight append's memcpy on
// this block has completed, and blocks any new append from starting.
func (b *Block) writeOut(dst *os.File, offset int64, n int64) (int, error) {
	b.drain.Lock()
	defer b.drain.Unlock()

	if n <= 0 {
		n = b.capacity
	}
	return pwriteFull(dst, b.data[:n], offset)
}

// clear resets used to 0 and the status to free. The caller must guarantee
// no concurrent producer holds a reservation on this block — in practice,
// this is only safe to call from the persister immediately after writeOut,
// before advancing persistCur.
func (b *Block) clear() {
	b.drain.Lock()
	defer b.drain.Unlock()
	b.used.Store(0)
	b.status.Store(int32(blockFree))
}

// markFull forces the block's status to full without changing used. Used
// by the persister's force-flush branch (spec.md §4.3 step 4) to fence
// further appends into a partially-filled block before draining it.
func (b *Block) markFull() {
	b.status.Store(int32(blockFullStatus))
}

func (b *Block) usedSpace() int64 { return b.used.Load() }
func (b *Block) freeSpace() int64 { return b.capacity - b.used.Load() }

// usedPages returns how many pageSize-sized pages the currently-used bytes
// span, rounding up — used by the force-flush path to compute a
// page-aligned write length for a partially-filled block.
func (b *Block) usedPages(pageSize int64) int64 {
	used := b.usedSpace()
	if used%pageSize == 0 {
		return used / pageSize
	}
	return used/pageSize + 1
}

// isEmpty reports whether the block has no used bytes and is not marked
// full (spec.md: isEmpty() == usedSpace()==0 && status==free).
func (b *Block) isEmpty() bool {
	return b.usedSpace() == 0 && blockStatus(b.status.Load()) == blockFree
}

// isFull reports whether the block cannot accept any more bytes, either
// because it filled naturally or because a force-flush marked it full.
func (b *Block) isFull() bool {
	return b.usedSpace() >= b.capacity || blockStatus(b.status.Load()) == blockFullStatus
}

func (b *Block) filePath() string { return b.path }
func (b *Block) file() *os.File   { return b.fd }

// destroy unmaps the block's region, closes, and removes its scratch file.
// Called only by Buffer teardown, after any pending data has been flushed.
func (b *Block) destroy() error {
	var firstErr error
	if err := munmapRegion(b.data); err != nil {
		firstErr = err
	}
	b.data = nil
	if b.fd != nil {
		if err := b.fd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.path != "" {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
