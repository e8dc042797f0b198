// buffer.go: the circular ring of Blocks, its growth/backpressure policy,
// and the producer-facing append algorithm (spec.md §4.2).

package mmapbuffer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// Buffer is a named, ring-structured collection of Blocks plus its
// persister goroutine. The zero value is not usable; obtain one through
// GetBufferInstance and call Init exactly once.
type Buffer struct {
	name string

	// writeMu serializes writeCur rotation decisions (growth, reuse,
	// waiting for a freed block) and guards enableWrite/blockCount. Holding
	// it is also what gives TryAppend's backpressure its "all producers
	// stall together" behavior when the ring is at capacity.
	writeMu     sync.Mutex
	writeFlag   *sync.Cond // bound to writeMu; broadcasts on enableWrite flips
	writeCur    atomic.Pointer[Block]
	blockCount  int
	enableWrite bool

	// persistMu guards forcePersist, bufferEmpty, destOffset,
	// actualDataLen and persistCur — the persister's half of the state,
	// decoupled from writeMu so drain advancement never blocks on producer
	// rotation decisions and vice versa.
	persistMu        sync.Mutex
	blockPersistDone *sync.Cond // bound to persistMu
	bufferIsEmpty    *sync.Cond // bound to persistMu
	persistCur       atomic.Pointer[Block]
	forcePersist     bool
	bufferEmpty      bool

	// blockFullCh is a best-effort (non-blocking send/receive) wakeup the
	// way paultag-go-diskring's Ring.wakeup and lethe's ticker-driven
	// MPSCConsumer both use: producers signal it when their append fills a
	// block; the persister selects on it bounded by persistTimeout.
	blockFullCh chan struct{}

	head *Block // ring entry point; never reassigned after Init

	maxBlockCount   int
	blockSize       int64
	pageSize        int64
	scratchBase     string
	persistTimeout  time.Duration
	errorCallback   func(operation string, err error)

	destFile      *os.File
	destPath      string
	destOffset    atomic.Int64
	actualDataLen atomic.Int64

	ready  atomic.Bool
	halted atomic.Bool
	closed atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	timeCache   *timecache.TimeCache
	lastDrainAt atomic.Int64 // unix nanoseconds; 0 until the first drain

	cfg       Config // retained for ChangePersistFile's archival policy fields
	bgWorkers *archiveWorkers
}

// newBuffer constructs an un-initialized Buffer registered under name. It
// is only ever called by the registry's lookup-or-create path.
func newBuffer(name string) *Buffer {
	b := &Buffer{name: name}
	b.writeFlag = sync.NewCond(&b.writeMu)
	b.blockPersistDone = sync.NewCond(&b.persistMu)
	b.bufferIsEmpty = sync.NewCond(&b.persistMu)
	b.blockFullCh = make(chan struct{}, 1)
	return b
}

// Init performs the one-shot configuration described in spec.md §4.2's
// initBuffer: it is idempotent, only the first call takes effect. It opens
// the destination file, creates cfg.InitialBlockCount Blocks linked into a
// ring, and spawns the persister goroutine.
func (buf *Buffer) Init(cfg Config) error {
	if !buf.ready.CompareAndSwap(false, true) {
		return nil // already initialized; no-op per spec.md §8 idempotence
	}

	if err := cfg.validate(); err != nil {
		buf.ready.Store(false)
		return err
	}

	destFile, err := openDestFile(cfg.DestPath)
	if err != nil {
		buf.ready.Store(false)
		return newDestSetupError(cfg.DestPath, err)
	}

	buf.cfg = cfg
	buf.maxBlockCount = cfg.MaxBlockCount
	buf.blockSize = cfg.BlockSize
	buf.pageSize = cfg.PageSize
	buf.scratchBase = cfg.ScratchBasePath
	buf.persistTimeout = cfg.persistTimeout()
	buf.errorCallback = cfg.ErrorCallback
	buf.destFile = destFile
	buf.destPath = cfg.DestPath
	buf.enableWrite = true
	buf.timeCache = timecache.NewWithResolution(time.Millisecond)

	var first, prev *Block
	for i := 0; i < cfg.InitialBlockCount; i++ {
		b, err := newBlock(buf.scratchPath(i), buf.blockSize, nil, nil)
		if err != nil {
			buf.destroyBlocks(first)
			destFile.Close()
			buf.ready.Store(false)
			return err
		}
		if first == nil {
			first = b
		} else {
			prev.next.Store(b)
			b.prev.Store(prev)
		}
		prev = b
	}
	// Close the ring: last block's next wraps to first, first's prev wraps
	// to last.
	prev.next.Store(first)
	first.prev.Store(prev)

	buf.head = first
	buf.blockCount = cfg.InitialBlockCount
	buf.writeCur.Store(first)
	buf.persistCur.Store(first)

	ctx, cancel := context.WithCancel(context.Background())
	buf.cancel = cancel
	buf.wg.Add(1)
	go buf.persisterLoop(ctx)

	return nil
}

func (buf *Buffer) scratchPath(index int) string {
	return fmt.Sprintf("%s%d", buf.scratchBase, index)
}

func (buf *Buffer) reportError(operation string, err error) {
	if buf.errorCallback != nil {
		buf.errorCallback(operation, err)
	}
}

// TryAppend stages len(data) bytes. It returns true once every byte has
// landed in some Block (never partial from the caller's point of view). If
// noLose is false and the ring is at capacity with every block full, it
// returns false without writing any byte of data — spec.md §4.2's chosen
// drop rule: "drop only when written == 0 and no free block is available."
func (buf *Buffer) TryAppend(data []byte, noLose bool) (bool, error) {
	if buf.closed.Load() {
		return false, newAlreadyClosedError()
	}
	if !buf.ready.Load() {
		return false, newMisuseError("TryAppend called before Init")
	}
	if int64(len(data)) > buf.blockSize {
		return false, newMisuseError("len(data) exceeds the configured BlockSize")
	}
	if len(data) == 0 {
		return true, nil
	}

	remaining := data
	for {
		buf.writeMu.Lock()
		for !buf.enableWrite {
			buf.writeFlag.Wait()
		}
		cur := buf.writeCur.Load()
		buf.writeMu.Unlock()

		written, becameFull := cur.append(remaining)

		switch {
		case written == len(remaining) && !becameFull:
			// Case A: fast path.
			return true, nil

		case written == len(remaining) && becameFull:
			// Case B: fully absorbed, but the block is now full. Bytes are
			// already committed, so rotation always waits rather than
			// drops (spec.md §4.2's rule only drops when written == 0).
			buf.rotate(true, true)
			buf.notifyBlockFull()
			return true, nil

		case written > 0:
			// Case C: partial acceptance; rotate then retry with the rest.
			buf.rotate(true, true)
			buf.notifyBlockFull()
			remaining = remaining[written:]
			continue

		default:
			// Case D: arrived to find the block already full.
			if ok := buf.rotate(false, noLose); !ok {
				return false, nil
			}
			// writeCur has advanced (or a new block was spliced); retry
			// the same remaining bytes against it.
		}
	}
}

// notifyBlockFull performs a best-effort, non-blocking wakeup of the
// persister, which is sleeping on blockFullCh bounded by persistTimeout.
func (buf *Buffer) notifyBlockFull() {
	select {
	case buf.blockFullCh <- struct{}{}:
	default:
	}
}

// rotate moves writeCur forward by reusing an already-empty next block,
// growing the ring (up to maxBlockCount), or waiting for the persister to
// free a block. must selects the blocking behavior used by Case B/C (bytes
// already committed: never drop, always eventually rotate). When !must, the
// noLose flag governs Case D's choice between waiting and dropping.
func (buf *Buffer) rotate(must bool, noLose bool) bool {
	buf.writeMu.Lock()
	defer buf.writeMu.Unlock()

	for {
		cur := buf.writeCur.Load()

		// Another producer's rotate() call may have already advanced
		// writeCur past the block we originally found full — e.g. a Case D
		// caller queued on writeMu behind a Case B/C caller that just
		// rotated. If the freshly-loaded cur already has room, there is no
		// rotation decision left to make: the caller must retry append()
		// against it directly rather than have this call blindly advance
		// past a block that was never actually full.
		if !cur.isFull() {
			return true
		}

		nxt := cur.next.Load()

		if nxt.isEmpty() {
			buf.writeCur.Store(nxt)
			return true
		}

		if buf.blockCount < buf.maxBlockCount {
			nb, err := buf.growLocked(cur, nxt)
			if err == nil {
				buf.writeCur.Store(nb)
				return true
			}
			buf.reportError("block_grow", err)
			// fall through to wait/drop below
		}

		if !must && !noLose {
			return false
		}

		// Ring is at capacity and the next block isn't empty yet: wait
		// for the persister to drain and clear it.
		buf.persistMu.Lock()
		for !cur.next.Load().isEmpty() {
			buf.blockPersistDone.Wait()
		}
		buf.persistMu.Unlock()
		// Loop back: cur.next may now be reusable.
	}
}

// growLocked splices a new Block between cur and nxt, inheriting scratch
// path scratchBase+blockCount. Caller must hold writeMu.
func (buf *Buffer) growLocked(cur, nxt *Block) (*Block, error) {
	nb, err := newBlock(buf.scratchPath(buf.blockCount), buf.blockSize, cur, nxt)
	if err != nil {
		return nil, err
	}
	nxt.prev.Store(nb)
	cur.next.Store(nb)
	buf.blockCount++
	return nb, nil
}

// WaitForBufferPersist blocks until every staged byte has been drained to
// the destination file, page-padding the current block if it is only
// partially filled. On return, writes are re-enabled.
func (buf *Buffer) WaitForBufferPersist() {
	buf.writeMu.Lock()
	buf.enableWrite = false
	buf.writeMu.Unlock()

	buf.persistMu.Lock()
	buf.forcePersist = true
	// Drop any stale "empty" reading from an earlier idle iteration: the
	// persister must re-inspect persistCur before this call can return.
	buf.bufferEmpty = false
	buf.persistMu.Unlock()
	buf.notifyBlockFull()

	buf.persistMu.Lock()
	for !buf.bufferEmpty {
		buf.bufferIsEmpty.Wait()
	}
	buf.persistMu.Unlock()

	buf.writeMu.Lock()
	buf.enableWrite = true
	buf.writeMu.Unlock()
	buf.writeFlag.Broadcast()
}

// ChangePersistFile flushes pending data, closes the current destination
// file, opens newPath, and resets destOffset/actualDataLen to 0 — the
// "more defensible semantics" spec.md §9 settles on for the disputed reset
// behavior.
func (buf *Buffer) ChangePersistFile(newPath string) error {
	buf.WaitForBufferPersist()

	newFile, err := openDestFile(newPath)
	if err != nil {
		return newDestSetupError(newPath, err)
	}

	buf.persistMu.Lock()
	old := buf.destFile
	oldPath := buf.destPath
	buf.destFile = newFile
	buf.destPath = newPath
	buf.destOffset.Store(0)
	buf.actualDataLen.Store(0)
	buf.persistMu.Unlock()

	if err := old.Close(); err != nil {
		return err
	}
	buf.archiveDisplacedFile(oldPath)
	return nil
}

// GetPersistenceFileLen returns the current destination file length, in
// bytes already drained (including page-alignment padding). Advisory: it
// is read without synchronization against the persister, by contract (see
// spec.md §5 "advisory and racy by contract").
func (buf *Buffer) GetPersistenceFileLen() int64 {
	return buf.destOffset.Load()
}

// GetActualDataLen returns the sum of logical bytes drained, excluding
// page-alignment padding. Advisory, same contract as GetPersistenceFileLen.
func (buf *Buffer) GetActualDataLen() int64 {
	return buf.actualDataLen.Load()
}

// Close flushes pending data, stops the persister goroutine, destroys every
// Block (unmapping and removing its scratch file), and closes the
// destination file. Mirrors the original C++ destructor's
// flush-then-free-then-close ordering.
func (buf *Buffer) Close() error {
	if buf.closed.Load() {
		return newAlreadyClosedError()
	}
	if !buf.ready.Load() {
		return nil // never initialized; nothing to close
	}
	if !buf.closed.CompareAndSwap(false, true) {
		return newAlreadyClosedError()
	}
	buf.WaitForBufferPersist()

	buf.cancel()
	buf.wg.Wait()

	if buf.timeCache != nil {
		buf.timeCache.Stop()
	}
	if buf.bgWorkers != nil {
		buf.bgWorkers.stop()
	}

	var firstErr error
	buf.destroyBlocks(buf.head)
	if buf.destFile != nil {
		if err := buf.destFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	buf.ready.Store(false)
	return firstErr
}

// destroyBlocks walks the ring starting at start exactly blockCount times
// (it is circular) and destroys each Block.
func (buf *Buffer) destroyBlocks(start *Block) {
	if start == nil {
		return
	}
	cur := start
	for i := 0; i < buf.blockCount; i++ {
		next := cur.next.Load()
		cur.destroy()
		cur = next
		if cur == nil {
			break
		}
	}
}
