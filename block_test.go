package mmapbuffer

import (
	"path/filepath"
	"sync"
	"testing"
)

func newTestBlock(t *testing.T, capacity int64) *Block {
	t.Helper()
	path := filepath.Join(t.TempDir(), "block-0")
	b, err := newBlock(path, capacity, nil, nil)
	if err != nil {
		t.Fatalf("newBlock: %v", err)
	}
	t.Cleanup(func() { b.destroy() })
	return b
}

func TestBlockAppend_Cases(t *testing.T) {
	tests := []struct {
		name         string
		capacity     int64
		preload      int
		payload      int
		wantWritten  int
		wantFull     bool
	}{
		{"fits with room to spare", 128, 0, 32, 32, false},
		{"fills exactly", 128, 0, 128, 128, true},
		{"overflows and truncates", 128, 0, 200, 128, true},
		{"already full rejects everything", 128, 128, 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBlock(t, tt.capacity)
			if tt.preload > 0 {
				if w, _ := b.append(make([]byte, tt.preload)); w != tt.preload {
					t.Fatalf("preload: wrote %d, want %d", w, tt.preload)
				}
			}
			written, full := b.append(make([]byte, tt.payload))
			if written != tt.wantWritten || full != tt.wantFull {
				t.Fatalf("append() = (%d, %v), want (%d, %v)", written, full, tt.wantWritten, tt.wantFull)
			}
		})
	}
}

func TestBlockIsEmptyAndIsFull(t *testing.T) {
	b := newTestBlock(t, 64)
	if !b.isEmpty() || b.isFull() {
		t.Fatalf("fresh block: isEmpty=%v isFull=%v, want true/false", b.isEmpty(), b.isFull())
	}

	b.append(make([]byte, 64))
	if b.isEmpty() || !b.isFull() {
		t.Fatalf("filled block: isEmpty=%v isFull=%v, want false/true", b.isEmpty(), b.isFull())
	}

	b.clear()
	if !b.isEmpty() || b.isFull() {
		t.Fatalf("cleared block: isEmpty=%v isFull=%v, want true/false", b.isEmpty(), b.isFull())
	}
}

func TestBlockMarkFullFencesAppend(t *testing.T) {
	b := newTestBlock(t, 64)
	b.append(make([]byte, 10))
	b.markFull()

	written, full := b.append(make([]byte, 10))
	if written != 0 || !full {
		t.Fatalf("append after markFull = (%d, %v), want (0, true)", written, full)
	}
	if b.usedSpace() != 10 {
		t.Fatalf("markFull must not change usedSpace, got %d", b.usedSpace())
	}
}

func TestBlockUsedPagesRoundsUp(t *testing.T) {
	b := newTestBlock(t, 4096*3)
	b.append(make([]byte, 4096+1))
	if got := b.usedPages(4096); got != 2 {
		t.Fatalf("usedPages() = %d, want 2", got)
	}
}

func TestBlockWriteOutAndClear(t *testing.T) {
	b := newTestBlock(t, 64)
	payload := []byte("hello world, this is a test block!!")
	b.append(payload)

	dst, err := openDestFile(filepath.Join(t.TempDir(), "dest"))
	if err != nil {
		t.Fatalf("openDestFile: %v", err)
	}
	defer dst.Close()

	n, err := b.writeOut(dst, 0, b.usedSpace())
	if err != nil {
		t.Fatalf("writeOut: %v", err)
	}
	if int64(n) != b.usedSpace() {
		t.Fatalf("writeOut wrote %d bytes, want %d", n, b.usedSpace())
	}

	b.clear()
	if !b.isEmpty() {
		t.Fatalf("block should be empty after clear")
	}
}

// TestBlockConcurrentAppend mirrors lethe_unit_test.go's
// TestConcurrentWriteAsyncOwned: many goroutines racing append() must
// account for every byte exactly once: usedSpace equals the sum of what
// the individual calls report written, and never exceeds capacity.
func TestBlockConcurrentAppend(t *testing.T) {
	const (
		producers  = 16
		recordSize = 37
	)
	capacity := int64(producers * recordSize * 10)
	b := newTestBlock(t, capacity)

	var wg sync.WaitGroup
	var totalWritten int64
	var mu sync.Mutex
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := make([]byte, recordSize)
			for j := 0; j < 10; j++ {
				w, _ := b.append(rec)
				mu.Lock()
				totalWritten += int64(w)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if b.usedSpace() != totalWritten {
		t.Fatalf("usedSpace=%d, sum of per-call written=%d", b.usedSpace(), totalWritten)
	}
	if b.usedSpace() > capacity {
		t.Fatalf("usedSpace %d exceeds capacity %d", b.usedSpace(), capacity)
	}
}
