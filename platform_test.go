package mmapbuffer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenScratchFileAllocatesSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch-0")
	f, err := openScratchFile(path, 8192)
	if err != nil {
		t.Fatalf("openScratchFile: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 8192 {
		t.Fatalf("file size = %d, want 8192", info.Size())
	}
}

func TestMmapRegionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch-0")
	f, err := openScratchFile(path, 4096)
	if err != nil {
		t.Fatalf("openScratchFile: %v", err)
	}
	defer f.Close()

	data, err := mmapRegion(f, 4096)
	if err != nil {
		t.Fatalf("mmapRegion: %v", err)
	}
	copy(data, []byte("hello"))

	if err := munmapRegion(data); err != nil {
		t.Fatalf("munmapRegion: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got[:5]) != "hello" {
		t.Fatalf("file content = %q, want prefix \"hello\"", got[:5])
	}
}

func TestPwriteFullWritesAtOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dest")
	f, err := openDestFile(path)
	if err != nil {
		t.Fatalf("openDestFile: %v", err)
	}
	defer f.Close()

	if _, err := pwriteFull(f, []byte("abc"), 0); err != nil {
		t.Fatalf("pwriteFull at 0: %v", err)
	}
	if _, err := pwriteFull(f, []byte("def"), 3); err != nil {
		t.Fatalf("pwriteFull at 3: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("file content = %q, want %q", got, "abcdef")
	}
}
