package mmapbuffer

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/go-timecache"
)

func testArchiveBuffer(t *testing.T, cfg Config) *Buffer {
	t.Helper()
	buf := &Buffer{cfg: cfg, destPath: cfg.DestPath, timeCache: timecache.NewWithResolution(time.Millisecond)}
	t.Cleanup(func() { buf.timeCache.Stop() })
	return buf
}

func TestCompressArchiveProducesReadableGzip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archived.log")
	content := []byte("some archived destination file content")
	if err := os.WriteFile(src, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	buf := testArchiveBuffer(t, Config{ChecksumOnRotate: true})
	buf.compressArchive(src)

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("original file should be removed after compression, stat err = %v", err)
	}

	gz, err := os.Open(src + ".gz")
	if err != nil {
		t.Fatalf("expected a .gz file: %v", err)
	}
	defer gz.Close()

	r, err := gzip.NewReader(gz)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("decompressed content = %q, want %q", got, content)
	}

	if _, err := os.Stat(src + ".gz.sha256"); err != nil {
		t.Fatalf("expected a checksum sidecar for the compressed file: %v", err)
	}
}

func TestChecksumArchiveWritesSidecar(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archived.log")
	os.WriteFile(src, []byte("data"), 0644)

	buf := testArchiveBuffer(t, Config{})
	buf.checksumArchive(src)

	content, err := os.ReadFile(src + ".sha256")
	if err != nil {
		t.Fatalf("expected a sidecar file: %v", err)
	}
	if len(content) == 0 {
		t.Fatal("sidecar file should not be empty")
	}
}

func TestCleanupArchivesEnforcesMaxArchives(t *testing.T) {
	dir := t.TempDir()
	destPath := filepath.Join(dir, "dest.log")

	for i := 0; i < 5; i++ {
		os.WriteFile(destPath+"."+string(rune('a'+i)), []byte("x"), 0644)
		time.Sleep(time.Millisecond) // distinct mtimes
	}

	buf := testArchiveBuffer(t, Config{MaxArchives: 2})
	buf.destPath = destPath
	buf.cleanupArchives()

	matches, _ := filepath.Glob(destPath + ".*")
	if len(matches) != 2 {
		t.Fatalf("expected 2 archives to remain, got %d: %v", len(matches), matches)
	}
}
