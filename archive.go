// archive.go: background archival of destination files displaced by
// ChangePersistFile — gzip compression, a sha256 checksum sidecar, and
// count/age-based retention cleanup. Adapted from lethe's rotation.go
// (performRotation/compressFile/generateChecksum/cleanupOldFiles and its
// BackgroundWorkers pool), retargeted from "rotate this log file" to
// "archive the destination file a buffer just moved away from" — the
// write-buffer domain's nearest analogue to log rotation.

package mmapbuffer

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// archiveTask mirrors lethe's BackgroundTask: a unit of post-rotation work
// submitted to a Buffer's worker pool.
type archiveTask struct {
	kind string // "compress", "checksum", or "cleanup"
	path string
	buf  *Buffer
}

// archiveWorkers is lethe's BackgroundWorkers, unchanged in shape: a small
// fixed pool draining a buffered task channel, shut down exactly once.
type archiveWorkers struct {
	ctx       context.Context
	cancel    context.CancelFunc
	taskQueue chan archiveTask
	wg        sync.WaitGroup
	active    atomic.Int64
	stopOnce  sync.Once
}

func newArchiveWorkers(n int) *archiveWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	w := &archiveWorkers{ctx: ctx, cancel: cancel, taskQueue: make(chan archiveTask, 100)}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *archiveWorkers) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.taskQueue:
			w.active.Add(1)
			dispatchArchiveTask(task)
			w.active.Add(-1)
		}
	}
}

func dispatchArchiveTask(task archiveTask) {
	switch task.kind {
	case "compress":
		task.buf.compressArchive(task.path)
	case "checksum":
		task.buf.checksumArchive(task.path)
	case "cleanup":
		task.buf.cleanupArchives()
	}
}

func (w *archiveWorkers) submit(task archiveTask) {
	select {
	case w.taskQueue <- task:
	default:
		// Queue saturated: drop rather than block the caller (the caller
		// is ChangePersistFile, on a producer's critical path).
	}
}

func (w *archiveWorkers) stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		close(w.taskQueue)
		w.wg.Wait()
	})
}

// archiveDisplacedFile is called by ChangePersistFile after it has already
// swapped in the new destination file. oldPath is renamed to a timestamped
// backup name, then (if configured) compression, checksumming and
// retention cleanup are queued onto the background worker pool so the
// caller never blocks on them.
func (buf *Buffer) archiveDisplacedFile(oldPath string) {
	if !buf.cfg.CompressOnRotate && !buf.cfg.ChecksumOnRotate && buf.cfg.MaxArchives <= 0 && buf.cfg.MaxArchiveAge <= 0 {
		return
	}

	backupName := fmt.Sprintf("%s.%s", oldPath, buf.timeCache.CachedTime().Format("20060102T150405.000000000"))
	if err := RetryFileOperation(func() error {
		return os.Rename(oldPath, backupName)
	}, 3, 10*time.Millisecond); err != nil {
		buf.reportError("archive_rename", err)
		return
	}

	if buf.bgWorkers == nil {
		buf.bgWorkers = newArchiveWorkers(2)
	}

	if buf.cfg.CompressOnRotate {
		buf.bgWorkers.submit(archiveTask{kind: "compress", path: backupName, buf: buf})
	} else if buf.cfg.ChecksumOnRotate {
		buf.bgWorkers.submit(archiveTask{kind: "checksum", path: backupName, buf: buf})
	}
	if buf.cfg.MaxArchives > 0 || buf.cfg.MaxArchiveAge > 0 {
		buf.bgWorkers.submit(archiveTask{kind: "cleanup", path: oldPath, buf: buf})
	}
}

// compressArchive gzips path, writing to a .tmp sibling first so a crash
// mid-compression never leaves a half-written .gz file in place of the
// original, then (if configured) chains into a checksum of the .gz.
func (buf *Buffer) compressArchive(path string) {
	var source *os.File
	err := RetryFileOperation(func() error {
		var err error
		source, err = os.Open(path)
		return err
	}, 3, 10*time.Millisecond)
	if err != nil {
		buf.reportError("archive_compress_open", err)
		return
	}
	defer source.Close()

	compressedName := path + ".gz"
	tempName := compressedName + ".tmp"

	target, err := os.Create(tempName)
	if err != nil {
		buf.reportError("archive_compress_create", err)
		return
	}

	gz := gzip.NewWriter(target)
	if _, err := io.Copy(gz, source); err != nil {
		gz.Close()
		target.Close()
		os.Remove(tempName)
		buf.reportError("archive_compress_copy", err)
		return
	}
	if err := gz.Close(); err != nil {
		target.Close()
		os.Remove(tempName)
		buf.reportError("archive_compress_finalize", err)
		return
	}
	if err := target.Close(); err != nil {
		os.Remove(tempName)
		buf.reportError("archive_compress_close", err)
		return
	}
	if err := os.Rename(tempName, compressedName); err != nil {
		os.Remove(tempName)
		buf.reportError("archive_compress_rename", err)
		return
	}
	if err := os.Remove(path); err != nil {
		buf.reportError("archive_compress_cleanup", err)
	}

	if buf.cfg.ChecksumOnRotate {
		buf.checksumArchive(compressedName)
	}
}

// checksumArchive writes a "<hex>  <basename>\n" sha256 sidecar next to
// path, the same format sha256sum(1) produces.
func (buf *Buffer) checksumArchive(path string) {
	if _, err := os.Stat(path); err != nil {
		buf.reportError("archive_checksum_stat", err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		buf.reportError("archive_checksum_open", err)
		return
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		buf.reportError("archive_checksum_read", err)
		return
	}

	sidecar := path + ".sha256"
	content := fmt.Sprintf("%x  %s\n", h.Sum(nil), filepath.Base(path))
	if err := os.WriteFile(sidecar, []byte(content), 0600); err != nil {
		buf.reportError("archive_checksum_write", err)
	}
}

type archiveFileInfo struct {
	name    string
	modTime time.Time
}

// cleanupArchives enforces Config.MaxArchives (count) and MaxArchiveAge
// (age) over the archive siblings of destPath, oldest first.
func (buf *Buffer) cleanupArchives() {
	pattern := buf.destPath + ".*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	now := buf.timeCache.CachedTime()
	var files []archiveFileInfo
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if buf.cfg.MaxArchiveAge > 0 && now.Sub(info.ModTime()) > buf.cfg.MaxArchiveAge {
			if err := os.Remove(m); err != nil {
				buf.reportError("archive_age_cleanup", err)
			}
			continue
		}
		files = append(files, archiveFileInfo{name: m, modTime: info.ModTime()})
	}

	if buf.cfg.MaxArchives <= 0 || len(files) <= buf.cfg.MaxArchives {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for i := 0; i < len(files)-buf.cfg.MaxArchives; i++ {
		if err := os.Remove(files[i].name); err != nil {
			buf.reportError("archive_count_cleanup", err)
		}
	}
}
