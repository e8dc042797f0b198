// config.go: Buffer configuration, validation and defaults

package mmapbuffer

import (
	"fmt"
	"time"
)

// Config carries the one-shot parameters accepted by Buffer.Init. It
// mirrors initBuffer's parameter list in spec.md §4.2, with the legacy
// positional-argument signature replaced by a struct the way the teacher's
// LoggerConfig replaces New's positional (filename, maxSizeMB, maxBackups)
// signature for anything beyond the simple case.
type Config struct {
	// DestPath is the destination file that accepted bytes are drained
	// into, in ring order.
	DestPath string

	// ScratchBasePath is prefixed to an increasing integer (starting at 0)
	// to name each Block's backing scratch file.
	ScratchBasePath string

	// MaxBlockCount is the hard cap on ring size.
	MaxBlockCount int

	// InitialBlockCount is how many Blocks are created at Init.
	InitialBlockCount int

	// BlockSize is the fixed capacity of every Block, in bytes. Must be a
	// multiple of PageSize (spec.md §9: "a faithful port must enforce this
	// at init").
	BlockSize int64

	// PersistTimeoutMs bounds how long the persister waits for the current
	// persistence-cursor Block to fill before re-checking the force-flush
	// flag set by WaitForBufferPersist.
	PersistTimeoutMs int

	// PageSize is the alignment granularity for drain writes.
	PageSize int64

	// ErrorCallback, if set, receives runtime faults the persister
	// encounters (partial writes, scratch/dest setup failures encountered
	// after Init). Mirrors lethe.go's Logger.ErrorCallback field — the
	// teacher's own stand-in for an owned logging dependency.
	ErrorCallback func(operation string, err error)

	// CompressOnRotate gzips the destination file ChangePersistFile just
	// displaced, in a background worker, the way lethe compresses a
	// rotated log file.
	CompressOnRotate bool

	// ChecksumOnRotate writes a sha256 sidecar next to the archived (and,
	// if CompressOnRotate is also set, compressed) destination file.
	ChecksumOnRotate bool

	// MaxArchives caps how many archived destination files are retained;
	// 0 disables count-based cleanup.
	MaxArchives int

	// MaxArchiveAge removes archived destination files older than this;
	// 0 disables age-based cleanup.
	MaxArchiveAge time.Duration
}

// Default configuration values, as specified in spec.md §6.
const (
	DefaultMaxBlockCount     = 50
	DefaultInitialBlockCount = 2
	DefaultBlockSize         = 4096 * 100000 // 409,600,000 bytes (~390.6 MiB)
	DefaultPersistTimeoutMs  = 10
	DefaultPageSize          = 4096
)

// DefaultConfig returns a Config populated with spec.md §6's defaults for
// the given destination and scratch-file base path.
func DefaultConfig(destPath, scratchBasePath string) Config {
	return Config{
		DestPath:          destPath,
		ScratchBasePath:   scratchBasePath,
		MaxBlockCount:     DefaultMaxBlockCount,
		InitialBlockCount: DefaultInitialBlockCount,
		BlockSize:         DefaultBlockSize,
		PersistTimeoutMs:  DefaultPersistTimeoutMs,
		PageSize:          DefaultPageSize,
	}
}

// validate fills in any zero-valued numeric fields with their defaults and
// rejects configurations spec.md requires to be rejected at init:
// BlockSize must be a positive multiple of PageSize, MaxBlockCount must be
// at least InitialBlockCount, and InitialBlockCount must be at least 1.
func (c *Config) validate() error {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.MaxBlockCount <= 0 {
		c.MaxBlockCount = DefaultMaxBlockCount
	}
	if c.InitialBlockCount <= 0 {
		c.InitialBlockCount = DefaultInitialBlockCount
	}
	if c.PersistTimeoutMs <= 0 {
		c.PersistTimeoutMs = DefaultPersistTimeoutMs
	}

	if c.DestPath == "" {
		return newMisuseError("Config.DestPath must not be empty")
	}
	if c.ScratchBasePath == "" {
		return newMisuseError("Config.ScratchBasePath must not be empty")
	}
	if c.BlockSize%c.PageSize != 0 {
		return newMisuseError("Config.BlockSize must be a multiple of Config.PageSize")
	}
	if c.InitialBlockCount > c.MaxBlockCount {
		return newMisuseError("Config.InitialBlockCount must not exceed Config.MaxBlockCount")
	}
	return nil
}

func (c *Config) persistTimeout() time.Duration {
	return time.Duration(c.PersistTimeoutMs) * time.Millisecond
}

// RetryFileOperation executes operation with short, limited retries. The
// scratch and destination files this package manages can hit the same
// transient failures lethe's own rotation path retries against: antivirus
// scans and file locking on Windows, indexing/overlay quirks in containers,
// brief contention under high append load.
func RetryFileOperation(operation func() error, retryCount int, retryDelay time.Duration) error {
	if retryCount <= 0 {
		retryCount = 3
	}
	if retryDelay <= 0 {
		retryDelay = 10 * time.Millisecond
	}

	attempt, delay := 0, retryDelay
	for {
		err := operation()
		if err == nil {
			return nil
		}
		attempt++
		if attempt >= retryCount {
			return fmt.Errorf("operation failed after %d attempts: %w", retryCount, err)
		}
		time.Sleep(delay)
		delay += retryDelay / 2 // widen the gap each miss instead of a flat wait
	}
}
