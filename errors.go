// errors.go: typed error taxonomy for init-time and runtime faults

package mmapbuffer

import (
	goerrors "github.com/agilira/go-errors"
)

// Error codes for the taxonomy described in spec.md §7. Callers can branch
// on these with errors.As against *goerrors.Error, or compare the Code
// field directly.
const (
	ErrCodeScratchSetup  = "MMAPBUFFER_SCRATCH_SETUP"
	ErrCodeDestSetup     = "MMAPBUFFER_DEST_SETUP"
	ErrCodePartialWrite  = "MMAPBUFFER_PARTIAL_WRITE"
	ErrCodeMisuse        = "MMAPBUFFER_MISUSE"
	ErrCodeAlreadyClosed = "MMAPBUFFER_CLOSED"
)

// newScratchSetupError wraps a scratch-file (Block backing) setup failure:
// open, fallocate, or mmap failed. Not runtime-recoverable; the caller must
// refuse to incorporate the Block.
func newScratchSetupError(path string, cause error) error {
	return goerrors.New(ErrCodeScratchSetup, "scratch file setup failed for "+path).
		WithCause(cause)
}

// newDestSetupError wraps a destination-file open failure. initBuffer must
// fail loudly when this occurs; the persister cannot run without a
// destination descriptor.
func newDestSetupError(path string, cause error) error {
	return goerrors.New(ErrCodeDestSetup, "destination file setup failed for "+path).
		WithCause(cause)
}

// newPartialWriteError reports a positional write that returned fewer bytes
// than requested. Treated as fatal: the persister halts rather than
// silently losing data, per spec.md §7.
func newPartialWriteError(path string, want, got int) error {
	return goerrors.New(ErrCodePartialWrite, "short write to destination file").
		WithContext("path", path).
		WithContext("wanted", want).
		WithContext("got", got)
}

// newMisuseError reports a contract violation such as TryAppend before Init,
// or len(data) > blockSize.
func newMisuseError(msg string) error {
	return goerrors.New(ErrCodeMisuse, msg)
}

// newAlreadyClosedError reports a call made against a Buffer after Close has
// already torn it down: a second Close, or a TryAppend racing shutdown.
func newAlreadyClosedError() error {
	return goerrors.New(ErrCodeAlreadyClosed, "Buffer is already closed")
}
