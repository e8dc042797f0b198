package mmapbuffer

import "testing"

func TestConfigValidateFillsDefaults(t *testing.T) {
	c := Config{DestPath: "d", ScratchBasePath: "s"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.MaxBlockCount != DefaultMaxBlockCount {
		t.Errorf("MaxBlockCount = %d, want default %d", c.MaxBlockCount, DefaultMaxBlockCount)
	}
	if c.BlockSize != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want default %d", c.BlockSize, DefaultBlockSize)
	}
	if c.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want default %d", c.PageSize, DefaultPageSize)
	}
}

func TestConfigValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty dest path", Config{ScratchBasePath: "s"}},
		{"empty scratch path", Config{DestPath: "d"}},
		{"block size not a multiple of page size", Config{DestPath: "d", ScratchBasePath: "s", BlockSize: 100, PageSize: 4096}},
		{"initial exceeds max", Config{DestPath: "d", ScratchBasePath: "s", InitialBlockCount: 10, MaxBlockCount: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.validate(); err == nil {
				t.Fatal("expected an error, got nil")
			}
		})
	}
}

func TestRetryFileOperationSucceedsEventually(t *testing.T) {
	attempts := 0
	err := RetryFileOperation(func() error {
		attempts++
		if attempts < 3 {
			return errTransient{}
		}
		return nil
	}, 5, 0)
	if err != nil {
		t.Fatalf("RetryFileOperation: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryFileOperationGivesUp(t *testing.T) {
	attempts := 0
	err := RetryFileOperation(func() error {
		attempts++
		return errTransient{}
	}, 2, 0)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

type errTransient struct{}

func (errTransient) Error() string { return "transient failure" }
