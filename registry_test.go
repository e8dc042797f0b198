package mmapbuffer

import (
	"path/filepath"
	"testing"
)

func TestGetBufferInstanceReturnsSameInstance(t *testing.T) {
	name := t.Name()
	defer RemoveBufferInstance(name)

	a := GetBufferInstance(name)
	b := GetBufferInstance(name)
	if a != b {
		t.Fatal("GetBufferInstance must return the same *Buffer for the same name")
	}
}

func TestRemoveBufferInstanceFlushesAndClears(t *testing.T) {
	name := t.Name()
	dir := t.TempDir()

	buf := GetBufferInstance(name)
	cfg := DefaultConfig(filepath.Join(dir, "dest"), filepath.Join(dir, "scratch-"))
	cfg.BlockSize = 4096
	cfg.InitialBlockCount = 1
	cfg.MaxBlockCount = 1
	if err := buf.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := RemoveBufferInstance(name); err != nil {
		t.Fatalf("RemoveBufferInstance: %v", err)
	}

	again := GetBufferInstance(name)
	defer RemoveBufferInstance(name)
	if again == buf {
		t.Fatal("RemoveBufferInstance should drop the old entry; a fresh lookup must return a new Buffer")
	}
}

func TestRemoveBufferInstanceUnknownNameIsNoOp(t *testing.T) {
	if err := RemoveBufferInstance("never-created"); err != nil {
		t.Fatalf("RemoveBufferInstance of an unknown name should be a no-op, got %v", err)
	}
}
