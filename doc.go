// Package mmapbuffer implements a high-throughput, crash-resilient write
// buffer for append-only byte streams such as log records.
//
// Producer goroutines hand arbitrary byte spans to a Buffer; a dedicated
// persister goroutine copies those bytes, in arrival order, into a
// destination file. The staging area itself is backed by memory-mapped
// scratch files: if the process dies before persistence completes, the
// staged bytes survive as intact scratch files on disk, trading a small
// reconstruction step (left to a higher layer) for durability without
// per-append fsync costs.
//
// # Quick start
//
//	buf := mmapbuffer.GetBufferInstance("events")
//	if err := buf.Init(mmapbuffer.DefaultConfig("events.log", "scratch/events-")); err != nil {
//		log.Fatal(err)
//	}
//	defer mmapbuffer.RemoveBufferInstance("events")
//
//	buf.TryAppend([]byte("hello world\n"), true)
//	buf.WaitForBufferPersist()
//
// # Scope
//
// The core covered by this package is the concurrent staging ring and its
// persister: Block (a single mmap-backed region), Buffer (the ring, its
// growth policy, and backpressure), and the persister goroutine that drains
// blocks into the destination file with page-aligned writes. Log-line
// formatting, CLI harnesses that spawn producers, and retention policy on
// the live destination file are out of scope: see cmd/ringbench for a
// minimal stand-in that exercises the public API the way such a harness
// would. The one retention feature the package has is optional archival
// (compression, checksum, count/age cleanup) of a destination file that
// ChangePersistFile has replaced; see Config.
package mmapbuffer
