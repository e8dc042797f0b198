// Command ringbench is a small load-generator and introspection harness for
// a mmapbuffer.Buffer: it drives N producer goroutines appending
// fixed-size records and periodically prints Stats(). Modeled after
// lethe's examples/basic_integration.go demo program, using
// agilira/flash-flags for argument parsing instead of the standard
// library's flag package, matching the teacher's own dependency choice.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	flashflags "github.com/agilira/flash-flags"

	mmapbuffer "github.com/cloudicen/mmapbuffer"
)

func main() {
	fs := flashflags.New("ringbench")
	dest := fs.String("dest", "ringbench.out", "destination file path")
	scratch := fs.String("scratch", "ringbench-scratch-", "scratch file base path")
	recordSize := fs.Int("record-size", 256, "bytes per simulated record")
	producers := fs.Int("producers", 4, "number of concurrent producer goroutines")
	duration := fs.Duration("duration", 5*time.Second, "how long to run")
	noLose := fs.Bool("no-lose", true, "block instead of dropping when the ring is full")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ringbench:", err)
		os.Exit(2)
	}

	buf := mmapbuffer.GetBufferInstance("ringbench")
	cfg := mmapbuffer.DefaultConfig(dest.Value(), scratch.Value())
	cfg.ErrorCallback = func(op string, err error) {
		fmt.Fprintf(os.Stderr, "ringbench: %s: %v\n", op, err)
	}
	if err := buf.Init(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "ringbench: init:", err)
		os.Exit(1)
	}
	defer mmapbuffer.RemoveBufferInstance("ringbench")

	record := make([]byte, recordSize.Value())
	stop := time.After(duration.Value())
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < producers.Value(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				buf.TryAppend(record, noLose.Value())
			}
		}()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			close(done)
			wg.Wait()
			buf.WaitForBufferPersist()
			fmt.Println(buf.Stats())
			return
		case <-ticker.C:
			fmt.Println(buf.Stats())
		}
	}
}
