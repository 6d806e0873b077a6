package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"termbridge/internal/termio"
)

var (
	benchOutputBytes uint64
	benchChunkSize   int
	benchKeyEvents   int

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Probe ring capacity, throughput and key round-trip latency",
		Long: `Create an in-process segment with the configured ring sizes and measure
it: usable capacity under backpressure, raw output ring throughput, and
the full key-press-to-echo round trip through both rings.`,
		Args: cobra.NoArgs,
		RunE: runBench,
	}
)

func init() {
	benchCmd.Flags().Uint64Var(&benchOutputBytes, "bytes", 256<<20, "bytes to push through the output ring")
	benchCmd.Flags().IntVar(&benchChunkSize, "chunk", 4096, "output chunk size in bytes")
	benchCmd.Flags().IntVar(&benchKeyEvents, "events", 50000, "key events to round-trip")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	layout, err := termio.CalculateSegmentLayout(cfg.Bridge.OutputRingSize, cfg.Bridge.InputRingSize)
	if err != nil {
		return err
	}
	if uint64(benchChunkSize) >= layout.OutDataSize {
		return fmt.Errorf("chunk size %d does not fit the %d byte output ring", benchChunkSize, layout.OutDataSize)
	}
	seg, err := termio.NewLocalSegment(cfg.Bridge.OutputRingSize, cfg.Bridge.InputRingSize)
	if err != nil {
		return err
	}
	defer seg.Close()

	fmt.Printf("=== Segment Layout ===\n")
	fmt.Printf("Total size:       %d bytes\n", layout.TotalSize)
	fmt.Printf("Output ring data: %d bytes at offset %d\n", layout.OutDataSize, layout.OutOffset)
	fmt.Printf("Input ring data:  %d bytes at offset %d\n", layout.InDataSize, layout.InOffset)

	fmt.Printf("\n=== Backpressure ===\n")
	accepted := benchFill(seg.OutRing())
	fmt.Printf("Ring accepted %d of %d data bytes before refusing a write\n", accepted, layout.OutDataSize)
	fmt.Printf("(one byte always stays unused to tell full from empty)\n")

	fmt.Printf("\n=== Output Throughput ===\n")
	elapsed := benchThroughput(seg.OutRing())
	mib := float64(benchOutputBytes) / (1 << 20)
	fmt.Printf("Pushed %.0f MiB in %v (%.0f MiB/s, %d byte chunks)\n",
		mib, elapsed.Round(time.Millisecond), mib/elapsed.Seconds(), benchChunkSize)

	fmt.Printf("\n=== Key Round-Trip ===\n")
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	elapsed, err = benchKeyRoundTrip(ctx, seg, cfg.Bridge.PollInterval)
	if err != nil {
		return err
	}
	fmt.Printf("%d key events echoed in %v (avg %v per round trip)\n",
		benchKeyEvents, elapsed.Round(time.Millisecond), (elapsed / time.Duration(benchKeyEvents)).Round(time.Nanosecond))
	return nil
}

// benchFill writes with nobody reading until the ring refuses, then clears
// it. Reports how many bytes fit.
func benchFill(ring *termio.Ring) int {
	one := []byte{0xA5}
	total := 0
	for ring.Write(one) {
		total++
	}
	ring.Reset()
	return total
}

// benchThroughput streams benchOutputBytes through the ring with a spinning
// consumer, measuring the raw SPSC transfer rate without futex parking.
func benchThroughput(ring *termio.Ring) time.Duration {
	chunk := make([]byte, benchChunkSize)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	total := benchOutputBytes

	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 64*1024)
		var got uint64
		for got < total {
			n := ring.Read(buf)
			if n == 0 {
				runtime.Gosched()
				continue
			}
			got += uint64(n)
		}
	}()

	var sent uint64
	for sent < total {
		c := chunk
		if rem := total - sent; rem < uint64(len(c)) {
			c = c[:rem]
		}
		for !ring.Write(c) {
			runtime.Gosched()
		}
		sent += uint64(len(c))
	}
	<-done
	return time.Since(start)
}

// benchKeyRoundTrip measures the full press-to-echo path: a key event
// through the input ring, one echoed byte back through the output ring,
// with both sides parking the way a real bridge does.
func benchKeyRoundTrip(ctx context.Context, seg *termio.Segment, poll time.Duration) (time.Duration, error) {
	host := termio.NewChannel(seg, termio.RoleHost, termio.WithPollInterval(poll))
	worker := termio.NewChannel(seg, termio.RoleWorker, termio.WithPollInterval(poll))
	worker.Activate()

	go func() {
		for {
			ev, err := worker.ReadKey(ctx)
			if err != nil {
				return
			}
			worker.WriteOutput([]byte{byte(ev.Char)})
		}
	}()

	ev := termio.KeyEvent{Code: 'X', Char: 'x'}
	buf := make([]byte, 1)
	start := time.Now()
	for i := 0; i < benchKeyEvents; i++ {
		if err := host.WriteKey(ctx, ev); err != nil {
			return 0, err
		}
		if _, err := host.ReadOutput(ctx, buf); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}
