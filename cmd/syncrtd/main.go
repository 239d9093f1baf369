// Command syncrtd is a minimal demonstration binary wiring a no-op agent
// (an in-memory SourceProvider and a Transferor that just sleeps) into the
// runtime, so the runtime's lifecycle, scheduler, health, and notification
// surfaces can be exercised without a real content-sync agent attached.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dangerprep/syncrt"
	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/planner"
	"github.com/dangerprep/syncrt/internal/progress"
	"golang.org/x/time/rate"
)

// memorySource enumerates a fixed, fake item catalog for every content
// type it is asked about.
type memorySource struct {
	items map[string][]planner.Item
}

func (s *memorySource) Enumerate(_ context.Context, contentType string) ([]planner.Item, error) {
	return s.items[contentType], nil
}

// sleepTransferor fakes byte movement by sleeping in proportion to the
// planned transfer's estimated size, reporting progress as it goes and
// honoring cancellation and the supplied rate limiter.
type sleepTransferor struct{}

func (sleepTransferor) Transfer(ctx context.Context, pt planner.PlannedTransfer, tracker *progress.Tracker, limiter *rate.Limiter) error {
	const chunk = 64 * 1024
	remaining := pt.EstimatedBytes
	var done int64
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n := chunk
		if int64(n) > remaining {
			n = int(remaining)
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, n); err != nil {
				return err
			}
		}
		time.Sleep(5 * time.Millisecond)
		done += int64(n)
		remaining -= int64(n)
		if tracker != nil {
			tracker.Update(0, &done, pt.SourceRef)
		}
	}
	return nil
}

func main() {
	source := &memorySource{
		items: map[string][]planner.Item{
			"docs": {
				{Ref: "report.pdf", Metadata: planner.ItemMetadata{Name: "report.pdf", SizeBytes: 2 << 20, Extension: ".pdf"}, EstimatedBytes: 2 << 20},
				{Ref: "notes.txt", Metadata: planner.ItemMetadata{Name: "notes.txt", SizeBytes: 4096, Extension: ".txt"}, EstimatedBytes: 4096},
			},
		},
	}

	cfg, err := core.NewConfig(
		core.WithName("syncrtd-demo"),
		core.WithLogLevel("info"),
		core.WithLogFormat("text"),
		core.WithMaxConcurrentOperations(2),
		core.WithContentType(core.ContentTypeConfig{
			Name:         "docs",
			MaxSizeBytes: 10 << 20,
			Schedule:     "@every 1m",
			Direction:    "to_destination",
		}),
	)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)

	rt, err := syncrt.New(syncrt.RuntimeConfig{
		Core:   cfg,
		Logger: logger,
		ContentTypes: []planner.ContentType{
			{Name: "docs", Priority: 1, MaxSizeBytes: 10 << 20, Direction: planner.DirectionToDestination},
		},
		Source:     source,
		Transferor: sleepTransferor{},
	})
	if err != nil {
		log.Fatalf("new runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	if _, err := rt.RunCycle(ctx, "docs"); err != nil {
		logger.Error("initial sync cycle failed", map[string]interface{}{"error": err.Error()})
	}

	report := rt.Health(ctx)
	fmt.Printf("health: %s (%d components)\n", report.Overall, len(report.Components))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Stop(shutdownCtx); err != nil {
		log.Fatalf("stop: %v", err)
	}
}
