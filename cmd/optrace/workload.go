package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/opview/optrace"
)

// runWorkload drives a synthetic stream of nested operations through the
// tracker, so the demo has something to show. Roughly: a periodic "request"
// container with a couple of nested steps, occasional events, the odd
// failure, and a periodic compaction.
func runWorkload(ctx context.Context, tracker *optrace.Tracker, errCapture *optrace.ErrorCapture, debug *log.Logger) error {
	var (
		ticker  = time.NewTicker(750 * time.Millisecond)
		compact = time.NewTicker(30 * time.Second)
		seq     int
	)
	defer ticker.Stop()
	defer compact.Stop()

	for {
		select {
		case <-ticker.C:
			seq++
			handleRequest(ctx, tracker, errCapture, seq)

		case <-compact.C:
			debug.Printf("compacting log buffer")
			tracker.DropLogEntriesForCompletedOperations()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func handleRequest(ctx context.Context, tracker *optrace.Tracker, errCapture *optrace.ErrorCapture, seq int) {
	req := tracker.StartOperation(fmt.Sprintf("request %d", seq), optrace.Map{
		"method": optrace.Str("GET"),
		"path":   optrace.Str(fmt.Sprintf("/items/%d", rand.Intn(100))),
	})

	func() {
		defer func() {
			if v := recover(); v != nil {
				errCapture.Recovered(v)
				req.SetFailure(optrace.Str(fmt.Sprintf("panic: %v", v)))
			}
		}()

		lookup := tracker.StartOperation("lookup")
		sleepCtx(ctx, time.Duration(rand.Intn(40))*time.Millisecond)
		lookup.AddInfo(optrace.Int(rand.Intn(1000)))
		lookup.SetSuccess()

		if rand.Intn(10) == 0 {
			tracker.ObserveEvent(optrace.SeverityWarn, "cache miss", optrace.Str("cold shard"))
		}

		render := tracker.StartOperation("render")
		sleepCtx(ctx, time.Duration(rand.Intn(20))*time.Millisecond)
		if rand.Intn(20) == 0 {
			err := errors.New("template not found")
			render.SetFailureAndReturn(err)
			req.SetFailure(optrace.Err(err))
			return
		}
		render.SetSuccess()

		req.SetSuccess(optrace.Int(200))
	}()

	if !req.Completed() {
		req.SetFailure(optrace.Str("request left incomplete"))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
