// Package coordinator re-runs the aggregation pipeline in the background.
//
// It sits on top of pipeline.Pipeline and handles:
//
//   - Periodic scheduling with a jittered ticker
//   - An optional run on startup
//   - Graceful shutdown
//
// Runs never overlap: the loop waits for a run to end before the next tick
// is taken. A failed run is logged and retried on the next tick.
//
// # Usage Example
//
//	coord := coordinator.New(p, 30*time.Minute, coordinator.WithRunOnStart())
//	go func() {
//	    if err := coord.Start(ctx); err != nil {
//	        slog.Error("Coordinator failed", "error", err)
//	    }
//	}()
//	defer coord.Stop()
package coordinator
