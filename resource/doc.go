// Package resource shares limits between asset builders.
//
// A Controller bounds four things:
//
//   - Memory: training sample buffers and fragment codes (blocking or fail-fast)
//   - Concurrency: worker slots used by k-means assignment and code computation
//   - Pacing: FrameUpdate ticks per second for builders run in the background
//   - IO: read throughput when loading source databases
//
// All methods are safe for concurrent use and treat a nil *Controller as
// "no limits".
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 2,
//	    TickRate:             60,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
package resource
