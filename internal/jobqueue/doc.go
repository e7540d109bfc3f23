// Package jobqueue sequences long-running computations into discrete,
// cooperatively scheduled batches.
//
// A Queue is an ordered list of stages plus a cursor. Each FrameUpdate call
// advances the cursor over (at most) one batch of stages and returns the
// completion fraction, leaving the caller in control of pacing. There are no
// background goroutines: work happens only inside FrameUpdate and the
// ForceComplete* joins.
//
// A Composite drives several independent queues (one per sub-quantizer during
// codebook training) in parallel within a single FrameUpdate and reports the
// mean of their progress.
package jobqueue
