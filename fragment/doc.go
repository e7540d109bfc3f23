// Package fragment models the read-only fragment database: per-frame pose
// features, optional trajectory features and root transforms, grouped into
// segments carrying contact, anchor and escape markers.
//
// Fragment indices are global and dense. Frame 0 of segment s has index
// Segment(s).FirstFragment. A SamplingTime addresses a fragment by segment
// and segment-relative frame.
//
// A MemoryDatabase is immutable once built and is safe for concurrent use.
package fragment
