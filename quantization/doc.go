// Package quantization compresses pose/trajectory feature vectors with
// product quantization (PQ).
//
// A d-dimensional vector is split into M sub-vectors of dsub = d/M floats.
// Each sub-vector is quantized independently against its own codebook of
// ksub = 2^numBits centroids, learned with k-means. The full codebook is a
// single flat table laid out row-major as [M][ksub][dsub]:
//
//	pq, _ := quantization.NewProductQuantizer(64, 8, 8) // d=64, M=8, 8 bits
//	session, _ := pq.ScheduleTraining(fragments, quantization.DefaultTrainingSettings())
//	for !session.Done() {
//	    progress, _ := session.FrameUpdate(ctx) // one batch per frame
//	    _ = progress
//	}
//	codes := make([]byte, fragments.NumFragments()*pq.CodeSize())
//	_ = pq.ComputeCodes(ctx, fragments, codes)
//
// # Code layout
//
// A code holds one index per sub-quantizer, sub-quantizer 0 first. Each
// index occupies ceil(numBits/8) bytes, most significant byte first, so a
// code is always M*ceil(numBits/8) bytes. With numBits <= 8 this is one
// byte per sub-quantizer.
//
// # Training
//
// Training never blocks implicitly: ScheduleTraining returns a
// TrainingSession whose FrameUpdate advances every sub-quantizer's k-means
// by one batch. ForceComplete provides a blocking join for final bakes.
//
// # Thread Safety
//
// A trained ProductQuantizer is safe for concurrent reads (ComputeCode,
// Decode, Distance). Only one training session may be open at a time.
package quantization
